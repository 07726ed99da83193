// Package scoring holds the pure scorers: report authenticity, reporter trust,
// policy decisions and resource allocation. Each returns an itemized factor
// breakdown alongside its result. None of them read clocks, stores or the
// network; callers pass everything in.
package scoring
