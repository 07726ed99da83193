// Package verify orchestrates the scorers against the evidence store: it
// decides on submissions, resolves community reviews, scores proposals and
// plans allocations. Scoring stays pure; this package owns persistence and
// the trust transitions that follow each decision.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/climate-witness/internal/correlate"
	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/observability"
	"github.com/couchcryptid/climate-witness/internal/scoring"
	"github.com/jonboulle/clockwork"
)

// Service is the verification core. It is safe for concurrent use.
type Service struct {
	store      domain.EvidenceStore
	correlator *correlate.Correlator
	geocoder   domain.Geocoder
	policy     scoring.Policy
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New wires a Service. geocoder may be nil, in which case region names are
// never inferred from coordinates.
func New(store domain.EvidenceStore, geocoder domain.Geocoder, policy scoring.Policy, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:      store,
		correlator: correlate.New(store, policy.Correlation),
		geocoder:   geocoder,
		policy:     policy,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// assessment is a scored bundle together with what it was scored against.
type assessment struct {
	bundle    domain.EvidenceBundle
	submitter *domain.User
	evidence  correlate.Correlation
	result    scoring.AuthenticityResult
}

func (s *Service) assess(ctx context.Context, bundle domain.EvidenceBundle) (assessment, error) {
	if bundle.Point == nil {
		return assessment{}, fmt.Errorf("submission %s: %w: no location", bundle.SubmissionID, domain.ErrIncompleteEvidence)
	}
	bundle = domain.EnrichWithRegion(ctx, bundle, s.geocoder, s.logger)

	submitter, err := s.lookupUser(ctx, bundle.SubmitterID)
	if err != nil {
		return assessment{}, err
	}

	evidence, err := s.correlator.FindNearby(ctx, correlate.Claim{
		Point: bundle.Point,
		At:    bundle.CapturedAt,
		Type:  bundle.ClaimedType,
	})
	if err != nil {
		return assessment{}, fmt.Errorf("submission %s: %w", bundle.SubmissionID, err)
	}

	in := scoring.AuthenticityInput{Bundle: bundle, Evidence: evidence, Now: s.clock.Now()}
	if submitter != nil {
		in.Submitter = &scoring.Submitter{TrustScore: submitter.TrustScore, VerifiedCount: submitter.VerificationCount}
	}
	result, err := scoring.ScoreAuthenticity(in, s.policy.Authenticity)
	if err != nil {
		return assessment{}, fmt.Errorf("submission %s: %w", bundle.SubmissionID, err)
	}

	return assessment{bundle: bundle, submitter: submitter, evidence: evidence, result: result}, nil
}

// lookupUser returns nil for an unknown user.
func (s *Service) lookupUser(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, nil
	}
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up submitter %s: %w", id, err)
	}
	return &u, nil
}

// ScoreAuthenticity scores a bundle without persisting anything.
func (s *Service) ScoreAuthenticity(ctx context.Context, bundle domain.EvidenceBundle) (scoring.AuthenticityResult, error) {
	a, err := s.assess(ctx, bundle)
	if err != nil {
		return scoring.AuthenticityResult{}, err
	}
	return a.result, nil
}

// SubmitterStanding reports the standing of a reporter. Unknown reporters
// are judged at the policy's default trust.
func (s *Service) SubmitterStanding(ctx context.Context, id string) (scoring.Standing, error) {
	u, err := s.lookupUser(ctx, id)
	if err != nil {
		return "", err
	}
	if u == nil {
		return scoring.StandingFor(s.policy.Authenticity.DefaultTrust), nil
	}
	return scoring.StandingFor(u.TrustScore), nil
}
