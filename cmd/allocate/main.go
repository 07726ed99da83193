// Command allocate distributes a resource budget across regions.
//
// Region signals come either from evidence (a snapshot or the service's SQL
// store; verified events are grouped by region, as the service does) or from
// a precomputed signals file.
//
// Usage:
//
//	go run ./cmd/allocate -evidence snapshot.json -funding 1000000 -personnel 40 -equipment 12
//	go run ./cmd/allocate -store postgres -dsn "$STORE_DSN" -funding 1000000
//	go run ./cmd/allocate -signals regions.json -funding 1000000
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/climate-witness/internal/cli"
	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/observability"
	"github.com/couchcryptid/climate-witness/internal/scoring"
	"github.com/couchcryptid/climate-witness/internal/verify"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("allocate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var evidence cli.EvidenceFlags
	evidence.Register(fs)
	signalsPath := fs.String("signals", "", "JSON array of region signals, used instead of evidence")
	policyPath := fs.String("policy", os.Getenv("SCORING_POLICY_PATH"), "YAML scoring policy")
	funding := fs.Float64("funding", 0, "funding to distribute")
	personnel := fs.Float64("personnel", 0, "personnel to distribute")
	equipment := fs.Float64("equipment", 0, "equipment units to distribute")
	lookback := fs.Duration("lookback", 0, "only count events newer than this (default from policy)")
	nowFlag := fs.String("now", "", "RFC 3339 evaluation time (default: current time)")
	logLevel := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	hasEvidence := evidence.Snapshot != "" || evidence.Persistent()
	if hasEvidence == (*signalsPath != "") {
		fmt.Fprintln(stderr, "exactly one of -signals or evidence (-evidence, -store) is required")
		fs.Usage()
		return 2
	}

	clock, err := cli.ClockAt(*nowFlag)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	policy, err := scoring.LoadPolicy(*policyPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	budget := domain.Budget{Funding: *funding, Personnel: *personnel, Equipment: *equipment}
	logger := observability.NewLoggerTo(stderr, observability.LogConfig{Level: *logLevel, Format: "text"})

	var plan domain.AllocationPlan
	if *signalsPath != "" {
		plan, err = planFromSignals(*signalsPath, budget, policy.Policy)
	} else {
		plan, err = planFromEvidence(evidence, budget, *lookback, policy.Policy, clock, logger)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cli.ExitCode(err, domain.ErrInvalidBudget, domain.ErrNoCandidateRegions)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(plan); err != nil {
		fmt.Fprintln(stderr, "write plan:", err)
		return 1
	}
	return 0
}

func planFromSignals(path string, budget domain.Budget, policy scoring.Policy) (domain.AllocationPlan, error) {
	// #nosec G304 -- path comes from the command line.
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.AllocationPlan{}, fmt.Errorf("read signals: %w", err)
	}
	var signals []domain.RegionSignal
	if err := json.Unmarshal(data, &signals); err != nil {
		return domain.AllocationPlan{}, fmt.Errorf("parse signals %s: %w", path, err)
	}
	return scoring.AllocateResources(budget, signals, policy.Allocation)
}

func planFromEvidence(evidence cli.EvidenceFlags, budget domain.Budget, lookback time.Duration, policy scoring.Policy, clock clockwork.Clock, logger *slog.Logger) (domain.AllocationPlan, error) {
	ctx := context.Background()
	store, closeStore, err := evidence.Open(ctx)
	if err != nil {
		return domain.AllocationPlan{}, err
	}
	defer closeStore()

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	svc := verify.New(store, nil, policy, clock, logger, metrics)

	var since time.Time
	if lookback > 0 {
		since = clock.Now().Add(-lookback)
	}
	return svc.PlanAllocation(ctx, budget, since)
}
