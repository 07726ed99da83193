// Command decide scores a policy proposal against stored evidence and prints
// the recommendation with its factor breakdown.
//
// Usage:
//
//	go run ./cmd/decide -proposal proposal.yaml -evidence snapshot.json
//	go run ./cmd/decide -proposal proposal.yaml -store postgres -dsn "$STORE_DSN"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/couchcryptid/climate-witness/internal/adapter/mapbox"
	"github.com/couchcryptid/climate-witness/internal/cli"
	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/observability"
	"github.com/couchcryptid/climate-witness/internal/scoring"
	"github.com/couchcryptid/climate-witness/internal/verify"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// report is the JSON written to stdout.
type report struct {
	ProposalID        string                       `json:"proposal_id"`
	Confidence        float64                      `json:"confidence"`
	Recommendation    domain.Recommendation        `json:"recommendation"`
	State             domain.ProposalState         `json:"state"`
	WeakestFactor     string                       `json:"weakest_factor"`
	MissingCategories []domain.StakeholderCategory `json:"missing_categories,omitempty"`
	Factors           []domain.Factor              `json:"factors"`
	Explanation       string                       `json:"explanation"`
	PolicyHash        string                       `json:"policy_hash"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	fs.SetOutput(stderr)
	proposalPath := fs.String("proposal", "", "YAML or JSON policy proposal")
	var evidence cli.EvidenceFlags
	evidence.Register(fs)
	policyPath := fs.String("policy", os.Getenv("SCORING_POLICY_PATH"), "YAML scoring policy")
	nowFlag := fs.String("now", "", "RFC 3339 evaluation time (default: current time)")
	geocode := fs.Bool("geocode", false, "resolve region-only targets with Mapbox (needs MAPBOX_TOKEN)")
	logLevel := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *proposalPath == "" {
		fmt.Fprintln(stderr, "-proposal is required")
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
	proposal, err := readProposal(*proposalPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx := context.Background()
	store, closeStore, err := evidence.Open(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cli.ExitCode(err)
	}
	defer closeStore()

	logger := observability.NewLoggerTo(stderr, observability.LogConfig{Level: *logLevel, Format: "text"})
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())

	var geocoder domain.Geocoder
	if *geocode {
		token := os.Getenv("MAPBOX_TOKEN")
		if token == "" {
			fmt.Fprintln(stderr, "-geocode requires MAPBOX_TOKEN")
			return 2
		}
		geocoder = mapbox.NewCachedGeocoder(mapbox.NewClient(token, 5*time.Second, metrics, logger), 64, metrics)
	}

	svc := verify.New(store, geocoder, policy.Policy, clock, logger, metrics)
	res, err := svc.ScoreProposal(ctx, proposal)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cli.ExitCode(err, domain.ErrInsufficientStakeholders, domain.ErrInvalidCoordinates)
	}

	advanced, err := proposal.Advance(res.Recommendation)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report{
		ProposalID:        proposal.ID,
		Confidence:        res.Confidence,
		Recommendation:    res.Recommendation,
		State:             advanced.State,
		WeakestFactor:     res.WeakestFactor,
		MissingCategories: res.MissingCategories,
		Factors:           res.Factors,
		Explanation:       res.Explanation,
		PolicyHash:        policy.Hash,
	}); err != nil {
		fmt.Fprintln(stderr, "write report:", err)
		return 1
	}
	return 0
}

// readProposal decodes YAML; JSON input parses as YAML too.
func readProposal(path string) (domain.PolicyProposal, error) {
	// #nosec G304 -- path comes from the command line.
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.PolicyProposal{}, fmt.Errorf("read proposal: %w", err)
	}
	var p domain.PolicyProposal
	if err := yaml.Unmarshal(data, &p); err != nil {
		return domain.PolicyProposal{}, fmt.Errorf("parse proposal %s: %w", path, err)
	}
	for i := range p.Stakeholders {
		p.Stakeholders[i].Category = domain.ParseStakeholderCategory(string(p.Stakeholders[i].Category))
	}
	if p.EventType != "" {
		t, ok := domain.ParseEventType(string(p.EventType))
		if !ok {
			return domain.PolicyProposal{}, fmt.Errorf("parse proposal %s: unknown event type %q", path, p.EventType)
		}
		p.EventType = t
	}
	return p, nil
}
