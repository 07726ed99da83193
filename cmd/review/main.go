// Command review lets community reviewers settle events held for review and
// inspect the evidence store the service writes to.
//
// Usage:
//
//	review pending  [-region Turkana]
//	review resolve  -event evt-... -outcome confirmed|fraudulent -reviewer elder-council
//	review stats
//
// Every subcommand reads STORE_DRIVER and STORE_DSN, or -store and -dsn.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

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
	if len(args) < 1 {
		usage(stderr)
		return 2
	}

	switch args[0] {
	case "pending":
		return handlePending(args[1:], stdout, stderr)
	case "resolve":
		return handleResolve(args[1:], stdout, stderr)
	case "stats":
		return handleStats(args[1:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: review <pending|resolve|stats> [flags]")
}

// common holds the flags every subcommand accepts.
type common struct {
	evidence   cli.EvidenceFlags
	policyPath string
	now        string
	logLevel   string
}

func newFlagSet(name string, stderr io.Writer, c *common) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	c.evidence.Register(fs)
	fs.StringVar(&c.policyPath, "policy", os.Getenv("SCORING_POLICY_PATH"), "YAML scoring policy")
	fs.StringVar(&c.now, "now", "", "RFC 3339 time recorded on changes (default: current time)")
	fs.StringVar(&c.logLevel, "log-level", "warn", "log level")
	return fs
}

// session is an open store with a verification service on top of it.
type session struct {
	store   domain.EvidenceStore
	svc     *verify.Service
	release func()
}

func (c common) open(ctx context.Context, stderr io.Writer) (*session, error) {
	clock, err := cli.ClockAt(c.now)
	if err != nil {
		return nil, err
	}
	policy, err := scoring.LoadPolicy(c.policyPath)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := c.evidence.Open(ctx)
	if err != nil {
		return nil, err
	}
	logger := observability.NewLoggerTo(stderr, observability.LogConfig{Level: c.logLevel, Format: "text"})
	return &session{
		store:   store,
		svc:     newService(store, policy.Policy, clock, logger),
		release: closeStore,
	}, nil
}

func newService(store domain.EvidenceStore, policy scoring.Policy, clock clockwork.Clock, logger *slog.Logger) *verify.Service {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	return verify.New(store, nil, policy, clock, logger, metrics)
}

func handlePending(args []string, stdout, stderr io.Writer) int {
	var c common
	fs := newFlagSet("pending", stderr, &c)
	region := fs.String("region", "", "only events in this region")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	s, err := c.open(ctx, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cli.ExitCode(err)
	}
	defer s.release()

	events, err := s.store.ListEvents(ctx, domain.EventFilter{Status: domain.StatusPending, Region: *region})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if events == nil {
		events = []domain.Event{}
	}
	return writeJSON(stdout, stderr, events)
}

// resolution is what resolve prints.
type resolution struct {
	Event          domain.Event     `json:"event"`
	SubmitterTrust float64          `json:"submitter_trust"`
	Standing       scoring.Standing `json:"submitter_standing"`
}

func handleResolve(args []string, stdout, stderr io.Writer) int {
	var c common
	fs := newFlagSet("resolve", stderr, &c)
	eventID := fs.String("event", "", "pending event ID")
	outcome := fs.String("outcome", "", "confirmed or fraudulent")
	reviewer := fs.String("reviewer", "", "who reviewed the event")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *eventID == "" || strings.TrimSpace(*reviewer) == "" {
		fmt.Fprintln(stderr, "resolve requires -event and -reviewer")
		fs.Usage()
		return 2
	}
	o := verify.ReviewOutcome(strings.ToLower(strings.TrimSpace(*outcome)))
	if o != verify.ReviewConfirmed && o != verify.ReviewFraudulent {
		fmt.Fprintf(stderr, "-outcome must be %s or %s, got %q\n", verify.ReviewConfirmed, verify.ReviewFraudulent, *outcome)
		return 2
	}
	if !c.evidence.Persistent() {
		fmt.Fprintln(stderr, "resolve needs a persistent evidence store; set -store sqlite|postgres and -dsn")
		return 2
	}

	ctx := context.Background()
	s, err := c.open(ctx, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cli.ExitCode(err)
	}
	defer s.release()

	event, err := s.svc.ResolveReview(ctx, *eventID, o, strings.TrimSpace(*reviewer))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cli.ExitCode(err, domain.ErrNotFound, domain.ErrInvalidTransition)
	}
	user, err := s.store.GetUser(ctx, event.SubmitterID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return writeJSON(stdout, stderr, resolution{
		Event:          event,
		SubmitterTrust: user.TrustScore,
		Standing:       scoring.StandingFor(user.TrustScore),
	})
}

func handleStats(args []string, stdout, stderr io.Writer) int {
	var c common
	fs := newFlagSet("stats", stderr, &c)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	s, err := c.open(ctx, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cli.ExitCode(err)
	}
	defer s.release()

	st, err := s.svc.Stats(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return writeJSON(stdout, stderr, st)
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(stderr, "write output:", err)
		return 1
	}
	return 0
}
