package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/couchcryptid/climate-witness/internal/adapter/sqlstore"
	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/scoring"
	"github.com/couchcryptid/climate-witness/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const evidenceJSON = `{
  "users": [
    {"id": "newcomer", "trust_score": 50, "region": "Turkana"},
    {"id": "drifter", "trust_score": 40, "region": "Marsabit"}
  ],
  "events": [
    {"id": "evt-held", "type": "drought", "location": {"point": {"lat": 3.1, "lon": 35.6}, "region": "Turkana"},
     "occurred_at": "2026-03-13T09:30:00Z", "submitter_id": "newcomer", "status": "pending"},
    {"id": "evt-odd", "type": "flood", "location": {"point": {"lat": 2.3, "lon": 37.9}, "region": "Marsabit"},
     "occurred_at": "2026-03-12T09:30:00Z", "submitter_id": "drifter", "status": "pending"},
    {"id": "evt-ok", "type": "drought", "location": {"point": {"lat": 3.2, "lon": 35.6}, "region": "Turkana"},
     "occurred_at": "2026-03-10T09:30:00Z", "submitter_id": "newcomer", "status": "verified",
     "corroboration": [{"kind": "gps_match", "recorded_at": "2026-03-10T09:30:00Z"}]}
  ]
}`

func seedSQLite(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "witness.db")

	store, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(ctx))

	snap, err := domain.ReadSnapshot(strings.NewReader(evidenceJSON))
	require.NoError(t, err)
	require.NoError(t, snap.Seed(ctx, store))
	return dsn
}

func runCLI(t *testing.T, dsn string, args ...string) (int, []byte, string) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("STORE_DSN", dsn)
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.Bytes(), stderr.String()
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		event      string
		outcome    string
		wantStatus domain.VerificationStatus
		wantTrust  float64
		standing   scoring.Standing
	}{
		{"confirmed", "evt-held", "confirmed", domain.StatusVerified, 52, scoring.StandingActive},
		{"fraudulent", "evt-odd", "Fraudulent", domain.StatusRejected, 25, scoring.StandingWarned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := seedSQLite(t)

			code, out, stderr := runCLI(t, dsn, "resolve",
				"-event", tt.event, "-outcome", tt.outcome, "-reviewer", "elder-council", "-now", "2026-03-14T09:30:00Z")
			require.Equal(t, 0, code, stderr)

			var r resolution
			require.NoError(t, json.Unmarshal(out, &r))
			assert.Equal(t, tt.wantStatus, r.Event.Status)
			assert.InDelta(t, tt.wantTrust, r.SubmitterTrust, 1e-9)
			assert.Equal(t, tt.standing, r.Standing)

			// The change is durable and cannot be applied twice.
			code, _, stderr = runCLI(t, dsn, "resolve",
				"-event", tt.event, "-outcome", tt.outcome, "-reviewer", "elder-council")
			assert.Equal(t, 2, code)
			assert.Contains(t, stderr, "invalid state transition")
		})
	}
}

func TestResolve_RecordsReviewer(t *testing.T) {
	dsn := seedSQLite(t)

	code, _, stderr := runCLI(t, dsn, "resolve", "-event", "evt-held", "-outcome", "confirmed", "-reviewer", "wanjiru")
	require.Equal(t, 0, code, stderr)

	store, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, dsn)
	require.NoError(t, err)
	defer store.Close()

	e, err := store.GetEvent(context.Background(), "evt-held")
	require.NoError(t, err)
	require.Len(t, e.Corroboration, 1)
	assert.Equal(t, domain.CorroborationCommunityReview, e.Corroboration[0].Kind)
	assert.Contains(t, e.Corroboration[0].Detail, "wanjiru")

	u, err := store.GetUser(context.Background(), "newcomer")
	require.NoError(t, err)
	assert.Equal(t, 1, u.VerificationCount)
}

func TestPending(t *testing.T) {
	dsn := seedSQLite(t)

	code, out, stderr := runCLI(t, dsn, "pending")
	require.Equal(t, 0, code, stderr)
	var events []domain.Event
	require.NoError(t, json.Unmarshal(out, &events))
	require.Len(t, events, 2)
	assert.Equal(t, "evt-odd", events[0].ID)
	assert.Equal(t, "evt-held", events[1].ID)

	code, out, stderr = runCLI(t, dsn, "pending", "-region", "turkana")
	require.Equal(t, 0, code, stderr)
	events = nil
	require.NoError(t, json.Unmarshal(out, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "evt-held", events[0].ID)
}

func TestStats(t *testing.T) {
	dsn := seedSQLite(t)

	code, out, stderr := runCLI(t, dsn, "stats")
	require.Equal(t, 0, code, stderr)

	var st verify.Stats
	require.NoError(t, json.Unmarshal(out, &st))
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.ByStatus[domain.StatusPending])
	assert.InDelta(t, 1.0/3, st.VerificationRate, 1e-9)
}

func TestRun_Errors(t *testing.T) {
	dsn := seedSQLite(t)

	tests := []struct {
		name     string
		args     []string
		memory   bool
		wantCode int
		wantErr  string
	}{
		{name: "no subcommand", args: nil, wantCode: 2, wantErr: "usage"},
		{name: "unknown subcommand", args: []string{"approve"}, wantCode: 2, wantErr: "usage"},
		{name: "missing event", args: []string{"resolve", "-reviewer", "x", "-outcome", "confirmed"}, wantCode: 2, wantErr: "requires -event"},
		{name: "bad outcome", args: []string{"resolve", "-event", "evt-held", "-reviewer", "x", "-outcome", "maybe"}, wantCode: 2, wantErr: "-outcome must be"},
		{name: "unknown event", args: []string{"resolve", "-event", "evt-nope", "-reviewer", "x", "-outcome", "confirmed"}, wantCode: 2, wantErr: "not found"},
		{name: "bad now", args: []string{"stats", "-now", "soon"}, wantCode: 2, wantErr: "invalid -now"},
		{name: "resolve in memory", args: []string{"resolve", "-event", "evt-held", "-reviewer", "x", "-outcome", "confirmed"}, memory: true, wantCode: 2, wantErr: "persistent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if tt.memory {
				t.Setenv("STORE_DRIVER", "memory")
				t.Setenv("STORE_DSN", "")
			} else {
				t.Setenv("STORE_DRIVER", "sqlite")
				t.Setenv("STORE_DSN", dsn)
			}
			code := run(tt.args, &stdout, &stderr)
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, stderr.String(), tt.wantErr)
		})
	}
}
