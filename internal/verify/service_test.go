package verify_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/climate-witness/internal/adapter/memstore"
	"github.com/couchcryptid/climate-witness/internal/adapter/storetest"
	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/observability"
	"github.com/couchcryptid/climate-witness/internal/scoring"
	"github.com/couchcryptid/climate-witness/internal/verify"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

var lodwar = domain.GeoPoint{Lat: 3.1167, Lon: 35.6167}

func timePtr(t time.Time) *time.Time { return &t }

func floatPtr(v float64) *float64 { return &v }

type stubGeocoder struct {
	place domain.Place
	err   error
	calls int
}

func (g *stubGeocoder) ForwardGeocode(_ context.Context, _ string) (domain.Place, error) {
	g.calls++
	return g.place, g.err
}

func (g *stubGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.Place, error) {
	g.calls++
	return g.place, g.err
}

func newService(t *testing.T, store domain.EvidenceStore, geocoder domain.Geocoder, policy scoring.Policy) *verify.Service {
	t.Helper()
	return verify.New(store, geocoder, policy, clockwork.NewFakeClockAt(testNow), slog.Default(), observability.NewMetricsForTesting())
}

func bundle(id, submitter string) domain.EvidenceBundle {
	p := lodwar
	return domain.EvidenceBundle{
		SubmissionID:    id,
		SubmitterID:     submitter,
		ClaimedType:     domain.EventDrought,
		Point:           &p,
		Region:          "Turkana",
		CapturedAt:      timePtr(testNow.Add(-time.Hour)),
		DeviceSignature: "sig-" + id,
		Severity:        domain.SeverityHigh,
		EconomicImpact:  floatPtr(12000),
	}
}

func seedUser(t *testing.T, store domain.EvidenceStore, id string, trust float64, verified int) {
	t.Helper()
	require.NoError(t, store.PutUser(context.Background(), domain.User{
		ID: id, TrustScore: trust, VerificationCount: verified, UpdatedAt: testNow,
	}))
}

func seedDroughts(t *testing.T, store domain.EvidenceStore, n int) {
	t.Helper()
	points := []domain.GeoPoint{{Lat: 3.2, Lon: 35.6}, {Lat: 3.0, Lon: 35.7}, {Lat: 3.15, Lon: 35.5}}
	for i := 0; i < n; i++ {
		p := points[i%len(points)]
		e := storetest.Event("seed-"+string(rune('a'+i)), domain.EventDrought, p.Lat, p.Lon, testNow.Add(-time.Duration(i+1)*24*time.Hour))
		require.NoError(t, store.CreateEvent(context.Background(), e))
	}
}

func TestVerifySubmission_TrustedReporterWithMatch(t *testing.T) {
	store := memstore.New()
	seedUser(t, store, "amina", 85, 12)
	seedDroughts(t, store, 1)
	svc := newService(t, store, nil, scoring.DefaultPolicy())

	v, err := svc.VerifySubmission(context.Background(), bundle("sub-1", "amina"))
	require.NoError(t, err)

	assert.Equal(t, string(scoring.DecisionAuthentic), v.Decision)
	assert.Equal(t, domain.StatusVerified, v.Status)
	assert.InDelta(t, 0.35+0.36+0.25/3, v.Score, 1e-9)
	assert.Equal(t, 1, v.MatchCount)
	assert.InDelta(t, 85.0, v.TrustBefore, 1e-9)
	assert.InDelta(t, 90.0, v.TrustAfter, 1e-9)
	assert.False(t, v.Duplicate)
	assert.Equal(t, testNow, v.ProcessedAt)

	e, err := store.GetEvent(context.Background(), v.EventID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventIDFor("amina", "sub-1"), e.ID)
	assert.Equal(t, domain.StatusVerified, e.Status)
	assert.Equal(t, testNow.Add(-time.Hour), e.OccurredAt)
	require.Len(t, e.Corroboration, 2)
	assert.Equal(t, domain.CorroborationGPSMatch, e.Corroboration[0].Kind)
	assert.Equal(t, domain.CorroborationTrustThreshold, e.Corroboration[1].Kind)

	u, err := store.GetUser(context.Background(), "amina")
	require.NoError(t, err)
	assert.InDelta(t, 90.0, u.TrustScore, 1e-9)
	assert.Equal(t, 13, u.VerificationCount)
}

func TestVerifySubmission_NewReporterCorroboratedByGPS(t *testing.T) {
	store := memstore.New()
	seedDroughts(t, store, 3)
	svc := newService(t, store, nil, scoring.DefaultPolicy())

	v, err := svc.VerifySubmission(context.Background(), bundle("sub-2", "newcomer"))
	require.NoError(t, err)
	assert.Equal(t, string(scoring.DecisionAuthentic), v.Decision)
	assert.InDelta(t, 50.0, v.TrustBefore, 1e-9)
	assert.InDelta(t, 55.0, v.TrustAfter, 1e-9)

	e, err := store.GetEvent(context.Background(), v.EventID)
	require.NoError(t, err)
	require.Len(t, e.Corroboration, 1)
	assert.Equal(t, domain.CorroborationGPSMatch, e.Corroboration[0].Kind)

	u, err := store.GetUser(context.Background(), "newcomer")
	require.NoError(t, err)
	assert.Equal(t, 1, u.VerificationCount)
	assert.Equal(t, "Turkana", u.Region)
}

func TestVerifySubmission_NeedsReviewCreatesPendingEvent(t *testing.T) {
	store := memstore.New()
	svc := newService(t, store, nil, scoring.DefaultPolicy())

	v, err := svc.VerifySubmission(context.Background(), bundle("sub-3", "newcomer"))
	require.NoError(t, err)
	assert.Equal(t, string(scoring.DecisionNeedsReview), v.Decision)
	assert.Equal(t, domain.StatusPending, v.Status)
	assert.InDelta(t, 0.55, v.Score, 1e-9)

	e, err := store.GetEvent(context.Background(), v.EventID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, e.Status)
	assert.Empty(t, e.Corroboration)

	u, err := store.GetUser(context.Background(), "newcomer")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, u.TrustScore, 1e-9)
	assert.Zero(t, u.VerificationCount)
}

func TestVerifySubmission_AuthenticWithoutCorroborationIsHeld(t *testing.T) {
	policy := scoring.DefaultPolicy()
	policy.Authenticity.Thresholds.Authentic = 0.7
	policy.Authenticity.CorroborationTrust = 101

	store := memstore.New()
	seedUser(t, store, "veteran", 100, 3)
	svc := newService(t, store, nil, policy)

	v, err := svc.VerifySubmission(context.Background(), bundle("sub-4", "veteran"))
	require.NoError(t, err)
	assert.Equal(t, string(scoring.DecisionNeedsReview), v.Decision)
	assert.Equal(t, domain.StatusPending, v.Status)
	assert.Contains(t, v.Explanation, "no corroborating evidence")
}

func TestVerifySubmission_RejectedIsNotStored(t *testing.T) {
	store := memstore.New()
	svc := newService(t, store, nil, scoring.DefaultPolicy())

	b := bundle("sub-5", "drifter")
	b.CapturedAt = nil
	b.DeviceSignature = ""

	v, err := svc.VerifySubmission(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, string(scoring.DecisionRejected), v.Decision)
	assert.Empty(t, v.EventID)
	assert.Empty(t, v.Status)

	_, err = store.GetEvent(context.Background(), domain.EventIDFor("drifter", "sub-5"))
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetUser(context.Background(), "drifter")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVerifySubmission_RedeliveryIsDuplicate(t *testing.T) {
	store := memstore.New()
	seedUser(t, store, "amina", 85, 12)
	seedDroughts(t, store, 1)
	svc := newService(t, store, nil, scoring.DefaultPolicy())

	first, err := svc.VerifySubmission(context.Background(), bundle("sub-6", "amina"))
	require.NoError(t, err)
	second, err := svc.VerifySubmission(context.Background(), bundle("sub-6", "amina"))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, domain.StatusVerified, second.Status)
	assert.Equal(t, string(scoring.DecisionAuthentic), second.Decision)
	assert.InDelta(t, 90.0, second.TrustBefore, 1e-9)
	assert.InDelta(t, 90.0, second.TrustAfter, 1e-9)
	assert.Zero(t, second.MatchCount)

	u, err := store.GetUser(context.Background(), "amina")
	require.NoError(t, err)
	assert.InDelta(t, 90.0, u.TrustScore, 1e-9)
	assert.Equal(t, 13, u.VerificationCount)
}

func TestVerifySubmission_RedeliveryReportsStoredStatus(t *testing.T) {
	store := memstore.New()
	svc := newService(t, store, nil, scoring.DefaultPolicy())
	ctx := context.Background()

	first, err := svc.VerifySubmission(ctx, bundle("sub-held", "newcomer"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, first.Status)

	again, err := svc.VerifySubmission(ctx, bundle("sub-held", "newcomer"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, domain.StatusPending, again.Status)
	assert.Equal(t, string(scoring.DecisionNeedsReview), again.Decision)

	_, err = svc.ResolveReview(ctx, first.EventID, verify.ReviewFraudulent, "elder-council")
	require.NoError(t, err)

	after, err := svc.VerifySubmission(ctx, bundle("sub-held", "newcomer"))
	require.NoError(t, err)
	assert.True(t, after.Duplicate)
	assert.Equal(t, domain.StatusRejected, after.Status)
	assert.Equal(t, string(scoring.DecisionRejected), after.Decision)
	assert.InDelta(t, 35.0, after.TrustAfter, 1e-9)
}

// flakyStore fails the trust step of the next failures writes, the way a
// dropped database connection would.
type flakyStore struct {
	*memstore.Store
	failures int
}

var errConnReset = errors.New("connection reset")

func (f *flakyStore) fail(change domain.TrustChange) domain.TrustChange {
	if f.failures == 0 {
		return change
	}
	f.failures--
	change.Apply = func(domain.User) (domain.User, error) { return domain.User{}, errConnReset }
	return change
}

func (f *flakyStore) RecordEvent(ctx context.Context, e domain.Event, change domain.TrustChange) (domain.User, error) {
	return f.Store.RecordEvent(ctx, e, f.fail(change))
}

func (f *flakyStore) SettleEvent(ctx context.Context, id string, from, to domain.VerificationStatus, evidence []domain.Corroboration, at time.Time, change domain.TrustChange) (domain.Event, domain.User, error) {
	return f.Store.SettleEvent(ctx, id, from, to, evidence, at, f.fail(change))
}

func TestVerifySubmission_TrustFailureIsRetriedWhole(t *testing.T) {
	store := &flakyStore{Store: memstore.New(), failures: 1}
	seedUser(t, store, "amina", 85, 12)
	seedDroughts(t, store, 1)
	svc := newService(t, store, nil, scoring.DefaultPolicy())
	ctx := context.Background()

	_, err := svc.VerifySubmission(ctx, bundle("sub-flaky", "amina"))
	require.ErrorIs(t, err, errConnReset)

	_, err = store.GetEvent(ctx, domain.EventIDFor("amina", "sub-flaky"))
	require.ErrorIs(t, err, domain.ErrNotFound)

	v, err := svc.VerifySubmission(ctx, bundle("sub-flaky", "amina"))
	require.NoError(t, err)
	assert.False(t, v.Duplicate)
	assert.Equal(t, domain.StatusVerified, v.Status)
	assert.InDelta(t, 90.0, v.TrustAfter, 1e-9)

	u, err := store.GetUser(ctx, "amina")
	require.NoError(t, err)
	assert.InDelta(t, 90.0, u.TrustScore, 1e-9)
	assert.Equal(t, 13, u.VerificationCount)
}

func TestVerifySubmission_SharedSubmissionIDAcrossReporters(t *testing.T) {
	store := memstore.New()
	seedUser(t, store, "amina", 85, 12)
	seedUser(t, store, "baraka", 85, 4)
	seedDroughts(t, store, 1)
	svc := newService(t, store, nil, scoring.DefaultPolicy())
	ctx := context.Background()

	first, err := svc.VerifySubmission(ctx, bundle("1", "amina"))
	require.NoError(t, err)

	b := bundle("1", "baraka")
	b.Point = &domain.GeoPoint{Lat: 3.15, Lon: 35.65}
	second, err := svc.VerifySubmission(ctx, b)
	require.NoError(t, err)

	assert.False(t, second.Duplicate)
	assert.NotEqual(t, first.EventID, second.EventID)
	assert.InDelta(t, 90.0, second.TrustAfter, 1e-9)

	e, err := store.GetEvent(ctx, second.EventID)
	require.NoError(t, err)
	assert.Equal(t, "baraka", e.SubmitterID)
	assert.Equal(t, domain.GeoPoint{Lat: 3.15, Lon: 35.65}, e.Location.Point)
}

func TestVerifySubmission_EventOwnedByAnotherReporter(t *testing.T) {
	store := memstore.New()
	e := storetest.Event(domain.EventIDFor("baraka", "1"), domain.EventDrought, 3.1, 35.6, testNow.Add(-time.Hour))
	e.SubmitterID = "amina"
	require.NoError(t, store.CreateEvent(context.Background(), e))
	svc := newService(t, store, nil, scoring.DefaultPolicy())

	_, err := svc.VerifySubmission(context.Background(), bundle("1", "baraka"))
	require.ErrorIs(t, err, domain.ErrSubmissionConflict)
}

func TestVerifySubmission_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.EvidenceBundle)
		trust  float64
		want   error
	}{
		{
			name:   "missing location",
			mutate: func(b *domain.EvidenceBundle) { b.Point = nil },
			trust:  60,
			want:   domain.ErrIncompleteEvidence,
		},
		{
			name:   "latitude out of range",
			mutate: func(b *domain.EvidenceBundle) { b.Point = &domain.GeoPoint{Lat: 95, Lon: 35} },
			trust:  60,
			want:   domain.ErrInvalidCoordinates,
		},
		{
			name:   "suspended submitter",
			mutate: func(*domain.EvidenceBundle) {},
			trust:  5,
			want:   domain.ErrSubmitterSuspended,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			seedUser(t, store, "reporter", tt.trust, 0)
			svc := newService(t, store, nil, scoring.DefaultPolicy())

			b := bundle("sub-err", "reporter")
			tt.mutate(&b)
			_, err := svc.VerifySubmission(context.Background(), b)
			require.ErrorIs(t, err, tt.want)

			_, err = store.GetEvent(context.Background(), domain.EventIDFor("reporter", "sub-err"))
			require.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestVerifySubmission_FillsRegionFromGeocoder(t *testing.T) {
	store := memstore.New()
	geo := &stubGeocoder{place: domain.Place{Region: "Turkana County"}}
	svc := newService(t, store, geo, scoring.DefaultPolicy())

	b := bundle("sub-7", "newcomer")
	b.Region = ""
	v, err := svc.VerifySubmission(context.Background(), b)
	require.NoError(t, err)

	e, err := store.GetEvent(context.Background(), v.EventID)
	require.NoError(t, err)
	assert.Equal(t, "Turkana County", e.Location.Region)
	assert.Equal(t, 1, geo.calls)
}

func TestVerifySubmission_GeocoderFailureDegrades(t *testing.T) {
	store := memstore.New()
	geo := &stubGeocoder{err: errors.New("upstream 503")}
	svc := newService(t, store, geo, scoring.DefaultPolicy())

	b := bundle("sub-8", "newcomer")
	b.Region = ""
	v, err := svc.VerifySubmission(context.Background(), b)
	require.NoError(t, err)

	e, err := store.GetEvent(context.Background(), v.EventID)
	require.NoError(t, err)
	assert.Empty(t, e.Location.Region)
}

func TestScoreAuthenticity_DoesNotPersist(t *testing.T) {
	store := memstore.New()
	svc := newService(t, store, nil, scoring.DefaultPolicy())

	res, err := svc.ScoreAuthenticity(context.Background(), bundle("sub-9", "newcomer"))
	require.NoError(t, err)
	assert.Equal(t, scoring.DecisionNeedsReview, res.Decision)
	require.Len(t, res.Factors, 3)

	events, err := store.ListEvents(context.Background(), domain.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestResolveReview(t *testing.T) {
	tests := []struct {
		name       string
		outcome    verify.ReviewOutcome
		wantStatus domain.VerificationStatus
		wantTrust  float64
		wantCount  int
	}{
		{"confirmed", verify.ReviewConfirmed, domain.StatusVerified, 52, 1},
		{"fraudulent", verify.ReviewFraudulent, domain.StatusRejected, 35, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			svc := newService(t, store, nil, scoring.DefaultPolicy())
			ctx := context.Background()

			v, err := svc.VerifySubmission(ctx, bundle("sub-r", "newcomer"))
			require.NoError(t, err)
			require.Equal(t, domain.StatusPending, v.Status)

			e, err := svc.ResolveReview(ctx, v.EventID, tt.outcome, "elder-council")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, e.Status)
			assert.Equal(t, testNow, e.UpdatedAt)
			if tt.wantStatus == domain.StatusVerified {
				require.Len(t, e.Corroboration, 1)
				assert.Equal(t, domain.CorroborationCommunityReview, e.Corroboration[0].Kind)
				assert.Contains(t, e.Corroboration[0].Detail, "elder-council")
			}

			u, err := store.GetUser(ctx, "newcomer")
			require.NoError(t, err)
			assert.InDelta(t, tt.wantTrust, u.TrustScore, 1e-9)
			assert.Equal(t, tt.wantCount, u.VerificationCount)

			_, err = svc.ResolveReview(ctx, v.EventID, tt.outcome, "elder-council")
			require.ErrorIs(t, err, domain.ErrInvalidTransition)
		})
	}
}

func TestResolveReview_TrustFailureLeavesEventPending(t *testing.T) {
	store := &flakyStore{Store: memstore.New()}
	svc := newService(t, store, nil, scoring.DefaultPolicy())
	ctx := context.Background()

	v, err := svc.VerifySubmission(ctx, bundle("sub-rf", "newcomer"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, v.Status)

	store.failures = 1
	_, err = svc.ResolveReview(ctx, v.EventID, verify.ReviewConfirmed, "elder-council")
	require.ErrorIs(t, err, errConnReset)

	e, err := store.GetEvent(ctx, v.EventID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, e.Status)

	_, err = svc.ResolveReview(ctx, v.EventID, verify.ReviewConfirmed, "elder-council")
	require.NoError(t, err)

	u, err := store.GetUser(ctx, "newcomer")
	require.NoError(t, err)
	assert.InDelta(t, 52.0, u.TrustScore, 1e-9)
	assert.Equal(t, 1, u.VerificationCount)
}

func TestResolveReview_Errors(t *testing.T) {
	store := memstore.New()
	svc := newService(t, store, nil, scoring.DefaultPolicy())

	_, err := svc.ResolveReview(context.Background(), "missing", verify.ReviewConfirmed, "x")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.ResolveReview(context.Background(), "missing", verify.ReviewOutcome("maybe"), "x")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSubmitterStanding(t *testing.T) {
	store := memstore.New()
	seedUser(t, store, "trusted", 92, 20)
	seedUser(t, store, "suspended", 4, 0)
	svc := newService(t, store, nil, scoring.DefaultPolicy())
	ctx := context.Background()

	got, err := svc.SubmitterStanding(ctx, "trusted")
	require.NoError(t, err)
	assert.Equal(t, scoring.StandingTrusted, got)

	got, err = svc.SubmitterStanding(ctx, "suspended")
	require.NoError(t, err)
	assert.Equal(t, scoring.StandingSuspended, got)

	got, err = svc.SubmitterStanding(ctx, "stranger")
	require.NoError(t, err)
	assert.Equal(t, scoring.StandingActive, got)
}
