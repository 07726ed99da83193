// Package storetest is a behavioural test suite shared by every
// domain.EvidenceStore implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) domain.EvidenceStore

var base = time.Date(2026, time.January, 10, 6, 0, 0, 0, time.UTC)

// Event builds a verified event at the given point for seeding stores.
func Event(id string, typ domain.EventType, lat, lon float64, at time.Time) domain.Event {
	return domain.Event{
		ID:          id,
		Type:        typ,
		Location:    domain.Location{Point: domain.GeoPoint{Lat: lat, Lon: lon}, Region: "Turkana"},
		OccurredAt:  at,
		SubmitterID: "seed",
		Status:      domain.StatusVerified,
		Corroboration: []domain.Corroboration{
			{Kind: domain.CorroborationTrustThreshold, RecordedAt: at},
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Run exercises the full store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("concurrent trust updates", func(t *testing.T) { testConcurrentTrust(t, newStore(t)) })
	t.Run("create and get event", func(t *testing.T) { testCreateEvent(t, newStore(t)) })
	t.Run("find nearby", func(t *testing.T) { testFindNearby(t, newStore(t)) })
	t.Run("list events", func(t *testing.T) { testListEvents(t, newStore(t)) })
	t.Run("transition event", func(t *testing.T) { testTransition(t, newStore(t)) })
	t.Run("record event with trust", func(t *testing.T) { testRecordEvent(t, newStore(t)) })
	t.Run("settle event with trust", func(t *testing.T) { testSettleEvent(t, newStore(t)) })
}

func bump(by float64, at time.Time) domain.UserTransition {
	return func(u domain.User) (domain.User, error) {
		u.TrustScore += by
		u.VerificationCount++
		u.UpdatedAt = at
		return u, nil
	}
}

func testUsers(t *testing.T, s domain.EvidenceStore) {
	ctx := context.Background()

	_, err := s.GetUser(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.UpdateUserTrust(ctx, "ghost", func(u domain.User) (domain.User, error) { return u, nil })
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := s.EnsureUser(ctx, domain.User{ID: "amina", TrustScore: 50, Region: "Turkana", UpdatedAt: base})
	require.NoError(t, err)
	assert.InDelta(t, 50, got.TrustScore, 1e-12)

	// EnsureUser never overwrites.
	got, err = s.EnsureUser(ctx, domain.User{ID: "amina", TrustScore: 99})
	require.NoError(t, err)
	assert.InDelta(t, 50, got.TrustScore, 1e-12)
	assert.Equal(t, "Turkana", got.Region)

	require.NoError(t, s.PutUser(ctx, domain.User{ID: "amina", TrustScore: 72, VerificationCount: 3, Region: "Turkana", UpdatedAt: base}))
	got, err = s.GetUser(ctx, "amina")
	require.NoError(t, err)
	assert.Equal(t, domain.User{ID: "amina", TrustScore: 72, VerificationCount: 3, Region: "Turkana", UpdatedAt: base}, got)

	boom := errors.New("rejected by transition")
	_, err = s.UpdateUserTrust(ctx, "amina", func(domain.User) (domain.User, error) { return domain.User{}, boom })
	require.ErrorIs(t, err, boom)

	updated, err := s.UpdateUserTrust(ctx, "amina", func(u domain.User) (domain.User, error) {
		u.TrustScore += 5
		u.VerificationCount++
		u.UpdatedAt = base.Add(time.Hour)
		return u, nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 77, updated.TrustScore, 1e-12)

	got, err = s.GetUser(ctx, "amina")
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func testConcurrentTrust(t *testing.T, s domain.EvidenceStore) {
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, domain.User{ID: "busy", TrustScore: 0})
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateUserTrust(ctx, "busy", func(u domain.User) (domain.User, error) {
				u.TrustScore++
				return u, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetUser(ctx, "busy")
	require.NoError(t, err)
	assert.InDelta(t, writers, got.TrustScore, 1e-12)
}

func testCreateEvent(t *testing.T, s domain.EvidenceStore) {
	ctx := context.Background()
	impact := 125000.0
	e := Event("evt-1", domain.EventDrought, 3.1167, 35.6167, base)
	e.Severity = domain.SeverityHigh
	e.EconomicImpact = &impact
	e.EvidenceLinks = []string{"s3://evidence/evt-1.jpg"}
	e.Description = "Dry riverbed, dead livestock"

	require.NoError(t, s.CreateEvent(ctx, e))
	require.ErrorIs(t, s.CreateEvent(ctx, e), domain.ErrAlreadyExists)

	got, err := s.GetEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = s.GetEvent(ctx, "evt-missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	bare := Event("evt-bare", domain.EventFlood, 0, 1, base)
	bare.Corroboration = nil
	require.ErrorIs(t, s.CreateEvent(ctx, bare), domain.ErrUncorroborated)

	pending := bare
	pending.Status = domain.StatusPending
	require.NoError(t, s.CreateEvent(ctx, pending))
}

func testFindNearby(t *testing.T, s domain.EvidenceStore) {
	ctx := context.Background()
	lodwar := domain.GeoPoint{Lat: 3.1167, Lon: 35.6167}

	seed := []domain.Event{
		Event("near-a", domain.EventDrought, 3.20, 35.60, base),                       // ~9 km
		Event("near-b", domain.EventFlood, 3.1167, 35.80, base.AddDate(0, 0, 10)),     // ~20 km
		Event("kakuma", domain.EventDrought, 3.7167, 34.8667, base.AddDate(0, 0, -5)), // ~107 km
		Event("old", domain.EventDrought, 3.12, 35.62, base.AddDate(0, -3, 0)),        // outside window
	}
	pending := Event("pending", domain.EventDrought, 3.1167, 35.6167, base)
	pending.Status = domain.StatusPending
	pending.Corroboration = nil
	seed = append(seed, pending)
	for _, e := range seed {
		require.NoError(t, s.CreateEvent(ctx, e))
	}

	hits, err := s.FindNearbyEvents(ctx, domain.NearbyQuery{
		Point:    lodwar,
		RadiusKm: 50,
		Window:   domain.WindowAround(base, 30*24*time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near-a", hits[0].Event.ID)
	assert.Equal(t, "near-b", hits[1].Event.ID)
	assert.Less(t, hits[0].DistanceKm, hits[1].DistanceKm)
	assert.InDelta(t, domain.DistanceKm(lodwar, hits[0].Event.Location.Point), hits[0].DistanceKm, 1e-9)

	hits, err = s.FindNearbyEvents(ctx, domain.NearbyQuery{Point: lodwar, RadiusKm: 50, Type: domain.EventDrought})
	require.NoError(t, err)
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.Event.ID)
	}
	assert.ElementsMatch(t, []string{"near-a", "old"}, ids)

	hits, err = s.FindNearbyEvents(ctx, domain.NearbyQuery{Point: lodwar, RadiusKm: 200})
	require.NoError(t, err)
	assert.Len(t, hits, 4)
}

func testListEvents(t *testing.T, s domain.EvidenceStore) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		e := Event(fmt.Sprintf("evt-%d", i), domain.EventDrought, 3, 35, base.AddDate(0, 0, i))
		if i%2 == 1 {
			e.Type = domain.EventFlood
			e.Location.Region = "  marsabit "
		}
		require.NoError(t, s.CreateEvent(ctx, e))
	}

	all, err := s.ListEvents(ctx, domain.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "evt-0", all[0].ID)
	assert.Equal(t, "evt-3", all[3].ID)

	floods, err := s.ListEvents(ctx, domain.EventFilter{Type: domain.EventFlood})
	require.NoError(t, err)
	assert.Len(t, floods, 2)

	marsabit, err := s.ListEvents(ctx, domain.EventFilter{Region: "Marsabit"})
	require.NoError(t, err)
	assert.Len(t, marsabit, 2)

	recent, err := s.ListEvents(ctx, domain.EventFilter{Since: base.AddDate(0, 0, 2), Status: domain.StatusVerified})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func testTransition(t *testing.T, s domain.EvidenceStore) {
	ctx := context.Background()
	e := Event("evt-review", domain.EventLocustSwarm, 2.3, 37.9, base)
	e.Status = domain.StatusPending
	e.Corroboration = nil
	require.NoError(t, s.CreateEvent(ctx, e))

	at := base.Add(48 * time.Hour)

	_, err := s.TransitionEvent(ctx, "evt-review", domain.StatusPending, domain.StatusVerified, nil, at)
	require.ErrorIs(t, err, domain.ErrUncorroborated)

	_, err = s.TransitionEvent(ctx, "evt-review", domain.StatusVerified, domain.StatusRejected, nil, at)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.TransitionEvent(ctx, "evt-nope", domain.StatusPending, domain.StatusRejected, nil, at)
	require.ErrorIs(t, err, domain.ErrNotFound)

	evidence := []domain.Corroboration{{Kind: domain.CorroborationCommunityReview, Detail: "reviewer kipchoge"}}
	got, err := s.TransitionEvent(ctx, "evt-review", domain.StatusPending, domain.StatusVerified, evidence, at)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, got.Status)
	require.Len(t, got.Corroboration, 1)
	assert.Equal(t, at, got.Corroboration[0].RecordedAt)
	assert.Equal(t, at, got.UpdatedAt)

	stored, err := s.GetEvent(ctx, "evt-review")
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	// A second reviewer racing the first loses.
	_, err = s.TransitionEvent(ctx, "evt-review", domain.StatusPending, domain.StatusRejected, nil, at)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func testRecordEvent(t *testing.T, s domain.EvidenceStore) {
	ctx := context.Background()
	e := Event("evt-rec", domain.EventDrought, 3.1167, 35.6167, base)
	e.SubmitterID = "amina"
	defaults := domain.User{TrustScore: 50, Region: "Turkana", UpdatedAt: base}
	at := base.Add(time.Hour)

	// A failing transition leaves neither the event nor the user behind.
	boom := errors.New("trust ledger unavailable")
	_, err := s.RecordEvent(ctx, e, domain.TrustChange{
		Defaults: defaults,
		Apply:    func(domain.User) (domain.User, error) { return domain.User{}, boom },
	})
	require.ErrorIs(t, err, boom)
	_, err = s.GetEvent(ctx, "evt-rec")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetUser(ctx, "amina")
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := s.RecordEvent(ctx, e, domain.TrustChange{Defaults: defaults, Apply: bump(5, at)})
	require.NoError(t, err)
	assert.Equal(t, domain.User{ID: "amina", TrustScore: 55, VerificationCount: 1, Region: "Turkana", UpdatedAt: at}, got)

	stored, err := s.GetEvent(ctx, "evt-rec")
	require.NoError(t, err)
	assert.Equal(t, e, stored)

	// A second record of the same event changes nothing.
	_, err = s.RecordEvent(ctx, e, domain.TrustChange{Defaults: defaults, Apply: bump(5, at)})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	u, err := s.GetUser(ctx, "amina")
	require.NoError(t, err)
	assert.InDelta(t, 55, u.TrustScore, 1e-12)

	// Existing users keep their state; defaults apply only on first contact.
	other := Event("evt-rec-2", domain.EventDrought, 3.2, 35.6, base)
	other.SubmitterID = "amina"
	got, err = s.RecordEvent(ctx, other, domain.TrustChange{Defaults: domain.User{TrustScore: 10}, Apply: bump(5, at)})
	require.NoError(t, err)
	assert.InDelta(t, 60, got.TrustScore, 1e-12)
	assert.Equal(t, 2, got.VerificationCount)

	bare := Event("evt-rec-bare", domain.EventFlood, 0, 1, base)
	bare.Corroboration = nil
	_, err = s.RecordEvent(ctx, bare, domain.TrustChange{Defaults: defaults})
	require.ErrorIs(t, err, domain.ErrUncorroborated)
}

func testSettleEvent(t *testing.T, s domain.EvidenceStore) {
	ctx := context.Background()
	e := Event("evt-settle", domain.EventFlood, 0.5, 36.1, base)
	e.SubmitterID = "baraka"
	e.Status = domain.StatusPending
	e.Corroboration = nil
	require.NoError(t, s.CreateEvent(ctx, e))

	at := base.Add(24 * time.Hour)
	evidence := []domain.Corroboration{{Kind: domain.CorroborationCommunityReview, Detail: "confirmed by wanjiru"}}
	defaults := domain.User{TrustScore: 50, UpdatedAt: base}

	boom := errors.New("trust ledger unavailable")
	_, _, err := s.SettleEvent(ctx, "evt-settle", domain.StatusPending, domain.StatusVerified, evidence, at, domain.TrustChange{
		Defaults: defaults,
		Apply:    func(domain.User) (domain.User, error) { return domain.User{}, boom },
	})
	require.ErrorIs(t, err, boom)
	stored, err := s.GetEvent(ctx, "evt-settle")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	_, err = s.GetUser(ctx, "baraka")
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, user, err := s.SettleEvent(ctx, "evt-settle", domain.StatusPending, domain.StatusVerified, evidence, at, domain.TrustChange{
		Defaults: defaults,
		Apply:    bump(2, at),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, got.Status)
	assert.Equal(t, domain.User{ID: "baraka", TrustScore: 52, VerificationCount: 1, UpdatedAt: at}, user)

	_, _, err = s.SettleEvent(ctx, "evt-settle", domain.StatusPending, domain.StatusRejected, nil, at, domain.TrustChange{Defaults: defaults})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	u, err := s.GetUser(ctx, "baraka")
	require.NoError(t, err)
	assert.InDelta(t, 52, u.TrustScore, 1e-12)
}
