package verify_test

import (
	"context"
	"testing"
	"time"

	"github.com/couchcryptid/climate-witness/internal/adapter/memstore"
	"github.com/couchcryptid/climate-witness/internal/adapter/storetest"
	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/scoring"
	"github.com/couchcryptid/climate-witness/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factorNamed(t *testing.T, factors []domain.Factor, name string) domain.Factor {
	t.Helper()
	for _, f := range factors {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("factor %s not found", name)
	return domain.Factor{}
}

func lodwarProposal() domain.PolicyProposal {
	p := lodwar
	return domain.PolicyProposal{
		ID:        "prop-1",
		Issue:     "Borehole rehabilitation for drought-hit pastoralists",
		Target:    domain.TargetLocation{Region: "Turkana", Point: &p},
		EventType: domain.EventDrought,
		Stakeholders: []domain.Stakeholder{
			{Name: "County water office", Category: domain.CategoryGovernment, Position: domain.PositionSupport, UserID: "official"},
			{Name: "Herders association", Category: domain.CategoryAffectedCommunity, Position: domain.PositionSupport},
			{Name: "Hydrologist", Category: domain.CategoryTechnicalExpert, Position: domain.PositionNeutral},
			{Name: "Relief NGO", Category: domain.CategoryCivilSociety, Position: domain.PositionSupport},
		},
		EvidenceRefs: []string{"seed-a", "seed-b", "seed-c", "missing"},
		State:        domain.ProposalProposed,
	}
}

func TestScoreProposal(t *testing.T) {
	store := memstore.New()
	seedDroughts(t, store, 3)
	seedUser(t, store, "official", 80, 4)
	flood := storetest.Event("flood-1", domain.EventFlood, 3.1, 35.6, testNow.Add(-48*time.Hour))
	require.NoError(t, store.CreateEvent(context.Background(), flood))
	svc := newService(t, store, nil, scoring.DefaultPolicy())

	res, err := svc.ScoreProposal(context.Background(), lodwarProposal())
	require.NoError(t, err)

	assert.Equal(t, domain.RecommendProceed, res.Recommendation)
	assert.Equal(t, scoring.FactorClimateDataSupport, res.WeakestFactor)
	assert.Empty(t, res.MissingCategories)

	assert.InDelta(t, 0.75, factorNamed(t, res.Factors, scoring.FactorEvidenceQuality).Score, 1e-9)
	assert.InDelta(t, 2.05/2.3, factorNamed(t, res.Factors, scoring.FactorCommunityConsensus).Score, 1e-9)
	climate := factorNamed(t, res.Factors, scoring.FactorClimateDataSupport)
	assert.InDelta(t, 1.0, climate.Score, 1e-9)
	assert.Equal(t, "3 relevant verified events", climate.Detail)
}

func TestScoreProposal_RegionOnlyTarget(t *testing.T) {
	tests := []struct {
		name     string
		geocoder domain.Geocoder
		want     string
	}{
		{
			name: "no geocoder falls back to region listing",
			want: "3 relevant verified events",
		},
		{
			name:     "geocoded point far from the events",
			geocoder: &stubGeocoder{place: domain.Place{Point: domain.GeoPoint{Lat: -1.2921, Lon: 36.8219}, FormattedAddress: "Nairobi, Kenya"}},
			want:     "0 relevant verified events",
		},
		{
			name:     "geocoder with no result falls back to region listing",
			geocoder: &stubGeocoder{},
			want:     "3 relevant verified events",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			seedDroughts(t, store, 3)
			svc := newService(t, store, tt.geocoder, scoring.DefaultPolicy())

			p := lodwarProposal()
			p.Target = domain.TargetLocation{Region: "  turkana "}
			res, err := svc.ScoreProposal(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, factorNamed(t, res.Factors, scoring.FactorClimateDataSupport).Detail)
		})
	}
}

func TestScoreProposal_NoStakeholders(t *testing.T) {
	svc := newService(t, memstore.New(), nil, scoring.DefaultPolicy())

	p := lodwarProposal()
	p.Stakeholders = nil
	_, err := svc.ScoreProposal(context.Background(), p)
	require.ErrorIs(t, err, domain.ErrInsufficientStakeholders)
}

func TestScoreProposal_InvalidTarget(t *testing.T) {
	tests := []struct {
		name  string
		point domain.GeoPoint
	}{
		{"latitude out of range", domain.GeoPoint{Lat: 123.4, Lon: 35.6}},
		{"longitude out of range", domain.GeoPoint{Lat: 3.1, Lon: -190}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			seedDroughts(t, store, 3)
			svc := newService(t, store, nil, scoring.DefaultPolicy())

			p := lodwarProposal()
			p.Target.Point = &tt.point
			_, err := svc.ScoreProposal(context.Background(), p)
			require.ErrorIs(t, err, domain.ErrInvalidCoordinates)
		})
	}
}

func regionEvent(id, region string, impact float64, age time.Duration, status domain.VerificationStatus) domain.Event {
	e := storetest.Event(id, domain.EventDrought, 3.1, 35.6, testNow.Add(-age))
	e.Location.Region = region
	e.EconomicImpact = floatPtr(impact)
	e.Status = status
	if status != domain.StatusVerified {
		e.Corroboration = nil
	}
	return e
}

func seedAllocationEvents(t *testing.T, store domain.EvidenceStore) {
	t.Helper()
	day := 24 * time.Hour
	for _, e := range []domain.Event{
		regionEvent("t1", "Turkana", 200000, 5*day, domain.StatusVerified),
		regionEvent("t2", "turkana ", 100000, 10*day, domain.StatusVerified),
		regionEvent("m1", "Marsabit", 50000, 20*day, domain.StatusVerified),
		regionEvent("old", "Turkana", 900000, 200*day, domain.StatusVerified),
		regionEvent("pending", "Marsabit", 900000, 2*day, domain.StatusPending),
		regionEvent("nowhere", "", 900000, 2*day, domain.StatusVerified),
	} {
		require.NoError(t, store.CreateEvent(context.Background(), e))
	}
}

func TestRegionSignals(t *testing.T) {
	policy := scoring.DefaultPolicy()
	policy.Allocation.Vulnerability = map[string]float64{"MARSABIT": 0.9}
	svc := newService(t, memstore.New(), nil, policy)

	events := []domain.Event{
		regionEvent("t1", "Turkana", 200000, 0, domain.StatusVerified),
		regionEvent("t2", "turkana ", 100000, 0, domain.StatusVerified),
		regionEvent("m1", "Marsabit", 50000, 0, domain.StatusVerified),
		regionEvent("nowhere", "", 1, 0, domain.StatusVerified),
	}
	assert.Equal(t, []domain.RegionSignal{
		{Region: "Marsabit", EventCount: 1, EconomicImpact: 50000, Vulnerability: 0.9},
		{Region: "Turkana", EventCount: 2, EconomicImpact: 300000, Vulnerability: 0.5},
	}, svc.RegionSignals(events))
}

func TestPlanAllocation(t *testing.T) {
	store := memstore.New()
	seedAllocationEvents(t, store)
	svc := newService(t, store, nil, scoring.DefaultPolicy())

	budget := domain.Budget{Funding: 1000000, Personnel: 40, Equipment: 12}
	plan, err := svc.PlanAllocation(context.Background(), budget, time.Time{})
	require.NoError(t, err)

	require.Len(t, plan.Regions, 2)
	var funding, personnel, equipment float64
	for _, r := range plan.Regions {
		funding += r.Allocated.Funding
		personnel += r.Allocated.Personnel
		equipment += r.Allocated.Equipment
	}
	assert.InDelta(t, budget.Funding, funding, 1e-6)
	assert.InDelta(t, budget.Personnel, personnel, 1e-9)
	assert.InDelta(t, budget.Equipment, equipment, 1e-9)

	turkana, ok := plan.Region("Turkana")
	require.True(t, ok)
	marsabit, ok := plan.Region("Marsabit")
	require.True(t, ok)
	assert.InDelta(t, 450000.0, turkana.Allocated.Funding, 1e-6)
	assert.Contains(t, turkana.Capped, scoring.DimensionFunding)
	assert.InDelta(t, 550000.0, marsabit.Allocated.Funding, 1e-6)
	assert.Equal(t, domain.TierHigh, turkana.Tier)
	assert.Equal(t, domain.TierMedium, marsabit.Tier)
}

func TestPlanAllocation_Since(t *testing.T) {
	store := memstore.New()
	seedAllocationEvents(t, store)
	svc := newService(t, store, nil, scoring.DefaultPolicy())

	plan, err := svc.PlanAllocation(context.Background(), domain.Budget{Funding: 100}, testNow.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, plan.Regions, 1)
	assert.Equal(t, "Turkana", plan.Regions[0].Region)
	assert.InDelta(t, 100.0, plan.Regions[0].Allocated.Funding, 1e-9)

	_, err = svc.PlanAllocation(context.Background(), domain.Budget{Funding: 100}, testNow.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrNoCandidateRegions)

	_, err = svc.PlanAllocation(context.Background(), domain.Budget{Funding: -1}, time.Time{})
	require.ErrorIs(t, err, domain.ErrInvalidBudget)
}

func TestStats(t *testing.T) {
	store := memstore.New()
	svc := newService(t, store, nil, scoring.DefaultPolicy())

	empty, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.VerificationRate)

	seedAllocationEvents(t, store)
	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, verify.Stats{
		Total:            6,
		ByStatus:         map[domain.VerificationStatus]int{domain.StatusVerified: 5, domain.StatusPending: 1},
		ByType:           map[domain.EventType]int{domain.EventDrought: 6},
		VerificationRate: 5.0 / 6.0,
	}, st)
}
