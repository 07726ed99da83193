package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/scoring"
)

// ScoreProposal resolves a proposal's evidence against the store and scores it.
func (s *Service) ScoreProposal(ctx context.Context, p domain.PolicyProposal) (scoring.DecisionResult, error) {
	if p.Target.Point != nil {
		if err := p.Target.Point.Validate(); err != nil {
			return scoring.DecisionResult{}, fmt.Errorf("score proposal %s: target: %w", p.ID, err)
		}
	}

	view := scoring.EvidenceView{
		Events: make(map[string]domain.Event, len(p.EvidenceRefs)),
		Users:  make(map[string]domain.User),
	}

	for _, ref := range p.EvidenceRefs {
		if _, seen := view.Events[ref]; seen {
			continue
		}
		e, err := s.store.GetEvent(ctx, ref)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return scoring.DecisionResult{}, fmt.Errorf("score proposal %s: resolve %s: %w", p.ID, ref, err)
		}
		view.Events[ref] = e
	}

	for _, sh := range p.Stakeholders {
		if sh.UserID == "" {
			continue
		}
		u, err := s.lookupUser(ctx, sh.UserID)
		if err != nil {
			return scoring.DecisionResult{}, fmt.Errorf("score proposal %s: %w", p.ID, err)
		}
		if u != nil {
			view.Users[u.ID] = *u
		}
	}

	relevant, err := s.relevantEvents(ctx, p)
	if err != nil {
		return scoring.DecisionResult{}, fmt.Errorf("score proposal %s: %w", p.ID, err)
	}
	view.RelevantEvents = relevant

	result, err := scoring.ScoreDecision(p, view, s.policy.Decision)
	if err != nil {
		return scoring.DecisionResult{}, err
	}
	s.metrics.ProposalsScored.WithLabelValues(string(result.Recommendation)).Inc()
	return result, nil
}

// relevantEvents counts verified events supporting a proposal: within the
// correlation radius of its target when that can be located, otherwise
// anywhere in its named region.
func (s *Service) relevantEvents(ctx context.Context, p domain.PolicyProposal) (int, error) {
	now := s.clock.Now().UTC()
	since := now.Add(-s.policy.Decision.ClimateLookback)

	if point, ok := domain.ResolveTarget(ctx, p.Target, s.geocoder, s.logger); ok {
		hits, err := s.store.FindNearbyEvents(ctx, domain.NearbyQuery{
			Point:    point,
			RadiusKm: s.correlator.Config().RadiusKm,
			Window:   domain.TimeWindow{From: since, To: now},
			Type:     p.EventType,
		})
		if err != nil {
			return 0, err
		}
		return len(hits), nil
	}

	if p.Target.Region == "" {
		return 0, nil
	}
	events, err := s.store.ListEvents(ctx, domain.EventFilter{
		Region: p.Target.Region,
		Type:   p.EventType,
		Status: domain.StatusVerified,
		Since:  since,
	})
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// PlanAllocation distributes budget across the regions with verified events
// since the given time. A zero since uses the allocation lookback.
func (s *Service) PlanAllocation(ctx context.Context, budget domain.Budget, since time.Time) (domain.AllocationPlan, error) {
	if since.IsZero() {
		since = s.clock.Now().UTC().Add(-s.policy.Allocation.Lookback)
	}
	events, err := s.store.ListEvents(ctx, domain.EventFilter{Status: domain.StatusVerified, Since: since})
	if err != nil {
		return domain.AllocationPlan{}, fmt.Errorf("plan allocation: %w", err)
	}

	plan, err := scoring.AllocateResources(budget, s.RegionSignals(events), s.policy.Allocation)
	if err != nil {
		return domain.AllocationPlan{}, err
	}
	s.metrics.AllocationPlans.Inc()
	s.logger.Info("allocation planned", "regions", len(plan.Regions), "coverage", plan.Coverage)
	return plan, nil
}

// RegionSignals aggregates events into per-region allocation signals. Events
// are grouped by normalized region name and reported under the first spelling
// seen; events without a region are skipped.
func (s *Service) RegionSignals(events []domain.Event) []domain.RegionSignal {
	vulnerability := make(map[string]float64, len(s.policy.Allocation.Vulnerability))
	for region, v := range s.policy.Allocation.Vulnerability {
		vulnerability[domain.RegionKey(region)] = v
	}

	byKey := make(map[string]*domain.RegionSignal)
	var keys []string
	for _, e := range events {
		key := domain.RegionKey(e.Location.Region)
		if key == "" {
			continue
		}
		sig, ok := byKey[key]
		if !ok {
			v, known := vulnerability[key]
			if !known {
				v = s.policy.Allocation.DefaultVulnerability
			}
			sig = &domain.RegionSignal{Region: e.Location.Region, Vulnerability: v}
			byKey[key] = sig
			keys = append(keys, key)
		}
		sig.EventCount++
		if e.EconomicImpact != nil && *e.EconomicImpact > 0 {
			sig.EconomicImpact += *e.EconomicImpact
		}
	}

	sort.Strings(keys)
	out := make([]domain.RegionSignal, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byKey[k])
	}
	return out
}
