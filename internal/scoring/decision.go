package scoring

import (
	"fmt"
	"sort"

	"github.com/couchcryptid/climate-witness/internal/domain"
)

// Decision factor names.
const (
	FactorEvidenceQuality           = "evidence_quality"
	FactorStakeholderRepresentation = "stakeholder_representation"
	FactorCommunityConsensus        = "community_consensus"
	FactorClimateDataSupport        = "climate_data_support"
)

// EvidenceView is the slice of the evidence store a proposal is judged against.
// Events holds whatever the proposal's evidence refs resolved to; refs missing
// from the map are treated as unresolved. RelevantEvents counts verified events
// of the proposal's type in its target area.
type EvidenceView struct {
	Events         map[string]domain.Event
	Users          map[string]domain.User
	RelevantEvents int
}

// DecisionResult is the scored recommendation for a proposal.
type DecisionResult struct {
	Confidence        float64
	Recommendation    domain.Recommendation
	Factors           []domain.Factor
	WeakestFactor     string
	MissingCategories []domain.StakeholderCategory
	Explanation       string
}

// ScoreDecision weighs evidence quality, stakeholder representation, community
// consensus and climate data support into a recommendation.
func ScoreDecision(p domain.PolicyProposal, view EvidenceView, pol DecisionPolicy) (DecisionResult, error) {
	if len(p.Stakeholders) == 0 {
		return DecisionResult{}, fmt.Errorf("score proposal %s: %w", p.ID, domain.ErrInsufficientStakeholders)
	}

	eq, eqDetail := evidenceQuality(p.EvidenceRefs, view.Events)
	rep, missing := representation(p.Stakeholders, pol.RequiredCategories)
	cons, consDetail := consensus(p.Stakeholders, view.Users, pol.UnlinkedWeight)

	saturation := max(pol.ClimateSaturation, 1)
	climate := float64(min(view.RelevantEvents, saturation)) / float64(saturation)

	repDetail := fmt.Sprintf("%d of %d categories", len(pol.RequiredCategories)-len(missing), len(pol.RequiredCategories))
	factors := []domain.Factor{
		factor(FactorEvidenceQuality, eq, pol.Weights.EvidenceQuality, eqDetail),
		factor(FactorStakeholderRepresentation, rep, pol.Weights.StakeholderRepresentation, repDetail),
		factor(FactorCommunityConsensus, cons, pol.Weights.CommunityConsensus, consDetail),
		factor(FactorClimateDataSupport, climate, pol.Weights.ClimateDataSupport,
			fmt.Sprintf("%d relevant verified events", view.RelevantEvents)),
	}
	confidence := weightedSum(factors)
	rec := Recommend(confidence, pol.Thresholds)

	return DecisionResult{
		Confidence:        confidence,
		Recommendation:    rec,
		Factors:           factors,
		WeakestFactor:     weakest(factors),
		MissingCategories: missing,
		Explanation:       explain(string(rec), confidence, factors),
	}, nil
}

// Recommend maps a confidence to a recommendation.
func Recommend(confidence float64, t DecisionThresholds) domain.Recommendation {
	switch {
	case confidence >= t.Proceed:
		return domain.RecommendProceed
	case confidence >= t.Hold:
		return domain.RecommendHold
	default:
		return domain.RecommendReject
	}
}

func evidenceQuality(refs []string, events map[string]domain.Event) (float64, string) {
	seen := make(map[string]struct{}, len(refs))
	verified := 0
	for _, ref := range refs {
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		if e, ok := events[ref]; ok && e.Status == domain.StatusVerified {
			verified++
		}
	}
	if len(seen) == 0 {
		return 0, "no evidence cited"
	}
	return float64(verified) / float64(len(seen)), fmt.Sprintf("%d of %d refs verified", verified, len(seen))
}

func representation(stakeholders []domain.Stakeholder, required []domain.StakeholderCategory) (float64, []domain.StakeholderCategory) {
	if len(required) == 0 {
		return 1, nil
	}
	present := make(map[domain.StakeholderCategory]bool, len(stakeholders))
	for _, s := range stakeholders {
		present[domain.ParseStakeholderCategory(string(s.Category))] = true
	}
	var missing []domain.StakeholderCategory
	for _, c := range required {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	return float64(len(required)-len(missing)) / float64(len(required)), missing
}

func positionValue(p domain.Position) float64 {
	switch p {
	case domain.PositionSupport:
		return 1
	case domain.PositionOppose:
		return 0
	default:
		return 0.5
	}
}

// consensus is the trust-weighted mean position. Stakeholders not linked to a
// known user carry unlinkedWeight. If every weight is zero the plain mean is used.
func consensus(stakeholders []domain.Stakeholder, users map[string]domain.User, unlinkedWeight float64) (float64, string) {
	var sum, weights, plain float64
	linked := 0
	for _, s := range stakeholders {
		w := unlinkedWeight
		if u, ok := users[s.UserID]; ok && s.UserID != "" {
			w = ClampTrust(u.TrustScore) / MaxTrust
			linked++
		}
		v := positionValue(s.Position)
		sum += w * v
		weights += w
		plain += v
	}
	detail := fmt.Sprintf("%d stakeholders, %d trust-weighted", len(stakeholders), linked)
	if weights == 0 {
		return plain / float64(len(stakeholders)), detail
	}
	return sum / weights, detail
}

// weakest returns the factor with the lowest contribution, breaking ties by name.
func weakest(factors []domain.Factor) string {
	if len(factors) == 0 {
		return ""
	}
	sorted := append([]domain.Factor(nil), factors...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Contribution != sorted[j].Contribution {
			return sorted[i].Contribution < sorted[j].Contribution
		}
		return sorted[i].Name < sorted[j].Name
	})
	return sorted[0].Name
}
