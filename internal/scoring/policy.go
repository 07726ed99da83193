package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/climate-witness/internal/correlate"
	"github.com/couchcryptid/climate-witness/internal/domain"
	"gopkg.in/yaml.v3"
)

const weightTolerance = 1e-6

// Policy holds every tunable weight and threshold used by the scorers.
type Policy struct {
	Correlation  correlate.Config   `yaml:"correlation"`
	Authenticity AuthenticityPolicy `yaml:"authenticity"`
	Decision     DecisionPolicy     `yaml:"decision"`
	Allocation   AllocationPolicy   `yaml:"allocation"`
}

// AuthenticityWeights must sum to 1.
type AuthenticityWeights struct {
	MetadataIntegrity  float64 `yaml:"metadata_integrity"`
	SourceCredibility  float64 `yaml:"source_credibility"`
	CorrelatedEvidence float64 `yaml:"correlated_evidence"`
}

// AuthenticityThresholds partitions [0,1]: score >= Authentic is authentic,
// score >= NeedsReview needs review, anything lower is rejected.
type AuthenticityThresholds struct {
	Authentic   float64 `yaml:"authentic"`
	NeedsReview float64 `yaml:"needs_review"`
}

type AuthenticityPolicy struct {
	Weights              AuthenticityWeights    `yaml:"weights"`
	Thresholds           AuthenticityThresholds `yaml:"thresholds"`
	MaxClockSkew         time.Duration          `yaml:"max_clock_skew"`
	MaxCaptureAge        time.Duration          `yaml:"max_capture_age"`
	DefaultTrust         float64                `yaml:"default_trust"`
	ExperiencedAfter     int                    `yaml:"experienced_after"`
	ExperienceBonus      float64                `yaml:"experience_bonus"`
	MatchSaturation      int                    `yaml:"match_saturation"`
	ContradictionPenalty float64                `yaml:"contradiction_penalty"`
	NoTimestampPenalty   float64                `yaml:"no_timestamp_penalty"`
	// CorroborationTrust is the submitter trust at which an authentic report
	// is corroborated by reputation alone.
	CorroborationTrust float64 `yaml:"corroboration_trust"`
}

type DecisionWeights struct {
	EvidenceQuality           float64 `yaml:"evidence_quality"`
	StakeholderRepresentation float64 `yaml:"stakeholder_representation"`
	CommunityConsensus        float64 `yaml:"community_consensus"`
	ClimateDataSupport        float64 `yaml:"climate_data_support"`
}

type DecisionThresholds struct {
	Proceed float64 `yaml:"proceed"`
	Hold    float64 `yaml:"hold"`
}

type DecisionPolicy struct {
	Weights            DecisionWeights              `yaml:"weights"`
	Thresholds         DecisionThresholds           `yaml:"thresholds"`
	RequiredCategories []domain.StakeholderCategory `yaml:"required_categories"`
	UnlinkedWeight     float64                      `yaml:"unlinked_weight"`
	ClimateSaturation  int                          `yaml:"climate_saturation"`
	// ClimateLookback bounds how far back relevant events count as support.
	ClimateLookback time.Duration `yaml:"climate_lookback"`
}

type AllocationWeights struct {
	EventCount     float64 `yaml:"event_count"`
	EconomicImpact float64 `yaml:"economic_impact"`
	Vulnerability  float64 `yaml:"vulnerability"`
}

type AllocationPolicy struct {
	Weights              AllocationWeights  `yaml:"weights"`
	CapFraction          float64            `yaml:"cap_fraction"`
	DefaultVulnerability float64            `yaml:"default_vulnerability"`
	Vulnerability        map[string]float64 `yaml:"vulnerability"`
	Lookback             time.Duration      `yaml:"lookback"`
}

// DefaultPolicy returns the built-in weights and thresholds.
func DefaultPolicy() Policy {
	return Policy{
		Correlation: correlate.DefaultConfig(),
		Authenticity: AuthenticityPolicy{
			Weights: AuthenticityWeights{
				MetadataIntegrity:  0.35,
				SourceCredibility:  0.40,
				CorrelatedEvidence: 0.25,
			},
			Thresholds:           AuthenticityThresholds{Authentic: 0.75, NeedsReview: 0.4},
			MaxClockSkew:         5 * time.Minute,
			MaxCaptureAge:        2 * 365 * 24 * time.Hour,
			DefaultTrust:         50,
			ExperiencedAfter:     10,
			ExperienceBonus:      0.05,
			MatchSaturation:      3,
			ContradictionPenalty: 0.5,
			NoTimestampPenalty:   correlate.NoTimestampPenalty,
			CorroborationTrust:   70,
		},
		Decision: DecisionPolicy{
			Weights: DecisionWeights{
				EvidenceQuality:           0.30,
				StakeholderRepresentation: 0.25,
				CommunityConsensus:        0.25,
				ClimateDataSupport:        0.20,
			},
			Thresholds: DecisionThresholds{Proceed: 0.75, Hold: 0.5},
			RequiredCategories: []domain.StakeholderCategory{
				domain.CategoryGovernment,
				domain.CategoryAffectedCommunity,
				domain.CategoryTechnicalExpert,
				domain.CategoryCivilSociety,
			},
			UnlinkedWeight:    0.5,
			ClimateSaturation: 3,
			ClimateLookback:   365 * 24 * time.Hour,
		},
		Allocation: AllocationPolicy{
			Weights:              AllocationWeights{EventCount: 0.4, EconomicImpact: 0.4, Vulnerability: 0.2},
			CapFraction:          0.45,
			DefaultVulnerability: 0.5,
			Lookback:             90 * 24 * time.Hour,
		},
	}
}

// LoadedPolicy is a validated policy plus the digest of the file it came from.
type LoadedPolicy struct {
	Policy Policy
	Hash   string
}

// LoadPolicy reads a YAML policy file over DefaultPolicy. Keys absent from the
// file keep their defaults. An empty path returns the defaults.
func LoadPolicy(path string) (LoadedPolicy, error) {
	p := DefaultPolicy()
	if path == "" {
		return LoadedPolicy{Policy: p, Hash: "builtin"}, nil
	}

	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedPolicy{}, fmt.Errorf("read scoring policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return LoadedPolicy{}, fmt.Errorf("parse scoring policy %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return LoadedPolicy{}, fmt.Errorf("scoring policy %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	return LoadedPolicy{Policy: p, Hash: "sha256:" + hex.EncodeToString(sum[:])}, nil
}

// Validate checks that weights sum to 1 and thresholds are ordered.
func (p Policy) Validate() error {
	var errs []error

	if p.Correlation.RadiusKm <= 0 {
		errs = append(errs, errors.New("correlation.radius_km must be positive"))
	}
	if p.Correlation.Window <= 0 {
		errs = append(errs, errors.New("correlation.window must be positive"))
	}

	a := p.Authenticity
	errs = append(errs, checkWeights("authenticity.weights",
		a.Weights.MetadataIntegrity, a.Weights.SourceCredibility, a.Weights.CorrelatedEvidence))
	if !(0 <= a.Thresholds.NeedsReview && a.Thresholds.NeedsReview < a.Thresholds.Authentic && a.Thresholds.Authentic <= 1) {
		errs = append(errs, fmt.Errorf("authenticity.thresholds must satisfy 0 <= needs_review < authentic <= 1, got %v/%v",
			a.Thresholds.NeedsReview, a.Thresholds.Authentic))
	}
	if a.MaxClockSkew < 0 || a.MaxCaptureAge <= 0 {
		errs = append(errs, errors.New("authenticity.max_clock_skew must be >= 0 and max_capture_age > 0"))
	}
	if a.DefaultTrust < MinTrust || a.DefaultTrust > MaxTrust {
		errs = append(errs, fmt.Errorf("authenticity.default_trust must be within [0,100], got %v", a.DefaultTrust))
	}
	if a.MatchSaturation < 1 {
		errs = append(errs, errors.New("authenticity.match_saturation must be at least 1"))
	}
	if a.NoTimestampPenalty < 0 || a.NoTimestampPenalty > 1 || a.ContradictionPenalty < 0 {
		errs = append(errs, errors.New("authenticity penalties out of range"))
	}

	d := p.Decision
	errs = append(errs, checkWeights("decision.weights",
		d.Weights.EvidenceQuality, d.Weights.StakeholderRepresentation,
		d.Weights.CommunityConsensus, d.Weights.ClimateDataSupport))
	if !(0 <= d.Thresholds.Hold && d.Thresholds.Hold < d.Thresholds.Proceed && d.Thresholds.Proceed <= 1) {
		errs = append(errs, fmt.Errorf("decision.thresholds must satisfy 0 <= hold < proceed <= 1, got %v/%v",
			d.Thresholds.Hold, d.Thresholds.Proceed))
	}
	if len(d.RequiredCategories) == 0 {
		errs = append(errs, errors.New("decision.required_categories must not be empty"))
	}
	if d.ClimateSaturation < 1 {
		errs = append(errs, errors.New("decision.climate_saturation must be at least 1"))
	}

	al := p.Allocation
	errs = append(errs, checkWeights("allocation.weights",
		al.Weights.EventCount, al.Weights.EconomicImpact, al.Weights.Vulnerability))
	if !(al.CapFraction > 0 && al.CapFraction <= 1) {
		errs = append(errs, fmt.Errorf("allocation.cap_fraction must be in (0,1], got %v", al.CapFraction))
	}
	for region, v := range al.Vulnerability {
		if v < 0 || v > 1 || math.IsNaN(v) {
			errs = append(errs, fmt.Errorf("allocation.vulnerability[%s] must be within [0,1], got %v", region, v))
		}
	}

	return errors.Join(errs...)
}

func checkWeights(name string, weights ...float64) error {
	var sum float64
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("%s must be non-negative", name)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%s must sum to 1, got %.6f", name, sum)
	}
	return nil
}
