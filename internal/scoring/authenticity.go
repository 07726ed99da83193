package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/climate-witness/internal/correlate"
	"github.com/couchcryptid/climate-witness/internal/domain"
)

// Authenticity factor names.
const (
	FactorMetadataIntegrity  = "metadata_integrity"
	FactorSourceCredibility  = "source_credibility"
	FactorCorrelatedEvidence = "correlated_evidence"
)

// Decision is the verdict on a single submission.
type Decision string

const (
	DecisionAuthentic   Decision = "authentic"
	DecisionNeedsReview Decision = "needs_review"
	DecisionRejected    Decision = "rejected"
)

// Submitter is what the scorer knows about the reporter.
type Submitter struct {
	TrustScore    float64
	VerifiedCount int
}

// AuthenticityInput is everything needed to score one submission.
// A nil Submitter is scored at the policy's default trust.
type AuthenticityInput struct {
	Bundle    domain.EvidenceBundle
	Submitter *Submitter
	Evidence  correlate.Correlation
	Now       time.Time
}

// AuthenticityResult is the scored verdict with its breakdown.
type AuthenticityResult struct {
	Score         float64
	Decision      Decision
	Factors       []domain.Factor
	Explanation   string
	Agreeing      int
	Contradicting int
}

// ScoreAuthenticity combines metadata integrity, source credibility and
// correlated evidence into a score in [0,1] and classifies it.
func ScoreAuthenticity(in AuthenticityInput, p AuthenticityPolicy) (AuthenticityResult, error) {
	if in.Bundle.Point == nil {
		return AuthenticityResult{}, fmt.Errorf("score authenticity: %w: no location", domain.ErrIncompleteEvidence)
	}

	meta, metaDetail := metadataIntegrity(in.Bundle, in.Now, p)
	cred, credDetail := sourceCredibility(in.Submitter, p)
	corr, agree, contra := correlatedEvidence(in.Bundle.ClaimedType, in.Evidence, p)

	corrDetail := fmt.Sprintf("%d matches, %d agreeing, %d contradicting", len(in.Evidence.Matches), agree, contra)
	if !in.Evidence.TimeMatched {
		corrDetail += ", no timestamp"
	}

	factors := []domain.Factor{
		factor(FactorMetadataIntegrity, meta, p.Weights.MetadataIntegrity, metaDetail),
		factor(FactorSourceCredibility, cred, p.Weights.SourceCredibility, credDetail),
		factor(FactorCorrelatedEvidence, corr, p.Weights.CorrelatedEvidence, corrDetail),
	}
	score := weightedSum(factors)
	decision := Classify(score, p.Thresholds)

	return AuthenticityResult{
		Score:         score,
		Decision:      decision,
		Factors:       factors,
		Explanation:   explain(string(decision), score, factors),
		Agreeing:      agree,
		Contradicting: contra,
	}, nil
}

// Classify maps a score to a decision. The thresholds partition [0,1].
func Classify(score float64, t AuthenticityThresholds) Decision {
	switch {
	case score >= t.Authentic:
		return DecisionAuthentic
	case score >= t.NeedsReview:
		return DecisionNeedsReview
	default:
		return DecisionRejected
	}
}

func metadataIntegrity(b domain.EvidenceBundle, now time.Time, p AuthenticityPolicy) (float64, string) {
	var failed []string

	if b.Point == nil || b.Point.Validate() != nil {
		failed = append(failed, "gps")
	}

	switch {
	case b.CapturedAt == nil || b.CapturedAt.IsZero():
		failed = append(failed, "timestamp missing")
	case b.CapturedAt.After(now.Add(p.MaxClockSkew)):
		failed = append(failed, "timestamp in future")
	case b.CapturedAt.Before(now.Add(-p.MaxCaptureAge)):
		failed = append(failed, "timestamp too old")
	}

	if strings.TrimSpace(b.DeviceSignature) == "" {
		failed = append(failed, "device signature missing")
	}

	score := 1 - float64(len(failed))/3
	if len(failed) == 0 {
		return score, "all checks passed"
	}
	return score, "failed: " + strings.Join(failed, ", ")
}

func sourceCredibility(s *Submitter, p AuthenticityPolicy) (float64, string) {
	trust := p.DefaultTrust
	verified := 0
	if s != nil {
		trust = s.TrustScore
		verified = s.VerifiedCount
	}
	trust = ClampTrust(trust)

	score := trust / MaxTrust
	detail := fmt.Sprintf("trust %.1f", trust)
	if s == nil {
		detail += " (unknown submitter)"
	}
	if verified > p.ExperiencedAfter {
		score = clamp01(score + p.ExperienceBonus)
		detail += fmt.Sprintf(", %d verified reports", verified)
	}
	return score, detail
}

// correlatedEvidence rewards agreeing matches, saturating at MatchSaturation,
// and subtracts a penalty per contradicting match. Contradictions can only
// lower the result.
func correlatedEvidence(claimed domain.EventType, c correlate.Correlation, p AuthenticityPolicy) (score float64, agree, contra int) {
	n := len(c.Matches)
	if n == 0 {
		return 0, 0, 0
	}
	for _, m := range c.Matches {
		switch {
		case m.Event.Type == claimed:
			agree++
		case domain.Contradicts(claimed, m.Event.Type):
			contra++
		}
	}

	saturation := p.MatchSaturation
	if saturation < 1 {
		saturation = 1
	}
	seen := min(n, saturation)

	score = float64(agree)/float64(n)*float64(seen)/float64(saturation) -
		p.ContradictionPenalty*float64(contra)/float64(n)
	if score < 0 {
		score = 0
	}
	if !c.TimeMatched {
		score *= p.NoTimestampPenalty
	}
	return clamp01(score), agree, contra
}
