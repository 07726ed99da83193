package scoring

import "math"

// Trust score bounds.
const (
	MinTrust = 0.0
	MaxTrust = 100.0
)

// Trust adjustments per outcome.
const (
	AuthenticReward = 5.0
	FraudPenalty    = 15.0
	ReviewReward    = 2.0
)

// Outcome is what happened to a submission, as far as its author's trust is concerned.
type Outcome string

const (
	OutcomeAuthentic       Outcome = "authentic"
	OutcomeFraudulent      Outcome = "fraudulent"
	OutcomeReviewConfirmed Outcome = "review_confirmed"
	OutcomeReviewPending   Outcome = "review_pending"
)

// UpdateTrust returns the trust score after outcome. The input is clamped
// first and the result always stays within [MinTrust, MaxTrust].
func UpdateTrust(score float64, outcome Outcome) float64 {
	s := ClampTrust(score)
	switch outcome {
	case OutcomeAuthentic:
		s += math.Min(AuthenticReward, MaxTrust-s)
	case OutcomeFraudulent:
		s -= math.Min(FraudPenalty, s)
	case OutcomeReviewConfirmed:
		s += math.Min(ReviewReward, MaxTrust-s)
	}
	return ClampTrust(s)
}

// ClampTrust bounds a trust score. NaN clamps to MinTrust.
func ClampTrust(score float64) float64 {
	switch {
	case math.IsNaN(score) || score < MinTrust:
		return MinTrust
	case score > MaxTrust:
		return MaxTrust
	default:
		return score
	}
}

// Standing is a reporter's privilege level derived from trust.
type Standing string

const (
	StandingTrusted   Standing = "trusted"
	StandingActive    Standing = "active"
	StandingWarned    Standing = "warned"
	StandingSuspended Standing = "suspended"
)

// StandingFor classifies a trust score.
func StandingFor(score float64) Standing {
	s := ClampTrust(score)
	switch {
	case s >= 80:
		return StandingTrusted
	case s >= 30:
		return StandingActive
	case s >= 10:
		return StandingWarned
	default:
		return StandingSuspended
	}
}

// CanSubmit reports whether a reporter in this standing may submit evidence.
func (s Standing) CanSubmit() bool {
	return s != StandingSuspended
}
