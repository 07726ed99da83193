package verify

import (
	"context"
	"fmt"

	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/scoring"
)

// ReviewOutcome is the community's finding on a pending event.
type ReviewOutcome string

const (
	ReviewConfirmed  ReviewOutcome = "confirmed"
	ReviewFraudulent ReviewOutcome = "fraudulent"
)

// ResolveReview settles a pending event. A confirmed event becomes verified
// with community consensus as its corroboration and the reporter earns trust;
// a fraudulent one is rejected and the reporter is penalized. The status
// change and the trust change commit together.
func (s *Service) ResolveReview(ctx context.Context, eventID string, outcome ReviewOutcome, reviewer string) (domain.Event, error) {
	now := s.clock.Now().UTC()

	var (
		to       domain.VerificationStatus
		trust    scoring.Outcome
		evidence []domain.Corroboration
	)
	switch outcome {
	case ReviewConfirmed:
		to, trust = domain.StatusVerified, scoring.OutcomeReviewConfirmed
		evidence = []domain.Corroboration{{
			Kind:       domain.CorroborationCommunityReview,
			Detail:     "confirmed by " + reviewer,
			RecordedAt: now,
		}}
	case ReviewFraudulent:
		to, trust = domain.StatusRejected, scoring.OutcomeFraudulent
	default:
		return domain.Event{}, fmt.Errorf("resolve review of %s: %w: unknown outcome %q", eventID, domain.ErrInvalidTransition, outcome)
	}

	event, user, err := s.store.SettleEvent(ctx, eventID, domain.StatusPending, to, evidence, now, s.trustChange("", trust, now))
	if err != nil {
		return domain.Event{}, fmt.Errorf("resolve review of %s: %w", eventID, err)
	}
	s.metrics.TrustUpdates.WithLabelValues(string(trust)).Inc()

	s.logger.Info("review resolved",
		"event_id", eventID,
		"outcome", string(outcome),
		"reviewer", reviewer,
		"submitter_id", event.SubmitterID,
		"trust_after", user.TrustScore,
	)
	return event, nil
}
