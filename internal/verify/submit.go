package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/scoring"
)

// VerifySubmission scores a bundle and records the outcome. Authentic
// submissions become verified events and earn trust; submissions needing
// review become pending events; rejected submissions are not stored. The
// event and the trust change are written together. Re-verifying a submission
// that already produced an event reports the stored outcome with Duplicate set.
func (s *Service) VerifySubmission(ctx context.Context, bundle domain.EvidenceBundle) (domain.Verification, error) {
	if v, ok, err := s.recorded(ctx, bundle); err != nil || ok {
		return v, err
	}

	standing, err := s.SubmitterStanding(ctx, bundle.SubmitterID)
	if err != nil {
		return domain.Verification{}, err
	}
	if !standing.CanSubmit() {
		return domain.Verification{}, fmt.Errorf("submission %s from %s: %w", bundle.SubmissionID, bundle.SubmitterID, domain.ErrSubmitterSuspended)
	}

	a, err := s.assess(ctx, bundle)
	if err != nil {
		return domain.Verification{}, err
	}
	now := s.clock.Now().UTC()

	decision := a.result.Decision
	explanation := a.result.Explanation
	evidence := s.corroboration(a, now)
	if decision == scoring.DecisionAuthentic && len(evidence) == 0 {
		decision = scoring.DecisionNeedsReview
		explanation += "; held for review: no corroborating evidence"
	}

	trustBefore := s.policy.Authenticity.DefaultTrust
	if a.submitter != nil {
		trustBefore = a.submitter.TrustScore
	}
	v := domain.Verification{
		SubmissionID: a.bundle.SubmissionID,
		SubmitterID:  a.bundle.SubmitterID,
		EventType:    a.bundle.ClaimedType,
		Score:        a.result.Score,
		Decision:     string(decision),
		Factors:      a.result.Factors,
		Explanation:  explanation,
		TrustBefore:  trustBefore,
		TrustAfter:   trustBefore,
		MatchCount:   len(a.evidence.Matches),
		ProcessedAt:  now,
	}

	if decision == scoring.DecisionRejected {
		s.observe(decision, a.result.Score)
		s.logger.Info("submission rejected",
			"submission_id", v.SubmissionID, "submitter_id", v.SubmitterID, "score", v.Score)
		return v, nil
	}

	status, outcome := domain.StatusPending, scoring.OutcomeReviewPending
	if decision == scoring.DecisionAuthentic {
		status, outcome = domain.StatusVerified, scoring.OutcomeAuthentic
	} else {
		evidence = nil
	}

	event := eventFromBundle(a.bundle, status, evidence, now)
	user, err := s.store.RecordEvent(ctx, event, s.trustChange(a.bundle.Region, outcome, now))
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// A concurrent delivery of the same submission won.
			if dup, ok, lookupErr := s.recorded(ctx, a.bundle); lookupErr != nil || ok {
				return dup, lookupErr
			}
		}
		return domain.Verification{}, fmt.Errorf("record submission %s: %w", v.SubmissionID, err)
	}
	s.observe(decision, a.result.Score)
	s.metrics.TrustUpdates.WithLabelValues(string(outcome)).Inc()

	v.EventID = event.ID
	v.Status = status
	v.TrustAfter = user.TrustScore

	s.logger.Info("submission verified",
		"submission_id", v.SubmissionID,
		"event_id", v.EventID,
		"decision", v.Decision,
		"score", v.Score,
		"trust_after", v.TrustAfter,
	)
	return v, nil
}

func (s *Service) observe(decision scoring.Decision, score float64) {
	s.metrics.Decisions.WithLabelValues(string(decision)).Inc()
	s.metrics.AuthenticityScore.Observe(score)
}

// recorded reports the stored outcome of a submission whose event already
// exists. ok is false for a submission seen for the first time.
func (s *Service) recorded(ctx context.Context, b domain.EvidenceBundle) (domain.Verification, bool, error) {
	if b.SubmitterID == "" || b.SubmissionID == "" {
		return domain.Verification{}, false, nil
	}
	e, err := s.store.GetEvent(ctx, domain.EventIDFor(b.SubmitterID, b.SubmissionID))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Verification{}, false, nil
	}
	if err != nil {
		return domain.Verification{}, false, fmt.Errorf("look up submission %s: %w", b.SubmissionID, err)
	}
	if e.SubmitterID != b.SubmitterID {
		return domain.Verification{}, false, fmt.Errorf("submission %s from %s: %w: event %s was reported by %s",
			b.SubmissionID, b.SubmitterID, domain.ErrSubmissionConflict, e.ID, e.SubmitterID)
	}

	u, err := s.lookupUser(ctx, b.SubmitterID)
	if err != nil {
		return domain.Verification{}, false, err
	}
	trust := s.policy.Authenticity.DefaultTrust
	if u != nil {
		trust = u.TrustScore
	}

	s.logger.Info("submission already recorded",
		"submission_id", b.SubmissionID, "event_id", e.ID, "status", string(e.Status))
	return domain.Verification{
		SubmissionID: b.SubmissionID,
		SubmitterID:  b.SubmitterID,
		EventID:      e.ID,
		EventType:    e.Type,
		Decision:     string(decisionFor(e.Status)),
		Status:       e.Status,
		Explanation:  fmt.Sprintf("already recorded as event %s (%s)", e.ID, e.Status),
		TrustBefore:  trust,
		TrustAfter:   trust,
		Duplicate:    true,
		ProcessedAt:  s.clock.Now().UTC(),
	}, true, nil
}

// decisionFor maps a stored event status back to the decision it stands for.
func decisionFor(status domain.VerificationStatus) scoring.Decision {
	switch status {
	case domain.StatusVerified:
		return scoring.DecisionAuthentic
	case domain.StatusRejected:
		return scoring.DecisionRejected
	default:
		return scoring.DecisionNeedsReview
	}
}

// corroboration lists the evidence that would justify verifying the submission:
// agreeing verified events near its GPS point, and a submitter whose trust
// clears the corroboration threshold.
func (s *Service) corroboration(a assessment, now time.Time) []domain.Corroboration {
	var out []domain.Corroboration
	if a.result.Agreeing > 0 {
		out = append(out, domain.Corroboration{
			Kind: domain.CorroborationGPSMatch,
			Detail: fmt.Sprintf("%d agreeing verified events within %.0f km",
				a.result.Agreeing, s.correlator.Config().RadiusKm),
			RecordedAt: now,
		})
	}
	if a.submitter != nil && a.submitter.TrustScore >= s.policy.Authenticity.CorroborationTrust {
		out = append(out, domain.Corroboration{
			Kind:       domain.CorroborationTrustThreshold,
			Detail:     fmt.Sprintf("submitter trust %.1f", a.submitter.TrustScore),
			RecordedAt: now,
		})
	}
	return out
}

func eventFromBundle(b domain.EvidenceBundle, status domain.VerificationStatus, evidence []domain.Corroboration, now time.Time) domain.Event {
	occurred := now
	if b.CapturedAt != nil && !b.CapturedAt.IsZero() {
		occurred = b.CapturedAt.UTC()
	}
	return domain.Event{
		ID:             domain.EventIDFor(b.SubmitterID, b.SubmissionID),
		Type:           b.ClaimedType,
		Location:       domain.Location{Point: *b.Point, Region: b.Region},
		OccurredAt:     occurred,
		SubmitterID:    b.SubmitterID,
		Status:         status,
		Severity:       b.Severity,
		EconomicImpact: b.EconomicImpact,
		EvidenceLinks:  b.EvidenceLinks,
		Description:    b.Description,
		Corroboration:  evidence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// trustChange moves a reporter's trust score for outcome. A reporter seen for
// the first time starts at the default trust in region.
func (s *Service) trustChange(region string, outcome scoring.Outcome, now time.Time) domain.TrustChange {
	return domain.TrustChange{
		Defaults: domain.User{
			TrustScore: s.policy.Authenticity.DefaultTrust,
			Region:     region,
			UpdatedAt:  now,
		},
		Apply: func(u domain.User) (domain.User, error) {
			u.TrustScore = scoring.UpdateTrust(u.TrustScore, outcome)
			if outcome == scoring.OutcomeAuthentic || outcome == scoring.OutcomeReviewConfirmed {
				u.VerificationCount++
			}
			if u.Region == "" {
				u.Region = region
			}
			u.UpdatedAt = now
			return u, nil
		},
	}
}
