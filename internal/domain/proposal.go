package domain

import (
	"fmt"
	"strings"
)

// StakeholderCategory groups stakeholders for representation coverage.
type StakeholderCategory string

const (
	CategoryGovernment        StakeholderCategory = "government"
	CategoryAffectedCommunity StakeholderCategory = "affected_community"
	CategoryTechnicalExpert   StakeholderCategory = "technical_expert"
	CategoryCivilSociety      StakeholderCategory = "civil_society"
)

// ParseStakeholderCategory accepts "affected-community", "Civil Society" etc.
func ParseStakeholderCategory(value string) StakeholderCategory {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	return StakeholderCategory(key)
}

// Position is a stakeholder's stated stance on a proposal.
type Position string

const (
	PositionSupport Position = "support"
	PositionNeutral Position = "neutral"
	PositionOppose  Position = "oppose"
)

// Stakeholder is a participant in a policy decision. UserID links the
// stakeholder to a known reporter so their trust score can weight their position.
type Stakeholder struct {
	Name     string              `json:"name" yaml:"name"`
	Category StakeholderCategory `json:"category" yaml:"category"`
	Position Position            `json:"position" yaml:"position"`
	Priority string              `json:"priority,omitempty" yaml:"priority,omitempty"`
	UserID   string              `json:"user_id,omitempty" yaml:"user_id,omitempty"`
}

// ProposalState is the lifecycle state of a policy proposal.
type ProposalState string

const (
	ProposalProposed    ProposalState = "proposed"
	ProposalUnderReview ProposalState = "under_review"
	ProposalApproved    ProposalState = "approved"
	ProposalRejected    ProposalState = "rejected"
)

// TargetLocation is where a proposal applies. Point is optional; a region-only
// target may be resolved by forward geocoding.
type TargetLocation struct {
	Region string    `json:"region" yaml:"region"`
	Point  *GeoPoint `json:"point,omitempty" yaml:"point,omitempty"`
}

// PolicyProposal is a climate policy put to a democratic decision.
type PolicyProposal struct {
	ID           string         `json:"id" yaml:"id"`
	Issue        string         `json:"issue" yaml:"issue"`
	Target       TargetLocation `json:"target" yaml:"target"`
	EventType    EventType      `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	Stakeholders []Stakeholder  `json:"stakeholders" yaml:"stakeholders"`
	EvidenceRefs []string       `json:"evidence_refs" yaml:"evidence_refs"`
	State        ProposalState  `json:"state" yaml:"state"`
}

// Recommendation is the decision scorer's verdict on a proposal.
type Recommendation string

const (
	RecommendProceed Recommendation = "proceed"
	RecommendHold    Recommendation = "hold"
	RecommendReject  Recommendation = "reject"
)

// Advance applies a recommendation to the proposal lifecycle:
// proceed approves, reject rejects, hold keeps it under review.
// Approved and rejected proposals are terminal.
func (p PolicyProposal) Advance(rec Recommendation) (PolicyProposal, error) {
	state := p.State
	if state == "" {
		state = ProposalProposed
	}
	if state == ProposalApproved || state == ProposalRejected {
		return p, fmt.Errorf("%w: proposal %s is already %s", ErrInvalidTransition, p.ID, state)
	}

	switch rec {
	case RecommendProceed:
		p.State = ProposalApproved
	case RecommendReject:
		p.State = ProposalRejected
	case RecommendHold:
		p.State = ProposalUnderReview
	default:
		return p, fmt.Errorf("%w: unknown recommendation %q", ErrInvalidTransition, rec)
	}
	return p, nil
}
