package domain

import (
	"context"
	"time"
)

// EventType is the kind of climate event a report describes.
type EventType string

const (
	EventDrought       EventType = "drought"
	EventFlood         EventType = "flood"
	EventLocustSwarm   EventType = "locust_swarm"
	EventExtremeHeat   EventType = "extreme_heat"
	EventHeavyRainfall EventType = "heavy_rainfall"
	EventCropFailure   EventType = "crop_failure"
)

// VerificationStatus tracks where an event is in the verification lifecycle.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusRejected VerificationStatus = "rejected"
)

// Severity is the reporter's (or reviewer's) estimate of impact.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
	SeveritySevere Severity = "severe"
)

// CorroborationKind names the evidence that justified marking an event verified.
type CorroborationKind string

const (
	CorroborationGPSMatch        CorroborationKind = "gps_match"
	CorroborationTrustThreshold  CorroborationKind = "trust_threshold"
	CorroborationCommunityReview CorroborationKind = "community_consensus"
)

// Corroboration records one piece of supporting evidence captured at verification time.
type Corroboration struct {
	Kind       CorroborationKind `json:"kind"`
	Detail     string            `json:"detail,omitempty"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// GeoPoint is a WGS-84 latitude/longitude pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location holds the coordinates of an event and the textual region it belongs to.
type Location struct {
	Point  GeoPoint `json:"point"`
	Region string   `json:"region,omitempty"`
}

// Event is a climate event held in the evidence store.
type Event struct {
	ID             string             `json:"id"`
	Type           EventType          `json:"type"`
	Location       Location           `json:"location"`
	OccurredAt     time.Time          `json:"occurred_at"`
	SubmitterID    string             `json:"submitter_id"`
	Status         VerificationStatus `json:"status"`
	Severity       Severity           `json:"severity,omitempty"`
	EconomicImpact *float64           `json:"economic_impact,omitempty"`
	EvidenceLinks  []string           `json:"evidence_links,omitempty"`
	Description    string             `json:"description,omitempty"`
	Corroboration  []Corroboration    `json:"corroboration,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// User is a community reporter. TrustScore stays within [0,100].
type User struct {
	ID                string    `json:"id"`
	TrustScore        float64   `json:"trust_score"`
	VerificationCount int       `json:"verification_count"`
	Region            string    `json:"region,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EvidenceBundle is a single submission attempt: capture metadata plus the claim.
// It is only persisted when the submission becomes an Event.
type EvidenceBundle struct {
	SubmissionID    string     `json:"submission_id"`
	SubmitterID     string     `json:"submitter_id"`
	ClaimedType     EventType  `json:"claimed_type"`
	Description     string     `json:"description,omitempty"`
	Point           *GeoPoint  `json:"gps,omitempty"`
	Region          string     `json:"region,omitempty"`
	CapturedAt      *time.Time `json:"captured_at,omitempty"`
	DeviceSignature string     `json:"device_signature,omitempty"`
	Severity        Severity   `json:"severity,omitempty"`
	EconomicImpact  *float64   `json:"economic_impact,omitempty"`
	EvidenceLinks   []string   `json:"evidence_links,omitempty"`
}

// RawSubmission is an unprocessed message from the submissions topic.
type RawSubmission struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Factor is one itemized term of a weighted score.
type Factor struct {
	Name         string  `json:"name"`
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Detail       string  `json:"detail,omitempty"`
}

// Verification is the outcome of running a submission through the verifier.
type Verification struct {
	SubmissionID string             `json:"submission_id"`
	SubmitterID  string             `json:"submitter_id"`
	EventID      string             `json:"event_id,omitempty"`
	EventType    EventType          `json:"event_type"`
	Score        float64            `json:"score"`
	Decision     string             `json:"decision"`
	Status       VerificationStatus `json:"status,omitempty"`
	Factors      []Factor           `json:"factors"`
	Explanation  string             `json:"explanation"`
	TrustBefore  float64            `json:"trust_before"`
	TrustAfter   float64            `json:"trust_after"`
	MatchCount   int                `json:"match_count"`
	Duplicate    bool               `json:"duplicate,omitempty"`
	ProcessedAt  time.Time          `json:"processed_at"`
}

// contradictions lists claim pairs that cannot both hold in the same place and window.
var contradictions = map[EventType][]EventType{
	EventDrought:       {EventFlood, EventHeavyRainfall},
	EventFlood:         {EventDrought},
	EventHeavyRainfall: {EventDrought},
}

// Contradicts reports whether events of types a and b are incompatible.
func Contradicts(a, b EventType) bool {
	for _, t := range contradictions[a] {
		if t == b {
			return true
		}
	}
	return false
}
