package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// submissionNamespace seeds deterministic IDs so replaying the same submission
// yields the same submission and event IDs.
var submissionNamespace = uuid.MustParse("5b0f1c2e-8d4a-4f7e-9c61-3e2a7d9b4f10")

// submissionRecord is the flat JSON produced by the mobile/web intake service.
type submissionRecord struct {
	SubmissionID    string   `json:"submission_id"`
	SubmitterID     string   `json:"submitter_id"`
	EventType       string   `json:"event_type"`
	Description     string   `json:"description"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
	Region          string   `json:"region"`
	CapturedAt      string   `json:"captured_at"` // RFC 3339, taken from EXIF when available
	DeviceSignature string   `json:"device_signature"`
	Severity        string   `json:"severity"`
	EconomicImpact  *float64 `json:"economic_impact"`
	EvidenceLinks   []string `json:"evidence_links"`
}

// eventTypeAliases maps accepted spellings to canonical event types.
var eventTypeAliases = map[string]EventType{
	"drought":        EventDrought,
	"flood":          EventFlood,
	"flooding":       EventFlood,
	"locust":         EventLocustSwarm,
	"locusts":        EventLocustSwarm,
	"locust_swarm":   EventLocustSwarm,
	"locustswarm":    EventLocustSwarm,
	"extreme_heat":   EventExtremeHeat,
	"extremeheat":    EventExtremeHeat,
	"heatwave":       EventExtremeHeat,
	"heavy_rainfall": EventHeavyRainfall,
	"heavyrainfall":  EventHeavyRainfall,
	"crop_failure":   EventCropFailure,
	"cropfailure":    EventCropFailure,
}

// ParseEventType normalizes a user-supplied event type ("Locust", "ExtremeHeat",
// "heavy rainfall") to its canonical value.
func ParseEventType(value string) (EventType, bool) {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	t, ok := eventTypeAliases[key]
	return t, ok
}

// ParseSeverity returns the severity for value, or "" when unrecognized.
func ParseSeverity(value string) Severity {
	switch s := Severity(strings.ToLower(strings.TrimSpace(value))); s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeveritySevere:
		return s
	default:
		return ""
	}
}

// ParseSubmission deserializes a raw submission message into an EvidenceBundle.
// A missing or half-specified GPS pair leaves Point nil; it is never defaulted.
func ParseSubmission(raw RawSubmission) (EvidenceBundle, error) {
	var rec submissionRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return EvidenceBundle{}, fmt.Errorf("parse submission: %w", err)
	}

	eventType, ok := ParseEventType(rec.EventType)
	if !ok {
		return EvidenceBundle{}, fmt.Errorf("parse submission: %w: unknown event type %q", ErrIncompleteEvidence, rec.EventType)
	}
	if strings.TrimSpace(rec.SubmitterID) == "" {
		return EvidenceBundle{}, fmt.Errorf("parse submission: %w: missing submitter", ErrIncompleteEvidence)
	}

	bundle := EvidenceBundle{
		SubmissionID:    strings.TrimSpace(rec.SubmissionID),
		SubmitterID:     strings.TrimSpace(rec.SubmitterID),
		ClaimedType:     eventType,
		Description:     strings.TrimSpace(rec.Description),
		Region:          strings.TrimSpace(rec.Region),
		DeviceSignature: strings.TrimSpace(rec.DeviceSignature),
		Severity:        ParseSeverity(rec.Severity),
		EconomicImpact:  rec.EconomicImpact,
		EvidenceLinks:   rec.EvidenceLinks,
	}
	if rec.Latitude != nil && rec.Longitude != nil {
		bundle.Point = &GeoPoint{Lat: *rec.Latitude, Lon: *rec.Longitude}
	}
	if ts := strings.TrimSpace(rec.CapturedAt); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			t = t.UTC()
			bundle.CapturedAt = &t
		}
	}
	if bundle.SubmissionID == "" {
		bundle.SubmissionID = submissionIDFor(raw)
	}
	return bundle, nil
}

// submissionIDFor derives a stable ID from the message key, or from its payload
// when the producer did not set a key.
func submissionIDFor(raw RawSubmission) string {
	seed := raw.Key
	if len(seed) == 0 {
		seed = raw.Value
	}
	return "sub-" + uuid.NewSHA1(submissionNamespace, seed).String()
}

// EventIDFor returns the deterministic event ID assigned to a submission.
// Submission IDs are client supplied, so the submitter is part of the key.
func EventIDFor(submitterID, submissionID string) string {
	return "evt-" + uuid.NewSHA1(submissionNamespace, []byte(submitterID+"\x00"+submissionID)).String()
}
