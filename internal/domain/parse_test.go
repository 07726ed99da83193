package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubmitter = "user-42"

func TestParseSubmission(t *testing.T) {
	t.Run("full record", func(t *testing.T) {
		data := []byte(`{"submission_id":"sub-1","submitter_id":"user-42","event_type":"Drought","description":"Dry riverbed near Lodwar","latitude":3.1167,"longitude":35.6167,"region":"Turkana","captured_at":"2025-03-01T08:30:00+03:00","device_signature":"sig-abc","severity":"HIGH","economic_impact":12000,"evidence_links":["s3://photos/1.jpg"]}`)
		bundle, err := ParseSubmission(RawSubmission{Value: data})

		require.NoError(t, err)
		assert.Equal(t, "sub-1", bundle.SubmissionID)
		assert.Equal(t, testSubmitter, bundle.SubmitterID)
		assert.Equal(t, EventDrought, bundle.ClaimedType)
		require.NotNil(t, bundle.Point)
		assert.Equal(t, 3.1167, bundle.Point.Lat)
		assert.Equal(t, 35.6167, bundle.Point.Lon)
		assert.Equal(t, "Turkana", bundle.Region)
		require.NotNil(t, bundle.CapturedAt)
		assert.Equal(t, time.Date(2025, 3, 1, 5, 30, 0, 0, time.UTC), *bundle.CapturedAt)
		assert.Equal(t, "sig-abc", bundle.DeviceSignature)
		assert.Equal(t, SeverityHigh, bundle.Severity)
		require.NotNil(t, bundle.EconomicImpact)
		assert.Equal(t, 12000.0, *bundle.EconomicImpact)
		assert.Equal(t, []string{"s3://photos/1.jpg"}, bundle.EvidenceLinks)
	})

	t.Run("half GPS pair is not defaulted", func(t *testing.T) {
		data := []byte(`{"submitter_id":"user-42","event_type":"flood","latitude":1.5}`)
		bundle, err := ParseSubmission(RawSubmission{Value: data})

		require.NoError(t, err)
		assert.Nil(t, bundle.Point)
	})

	t.Run("unparsable capture time leaves timestamp empty", func(t *testing.T) {
		data := []byte(`{"submitter_id":"user-42","event_type":"flood","captured_at":"yesterday"}`)
		bundle, err := ParseSubmission(RawSubmission{Value: data})

		require.NoError(t, err)
		assert.Nil(t, bundle.CapturedAt)
	})

	t.Run("unknown event type", func(t *testing.T) {
		data := []byte(`{"submitter_id":"user-42","event_type":"snow"}`)
		_, err := ParseSubmission(RawSubmission{Value: data})

		require.ErrorIs(t, err, ErrIncompleteEvidence)
		assert.Contains(t, err.Error(), "snow")
	})

	t.Run("missing submitter", func(t *testing.T) {
		data := []byte(`{"event_type":"flood"}`)
		_, err := ParseSubmission(RawSubmission{Value: data})

		require.ErrorIs(t, err, ErrIncompleteEvidence)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseSubmission(RawSubmission{Value: []byte("{invalid json")})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse submission")
	})

	t.Run("deterministic ID from key", func(t *testing.T) {
		data := []byte(`{"submitter_id":"user-42","event_type":"flood"}`)
		b1, err := ParseSubmission(RawSubmission{Key: []byte("k-1"), Value: data})
		require.NoError(t, err)
		b2, err := ParseSubmission(RawSubmission{Key: []byte("k-1"), Value: data})
		require.NoError(t, err)
		b3, err := ParseSubmission(RawSubmission{Key: []byte("k-2"), Value: data})
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(b1.SubmissionID, "sub-"))
		assert.Equal(t, b1.SubmissionID, b2.SubmissionID)
		assert.NotEqual(t, b1.SubmissionID, b3.SubmissionID)
	})
}

func TestParseEventType(t *testing.T) {
	tests := []struct {
		input    string
		expected EventType
		ok       bool
	}{
		{"drought", EventDrought, true},
		{"Flood", EventFlood, true},
		{"Locust", EventLocustSwarm, true},
		{"locust-swarm", EventLocustSwarm, true},
		{"ExtremeHeat", EventExtremeHeat, true},
		{"heatwave", EventExtremeHeat, true},
		{"heavy rainfall", EventHeavyRainfall, true},
		{" crop_failure ", EventCropFailure, true},
		{"snow", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseEventType(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeveritySevere, ParseSeverity("Severe"))
	assert.Equal(t, SeverityLow, ParseSeverity(" low "))
	assert.Empty(t, ParseSeverity("catastrophic"))
}

func TestEventIDFor(t *testing.T) {
	assert.Equal(t, EventIDFor("amina", "sub-1"), EventIDFor("amina", "sub-1"))
	assert.NotEqual(t, EventIDFor("amina", "sub-1"), EventIDFor("amina", "sub-2"))
	assert.True(t, strings.HasPrefix(EventIDFor("amina", "sub-1"), "evt-"))

	// Two reporters reusing a submission ID get separate events.
	assert.NotEqual(t, EventIDFor("amina", "1"), EventIDFor("baraka", "1"))
	assert.NotEqual(t, EventIDFor("ab", "c"), EventIDFor("a", "bc"))
}

func TestRegionKey(t *testing.T) {
	assert.Equal(t, RegionKey("Turkana"), RegionKey("  TURKANA "))
	assert.Equal(t, RegionKey("West  Pokot"), RegionKey("west pokot"))
	assert.Equal(t, RegionKey("Mur\u00e1nga"), RegionKey("Mura\u0301nga"))
	assert.Empty(t, RegionKey("   "))
}
