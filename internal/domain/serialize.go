package domain

import (
	"encoding/json"
	"fmt"
)

// OutputMessage is a verification result ready for the sink topic.
type OutputMessage struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// SerializeVerification encodes a verification as JSON keyed by submission ID.
// Headers carry the decision and event type so consumers can route without
// decoding the body.
func SerializeVerification(v Verification) (OutputMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return OutputMessage{}, fmt.Errorf("serialize verification %s: %w", v.SubmissionID, err)
	}
	headers := map[string]string{
		"decision":   v.Decision,
		"event_type": string(v.EventType),
	}
	if v.Duplicate {
		headers["duplicate"] = "true"
	}
	return OutputMessage{
		Key:     []byte(v.SubmissionID),
		Value:   data,
		Headers: headers,
	}, nil
}
