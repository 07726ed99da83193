package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Snapshot is a portable dump of an evidence store, used to seed stores for
// offline planning and fixtures.
type Snapshot struct {
	Users  []User  `json:"users"`
	Events []Event `json:"events"`
}

// ReadSnapshot decodes a JSON snapshot. Unknown fields are rejected.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return s, nil
}

// LoadSnapshotFile reads the JSON snapshot at path.
func LoadSnapshotFile(path string) (Snapshot, error) {
	// #nosec G304 -- path comes from the operator.
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// Seed writes every user and event of the snapshot into store.
func (s Snapshot) Seed(ctx context.Context, store EvidenceStore) error {
	for _, u := range s.Users {
		u.TrustScore = min(max(u.TrustScore, 0), 100)
		if err := store.PutUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, e := range s.Events {
		if e.Status == "" {
			e.Status = StatusPending
		}
		if err := store.CreateEvent(ctx, e); err != nil {
			return fmt.Errorf("seed event %s: %w", e.ID, err)
		}
	}
	return nil
}
