package verify

import (
	"context"
	"fmt"

	"github.com/couchcryptid/climate-witness/internal/domain"
)

// Stats summarizes the evidence store.
type Stats struct {
	Total            int                               `json:"total"`
	ByStatus         map[domain.VerificationStatus]int `json:"by_status"`
	ByType           map[domain.EventType]int          `json:"by_type"`
	VerificationRate float64                           `json:"verification_rate"`
}

// Stats counts stored events. VerificationRate is the verified fraction of
// all stored events, zero when the store is empty.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	events, err := s.store.ListEvents(ctx, domain.EventFilter{})
	if err != nil {
		return Stats{}, fmt.Errorf("collect stats: %w", err)
	}
	st := Stats{
		Total:    len(events),
		ByStatus: make(map[domain.VerificationStatus]int),
		ByType:   make(map[domain.EventType]int),
	}
	for _, e := range events {
		st.ByStatus[e.Status]++
		st.ByType[e.Type]++
	}
	if st.Total > 0 {
		st.VerificationRate = float64(st.ByStatus[domain.StatusVerified]) / float64(st.Total)
	}
	return st, nil
}
