// Package correlate finds verified evidence near a claim in space and time.
package correlate

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/climate-witness/internal/domain"
)

// NoTimestampPenalty scales match quality when a claim carries no timestamp and
// correlation falls back to type+location matching. Callers apply it.
const NoTimestampPenalty = 0.7

// Config bounds the correlation search.
type Config struct {
	RadiusKm float64       `yaml:"radius_km"`
	Window   time.Duration `yaml:"window"`
}

// DefaultConfig searches 50 km and ±30 days around a claim.
func DefaultConfig() Config {
	return Config{
		RadiusKm: 50,
		Window:   30 * 24 * time.Hour,
	}
}

// EventFinder is the slice of the evidence store the correlator reads.
type EventFinder interface {
	FindNearbyEvents(ctx context.Context, q domain.NearbyQuery) ([]domain.NearbyEvent, error)
}

// Claim is the point, time and type being checked.
type Claim struct {
	Point *domain.GeoPoint
	At    *time.Time
	Type  domain.EventType
}

// Correlation lists correlated events by ascending distance.
// TimeMatched is false when the claim had no timestamp.
type Correlation struct {
	Matches     []domain.NearbyEvent
	TimeMatched bool
}

// Correlator queries the evidence store for nearby verified events.
type Correlator struct {
	finder EventFinder
	cfg    Config
}

// New creates a Correlator. Zero config fields fall back to DefaultConfig.
func New(finder EventFinder, cfg Config) *Correlator {
	def := DefaultConfig()
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = def.RadiusKm
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Correlator{finder: finder, cfg: cfg}
}

// Config returns the effective search bounds.
func (c *Correlator) Config() Config { return c.cfg }

// FindNearby returns every verified event within the radius and window of the
// claim. Without a timestamp it returns same-type events within the radius at
// any time and reports TimeMatched=false.
func (c *Correlator) FindNearby(ctx context.Context, claim Claim) (Correlation, error) {
	if claim.Point == nil {
		return Correlation{}, fmt.Errorf("correlate: %w: claim has no location", domain.ErrIncompleteEvidence)
	}
	if err := claim.Point.Validate(); err != nil {
		return Correlation{}, fmt.Errorf("correlate: %w", err)
	}

	q := domain.NearbyQuery{Point: *claim.Point, RadiusKm: c.cfg.RadiusKm}
	timeMatched := claim.At != nil && !claim.At.IsZero()
	if timeMatched {
		q.Window = domain.WindowAround(*claim.At, c.cfg.Window)
	} else {
		q.Type = claim.Type
	}

	found, err := c.finder.FindNearbyEvents(ctx, q)
	if err != nil {
		return Correlation{}, fmt.Errorf("correlate: find nearby events: %w", err)
	}

	matches := make([]domain.NearbyEvent, 0, len(found))
	for _, m := range found {
		if m.Event.Status != domain.StatusVerified || m.DistanceKm > c.cfg.RadiusKm {
			continue
		}
		if !timeMatched && m.Event.Type != claim.Type {
			continue
		}
		matches = append(matches, m)
	}
	domain.SortNearby(matches)

	return Correlation{Matches: matches, TimeMatched: timeMatched}, nil
}
