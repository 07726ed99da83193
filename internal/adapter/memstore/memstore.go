// Package memstore is an in-process evidence store. Reads share a map lock;
// trust updates and event transitions additionally hold a per-entity lock,
// always taken event before user.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/climate-witness/internal/domain"
)

// Store implements domain.EvidenceStore in memory.
type Store struct {
	mu     sync.RWMutex
	users  map[string]domain.User
	events map[string]domain.Event

	locks keyedMutex
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:  make(map[string]domain.User),
		events: make(map[string]domain.Event),
		locks:  keyedMutex{held: make(map[string]*lockEntry)},
	}
}

func (s *Store) FindNearbyEvents(ctx context.Context, q domain.NearbyQuery) ([]domain.NearbyEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	box := domain.BoundsAround(q.Point, q.RadiusKm)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.NearbyEvent
	for _, e := range s.events {
		if e.Status != domain.StatusVerified {
			continue
		}
		if q.Type != "" && e.Type != q.Type {
			continue
		}
		if !q.Window.Contains(e.OccurredAt) || !box.Contains(e.Location.Point) {
			continue
		}
		d := domain.DistanceKm(q.Point, e.Location.Point)
		if d > q.RadiusKm {
			continue
		}
		out = append(out, domain.NearbyEvent{Event: cloneEvent(e), DistanceKm: d})
	}
	domain.SortNearby(out)
	return out, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

func (s *Store) PutUser(ctx context.Context, u domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.lock("user:" + u.ID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) EnsureUser(ctx context.Context, u domain.User) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.ID]; ok {
		return existing, nil
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateUserTrust(ctx context.Context, id string, fn domain.UserTransition) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	unlock := s.locks.lock("user:" + id)
	defer unlock()

	current, err := s.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	next, err := fn(current)
	if err != nil {
		return domain.User{}, err
	}
	next.ID = id

	s.mu.Lock()
	s.users[id] = next
	s.mu.Unlock()
	return next, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return domain.Event{}, fmt.Errorf("event %s: %w", id, domain.ErrNotFound)
	}
	return cloneEvent(e), nil
}

func (s *Store) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	region := domain.RegionKey(f.Region)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, e := range s.events {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if region != "" && domain.RegionKey(e.Location.Region) != region {
			continue
		}
		if !f.Since.IsZero() && e.OccurredAt.Before(f.Since) {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateEvent(ctx context.Context, e domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.CheckCorroborated(e.Status, e.Corroboration); err != nil {
		return fmt.Errorf("create event %s: %w", e.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("event %s: %w", e.ID, domain.ErrAlreadyExists)
	}
	s.events[e.ID] = cloneEvent(e)
	return nil
}

func (s *Store) TransitionEvent(ctx context.Context, id string, from, to domain.VerificationStatus, evidence []domain.Corroboration, at time.Time) (domain.Event, error) {
	e, _, err := s.settle(ctx, id, from, to, evidence, at, nil)
	return e, err
}

func (s *Store) SettleEvent(ctx context.Context, id string, from, to domain.VerificationStatus, evidence []domain.Corroboration, at time.Time, change domain.TrustChange) (domain.Event, domain.User, error) {
	return s.settle(ctx, id, from, to, evidence, at, &change)
}

func (s *Store) settle(ctx context.Context, id string, from, to domain.VerificationStatus, evidence []domain.Corroboration, at time.Time, change *domain.TrustChange) (domain.Event, domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, domain.User{}, err
	}
	if !domain.CanTransition(from, to) {
		return domain.Event{}, domain.User{}, fmt.Errorf("event %s %s -> %s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	if err := domain.CheckCorroborated(to, evidence); err != nil {
		return domain.Event{}, domain.User{}, fmt.Errorf("event %s: %w", id, err)
	}

	unlock := s.locks.lock("event:" + id)
	defer unlock()

	s.mu.RLock()
	stored, ok := s.events[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Event{}, domain.User{}, fmt.Errorf("event %s: %w", id, domain.ErrNotFound)
	}
	if change != nil {
		unlockUser := s.locks.lock("user:" + stored.SubmitterID)
		defer unlockUser()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored = s.events[id]
	if stored.Status != from {
		return domain.Event{}, domain.User{}, fmt.Errorf("event %s is %s, not %s: %w", id, stored.Status, from, domain.ErrInvalidTransition)
	}

	var user domain.User
	if change != nil {
		next, err := s.nextUser(stored.SubmitterID, *change)
		if err != nil {
			return domain.Event{}, domain.User{}, err
		}
		user = next
	}

	e := cloneEvent(stored)
	e.Status = to
	for _, c := range evidence {
		if c.RecordedAt.IsZero() {
			c.RecordedAt = at
		}
		e.Corroboration = append(e.Corroboration, c)
	}
	e.UpdatedAt = at

	s.events[id] = cloneEvent(e)
	if change != nil {
		s.users[user.ID] = user
	}
	return e, user, nil
}

func (s *Store) RecordEvent(ctx context.Context, e domain.Event, change domain.TrustChange) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	if err := domain.CheckCorroborated(e.Status, e.Corroboration); err != nil {
		return domain.User{}, fmt.Errorf("record event %s: %w", e.ID, err)
	}

	unlock := s.locks.lock("user:" + e.SubmitterID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return domain.User{}, fmt.Errorf("event %s: %w", e.ID, domain.ErrAlreadyExists)
	}
	user, err := s.nextUser(e.SubmitterID, change)
	if err != nil {
		return domain.User{}, err
	}
	s.events[e.ID] = cloneEvent(e)
	s.users[user.ID] = user
	return user, nil
}

// nextUser computes the state of user id after change. The caller holds s.mu.
func (s *Store) nextUser(id string, change domain.TrustChange) (domain.User, error) {
	current, ok := s.users[id]
	if !ok {
		current = change.Defaults
	}
	current.ID = id
	if change.Apply == nil {
		return current, nil
	}
	next, err := change.Apply(current)
	if err != nil {
		return domain.User{}, err
	}
	next.ID = id
	return next, nil
}

func cloneEvent(e domain.Event) domain.Event {
	e.EvidenceLinks = append([]string(nil), e.EvidenceLinks...)
	e.Corroboration = append([]domain.Corroboration(nil), e.Corroboration...)
	if e.EconomicImpact != nil {
		v := *e.EconomicImpact
		e.EconomicImpact = &v
	}
	return e
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds it.
type keyedMutex struct {
	mu   sync.Mutex
	held map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.held[key]
	if !ok {
		e = &lockEntry{}
		k.held[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.held, key)
		}
		k.mu.Unlock()
	}
}
