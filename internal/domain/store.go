package domain

import (
	"context"
	"sort"
	"time"
)

// TimeWindow bounds event timestamps. A zero From or To leaves that side open.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window (inclusive).
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// WindowAround returns [t-d, t+d].
func WindowAround(t time.Time, d time.Duration) TimeWindow {
	return TimeWindow{From: t.Add(-d), To: t.Add(d)}
}

// EventFilter narrows ListEvents. Zero-valued fields do not filter.
type EventFilter struct {
	Region string
	Type   EventType
	Status VerificationStatus
	Since  time.Time
}

// NearbyQuery asks for verified events around a point.
type NearbyQuery struct {
	Point    GeoPoint
	RadiusKm float64
	Window   TimeWindow
	Type     EventType // optional; empty matches every type
}

// NearbyEvent is a store hit annotated with its distance from the query point.
type NearbyEvent struct {
	Event      Event
	DistanceKm float64
}

// SortNearby orders hits by ascending distance, then event ID, so results are
// stable across store implementations.
func SortNearby(hits []NearbyEvent) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].DistanceKm != hits[j].DistanceKm {
			return hits[i].DistanceKm < hits[j].DistanceKm
		}
		return hits[i].Event.ID < hits[j].Event.ID
	})
}

// UserTransition computes the next state of a user from the current one.
// It runs while the store holds that user exclusively.
type UserTransition func(current User) (User, error)

// TrustChange adjusts the submitter of an event in the same unit of work that
// records or settles the event. Defaults registers a submitter seen for the
// first time; Apply then runs against the stored or registered user.
type TrustChange struct {
	Defaults User
	Apply    UserTransition
}

// EvidenceStore exclusively owns users and events. Trust updates and event
// status transitions are serialized per entity by the implementation.
type EvidenceStore interface {
	// FindNearbyEvents returns verified events inside the query radius and window,
	// ordered by ascending distance.
	FindNearbyEvents(ctx context.Context, q NearbyQuery) ([]NearbyEvent, error)
	GetUser(ctx context.Context, id string) (User, error)
	PutUser(ctx context.Context, u User) error
	// EnsureUser stores u unless a user with that ID exists, and returns the
	// stored user either way.
	EnsureUser(ctx context.Context, u User) (User, error)
	// UpdateUserTrust applies fn to the stored user while holding it
	// exclusively. Missing users fail with ErrNotFound.
	UpdateUserTrust(ctx context.Context, id string, fn UserTransition) (User, error)
	GetEvent(ctx context.Context, id string) (Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]Event, error)
	// CreateEvent fails with ErrAlreadyExists when the ID is taken.
	CreateEvent(ctx context.Context, e Event) error
	// TransitionEvent moves an event from one status to another. It fails with
	// ErrInvalidTransition when the stored status is not from, and with
	// ErrUncorroborated when moving to verified without corroboration.
	TransitionEvent(ctx context.Context, id string, from, to VerificationStatus, evidence []Corroboration, at time.Time) (Event, error)
	// RecordEvent creates e and applies change to its submitter atomically.
	// When the event exists, or change fails, nothing is written.
	RecordEvent(ctx context.Context, e Event, change TrustChange) (User, error)
	// SettleEvent is TransitionEvent plus change applied to the event's
	// submitter, committed together.
	SettleEvent(ctx context.Context, id string, from, to VerificationStatus, evidence []Corroboration, at time.Time, change TrustChange) (Event, User, error)
}

// CanTransition reports whether an event may move between the two statuses.
// Only pending events change status.
func CanTransition(from, to VerificationStatus) bool {
	return from == StatusPending && (to == StatusVerified || to == StatusRejected)
}

// CheckCorroborated enforces the verified-event invariant shared by all stores.
func CheckCorroborated(status VerificationStatus, evidence []Corroboration) error {
	if status == StatusVerified && len(evidence) == 0 {
		return ErrUncorroborated
	}
	return nil
}
