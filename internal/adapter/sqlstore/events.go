package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/climate-witness/internal/domain"
)

const eventColumns = "id, type, lat, lon, region, region_key, occurred_at, submitter_id, status, severity, " +
	"economic_impact, evidence_links, description, corroboration, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (domain.Event, error) {
	var (
		e                      domain.Event
		regionKey              string
		occurred, created, upd int64
		impact                 sql.NullFloat64
		links, corroboration   string
	)
	err := sc.Scan(&e.ID, &e.Type, &e.Location.Point.Lat, &e.Location.Point.Lon, &e.Location.Region, &regionKey,
		&occurred, &e.SubmitterID, &e.Status, &e.Severity, &impact, &links, &e.Description, &corroboration,
		&created, &upd)
	if err != nil {
		return domain.Event{}, err
	}
	e.OccurredAt = fromNanos(occurred)
	e.CreatedAt = fromNanos(created)
	e.UpdatedAt = fromNanos(upd)
	if impact.Valid {
		v := impact.Float64
		e.EconomicImpact = &v
	}
	if err := decodeJSON(links, &e.EvidenceLinks); err != nil {
		return domain.Event{}, fmt.Errorf("evidence_links of %s: %w", e.ID, err)
	}
	if err := decodeJSON(corroboration, &e.Corroboration); err != nil {
		return domain.Event{}, fmt.Errorf("corroboration of %s: %w", e.ID, err)
	}
	return e, nil
}

func (s *Store) FindNearbyEvents(ctx context.Context, q domain.NearbyQuery) ([]domain.NearbyEvent, error) {
	box := domain.BoundsAround(q.Point, q.RadiusKm)

	var (
		where = []string{"status = ?", "lat BETWEEN ? AND ?", "lon BETWEEN ? AND ?"}
		args  = []any{string(domain.StatusVerified), box.MinLat, box.MaxLat, box.MinLon, box.MaxLon}
	)
	if !q.Window.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, toNanos(q.Window.From))
	}
	if !q.Window.To.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, toNanos(q.Window.To))
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(q.Type))
	}

	events, err := s.queryEvents(ctx, where, args)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: find nearby events: %w", err)
	}

	var out []domain.NearbyEvent
	for _, e := range events {
		d := domain.DistanceKm(q.Point, e.Location.Point)
		if d > q.RadiusKm {
			continue
		}
		out = append(out, domain.NearbyEvent{Event: e, DistanceKm: d})
	}
	domain.SortNearby(out)
	return out, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	return s.getEvent(ctx, s.db, id, "")
}

func (s *Store) getEvent(ctx context.Context, q querier, id, suffix string) (domain.Event, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+eventColumns+` FROM events WHERE id = ?`+suffix), id)
	e, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Event{}, fmt.Errorf("event %s: %w", id, domain.ErrNotFound)
		}
		return domain.Event{}, fmt.Errorf("sqlstore: get event %s: %w", id, err)
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	var (
		where []string
		args  []any
	)
	if key := domain.RegionKey(f.Region); key != "" {
		where = append(where, "region_key = ?")
		args = append(args, key)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, toNanos(f.Since))
	}

	events, err := s.queryEvents(ctx, where, args)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list events: %w", err)
	}
	return events, nil
}

func (s *Store) queryEvents(ctx context.Context, where []string, args []any) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY occurred_at, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateEvent(ctx context.Context, e domain.Event) error {
	if err := domain.CheckCorroborated(e.Status, e.Corroboration); err != nil {
		return fmt.Errorf("create event %s: %w", e.ID, err)
	}
	return s.insertEvent(ctx, s.db, e)
}

// RecordEvent inserts the event, registers its submitter if needed and
// applies the trust change in one transaction.
func (s *Store) RecordEvent(ctx context.Context, e domain.Event, change domain.TrustChange) (domain.User, error) {
	if err := domain.CheckCorroborated(e.Status, e.Corroboration); err != nil {
		return domain.User{}, fmt.Errorf("record event %s: %w", e.ID, err)
	}
	var user domain.User
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertEvent(ctx, tx, e); err != nil {
			return err
		}
		var err error
		user, err = s.changeUser(ctx, tx, e.SubmitterID, change)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (s *Store) insertEvent(ctx context.Context, x execer, e domain.Event) error {
	links, err := encodeJSON(e.EvidenceLinks)
	if err != nil {
		return fmt.Errorf("sqlstore: encode evidence links: %w", err)
	}
	corroboration, err := encodeJSON(e.Corroboration)
	if err != nil {
		return fmt.Errorf("sqlstore: encode corroboration: %w", err)
	}
	var impact sql.NullFloat64
	if e.EconomicImpact != nil {
		impact = sql.NullFloat64{Float64: *e.EconomicImpact, Valid: true}
	}

	res, err := x.ExecContext(ctx, s.rebind(`INSERT INTO events (`+eventColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`),
		e.ID, string(e.Type), e.Location.Point.Lat, e.Location.Point.Lon, e.Location.Region,
		domain.RegionKey(e.Location.Region), toNanos(e.OccurredAt), e.SubmitterID, string(e.Status),
		string(e.Severity), impact, links, e.Description, corroboration,
		toNanos(e.CreatedAt), toNanos(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlstore: create event %s: %w", e.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("event %s: %w", e.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// TransitionEvent changes status with a conditional UPDATE so a concurrent
// transition of the same event loses with ErrInvalidTransition.
func (s *Store) TransitionEvent(ctx context.Context, id string, from, to domain.VerificationStatus, evidence []domain.Corroboration, at time.Time) (domain.Event, error) {
	e, _, err := s.settle(ctx, id, from, to, evidence, at, nil)
	return e, err
}

func (s *Store) SettleEvent(ctx context.Context, id string, from, to domain.VerificationStatus, evidence []domain.Corroboration, at time.Time, change domain.TrustChange) (domain.Event, domain.User, error) {
	return s.settle(ctx, id, from, to, evidence, at, &change)
}

func (s *Store) settle(ctx context.Context, id string, from, to domain.VerificationStatus, evidence []domain.Corroboration, at time.Time, change *domain.TrustChange) (domain.Event, domain.User, error) {
	if !domain.CanTransition(from, to) {
		return domain.Event{}, domain.User{}, fmt.Errorf("event %s %s -> %s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	if err := domain.CheckCorroborated(to, evidence); err != nil {
		return domain.Event{}, domain.User{}, fmt.Errorf("event %s: %w", id, err)
	}

	var (
		out  domain.Event
		user domain.User
	)
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		e, err := s.getEvent(ctx, tx, id, s.forUpdate())
		if err != nil {
			return err
		}
		if e.Status != from {
			return fmt.Errorf("event %s is %s, not %s: %w", id, e.Status, from, domain.ErrInvalidTransition)
		}

		for _, c := range evidence {
			if c.RecordedAt.IsZero() {
				c.RecordedAt = at
			}
			e.Corroboration = append(e.Corroboration, c)
		}
		corroboration, err := encodeJSON(e.Corroboration)
		if err != nil {
			return fmt.Errorf("sqlstore: encode corroboration: %w", err)
		}

		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE events SET status = ?, corroboration = ?, updated_at = ? WHERE id = ? AND status = ?`),
			string(to), corroboration, toNanos(at), id, string(from))
		if err != nil {
			return fmt.Errorf("sqlstore: transition event %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("event %s changed concurrently: %w", id, domain.ErrInvalidTransition)
		}

		if change != nil {
			if user, err = s.changeUser(ctx, tx, e.SubmitterID, *change); err != nil {
				return err
			}
		}

		e.Status = to
		e.UpdatedAt = at.UTC()
		out = e
		return nil
	})
	if err != nil {
		return domain.Event{}, domain.User{}, err
	}
	return out, user, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

func decodeJSON(s string, v any) error {
	if s == "" || s == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
