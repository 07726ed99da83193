package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/couchcryptid/climate-witness/internal/domain"
)

const userColumns = "id, trust_score, verification_count, region, updated_at"

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.getUser(ctx, s.db, id, "")
}

func (s *Store) getUser(ctx context.Context, q querier, id, suffix string) (domain.User, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`+suffix), id)
	var (
		u       domain.User
		updated int64
	)
	if err := row.Scan(&u.ID, &u.TrustScore, &u.VerificationCount, &u.Region, &updated); err != nil {
		if isNoRows(err) {
			return domain.User{}, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("sqlstore: get user %s: %w", id, err)
	}
	u.UpdatedAt = fromNanos(updated)
	return u, nil
}

func (s *Store) PutUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    trust_score = excluded.trust_score,
    verification_count = excluded.verification_count,
    region = excluded.region,
    updated_at = excluded.updated_at`),
		u.ID, u.TrustScore, u.VerificationCount, u.Region, toNanos(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlstore: put user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) EnsureUser(ctx context.Context, u domain.User) (domain.User, error) {
	if err := s.ensureUser(ctx, s.db, u); err != nil {
		return domain.User{}, err
	}
	return s.GetUser(ctx, u.ID)
}

func (s *Store) ensureUser(ctx context.Context, x execer, u domain.User) error {
	_, err := x.ExecContext(ctx, s.rebind(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`),
		u.ID, u.TrustScore, u.VerificationCount, u.Region, toNanos(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlstore: ensure user %s: %w", u.ID, err)
	}
	return nil
}

// UpdateUserTrust reads, transforms and writes the user inside one
// transaction. PostgreSQL holds the row with SELECT ... FOR UPDATE; SQLite
// runs on a single connection so transactions are already serial.
func (s *Store) UpdateUserTrust(ctx context.Context, id string, fn domain.UserTransition) (domain.User, error) {
	var next domain.User
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		next, err = s.updateUser(ctx, tx, id, fn)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return next, nil
}

// changeUser registers the user with change.Defaults when absent, then
// applies change.Apply, all on tx.
func (s *Store) changeUser(ctx context.Context, tx *sql.Tx, id string, change domain.TrustChange) (domain.User, error) {
	defaults := change.Defaults
	defaults.ID = id
	if err := s.ensureUser(ctx, tx, defaults); err != nil {
		return domain.User{}, err
	}
	fn := change.Apply
	if fn == nil {
		fn = func(u domain.User) (domain.User, error) { return u, nil }
	}
	return s.updateUser(ctx, tx, id, fn)
}

func (s *Store) updateUser(ctx context.Context, tx *sql.Tx, id string, fn domain.UserTransition) (domain.User, error) {
	current, err := s.getUser(ctx, tx, id, s.forUpdate())
	if err != nil {
		return domain.User{}, err
	}
	next, err := fn(current)
	if err != nil {
		return domain.User{}, err
	}
	next.ID = id
	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE users SET trust_score = ?, verification_count = ?, region = ?, updated_at = ? WHERE id = ?`),
		next.TrustScore, next.VerificationCount, next.Region, toNanos(next.UpdatedAt), id)
	if err != nil {
		return domain.User{}, fmt.Errorf("sqlstore: update user %s: %w", id, err)
	}
	return next, nil
}
