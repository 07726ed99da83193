// Package cli holds the flag plumbing shared by the offline commands:
// choosing an evidence source and pinning the evaluation clock.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/climate-witness/internal/adapter/memstore"
	"github.com/couchcryptid/climate-witness/internal/adapter/sqlstore"
	"github.com/couchcryptid/climate-witness/internal/config"
	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/jonboulle/clockwork"
)

// ErrUsage marks errors caused by bad flags. Commands exit with status 2.
var ErrUsage = errors.New("usage")

// EvidenceFlags selects where a command reads users and events from: a JSON
// snapshot loaded into memory, or the service's SQL store.
type EvidenceFlags struct {
	Snapshot string
	Driver   string
	DSN      string
}

// Register adds -evidence, -store and -dsn to fs. The store flags default to
// STORE_DRIVER and STORE_DSN so commands share the service configuration.
func (f *EvidenceFlags) Register(fs *flag.FlagSet) {
	fs.StringVar(&f.Snapshot, "evidence", "", "JSON evidence snapshot (users and events); takes precedence over -store")
	fs.StringVar(&f.Driver, "store", os.Getenv("STORE_DRIVER"), "evidence store driver: memory, sqlite or postgres")
	fs.StringVar(&f.DSN, "dsn", os.Getenv("STORE_DSN"), "evidence store DSN")
}

// Persistent reports whether the selection points at a SQL store.
func (f EvidenceFlags) Persistent() bool {
	return f.Snapshot == "" && (f.Driver == config.StoreSQLite || f.Driver == config.StorePostgres)
}

// Open returns the selected store and a func releasing it. Without a snapshot
// or SQL driver the store is empty and in memory.
func (f EvidenceFlags) Open(ctx context.Context) (domain.EvidenceStore, func(), error) {
	if f.Snapshot != "" {
		snap, err := domain.LoadSnapshotFile(f.Snapshot)
		if err != nil {
			return nil, nil, err
		}
		store := memstore.New()
		if err := snap.Seed(ctx, store); err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}

	switch f.Driver {
	case "", config.StoreMemory:
		return memstore.New(), func() {}, nil
	case config.StoreSQLite, config.StorePostgres:
	default:
		return nil, nil, fmt.Errorf("%w: unknown -store %q", ErrUsage, f.Driver)
	}
	if f.DSN == "" {
		return nil, nil, fmt.Errorf("%w: -store %s requires -dsn", ErrUsage, f.Driver)
	}

	store, err := sqlstore.Open(ctx, sqlstore.Driver(f.Driver), f.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// ClockAt returns a clock frozen at the RFC 3339 time value, or the real
// clock when value is empty.
func ClockAt(value string) (clockwork.Clock, error) {
	if value == "" {
		return clockwork.NewRealClock(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid -now %q: %v", ErrUsage, value, err)
	}
	return clockwork.NewFakeClockAt(t), nil
}

// ExitCode maps an error to a process status: 0 for nil, 2 for usage errors
// and any of the given input errors, 1 otherwise.
func ExitCode(err error, input ...error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrUsage) {
		return 2
	}
	for _, target := range input {
		if errors.Is(err, target) {
			return 2
		}
	}
	return 1
}
