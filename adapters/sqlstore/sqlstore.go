// Package sqlstore implements the event store over database/sql for
// PostgreSQL, MySQL and SQLite. Backend differences are confined to a
// Dialect; everything else is shared.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/artpar/billmeter/adapters/idgen"
	"github.com/artpar/billmeter/domain/ident"
	"github.com/artpar/billmeter/ports"
)

// maxRowsPerStatement bounds multi-row inserts well below the 65535
// placeholder limit shared by Postgres and MySQL.
const maxRowsPerStatement = 1000

// Options configures Open.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// UserIDScheme selects the users.id column type for EnsureSchema.
	UserIDScheme ident.Scheme

	// IDs mints event and API key ids on backends without RETURNING.
	// Defaults to time-ordered UUIDs.
	IDs ports.IDGenerator
}

// DB wraps a connection pool and the dialect it speaks.
type DB struct {
	*sql.DB
	dialect Dialect
	ids     ports.IDGenerator
	scheme  ident.Scheme
}

var _ ports.EventStore = (*DB)(nil)

// Open connects to the configured backend and verifies the connection.
func Open(opts Options) (*DB, error) {
	d, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn := opts.DSN
	if d.Name() == "sqlite" {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name(), err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name(), err)
	}

	return New(db, d, opts), nil
}

// New wraps an existing pool. Only UserIDScheme and IDs are read from opts.
func New(db *sql.DB, d Dialect, opts Options) *DB {
	ids := opts.IDs
	if ids == nil {
		ids = idgen.TimeOrdered{}
	}
	scheme := opts.UserIDScheme
	if scheme == "" {
		scheme = ident.SchemeUUID
	}
	return &DB{DB: db, dialect: d, ids: ids, scheme: scheme}
}

// Dialect returns the backend dialect.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// WithTx runs fn in a transaction. It commits when fn returns nil and rolls
// back when fn returns an error or panics; a panic is re-raised after the
// rollback.
func (db *DB) WithTx(ctx context.Context, fn func(tx ports.EventTx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&eventTx{tx: tx, dialect: db.dialect, ids: db.ids}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
