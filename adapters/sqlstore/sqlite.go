package sqlstore

import (
	"errors"
	"strings"
	"time"

	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/domain/ident"
	"github.com/mattn/go-sqlite3"
)

// sqliteParams are appended to a bare SQLite path. Connection parameters
// apply to every pooled connection, unlike a one-off PRAGMA.
const sqliteParams = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL&_txlock=immediate"

// SQLite targets an embedded database through mattn/go-sqlite3.
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite3" }
func (SQLite) Returning() bool    { return false }

func (SQLite) Rebind(query string) string {
	return query
}

func (SQLite) UpsertUserSQL(n int) string {
	return "INSERT INTO users (id) VALUES " + placeholders(n, 1) + " ON CONFLICT (id) DO NOTHING"
}

// Canonical timestamps are fixed width and UTC, so TEXT comparison orders
// them chronologically.
func (SQLite) FormatTimestamp(t time.Time) any {
	return event.FormatTimestamp(t)
}

func (SQLite) UserIDType(ident.Scheme) string {
	return "TEXT"
}

func (SQLite) IsDuplicateKey(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return errorContains(err, "UNIQUE constraint failed")
}

func (SQLite) IsConstraintViolation(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrConstraint
	}
	return errorContains(err, "constraint failed")
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?" + sqliteParams
}
