package sqlstore

import (
	"errors"
	"time"

	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/domain/ident"
	"github.com/lib/pq"
)

// Postgres targets PostgreSQL through lib/pq.
type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "postgres" }
func (Postgres) Returning() bool    { return true }

func (Postgres) Rebind(query string) string {
	return rebindDollar(query)
}

// ON CONFLICT keeps the transaction usable; a raised 23505 would abort it.
func (Postgres) UpsertUserSQL(n int) string {
	return "INSERT INTO users (id) VALUES " + placeholders(n, 1) + " ON CONFLICT (id) DO NOTHING"
}

func (Postgres) FormatTimestamp(t time.Time) any {
	return event.FormatTimestamp(t)
}

func (Postgres) UserIDType(scheme ident.Scheme) string {
	switch scheme {
	case ident.SchemeBigInt:
		return "BIGINT"
	case ident.SchemeInt:
		return "INTEGER"
	default:
		return "UUID"
	}
}

func (Postgres) IsDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return errorContains(err, "duplicate key value")
}

// Class 23 is integrity_constraint_violation.
func (Postgres) IsConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}
	return errorContains(err, "violates")
}
