package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/billmeter/domain/ident"
)

// Dialect captures everything that differs between backends. The store is
// written once against this interface; one implementation exists per
// supported driver and is chosen at startup.
type Dialect interface {
	// Name is the canonical backend name and the schema directory.
	Name() string
	// DriverName is the database/sql driver to open.
	DriverName() string
	// Rebind converts ? placeholders into the backend's form.
	Rebind(query string) string
	// Returning reports whether INSERT ... RETURNING id is available.
	// Without it, ids are generated client side.
	Returning() bool
	// UpsertUserSQL inserts n user ids, silently skipping existing ones.
	UpsertUserSQL(n int) string
	// FormatTimestamp renders t as the value bound for timestamp columns.
	FormatTimestamp(t time.Time) any
	// UserIDType is the column type for users.id under scheme.
	UserIDType(scheme ident.Scheme) string
	// IsDuplicateKey reports a unique or primary key violation.
	IsDuplicateKey(err error) bool
	// IsConstraintViolation reports any integrity constraint violation.
	IsConstraintViolation(err error) bool
}

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return Postgres{}, nil
	case "mysql", "mariadb":
		return MySQL{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// placeholders renders rows groups of cols "?" markers:
// placeholders(2, 3) == "(?, ?, ?), (?, ?, ?)".
func placeholders(rows, cols int) string {
	group := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	var b strings.Builder
	b.Grow(rows * (len(group) + 2))
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(group)
	}
	return b.String()
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func errorContains(err error, substrs ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range substrs {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
