package sqlstore

import (
	"errors"
	"time"

	"github.com/artpar/billmeter/domain/ident"
	"github.com/go-sql-driver/mysql"
)

// MySQL error numbers.
const (
	mysqlErrDupEntry         = 1062
	mysqlErrNoReferencedRow  = 1216
	mysqlErrRowIsReferenced  = 1217
	mysqlErrBadNull          = 1048
	mysqlErrRowIsReferenced2 = 1451
	mysqlErrNoReferencedRow2 = 1452
	mysqlErrCheckConstraint  = 3819
)

const mysqlTimestampLayout = "2006-01-02 15:04:05.000"

// MySQL targets MySQL and MariaDB through go-sql-driver/mysql.
type MySQL struct{}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }
func (MySQL) Returning() bool    { return false }

func (MySQL) Rebind(query string) string {
	return query
}

func (MySQL) UpsertUserSQL(n int) string {
	return "INSERT INTO users (id) VALUES " + placeholders(n, 1) + " ON DUPLICATE KEY UPDATE id = id"
}

// DATETIME(3) has no zone; values are always UTC.
func (MySQL) FormatTimestamp(t time.Time) any {
	return t.UTC().Format(mysqlTimestampLayout)
}

func (MySQL) UserIDType(scheme ident.Scheme) string {
	switch scheme {
	case ident.SchemeBigInt:
		return "BIGINT"
	case ident.SchemeInt:
		return "INT"
	default:
		return "CHAR(36)"
	}
}

func (MySQL) IsDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDupEntry
	}
	return errorContains(err, "Duplicate entry")
}

func (MySQL) IsConstraintViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDupEntry, mysqlErrNoReferencedRow, mysqlErrRowIsReferenced, mysqlErrBadNull,
			mysqlErrRowIsReferenced2, mysqlErrNoReferencedRow2, mysqlErrCheckConstraint:
			return true
		}
		return false
	}
	return errorContains(err, "Duplicate entry", "foreign key constraint fails")
}
