package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver
	_ "modernc.org/sqlite"          // pure-Go SQLite driver
)

// Dialect selects placeholder style and locking clauses.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Driver names registered with database/sql.
const (
	DriverSQLite     = "sqlite"   // modernc.org/sqlite
	DriverSQLiteCgo  = "sqlite3"  // github.com/mattn/go-sqlite3
	DriverPostgreSQL = "postgres" // github.com/lib/pq
)

// DialectForDriver maps a database/sql driver name to its dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite, DriverSQLiteCgo:
		return DialectSQLite, nil
	case DriverPostgreSQL:
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

// rebind rewrites '?' placeholders into the dialect's native form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate returns the row-locking suffix for SELECTs inside transactions.
// SQLite serializes writers at the database level and has no row locks.
func (d Dialect) forUpdate() string {
	if d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}
