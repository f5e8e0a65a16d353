package sqlstore

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the differences between the supported SQL backends
type Dialect struct {
	// Name is the database/sql driver name
	Name string
	// numbered reports whether the driver expects $1-style placeholders
	numbered bool
	// advisoryLock serializes migrations across processes
	advisoryLock bool
}

var (
	// Postgres is the production dialect backed by lib/pq
	Postgres = Dialect{Name: "postgres", numbered: true, advisoryLock: true}
	// SQLite is the embedded dialect backed by mattn/go-sqlite3
	SQLite = Dialect{Name: "sqlite3"}
)

// DialectFor returns the dialect registered for a driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	default:
		return Dialect{}, errors.New("unsupported database driver: " + driver)
	}
}

// rebind rewrites ? placeholders into the dialect's form
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

// uniqueViolation reports whether err is a primary key or unique constraint failure
func (d Dialect) uniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
