package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/bms/pkg/billing"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

var tracer = otel.Tracer("github.com/platinummonkey/bms/pkg/storage/sqlstore")

// Config holds database connection configuration
type Config struct {
	Driver      string
	DSN         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Store implements billing.Store on database/sql
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *logrus.Logger
	now     func() time.Time
}

var _ billing.Store = (*Store)(nil)

// Open connects to the configured database, tunes the pool and checks the connection
func Open(config Config, logger *logrus.Logger) (*Store, error) {
	dialect, err := DialectFor(config.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.Name, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", dialect.Name, err)
	}

	if dialect == SQLite && (config.DSN == ":memory:" || strings.Contains(config.DSN, "mode=memory")) {
		// Every connection to :memory: opens a separate database.
		db.SetMaxOpenConns(1)
	} else if config.MaxConns > 0 {
		db.SetMaxOpenConns(config.MaxConns)
	}
	if config.MinConns > 0 {
		db.SetMaxIdleConns(config.MinConns)
	}
	if config.MaxLifetime > 0 {
		db.SetConnMaxLifetime(config.MaxLifetime)
	}
	if config.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.MaxIdleTime)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", dialect.Name, err)
	}

	return New(db, dialect, logger), nil
}

// New wraps an open database handle
func New(db *sql.DB, dialect Dialect, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB returns the underlying handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// HealthCheck pings the database
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}
	return nil
}

// Stats returns connection pool statistics
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

// Close closes the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded migrations for the store's dialect that have
// not been recorded in schema_migrations
func (s *Store) Migrate(ctx context.Context) error {
	if s.dialect.advisoryLock {
		// The lock is session scoped so it must be taken and released on one connection.
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("acquire lock connection: %w", err)
		}
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(7311)`); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		defer func() {
			_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(7311)`)
		}()
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	applied := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate applied migrations: %w", err)
	}

	dir := "migrations/" + s.dialect.Name
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")
		if applied[version] {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, dir+"/"+entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", entry.Name(), err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`), version, s.now()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", entry.Name(), err)
		}
		s.logger.WithFields(logrus.Fields{
			"version": version,
			"dialect": s.dialect.Name,
		}).Info("Applied migration")
	}
	return nil
}

// span starts a client span for one statement family
func (s *Store) span(ctx context.Context, op, table string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlstore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", s.dialect.Name),
			attribute.String("db.sql.table", table),
		))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// insert runs an INSERT and maps key collisions to ErrAlreadyExists
func (s *Store) insert(ctx context.Context, entity, id, query string, args ...any) (err error) {
	ctx, span := s.span(ctx, "insert", entity)
	defer func() { endSpan(span, err) }()

	if _, err = s.db.ExecContext(ctx, s.dialect.rebind(query), args...); err != nil {
		if s.dialect.uniqueViolation(err) {
			return billing.AlreadyExists(entity, id)
		}
		return fmt.Errorf("failed to insert %s: %w", entity, err)
	}
	return nil
}

// update runs a version-guarded UPDATE. When no row matches it tells a
// missing row apart from a stale version.
func (s *Store) update(ctx context.Context, entity, table, id, query string, args ...any) (err error) {
	ctx, span := s.span(ctx, "update", table)
	defer func() { endSpan(span, err) }()

	res, err := s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT 1 FROM `+table+` WHERE id = ?`), id).Scan(&one)
	if err == sql.ErrNoRows {
		return billing.NotFound(entity, id)
	}
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", entity, err)
	}
	return billing.Conflict(entity, id)
}

// stamps returns the creation and modification times for a new row
func (s *Store) stamps(created time.Time) (time.Time, time.Time) {
	now := s.now()
	if created.IsZero() {
		created = now
	}
	return created.UTC(), now
}
