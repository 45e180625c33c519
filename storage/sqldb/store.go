package sqldb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/enovation/moodle-local-oauth2/events"
	"github.com/enovation/moodle-local-oauth2/instrumentation"
	"github.com/enovation/moodle-local-oauth2/storage"
)

// Driver selects the relational backend.
type Driver string

const (
	// DriverSQLite stores rows in a SQLite database file
	DriverSQLite Driver = "sqlite"

	// DriverPostgres stores rows in a Postgres database
	DriverPostgres Driver = "postgres"
)

const (
	// defaultMaxOpenConns bounds the connection pool
	defaultMaxOpenConns = 10

	// defaultConnMaxLifetime recycles pooled connections
	defaultConnMaxLifetime = time.Hour
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds the connection configuration for a relational store.
type Config struct {
	// Driver selects SQLite or Postgres (required)
	Driver Driver

	// DSN is the driver-specific data source name (required)
	DSN string

	// MaxOpenConns bounds the connection pool. Default: 10.
	MaxOpenConns int

	// ConnMaxLifetime recycles pooled connections. Default: 1 hour.
	ConnMaxLifetime time.Duration

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// Store is a relational implementation of all storage interface groups.
type Store struct {
	db     *sql.DB
	driver Driver
	sink   events.Sink
	logger *slog.Logger

	inst   *instrumentation.Instrumentation
	tracer trace.Tracer
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.Store                  = (*Store)(nil)
	_ storage.ClientStore            = (*Store)(nil)
	_ storage.AccessTokenStore       = (*Store)(nil)
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.RefreshTokenStore      = (*Store)(nil)
	_ storage.ScopeStore             = (*Store)(nil)
	_ storage.KeyStore               = (*Store)(nil)
	_ storage.JTIStore               = (*Store)(nil)
)

// Open connects to the configured database and verifies connectivity. It
// does not create the schema; call Migrate for that.
func Open(cfg Config) (*Store, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := sql.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &Store{
		db:     db,
		driver: cfg.Driver,
		sink:   events.NopSink{},
		logger: cfg.Logger,
	}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetSink sets the event sink notified on access token creation and update
func (s *Store) SetSink(sink events.Sink) {
	if sink != nil {
		s.sink = sink
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// Migrate applies any pending embedded schema migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	var drv database.Driver
	switch s.driver {
	case DriverSQLite:
		drv, err = migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	case DriverPostgres:
		drv, err = migratepostgres.WithInstance(s.db, &migratepostgres.Config{})
	}
	if err != nil {
		return fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(s.driver), drv)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			s.logger.Debug("Schema is up to date")
			return nil
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	version, _, _ := m.Version()
	s.logger.Info("Applied schema migrations", "version", version)
	return nil
}

// rebind rewrites ? placeholders into the $n form Postgres expects.
// Queries in this package are written with ? and rebound per driver.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
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

// isUniqueViolation reports whether err is a unique-constraint conflict in
// either driver's vocabulary.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// modernc.org/sqlite surfaces constraint failures by message only
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullString maps an empty string to NULL for nullable columns.
func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// startSpan starts a storage span when instrumentation is configured.
// Returns a no-op span otherwise, so span.End() is always safe to defer.
func (s *Store) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := s.tracer.Start(ctx, "storage."+op)
	instrumentation.AddStorageAttributes(span, op, string(s.driver))
	return ctx, span
}

// record finishes span status and metric recording for an operation
func (s *Store) record(ctx context.Context, span trace.Span, op string, err error, start time.Time) {
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	if s.inst != nil {
		s.inst.Metrics().RecordStorageOperation(ctx, string(s.driver), op, err, start)
	}
}

// ============================================================
// JTIStore Implementation (declared capability gap)
// ============================================================

// GetJTI fails with ErrNotImplemented: this store provides no JWT replay
// protection and callers must not assume otherwise.
func (s *Store) GetJTI(context.Context, string, string, string, int64, string) error {
	return fmt.Errorf("jti lookup: %w", storage.ErrNotImplemented)
}

// SetJTI fails with ErrNotImplemented, see GetJTI.
func (s *Store) SetJTI(context.Context, string, string, string, int64, string) error {
	return fmt.Errorf("jti storage: %w", storage.ErrNotImplemented)
}
