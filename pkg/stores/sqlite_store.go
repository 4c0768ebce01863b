package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store for the database file at path. The database
// is not opened until Init.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: path}, nil
}

// Init implements Store: open the database in WAL mode with a busy timeout,
// since the CLI and a metrics scraper may hold connections concurrently.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate implements Store, applying the embedded migration set.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RecordStep implements Store.
func (s *SQLiteStore) RecordStep(ctx context.Context, rec *StepRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO step_records (id, module_id, stack_name, namespace_name, module_name,
			backend, step, status, started_at, completed_at, summary, stderr, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ModuleID,
		rec.StackName,
		rec.NamespaceName,
		rec.ModuleName,
		rec.Backend,
		rec.Step,
		rec.Status,
		rec.StartedAt,
		rec.CompletedAt,
		rec.Summary,
		rec.Stderr,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record step: %w", err)
	}
	return nil
}

const stepColumns = `id, module_id, stack_name, namespace_name, module_name,
	backend, step, status, started_at, completed_at, summary, stderr, created_at`

// ListSteps implements Store.
func (s *SQLiteStore) ListSteps(ctx context.Context, moduleID string, limit int) ([]*StepRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + stepColumns + `
		FROM step_records
		WHERE module_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, moduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var records []*StepRecord
	for rows.Next() {
		rec, err := scanStepRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return records, nil
}

// LastStep implements Store.
func (s *SQLiteStore) LastStep(ctx context.Context, moduleID, step string) (*StepRecord, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM step_records
		WHERE module_id = ? AND step = ?
		ORDER BY created_at DESC
		LIMIT 1
	`
	rows, err := s.db.QueryContext(ctx, query, moduleID, step)
	if err != nil {
		return nil, fmt.Errorf("failed to query last step: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanStepRecord(rows)
}

func scanStepRecord(rows *sql.Rows) (*StepRecord, error) {
	rec := &StepRecord{}
	err := rows.Scan(
		&rec.ID,
		&rec.ModuleID,
		&rec.StackName,
		&rec.NamespaceName,
		&rec.ModuleName,
		&rec.Backend,
		&rec.Step,
		&rec.Status,
		&rec.StartedAt,
		&rec.CompletedAt,
		&rec.Summary,
		&rec.Stderr,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan step record: %w", err)
	}
	return rec, nil
}
