package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"orderGuard/internal/domain"
	"orderGuard/internal/ports"
)

// Repository implements the ports.CorrectionRepository and
// ports.IdempotencyStore interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/order_guard.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS corrections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		rung INTEGER NOT NULL,
		old_qty REAL NOT NULL,
		new_qty REAL NOT NULL,
		method TEXT NOT NULL,
		old_order_id INTEGER NOT NULL,
		new_order_id INTEGER NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS idempotency_records (
		key TEXT PRIMARY KEY,
		result TEXT NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	);
	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_corrections_symbol_recorded_at ON corrections (symbol, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_idempotency_recorded_at ON idempotency_records (recorded_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- CorrectionRepository Implementation ---

// AppendCorrection stores one correction record and returns its assigned ID.
// The history is append-only; there is no update path.
func (r *Repository) AppendCorrection(ctx context.Context, rec *domain.CorrectionRecord) (int64, error) {
	const query = `
	INSERT INTO corrections (symbol, rung, old_qty, new_qty, method, old_order_id, new_order_id, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		rec.Symbol, rec.Rung, rec.OldQty, rec.NewQty, string(rec.Method), rec.OldOrderID, rec.NewOrderID, rec.RecordedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert correction for symbol %s: %w: %w", rec.Symbol, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for correction %s: %w", rec.Symbol, err)
	}
	rec.ID = id
	r.logger.Debug(ctx, "Correction recorded", map[string]interface{}{
		"correctionID": id,
		"symbol":       rec.Symbol,
		"rung":         rec.Rung,
		"method":       rec.Method,
	})
	return id, nil
}

// ListCorrections retrieves the most recent corrections for a symbol, newest
// first, up to a limit.
func (r *Repository) ListCorrections(ctx context.Context, symbol string, limit int) ([]*domain.CorrectionRecord, error) {
	const query = `
	SELECT id, symbol, rung, old_qty, new_qty, method, old_order_id, new_order_id, recorded_at
	FROM corrections
	WHERE symbol = ? ORDER BY recorded_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	records := make([]*domain.CorrectionRecord, 0)
	for rows.Next() {
		rec, err := scanCorrection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correction during ListCorrections: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating correction rows: %w", err)
	}
	return records, nil
}

// --- IdempotencyStore Implementation ---

// PutRecord stores an idempotency record. Records are immutable; writing an
// existing key keeps the first value.
func (r *Repository) PutRecord(ctx context.Context, rec *domain.IdempotencyRecord) error {
	const query = `
	INSERT INTO idempotency_records (key, result, recorded_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, rec.Key, rec.Result, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert idempotency record %s: %w: %w", rec.Key, ports.ErrQueryFailed, err)
	}
	return nil
}

// GetRecord retrieves an idempotency record by key.
func (r *Repository) GetRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	const query = `SELECT key, result, recorded_at FROM idempotency_records WHERE key = ?`

	rec := &domain.IdempotencyRecord{}
	err := r.db.QueryRowContext(ctx, query, key).Scan(&rec.Key, &rec.Result, &rec.RecordedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query idempotency record %s: %w: %w", key, ports.ErrQueryFailed, err)
	}
	return rec, nil
}

// DeleteExpired removes idempotency records older than ttlSeconds.
func (r *Repository) DeleteExpired(ctx context.Context, ttlSeconds int) (int64, error) {
	const query = `DELETE FROM idempotency_records WHERE recorded_at < ?`

	cutoff := time.Now().Add(-time.Duration(ttlSeconds) * time.Second)
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w: %w", ports.ErrQueryFailed, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for idempotency cleanup: %w", err)
	}
	if deleted > 0 {
		r.logger.Debug(ctx, "Expired idempotency records removed", map[string]interface{}{"count": deleted})
	}
	return deleted, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanCorrection scans a row into a domain.CorrectionRecord struct.
func scanCorrection(s scanner) (*domain.CorrectionRecord, error) {
	rec := &domain.CorrectionRecord{}
	var method string
	err := s.Scan(
		&rec.ID, &rec.Symbol, &rec.Rung, &rec.OldQty, &rec.NewQty, &method,
		&rec.OldOrderID, &rec.NewOrderID, &rec.RecordedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	rec.Method = domain.CorrectionMethod(method)
	return rec, nil
}
