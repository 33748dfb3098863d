package ports

import (
	"context"

	"orderGuard/internal/domain"
)

// CorrectionRepository persists the append-only quantity correction history.
type CorrectionRepository interface {
	// AppendCorrection stores one correction and returns its assigned ID.
	AppendCorrection(ctx context.Context, rec *domain.CorrectionRecord) (int64, error)
	// ListCorrections retrieves the most recent corrections for a symbol,
	// newest first, up to a limit.
	ListCorrections(ctx context.Context, symbol string, limit int) ([]*domain.CorrectionRecord, error)
}

// IdempotencyStore persists idempotency records. The in-memory cache is the
// source of truth within the TTL window; the store is the durable mirror.
type IdempotencyStore interface {
	// PutRecord stores a record. Writing an existing key is not an error;
	// records are immutable so the first write wins.
	PutRecord(ctx context.Context, rec *domain.IdempotencyRecord) error
	// GetRecord retrieves a record by key. Returns nil, nil when absent.
	GetRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	// DeleteExpired removes records older than the given number of seconds.
	DeleteExpired(ctx context.Context, ttlSeconds int) (int64, error)
}
