package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"orderGuard/internal/domain"
	"orderGuard/internal/metrics"
	"orderGuard/internal/ports"
)

// DefaultIdempotencyTTL is the window within which a keyed operation executes
// at most once.
const DefaultIdempotencyTTL = 300 * time.Second

type idemEntry struct {
	done   chan struct{} // closed once the first execution finishes
	result string
	err    error
	at     time.Time
}

// IdempotencyCache executes a keyed operation at most once per TTL window.
// Duplicate invocations, including concurrent ones, return the first
// execution's outcome without re-invoking the underlying function. Successful
// outcomes are mirrored to the durable store when one is configured.
type IdempotencyCache struct {
	logger ports.Logger
	store  ports.IdempotencyStore // optional durable mirror
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*idemEntry
}

// CacheConfig holds configuration for the idempotency cache.
type CacheConfig struct {
	Logger ports.Logger
	Store  ports.IdempotencyStore // may be nil
	TTL    time.Duration          // zero means DefaultIdempotencyTTL
	Now    func() time.Time       // injectable clock for tests
}

// NewIdempotencyCache creates an idempotency cache.
func NewIdempotencyCache(cfg CacheConfig) (*IdempotencyCache, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for idempotency cache")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &IdempotencyCache{
		logger:  cfg.Logger,
		store:   cfg.Store,
		ttl:     ttl,
		now:     now,
		entries: make(map[string]*idemEntry),
	}, nil
}

// Key canonicalizes an operation name and its arguments into a stable cache
// key: the args joined on a separator that cannot occur in them, then hashed.
func Key(opName string, args ...string) string {
	h := sha256.New()
	h.Write([]byte(opName))
	h.Write([]byte{0x1f})
	h.Write([]byte(strings.Join(args, "\x1f")))
	return opName + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// ExecuteOnce runs fn for the canonical key of (opName, args) unless a
// non-expired record already exists, in which case the recorded outcome is
// returned with wasCached = true. Failed executions are not recorded, so a
// later call may retry the operation.
func (c *IdempotencyCache) ExecuteOnce(ctx context.Context, opName string, args []string, fn func(ctx context.Context) (string, error)) (string, bool, error) {
	key := Key(opName, args...)

	c.mu.Lock()
	c.evictExpiredLocked()

	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			return "", false, fmt.Errorf("%s: %w: %w", opName, ports.ErrContextCanceled, ctx.Err())
		}
		if e.err == nil {
			metrics.IncIdempotency("cached")
			c.logger.Debug(ctx, "ExecuteOnce: returning cached outcome", map[string]interface{}{"op": opName, "key": key})
			return e.result, true, nil
		}
		// First execution failed and has already been dropped from the map;
		// surface its error without claiming a cache hit.
		return "", false, e.err
	}

	// Cold memory miss: the durable store may still hold a fresh record, e.g.
	// after a restart.
	if rec := c.lookupStore(ctx, key); rec != nil {
		e := &idemEntry{done: make(chan struct{}), result: rec.Result, at: rec.RecordedAt}
		close(e.done)
		c.entries[key] = e
		c.mu.Unlock()
		metrics.IncIdempotency("cached")
		return rec.Result, true, nil
	}

	e := &idemEntry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	result, err := fn(ctx)

	c.mu.Lock()
	e.result = result
	e.err = err
	e.at = c.now()
	if err != nil {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	close(e.done)

	if err != nil {
		return "", false, err
	}

	metrics.IncIdempotency("executed")
	c.persist(ctx, key, result, e.at)
	return result, false, nil
}

// evictExpiredLocked opportunistically drops expired records. Caller holds mu.
func (c *IdempotencyCache) evictExpiredLocked() {
	cutoff := c.now().Add(-c.ttl)
	for key, e := range c.entries {
		select {
		case <-e.done:
			if e.at.Before(cutoff) {
				delete(c.entries, key)
			}
		default:
			// still executing, never evict
		}
	}
}

func (c *IdempotencyCache) lookupStore(ctx context.Context, key string) *domain.IdempotencyRecord {
	if c.store == nil {
		return nil
	}
	rec, err := c.store.GetRecord(ctx, key)
	if err != nil {
		c.logger.Warn(ctx, "idempotency store read failed", map[string]interface{}{"key": key, "error": err.Error()})
		return nil
	}
	if rec == nil || rec.RecordedAt.Before(c.now().Add(-c.ttl)) {
		return nil
	}
	return rec
}

// persist mirrors a successful outcome to the durable store. Store failures
// are logged only; the in-memory window still guarantees at-most-once.
func (c *IdempotencyCache) persist(ctx context.Context, key, result string, at time.Time) {
	if c.store == nil {
		return
	}
	rec := &domain.IdempotencyRecord{Key: key, Result: result, RecordedAt: at}
	if err := c.store.PutRecord(ctx, rec); err != nil {
		c.logger.Warn(ctx, "idempotency store write failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
	if _, err := c.store.DeleteExpired(ctx, int(c.ttl.Seconds())); err != nil {
		c.logger.Warn(ctx, "idempotency store eviction failed", map[string]interface{}{"error": err.Error()})
	}
}
