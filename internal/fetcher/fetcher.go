package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"orderGuard/internal/domain"
	"orderGuard/internal/metrics"
	"orderGuard/internal/ports"
)

// batchThreshold is the request size above which one open-orders query
// replaces per-id lookups.
const batchThreshold = 3

type symbolCache struct {
	states map[int64]domain.OrderState
	at     time.Time
}

// Fetcher retrieves live status for sets of order ids while protecting the
// venue from redundant queries: a minimum per-order interval, and a short
// cache for positions with no recent fill/cancel activity. Any observed
// activity invalidates both immediately.
type Fetcher struct {
	logger          ports.Logger
	venue           ports.VenueClient
	minInterval     time.Duration
	stableThreshold time.Duration
	cacheTTL        time.Duration
	now             func() time.Time

	mu           sync.Mutex
	lastQuery    map[int64]time.Time  // per order id
	lastActivity map[string]time.Time // per symbol
	cache        map[string]*symbolCache
}

// Config holds configuration for the fetcher.
type Config struct {
	Logger          ports.Logger
	Venue           ports.VenueClient
	MinInterval     time.Duration    // default 60s
	StableThreshold time.Duration    // default 10m
	CacheTTL        time.Duration    // default 30s
	Now             func() time.Time // injectable clock for tests
}

// New creates a fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Logger == nil || cfg.Venue == nil {
		return nil, fmt.Errorf("missing required dependencies for fetcher")
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 60 * time.Second
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = 10 * time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Fetcher{
		logger:          cfg.Logger,
		venue:           cfg.Venue,
		minInterval:     cfg.MinInterval,
		stableThreshold: cfg.StableThreshold,
		cacheTTL:        cfg.CacheTTL,
		now:             cfg.Now,
		lastQuery:       make(map[int64]time.Time),
		lastActivity:    make(map[string]time.Time),
		cache:           make(map[string]*symbolCache),
	}, nil
}

// RecordActivity notes a fill, partial fill or cancellation observation for
// an instrument. It clears the stable classification and drops the cached
// states immediately; activity-based invalidation takes precedence over TTL.
func (f *Fetcher) RecordActivity(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastActivity[symbol] = f.now()
	delete(f.cache, symbol)
}

// FetchOrderStates retrieves the latest known state for the requested order
// ids. Ids queried less than the minimum interval ago are omitted from the
// result; that is rate limiting, not an error. Ids the venue has no record of
// are likewise omitted and logged as benign.
func (f *Fetcher) FetchOrderStates(ctx context.Context, symbol, account string, orderIDs []int64) (map[int64]domain.OrderState, error) {
	op := "FetchOrderStates"
	result := make(map[int64]domain.OrderState, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	now := f.now()

	f.mu.Lock()
	// Seed the activity baseline on first contact with an instrument so the
	// stable classification has something to age against.
	if _, ok := f.lastActivity[symbol]; !ok {
		f.lastActivity[symbol] = now
	}
	stable := now.Sub(f.lastActivity[symbol]) > f.stableThreshold

	eligible := make([]int64, 0, len(orderIDs))
	for _, id := range orderIDs {
		if last, ok := f.lastQuery[id]; ok && now.Sub(last) < f.minInterval {
			metrics.IncFetchSkipped()
			continue
		}
		eligible = append(eligible, id)
	}

	// A stable position may be served from cache, but only when the cache can
	// supply every requested id; any miss falls through to a live fetch.
	if stable {
		if sc, ok := f.cache[symbol]; ok && now.Sub(sc.at) < f.cacheTTL {
			complete := true
			for _, id := range eligible {
				if _, ok := sc.states[id]; !ok {
					complete = false
					break
				}
			}
			if complete {
				for _, id := range eligible {
					result[id] = sc.states[id]
				}
				f.mu.Unlock()
				f.logger.Debug(ctx, op+": served from stable cache", map[string]interface{}{
					"symbol": symbol,
					"ids":    len(eligible),
				})
				return result, nil
			}
		}
	}
	f.mu.Unlock()

	if len(eligible) == 0 {
		return result, nil
	}

	var err error
	if len(eligible) > batchThreshold {
		err = f.fetchBatch(ctx, symbol, account, eligible, result)
	} else {
		err = f.fetchIndividual(ctx, symbol, eligible, result)
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	for _, id := range eligible {
		f.lastQuery[id] = now
	}
	sc, ok := f.cache[symbol]
	if !ok {
		sc = &symbolCache{states: make(map[int64]domain.OrderState)}
		f.cache[symbol] = sc
	}
	for id, st := range result {
		sc.states[id] = st
	}
	sc.at = now
	f.mu.Unlock()

	return result, nil
}

// fetchBatch issues a single all-open-orders query and filters it by id; ids
// missing from the book fall back to history lookups, since they are most
// likely terminal.
func (f *Fetcher) fetchBatch(ctx context.Context, symbol, account string, ids []int64, out map[int64]domain.OrderState) error {
	op := "FetchOrderStates/batch"
	open, err := f.venue.GetOpenOrders(ctx, symbol, account)
	if err != nil {
		f.classifyAndLog(ctx, err, op, symbol, 0)
		metrics.IncVenueCall("GetOpenOrders", outcomeLabel(err))
		return err
	}
	metrics.IncVenueCall("GetOpenOrders", "ok")

	byID := make(map[int64]ports.OrderResponse, len(open))
	for _, o := range open {
		byID[o.OrderID] = o
	}
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			out[id] = toOrderState(o)
			continue
		}
		f.lookupHistory(ctx, symbol, id, out)
	}
	return nil
}

// fetchIndividual resolves a small id set one lookup at a time.
func (f *Fetcher) fetchIndividual(ctx context.Context, symbol string, ids []int64, out map[int64]domain.OrderState) error {
	for _, id := range ids {
		f.lookupHistory(ctx, symbol, id, out)
	}
	return nil
}

// lookupHistory fetches one order's state from the venue's order query, which
// covers both live and terminal orders. Failures are classified per cause and
// never abort the cycle; the id is simply absent from this cycle's result.
func (f *Fetcher) lookupHistory(ctx context.Context, symbol string, id int64, out map[int64]domain.OrderState) {
	op := "FetchOrderStates/order"
	o, err := f.venue.GetOrderHistory(ctx, symbol, id)
	if err != nil {
		f.classifyAndLog(ctx, err, op, symbol, id)
		metrics.IncVenueCall("GetOrderHistory", outcomeLabel(err))
		return
	}
	metrics.IncVenueCall("GetOrderHistory", "ok")
	if o == nil {
		// Benign: the venue has aged the order out, it is long terminal.
		f.logger.Debug(ctx, op+": order not found at venue", map[string]interface{}{
			"symbol":  symbol,
			"orderID": id,
		})
		return
	}
	out[id] = toOrderState(*o)
}

// classifyAndLog separates error causes so alerting can tell a flaky network
// from a rate-limit rejection from a benignly missing order.
func (f *Fetcher) classifyAndLog(ctx context.Context, err error, op, symbol string, id int64) {
	fields := map[string]interface{}{"symbol": symbol}
	if id != 0 {
		fields["orderID"] = id
	}
	switch {
	case errors.Is(err, ports.ErrRateLimited):
		fields["cause"] = "rate_limit"
		f.logger.Warn(ctx, op+": venue rate limit hit", fields)
	case errors.Is(err, ports.ErrOrderNotFound):
		fields["cause"] = "not_found"
		f.logger.Debug(ctx, op+": order unknown to venue, likely terminal", fields)
	case ports.IsTransient(err):
		fields["cause"] = "network"
		f.logger.Warn(ctx, op+": transient venue failure", fields)
	default:
		f.logger.Error(ctx, err, op+": order state query failed", fields)
	}
}

func outcomeLabel(err error) string {
	switch {
	case ports.IsTransient(err):
		return "transient"
	case ports.IsRejection(err):
		return "rejected"
	default:
		return "error"
	}
}

func toOrderState(o ports.OrderResponse) domain.OrderState {
	return domain.OrderState{
		OrderID:       o.OrderID,
		CorrelationID: o.CorrelationID,
		Symbol:        o.Symbol,
		Status:        o.Status,
		Price:         o.Price,
		AvgFillPrice:  o.AvgPrice,
		Quantity:      o.OrigQuantity,
		FilledQty:     o.ExecutedQty,
		UpdatedAt:     o.Timestamp,
	}
}
