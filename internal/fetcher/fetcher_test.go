package fetcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderGuard/internal/domain"
	"orderGuard/internal/ports"
)

type mockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	warnMsgs  []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockVenue struct {
	openOrders     []ports.OrderResponse
	openOrdersErr  error
	openOrderCalls int

	history      map[int64]*ports.OrderResponse
	historyErr   error
	historyCalls int
}

func (m *mockVenue) GetPosition(ctx context.Context, symbol, account string) (*domain.Position, error) {
	return nil, nil
}

func (m *mockVenue) GetOpenOrders(ctx context.Context, symbol, account string) ([]ports.OrderResponse, error) {
	m.openOrderCalls++
	if m.openOrdersErr != nil {
		return nil, m.openOrdersErr
	}
	return m.openOrders, nil
}

func (m *mockVenue) PlaceOrder(ctx context.Context, spec ports.OrderSpec) (*ports.OrderResponse, error) {
	return nil, nil
}

func (m *mockVenue) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	return nil, nil
}

func (m *mockVenue) AmendOrder(ctx context.Context, symbol string, orderID int64, fields ports.AmendFields) (*ports.OrderResponse, error) {
	return nil, nil
}

func (m *mockVenue) GetOrderHistory(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	m.historyCalls++
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	if o, ok := m.history[orderID]; ok {
		return o, nil
	}
	return nil, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestFetcher(t *testing.T, venue *mockVenue, clock *fakeClock) *Fetcher {
	t.Helper()
	f, err := New(Config{
		Logger:          &mockLogger{},
		Venue:           venue,
		MinInterval:     60 * time.Second,
		StableThreshold: 10 * time.Minute,
		CacheTTL:        30 * time.Second,
		Now:             clock.Now,
	})
	require.NoError(t, err)
	return f
}

func resp(id int64, status domain.OrderStatus) ports.OrderResponse {
	return ports.OrderResponse{
		OrderID:      id,
		Symbol:       "BTCUSDT",
		Status:       status,
		Price:        42000,
		OrigQuantity: 100,
	}
}

func respPtr(id int64, status domain.OrderStatus) *ports.OrderResponse {
	r := resp(id, status)
	return &r
}

func TestFetchSkipsRecentlyQueriedIDs(t *testing.T) {
	venue := &mockVenue{history: map[int64]*ports.OrderResponse{
		100: respPtr(100, domain.StatusNew),
	}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f := newTestFetcher(t, venue, clock)
	ctx := context.Background()

	states, err := f.FetchOrderStates(ctx, "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	require.Contains(t, states, int64(100))
	assert.Equal(t, 1, venue.historyCalls)

	// Within the minimum interval the id is rate limited: omitted from the
	// result, and no venue call is made.
	clock.Advance(30 * time.Second)
	states, err = f.FetchOrderStates(ctx, "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	assert.NotContains(t, states, int64(100))
	assert.Equal(t, 1, venue.historyCalls)

	// Past the interval it is queried again.
	clock.Advance(31 * time.Second)
	states, err = f.FetchOrderStates(ctx, "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	assert.Contains(t, states, int64(100))
	assert.Equal(t, 2, venue.historyCalls)
}

func TestFetchBatchesLargeRequests(t *testing.T) {
	venue := &mockVenue{
		openOrders: []ports.OrderResponse{
			resp(100, domain.StatusNew),
			resp(101, domain.StatusPartiallyFilled),
			resp(102, domain.StatusNew),
			resp(999, domain.StatusNew), // unrelated order on the book
		},
		history: map[int64]*ports.OrderResponse{
			103: respPtr(103, domain.StatusFilled),
		},
	}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f := newTestFetcher(t, venue, clock)

	states, err := f.FetchOrderStates(context.Background(), "BTCUSDT", "main", []int64{100, 101, 102, 103})
	require.NoError(t, err)

	assert.Equal(t, 1, venue.openOrderCalls)
	// Only the id absent from the book needs a history lookup.
	assert.Equal(t, 1, venue.historyCalls)

	require.Len(t, states, 4)
	assert.Equal(t, domain.StatusPartiallyFilled, states[101].Status)
	assert.Equal(t, domain.StatusFilled, states[103].Status)
	assert.NotContains(t, states, int64(999))
}

func TestFetchIndividualForSmallRequests(t *testing.T) {
	venue := &mockVenue{history: map[int64]*ports.OrderResponse{
		100: respPtr(100, domain.StatusNew),
		101: respPtr(101, domain.StatusCancelled),
	}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f := newTestFetcher(t, venue, clock)

	states, err := f.FetchOrderStates(context.Background(), "BTCUSDT", "main", []int64{100, 101})
	require.NoError(t, err)

	assert.Equal(t, 0, venue.openOrderCalls)
	assert.Equal(t, 2, venue.historyCalls)
	require.Len(t, states, 2)
	assert.Equal(t, domain.StatusCancelled, states[101].Status)
}

func TestFetchStableCacheServesCompleteHits(t *testing.T) {
	venue := &mockVenue{history: map[int64]*ports.OrderResponse{
		100: respPtr(100, domain.StatusNew),
	}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	// Cache TTL longer than the per-id interval, so a cached read can satisfy
	// an id that is past its rate-limit window.
	f, err := New(Config{
		Logger:          &mockLogger{},
		Venue:           venue,
		MinInterval:     60 * time.Second,
		StableThreshold: 10 * time.Minute,
		CacheTTL:        5 * time.Minute,
		Now:             clock.Now,
	})
	require.NoError(t, err)
	ctx := context.Background()

	// First fetch seeds the activity baseline and the cache.
	_, err = f.FetchOrderStates(ctx, "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	require.Equal(t, 1, venue.historyCalls)

	// Age past the stable threshold, then fetch again: the position is now
	// stable. The cache entry is too old to serve, so this is a live fetch
	// that refreshes it.
	clock.Advance(11 * time.Minute)
	_, err = f.FetchOrderStates(ctx, "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	require.Equal(t, 2, venue.historyCalls)

	// A fresh cache on a stable position answers without touching the venue,
	// even past the per-id minimum interval window's start.
	clock.Advance(61 * time.Second)
	states, err := f.FetchOrderStates(ctx, "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	assert.Contains(t, states, int64(100))
	assert.Equal(t, 2, venue.historyCalls)
}

func TestFetchStableCacheMissFallsThrough(t *testing.T) {
	venue := &mockVenue{history: map[int64]*ports.OrderResponse{
		100: respPtr(100, domain.StatusNew),
		200: respPtr(200, domain.StatusNew),
	}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f := newTestFetcher(t, venue, clock)
	ctx := context.Background()

	_, err := f.FetchOrderStates(ctx, "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	clock.Advance(11 * time.Minute)
	_, err = f.FetchOrderStates(ctx, "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	calls := venue.historyCalls

	// Stable, fresh cache, but the request includes an id the cache has never
	// seen: the whole request goes to the venue.
	clock.Advance(61 * time.Second)
	states, err := f.FetchOrderStates(ctx, "BTCUSDT", "main", []int64{100, 200})
	require.NoError(t, err)
	assert.Greater(t, venue.historyCalls, calls)
	assert.Contains(t, states, int64(200))
}

func TestRecordActivityInvalidatesCache(t *testing.T) {
	venue := &mockVenue{history: map[int64]*ports.OrderResponse{
		100: respPtr(100, domain.StatusNew),
	}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f := newTestFetcher(t, venue, clock)
	ctx := context.Background()

	_, err := f.FetchOrderStates(ctx, "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	clock.Advance(11 * time.Minute)
	_, err = f.FetchOrderStates(ctx, "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	calls := venue.historyCalls

	// A partial fill lands. The stable classification and the cache both go;
	// the next eligible fetch hits the venue.
	f.RecordActivity("BTCUSDT")
	clock.Advance(61 * time.Second)
	_, err = f.FetchOrderStates(ctx, "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	assert.Equal(t, calls+1, venue.historyCalls)
}

func TestFetchToleratesPerOrderLookupFailures(t *testing.T) {
	venue := &mockVenue{historyErr: ports.ErrConnectionFailed}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f := newTestFetcher(t, venue, clock)

	// Per-id lookup failures do not abort the cycle: the id is simply absent
	// from this cycle's result.
	states, err := f.FetchOrderStates(context.Background(), "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestFetchBatchQueryFailureAborts(t *testing.T) {
	venue := &mockVenue{openOrdersErr: ports.ErrExchangeUnavailable}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f := newTestFetcher(t, venue, clock)

	_, err := f.FetchOrderStates(context.Background(), "BTCUSDT", "main", []int64{100, 101, 102, 103})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
}

func TestFetchUnknownOrderOmitted(t *testing.T) {
	venue := &mockVenue{history: map[int64]*ports.OrderResponse{}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f := newTestFetcher(t, venue, clock)

	states, err := f.FetchOrderStates(context.Background(), "BTCUSDT", "main", []int64{100})
	require.NoError(t, err)
	assert.Empty(t, states)
}
