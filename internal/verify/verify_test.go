package verify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderGuard/internal/domain"
	"orderGuard/internal/ports"
)

type mockLogger struct {
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockVenue struct {
	openOrdersByCall [][]ports.OrderResponse // one slice per GetOpenOrders call, last repeats
	openOrdersCalls  int
	openOrdersErr    error
	history          map[int64]*ports.OrderResponse
	historyErr       error
}

func (m *mockVenue) GetPosition(ctx context.Context, symbol, account string) (*domain.Position, error) {
	return nil, nil
}

func (m *mockVenue) GetOpenOrders(ctx context.Context, symbol, account string) ([]ports.OrderResponse, error) {
	m.openOrdersCalls++
	if m.openOrdersErr != nil {
		return nil, m.openOrdersErr
	}
	if len(m.openOrdersByCall) == 0 {
		return nil, nil
	}
	idx := m.openOrdersCalls - 1
	if idx >= len(m.openOrdersByCall) {
		idx = len(m.openOrdersByCall) - 1
	}
	return m.openOrdersByCall[idx], nil
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
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return m.history[orderID], nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newCancelVerifier(t *testing.T, venue *mockVenue) (*CancellationVerifier, *mockLogger) {
	t.Helper()
	ml := &mockLogger{}
	v, err := NewCancellationVerifier(CancellationConfig{Logger: ml, Venue: venue, Account: "main", Sleep: noSleep})
	require.NoError(t, err)
	return v, ml
}

func TestVerifyCancelledEmptyList(t *testing.T) {
	venue := &mockVenue{}
	v, _ := newCancelVerifier(t, venue)

	assert.True(t, v.VerifyCancelled(context.Background(), "ETHUSDT", nil))
	assert.Equal(t, 0, venue.openOrdersCalls, "empty input must not touch the venue")
}

func TestVerifyCancelledSucceedsEarly(t *testing.T) {
	venue := &mockVenue{
		openOrdersByCall: [][]ports.OrderResponse{
			{{OrderID: 42, Type: "STOP_MARKET"}}, // still propagating
			{},                                   // gone on the second look
		},
	}
	v, _ := newCancelVerifier(t, venue)

	assert.True(t, v.VerifyCancelled(context.Background(), "ETHUSDT", []int64{42}))
	assert.Equal(t, 2, venue.openOrdersCalls)
}

func TestVerifyCancelledIgnoresUnrelatedOrders(t *testing.T) {
	venue := &mockVenue{
		openOrdersByCall: [][]ports.OrderResponse{
			{{OrderID: 7, Type: "LIMIT"}}, // someone else's order
		},
	}
	v, _ := newCancelVerifier(t, venue)

	assert.True(t, v.VerifyCancelled(context.Background(), "ETHUSDT", []int64{42}))
	assert.Equal(t, 1, venue.openOrdersCalls)
}

func TestVerifyCancelledReportsEachRemaining(t *testing.T) {
	still := []ports.OrderResponse{
		{OrderID: 42, Type: "STOP_MARKET", Price: 2100, CorrelationID: "SL-abc"},
		{OrderID: 43, Type: "TAKE_PROFIT_MARKET", Price: 1900, CorrelationID: "TP1-abc"},
	}
	venue := &mockVenue{openOrdersByCall: [][]ports.OrderResponse{still}}
	v, ml := newCancelVerifier(t, venue)

	assert.False(t, v.VerifyCancelled(context.Background(), "ETHUSDT", []int64{42, 43}))
	assert.Equal(t, 3, venue.openOrdersCalls, "three attempts before giving up")
	assert.Len(t, ml.errorMsgs, 2, "one error per remaining order")
}

func TestVerifyCancelledToleratesFetchErrors(t *testing.T) {
	venue := &mockVenue{openOrdersErr: fmt.Errorf("flaky: %w", ports.ErrConnectionFailed)}
	v, _ := newCancelVerifier(t, venue)

	assert.False(t, v.VerifyCancelled(context.Background(), "ETHUSDT", []int64{42}))
	assert.Equal(t, 3, venue.openOrdersCalls)
}

// --- FillVerifier ---

func newFillVerifier(t *testing.T, venue *mockVenue) (*FillVerifier, *mockLogger) {
	t.Helper()
	ml := &mockLogger{}
	v, err := NewFillVerifier(ml, venue)
	require.NoError(t, err)
	return v, ml
}

func registerTP1(t *testing.T, v *FillVerifier) {
	t.Helper()
	err := v.Register(context.Background(), "ETHUSDT", []domain.FillRegistration{
		{OrderID: 500, Rung: 1, ExpectedFraction: 0.85, SizeAtRegistration: 1000, Side: domain.Short},
	})
	require.NoError(t, err)
}

func TestCheckFillWithinTolerance(t *testing.T) {
	venue := &mockVenue{history: map[int64]*ports.OrderResponse{
		500: {OrderID: 500, Status: domain.StatusFilled},
	}}
	v, ml := newFillVerifier(t, venue)
	registerTP1(t, v)

	// Remaining size 160 of 1000: actual fraction 0.84 against expected 0.85.
	res, err := v.CheckFill(context.Background(), "ETHUSDT", 1, 160)
	require.NoError(t, err)
	assert.False(t, res.Mismatch)
	assert.InDelta(t, 0.84, res.ActualFraction, 1e-9)
	assert.Empty(t, ml.errorMsgs)
}

func TestCheckFillMismatchFlagged(t *testing.T) {
	venue := &mockVenue{history: map[int64]*ports.OrderResponse{
		500: {OrderID: 500, Status: domain.StatusPartiallyFilled},
	}}
	v, ml := newFillVerifier(t, venue)
	registerTP1(t, v)

	// Remaining size 400: actual fraction 0.60, far outside the 5% band.
	res, err := v.CheckFill(context.Background(), "ETHUSDT", 1, 400)
	require.NoError(t, err)
	assert.True(t, res.Mismatch)
	assert.InDelta(t, 0.60, res.ActualFraction, 1e-9)
	assert.NotEmpty(t, ml.errorMsgs)
}

func TestCheckFillUnfilledOrderNoMismatch(t *testing.T) {
	venue := &mockVenue{history: map[int64]*ports.OrderResponse{
		500: {OrderID: 500, Status: domain.StatusNew},
	}}
	v, _ := newFillVerifier(t, venue)
	registerTP1(t, v)

	res, err := v.CheckFill(context.Background(), "ETHUSDT", 1, 1000)
	require.NoError(t, err)
	assert.False(t, res.Mismatch)
	assert.Zero(t, res.ActualFraction)
}

func TestRegisterRejectsOverfullLadder(t *testing.T) {
	v, _ := newFillVerifier(t, &mockVenue{})

	err := v.Register(context.Background(), "ETHUSDT", []domain.FillRegistration{
		{OrderID: 1, Rung: 1, ExpectedFraction: 0.85, SizeAtRegistration: 1000},
		{OrderID: 2, Rung: 2, ExpectedFraction: 0.25, SizeAtRegistration: 1000},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrValidation)
}

func TestClearRemovesRegistrations(t *testing.T) {
	venue := &mockVenue{history: map[int64]*ports.OrderResponse{
		500: {OrderID: 500, Status: domain.StatusFilled},
	}}
	v, _ := newFillVerifier(t, venue)
	registerTP1(t, v)

	v.Clear("ETHUSDT")
	_, err := v.CheckFill(context.Background(), "ETHUSDT", 1, 160)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}
