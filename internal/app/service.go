package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"orderGuard/config"
	"orderGuard/internal/correction"
	"orderGuard/internal/domain"
	"orderGuard/internal/execution"
	"orderGuard/internal/fetcher"
	"orderGuard/internal/merge"
	"orderGuard/internal/ports"
	"orderGuard/internal/verify"
)

// GuardService orchestrates protective-order reconciliation for one account:
// merging requested order sets with what is live at the venue, cancelling and
// placing atomically, and running the background monitor that keeps tracked
// state, quantities and fill expectations honest.
type GuardService struct {
	cfg        *config.Config
	logger     ports.Logger
	venue      ports.VenueClient
	repo       ports.CorrectionRepository
	calculator *merge.Calculator
	executor   *execution.Executor
	retrier    *execution.Retrier
	cancelVrf  *verify.CancellationVerifier
	fillVrf    *verify.FillVerifier
	fetcher    *fetcher.Fetcher
	corrector  *correction.Corrector
	locks      *execution.LockManager // shared with the executor

	// State fields. mu guards the maps below; the fields of each
	// TrackedOrders entry are guarded by the lock manager's instrument mutex,
	// the same one the executor holds while cancelling. mu is never acquired
	// before an instrument mutex in the other order.
	mu         sync.Mutex
	tracked    map[string]*domain.TrackedOrders
	lastFilled map[int64]float64 // Last observed filled quantity per order id
}

// GuardConfig carries the service's collaborators.
type GuardConfig struct {
	Cfg        *config.Config
	Logger     ports.Logger
	Venue      ports.VenueClient
	Repo       ports.CorrectionRepository
	Calculator *merge.Calculator
	Executor   *execution.Executor
	Retrier    *execution.Retrier
	CancelVrf  *verify.CancellationVerifier
	FillVrf    *verify.FillVerifier
	Fetcher    *fetcher.Fetcher
	Corrector  *correction.Corrector
	Locks      *execution.LockManager // must be the executor's lock manager
}

// NewGuardService creates a new application service instance.
func NewGuardService(cfg GuardConfig) (*GuardService, error) {
	if cfg.Cfg == nil || cfg.Logger == nil || cfg.Venue == nil || cfg.Repo == nil ||
		cfg.Calculator == nil || cfg.Executor == nil || cfg.Retrier == nil ||
		cfg.CancelVrf == nil || cfg.FillVrf == nil || cfg.Fetcher == nil || cfg.Corrector == nil ||
		cfg.Locks == nil {
		return nil, fmt.Errorf("missing required dependencies for GuardService")
	}
	return &GuardService{
		cfg:        cfg.Cfg,
		logger:     cfg.Logger,
		venue:      cfg.Venue,
		repo:       cfg.Repo,
		calculator: cfg.Calculator,
		executor:   cfg.Executor,
		retrier:    cfg.Retrier,
		cancelVrf:  cfg.CancelVrf,
		fillVrf:    cfg.FillVrf,
		fetcher:    cfg.Fetcher,
		corrector:  cfg.Corrector,
		locks:      cfg.Locks,
		tracked:    make(map[string]*domain.TrackedOrders),
		lastFilled: make(map[int64]float64),
	}, nil
}

// Tracked returns the tracked-order state for an instrument, creating it on
// first use.
func (s *GuardService) Tracked(symbol string) *domain.TrackedOrders {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracked[symbol]
	if !ok {
		t = &domain.TrackedOrders{Symbol: symbol}
		s.tracked[symbol] = t
	}
	return t
}

// MergeProtection combines the protective orders currently live at the venue
// with a newly requested order set. It reads the venue's view first, so a
// caller never overwrites protection it did not know about.
func (s *GuardService) MergeProtection(ctx context.Context, symbol string, requested domain.OrderSet) (*merge.Result, error) {
	op := "MergeProtection"

	var pos *domain.Position
	err := s.retrier.Do(ctx, "GetPosition", func(ctx context.Context) error {
		var venueErr error
		pos, venueErr = s.venue.GetPosition(ctx, symbol, s.cfg.Account)
		return venueErr
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !pos.IsOpen() {
		return nil, fmt.Errorf("%s: no open position for %s: %w", op, symbol, ports.ErrPositionNotFound)
	}

	var open []ports.OrderResponse
	err = s.retrier.Do(ctx, "GetOpenOrders", func(ctx context.Context) error {
		var venueErr error
		open, venueErr = s.venue.GetOpenOrders(ctx, symbol, s.cfg.Account)
		return venueErr
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	existing := s.classifyOpenOrders(ctx, open)
	result, err := s.calculator.Merge(ctx, merge.Request{
		Symbol:    symbol,
		Side:      pos.Side,
		MarkPrice: pos.MarkPrice,
		Approach:  s.cfg.Approach,
		Existing:  existing,
		Requested: requested,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, op+" resolved", map[string]interface{}{
		"symbol":            symbol,
		"slPrice":           result.SLPrice,
		"tpRungs":           len(result.TPs),
		"parametersChanged": result.ParametersChanged,
	})
	return result, nil
}

// CancelOrdersAtomic cancels a batch of tracked orders for an instrument.
func (s *GuardService) CancelOrdersAtomic(ctx context.Context, symbol string, orderIDs []int64, opClass domain.OperationClass) (succeeded, failed []int64, err error) {
	succeeded, failed, err = s.executor.CancelOrdersAtomic(ctx, symbol, orderIDs, s.Tracked(symbol), opClass)
	if len(succeeded) > 0 {
		s.fetcher.RecordActivity(symbol)
	}
	return succeeded, failed, err
}

// VerifyCancelled confirms that the venue's book no longer carries any of the
// given orders.
func (s *GuardService) VerifyCancelled(ctx context.Context, symbol string, orderIDs []int64) bool {
	return s.cancelVrf.VerifyCancelled(ctx, symbol, orderIDs)
}

// FetchOrderStates retrieves the latest known state of the given orders,
// subject to the fetcher's per-id rate limit and stable-position cache.
func (s *GuardService) FetchOrderStates(ctx context.Context, symbol string, orderIDs []int64) (map[int64]domain.OrderState, error) {
	return s.fetcher.FetchOrderStates(ctx, symbol, s.cfg.Account, orderIDs)
}

// CorrectQuantities runs one drift-correction pass over the instrument's live
// take-profit ladder.
func (s *GuardService) CorrectQuantities(ctx context.Context, symbol string) (*correction.Report, error) {
	op := "CorrectQuantities"

	var pos *domain.Position
	err := s.retrier.Do(ctx, "GetPosition", func(ctx context.Context) error {
		var venueErr error
		pos, venueErr = s.venue.GetPosition(ctx, symbol, s.cfg.Account)
		return venueErr
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !pos.IsOpen() {
		return &correction.Report{Symbol: symbol}, nil
	}

	t := s.Tracked(symbol)
	state := s.locks.AcquireInstrument(symbol)
	state.Lock()
	tpIDs := append([]int64(nil), t.TPOrderIDs...)
	state.Unlock()

	report, err := s.corrector.CorrectQuantities(ctx, symbol, s.cfg.Account,
		s.cfg.Approach.FractionTable(), tpIDs, pos.Size, s.cfg.QtyStep)
	if err != nil {
		return nil, err
	}

	// Replacements leave the old id dangling in tracked state; swap them in.
	if len(report.Records) > 0 {
		state.Lock()
		for _, rec := range report.Records {
			if rec.Method == domain.CorrectionReplace {
				for i, id := range t.TPOrderIDs {
					if id == rec.OldOrderID {
						t.TPOrderIDs[i] = rec.NewOrderID
					}
				}
			}
		}
		state.Unlock()
		s.fetcher.RecordActivity(symbol)
	}
	return report, nil
}

// RegisterExpectedFills stores the expected fraction per take-profit rung so
// later fills can be checked against them.
func (s *GuardService) RegisterExpectedFills(ctx context.Context, symbol string, regs []domain.FillRegistration) error {
	return s.fillVrf.Register(ctx, symbol, regs)
}

// CheckFill verifies one rung's reported fill against its registration.
func (s *GuardService) CheckFill(ctx context.Context, symbol string, rung int, currentSize float64) (domain.FillCheckResult, error) {
	return s.fillVrf.CheckFill(ctx, symbol, rung, currentSize)
}

// ListCorrections returns the most recent quantity corrections for an
// instrument, newest first.
func (s *GuardService) ListCorrections(ctx context.Context, symbol string, limit int) ([]*domain.CorrectionRecord, error) {
	return s.repo.ListCorrections(ctx, symbol, limit)
}

// Teardown drops everything the engine tracks for an instrument: fill
// registrations, the tracked-order entry and the per-order fill watermarks.
// Venue orders are untouched; cancel them first if that is the intent.
func (s *GuardService) Teardown(ctx context.Context, symbol string) {
	t := s.Tracked(symbol)

	state := s.locks.AcquireInstrument(symbol)
	state.Lock()
	s.mu.Lock()
	for _, id := range t.TPOrderIDs {
		delete(s.lastFilled, id)
	}
	for _, id := range t.LimitOrderIDs {
		delete(s.lastFilled, id)
	}
	delete(s.lastFilled, t.SLOrderID)
	delete(s.tracked, symbol)
	s.mu.Unlock()
	state.Unlock()

	s.fillVrf.Clear(symbol)
	s.logger.Info(ctx, "Instrument tracking torn down", map[string]interface{}{"symbol": symbol})
}

// Start runs the reconciliation monitor until the context is cancelled or a
// shutdown signal arrives.
func (s *GuardService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Order Guard Service...", map[string]interface{}{
		"symbol":          s.cfg.Symbol,
		"approach":        s.cfg.Approach,
		"monitorInterval": s.cfg.MonitorInterval.String(),
	})

	// Create a context that can be canceled by signals
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	// Seed the tracked state from whatever is live at the venue, so a restart
	// does not orphan resting orders.
	if err := s.syncTrackedState(ctx, s.cfg.Symbol); err != nil {
		s.logger.Error(ctx, err, "Failed to synchronize initial order state")
		return fmt.Errorf("failed to synchronize initial state: %w", err)
	}

	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Order Guard Service stopping", nil)
			return ctx.Err()
		case <-ticker.C:
			s.runMonitorCycle(ctx, s.cfg.Symbol)
		}
	}
}

// syncTrackedState rebuilds the tracked-order lists from the venue's open
// orders.
func (s *GuardService) syncTrackedState(ctx context.Context, symbol string) error {
	var open []ports.OrderResponse
	err := s.retrier.Do(ctx, "GetOpenOrders", func(ctx context.Context) error {
		var venueErr error
		open, venueErr = s.venue.GetOpenOrders(ctx, symbol, s.cfg.Account)
		return venueErr
	})
	if err != nil {
		return err
	}

	t := s.Tracked(symbol)
	state := s.locks.AcquireInstrument(symbol)
	state.Lock()
	defer state.Unlock()
	t.SLOrderID = 0
	t.TPOrderIDs = nil
	t.LimitOrderIDs = nil
	for _, o := range open {
		switch classifyOrderType(o.Type) {
		case domain.PurposeStopLoss:
			t.SLOrderID = o.OrderID
		case domain.PurposeTakeProfit:
			t.TPOrderIDs = append(t.TPOrderIDs, o.OrderID)
		case domain.PurposeLimitEntry:
			t.LimitOrderIDs = append(t.LimitOrderIDs, o.OrderID)
		}
	}
	if t.SLOrderID != 0 || len(t.TPOrderIDs) > 0 {
		t.StatusMarker = "protected"
	}
	s.logger.Info(ctx, "Tracked state synchronized from venue", map[string]interface{}{
		"symbol":      symbol,
		"slOrderID":   t.SLOrderID,
		"tpOrders":    len(t.TPOrderIDs),
		"limitOrders": len(t.LimitOrderIDs),
	})
	return nil
}

// runMonitorCycle is one tick of the background reconciliation loop: observe
// order states, register activity, verify fills, repair drift.
func (s *GuardService) runMonitorCycle(ctx context.Context, symbol string) {
	op := "MonitorCycle"
	t := s.Tracked(symbol)

	state := s.locks.AcquireInstrument(symbol)
	state.Lock()
	ids := make([]int64, 0, 1+len(t.TPOrderIDs)+len(t.LimitOrderIDs))
	if t.SLOrderID != 0 {
		ids = append(ids, t.SLOrderID)
	}
	ids = append(ids, t.TPOrderIDs...)
	ids = append(ids, t.LimitOrderIDs...)
	state.Unlock()

	if len(ids) == 0 {
		return
	}

	states, err := s.fetcher.FetchOrderStates(ctx, symbol, s.cfg.Account, ids)
	if err != nil {
		s.logger.Warn(ctx, op+": order state fetch failed, skipping cycle", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
		return
	}

	filledRungs := s.applyObservations(ctx, symbol, t, states)

	for _, rung := range filledRungs {
		s.verifyRungFill(ctx, symbol, rung)
	}

	if _, err := s.CorrectQuantities(ctx, symbol); err != nil {
		s.logger.Warn(ctx, op+": drift correction pass failed", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
	}
}

// applyObservations folds fetched order states into the tracked lists and
// returns the rungs whose take-profit orders were observed filled.
func (s *GuardService) applyObservations(ctx context.Context, symbol string, t *domain.TrackedOrders, states map[int64]domain.OrderState) []int {
	op := "MonitorCycle"
	var filledRungs []int
	activity := false

	state := s.locks.AcquireInstrument(symbol)
	state.Lock()
	s.mu.Lock()
	tpSet := make(map[int64]int, len(t.TPOrderIDs))
	for i, id := range t.TPOrderIDs {
		tpSet[id] = i + 1
	}
	for id, st := range states {
		if st.FilledQty > s.lastFilled[id] {
			s.lastFilled[id] = st.FilledQty
			activity = true
		}
		if !st.Status.IsTerminal() {
			continue
		}
		activity = true
		if st.Status == domain.StatusFilled {
			if rung := rungFromCorrelationID(st.CorrelationID); rung > 0 {
				filledRungs = append(filledRungs, rung)
			} else if r, ok := tpSet[id]; ok {
				filledRungs = append(filledRungs, r)
			}
		}
		t.RemoveOrderID(id)
		delete(s.lastFilled, id)
		s.logger.Info(ctx, op+": tracked order reached terminal state", map[string]interface{}{
			"symbol":  symbol,
			"orderID": id,
			"status":  st.Status,
		})
	}
	s.mu.Unlock()
	state.Unlock()

	if activity {
		s.fetcher.RecordActivity(symbol)
	}
	return filledRungs
}

// verifyRungFill checks a filled take-profit rung against its registered
// expectation. Mismatches are reported, never acted on here.
func (s *GuardService) verifyRungFill(ctx context.Context, symbol string, rung int) {
	op := "MonitorCycle"

	var pos *domain.Position
	err := s.retrier.Do(ctx, "GetPosition", func(ctx context.Context) error {
		var venueErr error
		pos, venueErr = s.venue.GetPosition(ctx, symbol, s.cfg.Account)
		return venueErr
	})
	if err != nil {
		s.logger.Warn(ctx, op+": could not read position for fill check", map[string]interface{}{
			"symbol": symbol,
			"rung":   rung,
			"error":  err.Error(),
		})
		return
	}

	currentSize := 0.0
	if pos.IsOpen() {
		currentSize = pos.Size
	}
	result, err := s.fillVrf.CheckFill(ctx, symbol, rung, currentSize)
	if err != nil {
		s.logger.Debug(ctx, op+": no fill registration for rung", map[string]interface{}{
			"symbol": symbol,
			"rung":   rung,
		})
		return
	}
	if result.Mismatch {
		s.logger.Warn(ctx, op+": fill fraction mismatch reported", map[string]interface{}{
			"symbol":           symbol,
			"rung":             rung,
			"expectedFraction": result.ExpectedFraction,
			"actualFraction":   result.ActualFraction,
		})
	}
}

// classifyOpenOrders folds the venue's open orders into an OrderSet the merge
// calculator understands. Limit entries are not part of protection and are
// skipped.
func (s *GuardService) classifyOpenOrders(ctx context.Context, open []ports.OrderResponse) domain.OrderSet {
	var set domain.OrderSet
	nextRung := 1
	for _, o := range open {
		switch classifyOrderType(o.Type) {
		case domain.PurposeStopLoss:
			set.SLPrice = o.Price
		case domain.PurposeTakeProfit:
			rung := rungFromCorrelationID(o.CorrelationID)
			if rung == 0 {
				rung = nextRung
			}
			nextRung = rung + 1
			set.TPs = append(set.TPs, domain.TPRung{
				Rung:     rung,
				Price:    o.Price,
				Quantity: o.OrigQuantity,
			})
		}
	}
	return set
}

// classifyOrderType maps a venue order type string to the purpose taxonomy.
func classifyOrderType(orderType string) domain.OrderPurpose {
	switch orderType {
	case "STOP_MARKET", "STOP":
		return domain.PurposeStopLoss
	case "TAKE_PROFIT_MARKET", "TAKE_PROFIT":
		return domain.PurposeTakeProfit
	case "LIMIT":
		return domain.PurposeLimitEntry
	default:
		return ""
	}
}

// rungFromCorrelationID extracts the rung number from correlation ids of the
// form "tp<rung>-<suffix>". Returns 0 when the id does not carry one.
func rungFromCorrelationID(correlationID string) int {
	if !strings.HasPrefix(correlationID, "tp") {
		return 0
	}
	rest := correlationID[2:]
	if i := strings.IndexByte(rest, '-'); i > 0 {
		rest = rest[:i]
	}
	rung, err := strconv.Atoi(rest)
	if err != nil || rung < 1 || rung > domain.MaxRungs {
		return 0
	}
	return rung
}
