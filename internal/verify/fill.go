package verify

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"orderGuard/internal/domain"
	"orderGuard/internal/metrics"
	"orderGuard/internal/ports"
)

// fillTolerance is the absolute tolerance on the observed fill fraction.
const fillTolerance = 0.05

// FillVerifier compares the actual position-size reduction after a take-profit
// rung reports as filled against its registered expected share. It reports
// mismatches and never corrects state itself; the drift corrector runs on a
// separate cadence.
type FillVerifier struct {
	logger ports.Logger
	venue  ports.VenueClient
	now    func() time.Time

	mu            sync.RWMutex
	registrations map[string]map[int]*domain.FillRegistration // symbol -> rung
}

// NewFillVerifier creates a fill verifier.
func NewFillVerifier(logger ports.Logger, venue ports.VenueClient) (*FillVerifier, error) {
	if logger == nil || venue == nil {
		return nil, fmt.Errorf("missing required dependencies for fill verifier")
	}
	return &FillVerifier{
		logger:        logger,
		venue:         venue,
		now:           time.Now,
		registrations: make(map[string]map[int]*domain.FillRegistration),
	}, nil
}

// Register stores the expected outcome for a batch of take-profit rungs just
// placed for an instrument. The rung fractions must not sum above 1.
func (v *FillVerifier) Register(ctx context.Context, symbol string, regs []domain.FillRegistration) error {
	op := "Register"
	var total float64
	for _, r := range regs {
		if r.ExpectedFraction <= 0 || r.ExpectedFraction > 1 {
			return fmt.Errorf("%s: rung %d fraction %.4f out of range: %w", op, r.Rung, r.ExpectedFraction, ports.ErrValidation)
		}
		if r.SizeAtRegistration <= 0 {
			return fmt.Errorf("%s: rung %d registered size must be positive: %w", op, r.Rung, ports.ErrValidation)
		}
		total += r.ExpectedFraction
	}
	if total > 1+1e-9 {
		return fmt.Errorf("%s: rung fractions sum to %.4f (> 1): %w", op, total, ports.ErrValidation)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	byRung, ok := v.registrations[symbol]
	if !ok {
		byRung = make(map[int]*domain.FillRegistration)
		v.registrations[symbol] = byRung
	}
	for i := range regs {
		r := regs[i]
		r.RegisteredAt = v.now()
		byRung[r.Rung] = &r
	}
	v.logger.Debug(ctx, op+": expected fills registered", map[string]interface{}{
		"symbol": symbol,
		"rungs":  len(regs),
	})
	return nil
}

// CheckFill verifies one rung against the current position size. An unknown
// rung surfaces ports.ErrNotFound; a rung whose order has not filled yet
// yields a zero-value result with Mismatch false.
func (v *FillVerifier) CheckFill(ctx context.Context, symbol string, rung int, currentSize float64) (domain.FillCheckResult, error) {
	op := "CheckFill"

	v.mu.RLock()
	var reg *domain.FillRegistration
	if byRung, ok := v.registrations[symbol]; ok {
		reg = byRung[rung]
	}
	v.mu.RUnlock()
	if reg == nil {
		return domain.FillCheckResult{}, fmt.Errorf("%s: no registration for %s rung %d: %w", op, symbol, rung, ports.ErrNotFound)
	}

	state, err := v.venue.GetOrderHistory(ctx, symbol, reg.OrderID)
	if err != nil {
		return domain.FillCheckResult{}, fmt.Errorf("%s: order lookup failed: %w", op, err)
	}
	if state == nil || (state.Status != domain.StatusFilled && state.Status != domain.StatusPartiallyFilled) {
		v.logger.Debug(ctx, op+": rung not filled yet", map[string]interface{}{
			"symbol": symbol,
			"rung":   rung,
		})
		return domain.FillCheckResult{OrderID: reg.OrderID, Rung: rung, ExpectedFraction: reg.ExpectedFraction}, nil
	}

	actual := (reg.SizeAtRegistration - currentSize) / reg.SizeAtRegistration
	result := domain.FillCheckResult{
		OrderID:          reg.OrderID,
		Rung:             rung,
		ExpectedFraction: reg.ExpectedFraction,
		ActualFraction:   actual,
		Mismatch:         math.Abs(actual-reg.ExpectedFraction) > fillTolerance,
	}

	if result.Mismatch {
		metrics.IncFillMismatch()
		v.logger.Error(ctx, ports.ErrReconciliationMismatch, op+": fill fraction outside tolerance", map[string]interface{}{
			"symbol":           symbol,
			"rung":             rung,
			"orderID":          reg.OrderID,
			"expectedFraction": reg.ExpectedFraction,
			"actualFraction":   actual,
			"registeredSize":   reg.SizeAtRegistration,
			"currentSize":      currentSize,
		})
	} else {
		v.logger.Debug(ctx, op+": fill within tolerance", map[string]interface{}{
			"symbol":           symbol,
			"rung":             rung,
			"expectedFraction": reg.ExpectedFraction,
			"actualFraction":   actual,
		})
	}

	v.mu.Lock()
	reg.Verified = true
	v.mu.Unlock()

	return result, nil
}

// Clear tears down all registrations for an instrument.
func (v *FillVerifier) Clear(symbol string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.registrations, symbol)
}
