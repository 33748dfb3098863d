package correction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"orderGuard/internal/domain"
	"orderGuard/internal/execution"
	"orderGuard/internal/metrics"
	"orderGuard/internal/ports"
)

// Report summarizes one correction pass over a take-profit ladder.
type Report struct {
	Symbol    string
	Checked   int
	Corrected int
	Skipped   int // terminal or unknown orders
	Records   []*domain.CorrectionRecord
}

// Corrector repairs take-profit orders whose quantity has drifted from the
// expected share of the current position size. Drift accumulates from partial
// fills and position size changes between reconciliation passes.
type Corrector struct {
	logger  ports.Logger
	venue   ports.VenueClient
	repo    ports.CorrectionRepository
	retrier *execution.Retrier
	now     func() time.Time
}

// Config holds the corrector's collaborators.
type Config struct {
	Logger  ports.Logger
	Venue   ports.VenueClient
	Repo    ports.CorrectionRepository
	Retrier *execution.Retrier
	Now     func() time.Time
}

// New creates a corrector.
func New(cfg Config) (*Corrector, error) {
	if cfg.Logger == nil || cfg.Venue == nil || cfg.Repo == nil || cfg.Retrier == nil {
		return nil, fmt.Errorf("missing required dependencies for corrector")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Corrector{
		logger:  cfg.Logger,
		venue:   cfg.Venue,
		repo:    cfg.Repo,
		retrier: cfg.Retrier,
		now:     cfg.Now,
	}, nil
}

// ExpectedQuantity computes the rung's share of the position size, rounded
// down to the instrument's quantity step.
func ExpectedQuantity(positionSize, fraction, qtyStep float64) float64 {
	if positionSize <= 0 || fraction <= 0 || qtyStep <= 0 {
		return 0
	}
	size := decimal.NewFromFloat(positionSize)
	frac := decimal.NewFromFloat(fraction)
	step := decimal.NewFromFloat(qtyStep)
	raw := size.Mul(frac)
	rounded := raw.Div(step).Floor().Mul(step)
	v, _ := rounded.Float64()
	return v
}

// CorrectQuantities compares each live take-profit order's quantity against
// its expected share of the current position size and repairs mismatches.
// fractions[i] is the expected share for rung i+1; tpOrderIDs[i] is that
// rung's live order id (0 for a rung with no order).
//
// A drift within one quantity step is tolerated. On a real mismatch the
// corrector amends in place first; if the venue cannot amend that order type
// it cancels and replaces at the same trigger price with a derived
// correlation id. Every repair lands in the append-only audit history.
func (c *Corrector) CorrectQuantities(ctx context.Context, symbol, account string, fractions []float64, tpOrderIDs []int64, positionSize, qtyStep float64) (*Report, error) {
	op := "CorrectQuantities"
	if qtyStep <= 0 {
		return nil, fmt.Errorf("%s: quantity step must be positive: %w", op, ports.ErrValidation)
	}
	if len(tpOrderIDs) > len(fractions) {
		return nil, fmt.Errorf("%s: %d order ids for %d rung fractions: %w", op, len(tpOrderIDs), len(fractions), ports.ErrValidation)
	}

	report := &Report{Symbol: symbol}
	for i, orderID := range tpOrderIDs {
		if orderID == 0 {
			continue
		}
		rung := i + 1
		report.Checked++

		live, err := c.venue.GetOrderHistory(ctx, symbol, orderID)
		if err != nil {
			c.logger.Warn(ctx, op+": could not fetch order, skipping rung", map[string]interface{}{
				"symbol":  symbol,
				"rung":    rung,
				"orderID": orderID,
				"error":   err.Error(),
			})
			report.Skipped++
			continue
		}
		if live == nil || live.Status.IsTerminal() {
			report.Skipped++
			continue
		}

		expected := ExpectedQuantity(positionSize, fractions[i], qtyStep)
		if expected <= 0 {
			report.Skipped++
			continue
		}
		drift := live.OrigQuantity - expected
		if drift < 0 {
			drift = -drift
		}
		// One step of drift is rounding noise, not a mismatch.
		if drift <= qtyStep+1e-12 {
			continue
		}

		c.logger.Warn(ctx, op+": quantity drift detected", map[string]interface{}{
			"symbol":   symbol,
			"rung":     rung,
			"orderID":  orderID,
			"liveQty":  live.OrigQuantity,
			"expected": expected,
		})

		rec, corrErr := c.repair(ctx, symbol, rung, live, expected, qtyStep)
		if corrErr != nil {
			c.logger.Error(ctx, corrErr, op+": correction failed", map[string]interface{}{
				"symbol":  symbol,
				"rung":    rung,
				"orderID": orderID,
			})
			report.Skipped++
			continue
		}

		if _, auditErr := c.repo.AppendCorrection(ctx, rec); auditErr != nil {
			// The venue-side repair already happened; a failed audit write is
			// logged, not unwound.
			c.logger.Error(ctx, auditErr, op+": failed to persist correction record", map[string]interface{}{
				"symbol": symbol,
				"rung":   rung,
			})
		}
		metrics.IncCorrection(string(rec.Method))
		report.Corrected++
		report.Records = append(report.Records, rec)
	}

	if report.Corrected > 0 {
		c.logger.Info(ctx, op+": pass completed with corrections", map[string]interface{}{
			"symbol":    symbol,
			"checked":   report.Checked,
			"corrected": report.Corrected,
		})
	}
	return report, nil
}

// repair fixes one drifted order: amend in place, or cancel and replace when
// the venue refuses the amend.
func (c *Corrector) repair(ctx context.Context, symbol string, rung int, live *ports.OrderResponse, expected, qtyStep float64) (*domain.CorrectionRecord, error) {
	qtyStr := formatToStep(expected, qtyStep)

	amendErr := c.retrier.Do(ctx, "AmendOrder", func(ctx context.Context) error {
		_, err := c.venue.AmendOrder(ctx, symbol, live.OrderID, ports.AmendFields{Quantity: qtyStr})
		return err
	})
	if amendErr == nil {
		return c.record(symbol, rung, live.OrderID, live.OrderID, live.OrigQuantity, expected, domain.CorrectionAmend), nil
	}
	if !errors.Is(amendErr, ports.ErrOrderAmendFailed) && !ports.IsRejection(amendErr) {
		return nil, amendErr
	}

	// The venue cannot amend this order type in place. Replace it: cancel,
	// then re-place at the same trigger with the corrected quantity under a
	// fresh correlation id tied to the rung.
	cancelErr := c.retrier.Do(ctx, "CancelOrder", func(ctx context.Context) error {
		_, err := c.venue.CancelOrder(ctx, symbol, live.OrderID)
		return err
	})
	if cancelErr != nil && !ports.IsRejection(cancelErr) {
		return nil, fmt.Errorf("cancel before replace: %w", cancelErr)
	}

	spec := ports.OrderSpec{
		Symbol:        symbol,
		Side:          live.Side,
		Purpose:       domain.PurposeTakeProfit,
		CorrelationID: deriveCorrelationID(rung),
		Quantity:      qtyStr,
		TriggerPrice:  formatPrice(live.Price),
		ReduceOnly:    true,
	}
	var placed *ports.OrderResponse
	placeErr := c.retrier.Do(ctx, "PlaceOrder", func(ctx context.Context) error {
		resp, err := c.venue.PlaceOrder(ctx, spec)
		if err != nil {
			return err
		}
		placed = resp
		return nil
	})
	if placeErr != nil {
		return nil, fmt.Errorf("replacement placement: %w", placeErr)
	}

	return c.record(symbol, rung, live.OrderID, placed.OrderID, live.OrigQuantity, expected, domain.CorrectionReplace), nil
}

func (c *Corrector) record(symbol string, rung int, oldID, newID int64, oldQty, newQty float64, method domain.CorrectionMethod) *domain.CorrectionRecord {
	return &domain.CorrectionRecord{
		Symbol:     symbol,
		Rung:       rung,
		OldQty:     oldQty,
		NewQty:     newQty,
		Method:     method,
		OldOrderID: oldID,
		NewOrderID: newID,
		RecordedAt: c.now(),
	}
}

// deriveCorrelationID produces a client order id that still identifies the
// rung after a replacement.
func deriveCorrelationID(rung int) string {
	return fmt.Sprintf("tp%d-%s", rung, uuid.NewString()[:8])
}

// formatToStep renders a quantity with exactly the precision of the step, so
// the venue never rejects it for excess decimals.
func formatToStep(qty, step float64) string {
	exp := decimal.NewFromFloat(step).Exponent()
	places := int32(0)
	if exp < 0 {
		places = -exp
	}
	return decimal.NewFromFloat(qty).StringFixed(places)
}

func formatPrice(p float64) string {
	return decimal.NewFromFloat(p).String()
}
