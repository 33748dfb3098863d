package verify

import (
	"context"
	"fmt"
	"time"

	"orderGuard/internal/execution"
	"orderGuard/internal/metrics"
	"orderGuard/internal/ports"
)

// cancelWaits are the inter-attempt waits tolerating venue propagation delay:
// a cancelled order can linger on the open-order list for a short while.
var cancelWaits = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// CancellationVerifier polls the venue's open-order list with increasing wait
// intervals to confirm a batch of orders has actually left the book.
type CancellationVerifier struct {
	logger  ports.Logger
	venue   ports.VenueClient
	account string
	sleep   execution.SleepFunc
}

// CancellationConfig holds the verifier's collaborators.
type CancellationConfig struct {
	Logger  ports.Logger
	Venue   ports.VenueClient
	Account string
	Sleep   execution.SleepFunc // default ContextSleep
}

// NewCancellationVerifier creates a cancellation verifier.
func NewCancellationVerifier(cfg CancellationConfig) (*CancellationVerifier, error) {
	if cfg.Logger == nil || cfg.Venue == nil {
		return nil, fmt.Errorf("missing required dependencies for cancellation verifier")
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = execution.ContextSleep
	}
	return &CancellationVerifier{logger: cfg.Logger, venue: cfg.Venue, account: cfg.Account, sleep: sleep}, nil
}

// VerifyCancelled returns true as soon as none of the requested order ids
// remain on the book. An empty input list trivially verifies as true. After
// the final attempt it logs every remaining order's details and returns false.
func (v *CancellationVerifier) VerifyCancelled(ctx context.Context, symbol string, orderIDs []int64) bool {
	op := "VerifyCancelled"
	if len(orderIDs) == 0 {
		return true
	}

	wanted := make(map[int64]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = struct{}{}
	}

	var remaining []ports.OrderResponse
	for attempt := 0; attempt < len(cancelWaits); attempt++ {
		if err := v.sleep(ctx, cancelWaits[attempt]); err != nil {
			v.logger.Warn(ctx, op+": aborted while waiting", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			return false
		}

		open, err := v.venue.GetOpenOrders(ctx, symbol, v.account)
		if err != nil {
			v.logger.Error(ctx, err, op+": failed to fetch open orders", map[string]interface{}{
				"symbol":  symbol,
				"attempt": attempt + 1,
			})
			continue
		}

		remaining = remaining[:0]
		for _, o := range open {
			if _, ok := wanted[o.OrderID]; ok {
				remaining = append(remaining, o)
			}
		}
		if len(remaining) == 0 {
			metrics.IncCancelVerify("confirmed")
			v.logger.Debug(ctx, op+": all orders left the book", map[string]interface{}{
				"symbol":   symbol,
				"attempts": attempt + 1,
			})
			return true
		}
		v.logger.Debug(ctx, op+": orders still on the book", map[string]interface{}{
			"symbol":    symbol,
			"attempt":   attempt + 1,
			"remaining": len(remaining),
		})
	}

	for _, o := range remaining {
		v.logger.Error(ctx, ports.ErrReconciliationMismatch, op+": order still on the book after final attempt", map[string]interface{}{
			"symbol":        symbol,
			"orderID":       o.OrderID,
			"type":          o.Type,
			"price":         o.Price,
			"correlationID": o.CorrelationID,
		})
	}
	metrics.IncCancelVerify("unconfirmed")
	return false
}
