package execution

import (
	"context"
	"fmt"
	"strconv"

	"orderGuard/internal/domain"
	"orderGuard/internal/metrics"
	"orderGuard/internal/ports"
)

// Executor is the serialized, idempotent mutation layer for order cancels.
// Every batch runs under the (instrument, operation-class) lock, inside an
// atomic scope over the tracked order state, with each venue cancel executed
// at most once per idempotency window.
type Executor struct {
	logger  ports.Logger
	venue   ports.VenueClient
	locks   *LockManager
	idem    *IdempotencyCache
	retrier *Retrier
}

// ExecutorConfig holds the executor's collaborators.
type ExecutorConfig struct {
	Logger  ports.Logger
	Venue   ports.VenueClient
	Locks   *LockManager
	Idem    *IdempotencyCache
	Retrier *Retrier
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Logger == nil || cfg.Venue == nil || cfg.Locks == nil || cfg.Idem == nil || cfg.Retrier == nil {
		return nil, fmt.Errorf("missing required dependencies for executor")
	}
	return &Executor{
		logger:  cfg.Logger,
		venue:   cfg.Venue,
		locks:   cfg.Locks,
		idem:    cfg.Idem,
		retrier: cfg.Retrier,
	}, nil
}

// CancelOrdersAtomic cancels a batch of orders for one instrument and keeps
// the tracked state consistent with what actually happened at the venue.
//
// Per-order rejections ("order not found" and friends) count as successful
// removal; the order is off the book either way. A transient failure that
// survives its retry budget aborts the batch: the tracked state is restored
// from the scope snapshot, already-accepted cancels are reported through an
// IrreversibleStepError, and the unprocessed ids are returned as failed.
func (e *Executor) CancelOrdersAtomic(ctx context.Context, symbol string, orderIDs []int64, tracked *domain.TrackedOrders, opClass domain.OperationClass) (succeeded []int64, failed []int64, err error) {
	op := "CancelOrdersAtomic"
	if len(orderIDs) == 0 {
		return nil, nil, nil
	}

	mu := e.locks.Acquire(symbol, opClass)
	mu.Lock()
	defer mu.Unlock()

	// Tracked state is shared with the monitor path; its mutations stay under
	// the instrument mutex for the whole batch.
	state := e.locks.AcquireInstrument(symbol)
	state.Lock()
	defer state.Unlock()

	scope := BeginScope(e.logger, op, tracked)

	for i, orderID := range orderIDs {
		cancelErr := e.cancelOnce(ctx, symbol, orderID)
		switch {
		case cancelErr == nil:
			scope.RecordIrreversible("cancel accepted by venue", orderID)
			tracked.RemoveOrderID(orderID)
			succeeded = append(succeeded, orderID)

		case ports.IsRejection(cancelErr):
			// Already filled or cancelled; off the book, nothing to undo.
			e.logger.Warn(ctx, op+": order already terminal at venue", map[string]interface{}{
				"symbol":  symbol,
				"orderID": orderID,
			})
			tracked.RemoveOrderID(orderID)
			succeeded = append(succeeded, orderID)

		default:
			e.logger.Error(ctx, cancelErr, op+": cancel failed, aborting batch", map[string]interface{}{
				"symbol":    symbol,
				"orderID":   orderID,
				"remaining": len(orderIDs) - i,
			})
			failed = append(failed, orderIDs[i:]...)
			return nil, failed, scope.Rollback(ctx, cancelErr)
		}
	}

	scope.Commit()
	e.logger.Info(ctx, op+": batch completed", map[string]interface{}{
		"symbol":    symbol,
		"cancelled": len(succeeded),
	})
	return succeeded, failed, nil
}

// cancelOnce issues one venue cancel, deduplicated by the idempotency window
// and retried within the call's budget.
func (e *Executor) cancelOnce(ctx context.Context, symbol string, orderID int64) error {
	op := "CancelOrder"
	_, _, err := e.idem.ExecuteOnce(ctx, op, []string{symbol, strconv.FormatInt(orderID, 10)}, func(ctx context.Context) (string, error) {
		retryErr := e.retrier.Do(ctx, op, func(ctx context.Context) error {
			_, venueErr := e.venue.CancelOrder(ctx, symbol, orderID)
			return venueErr
		})
		if retryErr != nil {
			metrics.IncVenueCall(op, outcomeLabel(retryErr))
			return "", retryErr
		}
		metrics.IncVenueCall(op, "ok")
		return "cancelled", nil
	})
	return err
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
