package execution

import (
	"context"
	"fmt"
	"time"

	"orderGuard/internal/domain"
	"orderGuard/internal/ports"
)

// IrreversibleStep records a side effect the scope cannot undo, e.g. a
// cancellation the venue already accepted before a later step failed.
type IrreversibleStep struct {
	Description string
	OrderID     int64
	At          time.Time
}

// IrreversibleStepError reports a failed multi-step operation whose earlier
// steps had already taken effect at the venue. It is surfaced, never silently
// dropped.
type IrreversibleStepError struct {
	Op    string
	Steps []IrreversibleStep
	Cause error
}

func (e *IrreversibleStepError) Error() string {
	return fmt.Sprintf("%s: %d irreversible step(s) completed before failure: %v", e.Op, len(e.Steps), e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is.
func (e *IrreversibleStepError) Unwrap() []error {
	return []error{ports.ErrIrreversibleStep, e.Cause}
}

// Scope snapshots the tracked per-instrument order state before a multi-step
// mutation so a failure can restore it. The scope cannot un-cancel a remote
// order; venue-accepted steps are recorded as irreversible instead.
//
// Usage is an explicit begin/commit/rollback triple: BeginScope, mutate, then
// exactly one of Commit (clean exit, snapshot discarded) or Rollback.
type Scope struct {
	logger   ports.Logger
	op       string
	tracked  *domain.TrackedOrders
	snapshot domain.TrackedOrders
	steps    []IrreversibleStep
	now      func() time.Time
	settled  bool
}

// BeginScope snapshots the tracked state and opens a scope over it.
func BeginScope(logger ports.Logger, op string, tracked *domain.TrackedOrders) *Scope {
	return &Scope{
		logger:   logger,
		op:       op,
		tracked:  tracked,
		snapshot: tracked.Snapshot(),
		now:      time.Now,
	}
}

// RecordIrreversible notes a side effect that cannot be undone on rollback.
func (s *Scope) RecordIrreversible(description string, orderID int64) {
	s.steps = append(s.steps, IrreversibleStep{
		Description: description,
		OrderID:     orderID,
		At:          s.now(),
	})
}

// Commit discards the snapshot; the mutation stands.
func (s *Scope) Commit() {
	s.settled = true
}

// Rollback restores every snapshotted field and returns the error the caller
// should surface: the cause itself, or an IrreversibleStepError wrapping it
// when venue-accepted steps cannot be undone. Restoring is best-effort and
// never raises; it is plain field restoration, and the scope logs rather than
// fails if invoked out of order.
func (s *Scope) Rollback(ctx context.Context, cause error) error {
	if s.settled {
		s.logger.Warn(ctx, s.op+": rollback after scope already settled, ignoring")
		return cause
	}
	s.settled = true

	s.tracked.Restore(s.snapshot)
	s.logger.Debug(ctx, s.op+": tracked order state restored from snapshot", map[string]interface{}{
		"symbol": s.tracked.Symbol,
	})

	if len(s.steps) == 0 {
		return cause
	}
	for _, step := range s.steps {
		s.logger.Warn(ctx, s.op+": irreversible step cannot be rolled back", map[string]interface{}{
			"symbol":      s.tracked.Symbol,
			"orderID":     step.OrderID,
			"description": step.Description,
		})
	}
	return &IrreversibleStepError{Op: s.op, Steps: append([]IrreversibleStep(nil), s.steps...), Cause: cause}
}
