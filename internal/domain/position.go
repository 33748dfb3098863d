package domain

import "time"

// Position represents a held leveraged exposure at the venue.
type Position struct {
	Symbol     string       // Instrument (e.g., "ETHUSDT")
	Side       PositionSide // Long or short
	Size       float64      // Current position size (always positive)
	EntryPrice float64      // Average entry price
	MarkPrice  float64      // Current mark price
	Leverage   int          // Leverage applied to the position
	UpdatedAt  time.Time    // When this view of the position was taken
}

// IsOpen reports whether the position still has exposure.
func (p *Position) IsOpen() bool {
	return p != nil && p.Size > 0
}

// TrackedOrders is the per-instrument mutable order-tracking state this engine
// maintains between venue observations. It is the exact field set snapshotted
// and restored by an atomic operation scope.
type TrackedOrders struct {
	Symbol        string
	SLOrderID     int64   // 0 when no stop-loss is tracked
	TPOrderIDs    []int64 // Live take-profit order ids, rung order
	LimitOrderIDs []int64 // Live limit entry order ids
	StatusMarker  string  // Free-form position status marker (e.g. "protected")
	MonitorHandle string  // Handle of the monitor loop owning this instrument
}

// Snapshot returns a deep copy suitable for later restore.
func (t *TrackedOrders) Snapshot() TrackedOrders {
	cp := *t
	cp.TPOrderIDs = append([]int64(nil), t.TPOrderIDs...)
	cp.LimitOrderIDs = append([]int64(nil), t.LimitOrderIDs...)
	return cp
}

// Restore overwrites the tracked state with a previously taken snapshot.
func (t *TrackedOrders) Restore(snap TrackedOrders) {
	t.SLOrderID = snap.SLOrderID
	t.TPOrderIDs = append([]int64(nil), snap.TPOrderIDs...)
	t.LimitOrderIDs = append([]int64(nil), snap.LimitOrderIDs...)
	t.StatusMarker = snap.StatusMarker
	t.MonitorHandle = snap.MonitorHandle
}

// RemoveOrderID drops an order id from whichever list carries it.
func (t *TrackedOrders) RemoveOrderID(orderID int64) {
	if t.SLOrderID == orderID {
		t.SLOrderID = 0
		return
	}
	t.TPOrderIDs = removeID(t.TPOrderIDs, orderID)
	t.LimitOrderIDs = removeID(t.LimitOrderIDs, orderID)
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
