package domain

import "time"

// ProtectiveOrder represents a resting stop-loss or take-profit instruction
// attached to a position.
type ProtectiveOrder struct {
	OrderID       int64        // Venue-assigned order ID
	CorrelationID string       // Client-assigned ID classifying the order (SL/TPn)
	Symbol        string       // Instrument the order protects
	Purpose       OrderPurpose // SL or TP
	Rung          int          // 1..N for TP ladder rungs, 0 for SL
	Side          OrderSide    // Side the order executes on (close side of the position)
	TriggerPrice  float64      // Stop/trigger price
	Quantity      float64      // Order quantity
	Status        OrderStatus  // Latest known status
}

// LimitEntryOrder represents a resting order that enlarges the position when
// filled.
type LimitEntryOrder struct {
	OrderID       int64
	CorrelationID string
	Symbol        string
	Side          OrderSide
	Price         float64
	Quantity      float64
	Status        OrderStatus
}

// OrderState is the latest known view of one order, as returned by the state
// fetcher.
type OrderState struct {
	OrderID       int64
	CorrelationID string
	Symbol        string
	Status        OrderStatus
	Price         float64
	AvgFillPrice  float64
	Quantity      float64
	FilledQty     float64
	UpdatedAt     time.Time
}

// Remaining returns the unfilled quantity of the order.
func (s OrderState) Remaining() float64 {
	rem := s.Quantity - s.FilledQty
	if rem < 0 {
		return 0
	}
	return rem
}

// TPRung is one level of a take-profit ladder: the price to exit at and the
// share of the position to exit with.
type TPRung struct {
	Rung     int     // Ordinal level, 1-based
	Price    float64 // Trigger price for this rung
	Fraction float64 // Share of the position size, 0 < f <= 1
	Quantity float64 // Resolved quantity (0 when only the fraction is known)
}

// OrderSet is one complete protective arrangement for a position: a stop-loss
// plus a take-profit ladder. A zero SLPrice means no stop-loss is present.
type OrderSet struct {
	SLPrice float64
	TPs     []TPRung
}

// RungByNumber returns the ladder entry for the given rung, or nil.
func (os OrderSet) RungByNumber(rung int) *TPRung {
	for i := range os.TPs {
		if os.TPs[i].Rung == rung {
			return &os.TPs[i]
		}
	}
	return nil
}

// HasSL reports whether the set carries a stop-loss.
func (os OrderSet) HasSL() bool { return os.SLPrice > 0 }
