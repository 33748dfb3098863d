package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionSide represents the direction of the held exposure.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// CloseSide returns the order side that reduces a position on this side.
func (s PositionSide) CloseSide() OrderSide {
	if s == Long {
		return Sell
	}
	return Buy
}

// OrderStatus represents the lifecycle state of an order at the venue.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the order can no longer change at the venue.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderPurpose classifies a protective order by its role in the order set.
type OrderPurpose string

const (
	PurposeStopLoss   OrderPurpose = "SL"
	PurposeTakeProfit OrderPurpose = "TP"
	PurposeLimitEntry OrderPurpose = "LIMIT"
)

// OperationClass partitions order mutations for lock scoping. Operations in
// the same class on the same instrument are serialized; different classes may
// interleave.
type OperationClass string

const (
	OpClassProtect OperationClass = "protect" // SL/TP cancel+place batches
	OpClassEntry   OperationClass = "entry"   // limit entry maintenance
	OpClassMonitor OperationClass = "monitor" // fetch/track updates
)

// ApproachKind selects the take-profit ladder layout for an instrument.
type ApproachKind string

const (
	// ApproachConservative runs a four-rung ladder front-loaded on TP1.
	ApproachConservative ApproachKind = "conservative"
	// ApproachFast exits the whole position at a single rung.
	ApproachFast ApproachKind = "fast"
)

// FractionTable returns the expected share of the position per rung.
func (a ApproachKind) FractionTable() []float64 {
	switch a {
	case ApproachFast:
		return []float64{1.0}
	default:
		return []float64{0.85, 0.05, 0.05, 0.05}
	}
}

// MaxRungs is the highest take-profit rung the merge calculator will resolve.
const MaxRungs = 4
