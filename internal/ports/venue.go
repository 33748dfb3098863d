package ports

import (
	"context"
	"time"

	"orderGuard/internal/domain"
)

// OrderSpec describes an order to place at the venue.
type OrderSpec struct {
	Symbol        string
	Side          domain.OrderSide
	Purpose       domain.OrderPurpose
	CorrelationID string // Client order id; classifies the order independent of the venue id
	Quantity      string // Formatted to the instrument's quantity step
	Price         string // Limit price (limit entries only)
	TriggerPrice  string // Stop/trigger price (SL/TP only)
	ReduceOnly    bool
}

// AmendFields carries the order fields an in-place amend may change.
type AmendFields struct {
	Quantity string // New quantity, formatted; empty leaves it unchanged
	Price    string // New price, formatted; empty leaves it unchanged
}

// OrderResponse represents the essential details returned for an order.
type OrderResponse struct {
	OrderID       int64
	Symbol        string
	CorrelationID string
	Price         float64
	AvgPrice      float64
	OrigQuantity  float64
	ExecutedQty   float64
	Status        domain.OrderStatus
	Type          string
	Side          domain.OrderSide
	Timestamp     time.Time
}

// VenueClient defines the venue primitives this engine consumes. The engine
// never talks the venue's wire protocol itself; an adapter supplies these on
// top of an already-connected client.
type VenueClient interface {
	// GetPosition retrieves the current position for a symbol.
	// Returns nil, nil when no position exists.
	GetPosition(ctx context.Context, symbol, account string) (*domain.Position, error)

	// GetOpenOrders lists all resting orders for a symbol.
	GetOpenOrders(ctx context.Context, symbol, account string) ([]OrderResponse, error)

	// PlaceOrder submits a new order.
	PlaceOrder(ctx context.Context, spec OrderSpec) (*OrderResponse, error)

	// CancelOrder cancels an open order by venue id.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)

	// AmendOrder modifies an open order in place. Venues reject amends for
	// order types they cannot modify; that surfaces as ErrOrderAmendFailed.
	AmendOrder(ctx context.Context, symbol string, orderID int64, fields AmendFields) (*OrderResponse, error)

	// GetOrderHistory looks an order up regardless of whether it is still on
	// the book. Returns nil, nil when the venue has no record of it.
	GetOrderHistory(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)
}
