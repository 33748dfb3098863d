package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"orderGuard/internal/domain"
	"orderGuard/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.VenueClient interface using the go-binance
// library against USDT-margined futures.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1007: // Timeout waiting for response from backend server
			mappedErr = ports.ErrTimeout
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1001, -1016: // Internal error / service shutting down
			mappedErr = ports.ErrExchangeUnavailable
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -2019, -3005, -3041: // Margin/balance/position not sufficient
			mappedErr = ports.ErrInsufficientFunds
		case -2022: // ReduceOnly order is rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -4003, -4014, -4015: // Qty/price/leverage not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		case -5027: // No need to modify the order
			mappedErr = ports.ErrOrderAmendFailed
		default:
			// General classification for unmapped API errors
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetPosition retrieves the current position for a symbol. A zero position
// amount means no exposure; nil, nil is returned.
func (c *Client) GetPosition(ctx context.Context, symbol, account string) (*domain.Position, error) {
	op := "GetPosition"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(positions) == 0 {
		c.logger.Debug(ctx, op+": No position found for symbol", map[string]interface{}{"symbol": symbol})
		return nil, nil
	}

	// One-way mode: a single entry per symbol.
	binancePos := positions[0]
	amt, _ := strconv.ParseFloat(binancePos.PositionAmt, 64)
	if amt == 0 {
		c.logger.Debug(ctx, op+": Position amount is zero for symbol", map[string]interface{}{"symbol": symbol})
		return nil, nil
	}

	entryPrice, _ := strconv.ParseFloat(binancePos.EntryPrice, 64)
	markPrice, _ := strconv.ParseFloat(binancePos.MarkPrice, 64)
	leverage, _ := strconv.Atoi(binancePos.Leverage)

	side := domain.Long
	size := amt
	if amt < 0 {
		side = domain.Short
		size = -amt
	}

	return &domain.Position{
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		EntryPrice: entryPrice,
		MarkPrice:  markPrice,
		Leverage:   leverage,
		UpdatedAt:  time.Now(),
	}, nil
}

// GetOpenOrders lists all resting orders for a symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol, account string) ([]ports.OrderResponse, error) {
	op := "GetOpenOrders"
	orders, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out := make([]ports.OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, translateOrder(o))
	}
	return out, nil
}

// PlaceOrder submits a new order. The order's purpose selects the venue order
// type: stop-losses and take-profits go out as trigger-market orders, limit
// entries as GTC limit orders.
func (c *Client) PlaceOrder(ctx context.Context, spec ports.OrderSpec) (*ports.OrderResponse, error) {
	op := "PlaceOrder"
	svc := c.futuresClient.NewCreateOrderService().
		Symbol(spec.Symbol).
		Side(futures.SideType(spec.Side)).
		Quantity(spec.Quantity)

	if spec.CorrelationID != "" {
		svc = svc.NewClientOrderID(spec.CorrelationID)
	}
	if spec.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	switch spec.Purpose {
	case domain.PurposeStopLoss:
		svc = svc.Type(futures.OrderTypeStopMarket).StopPrice(spec.TriggerPrice)
	case domain.PurposeTakeProfit:
		svc = svc.Type(futures.OrderTypeTakeProfitMarket).StopPrice(spec.TriggerPrice)
	case domain.PurposeLimitEntry:
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(spec.Price)
	default:
		return nil, fmt.Errorf("%s failed: unsupported order purpose %q: %w", op, spec.Purpose, ports.ErrInvalidRequest)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateCreateResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":        spec.Symbol,
		"side":          spec.Side,
		"purpose":       spec.Purpose,
		"quantity":      spec.Quantity,
		"orderID":       resp.OrderID,
		"correlationID": resp.CorrelationID,
	})
	return resp, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})

	res, err := c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		// handleError maps -2013 to ErrOrderNotFound and -2011 to
		// ErrOrderCancelFailed; both are rejections for the caller.
		return nil, c.handleError(ctx, err, op)
	}

	price, _ := strconv.ParseFloat(res.Price, 64)
	origQty, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	resp := &ports.OrderResponse{
		OrderID:       res.OrderID,
		Symbol:        res.Symbol,
		CorrelationID: res.ClientOrderID,
		Price:         price,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        domain.OrderStatus(res.Status),
		Type:          string(res.Type),
		Side:          domain.OrderSide(res.Side),
		Timestamp:     time.Now(),
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": resp.Status})
	return resp, nil
}

// AmendOrder modifies an open order in place. Binance futures can only modify
// LIMIT orders; trigger-market orders surface ErrOrderAmendFailed so the
// caller can fall back to cancel-and-replace.
func (c *Client) AmendOrder(ctx context.Context, symbol string, orderID int64, fields ports.AmendFields) (*ports.OrderResponse, error) {
	op := "AmendOrder"

	current, err := c.futuresClient.NewGetOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if current.Type != futures.OrderTypeLimit {
		err := fmt.Errorf("%s failed: order type %s cannot be modified in place: %w", op, current.Type, ports.ErrOrderAmendFailed)
		c.logger.Warn(ctx, op+": order type not amendable", map[string]interface{}{
			"symbol":  symbol,
			"orderID": orderID,
			"type":    current.Type,
		})
		return nil, err
	}

	// The modify endpoint requires quantity and price even when only one
	// changes; carry the current value for the other.
	quantity := fields.Quantity
	if quantity == "" {
		quantity = current.OrigQuantity
	}
	price := fields.Price
	if price == "" {
		price = current.Price
	}

	if _, err := c.futuresClient.NewModifyOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Side(current.Side).
		Quantity(quantity).
		Price(price).
		Do(ctx); err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	updated, err := c.futuresClient.NewGetOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrder(updated)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   symbol,
		"orderID":  orderID,
		"quantity": quantity,
		"price":    price,
	})
	return &resp, nil
}

// GetOrderHistory looks an order up regardless of whether it is still on the
// book. Returns nil, nil when Binance has no record of the order.
func (c *Client) GetOrderHistory(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "GetOrderHistory"
	order, err := c.futuresClient.NewGetOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		handled := c.handleError(ctx, err, op)
		if errors.Is(handled, ports.ErrOrderNotFound) {
			return nil, nil
		}
		return nil, handled
	}

	resp := translateOrder(order)
	return &resp, nil
}

// --- Translation Helpers ---

func translateOrder(order *futures.Order) ports.OrderResponse {
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	// Trigger-market orders carry their price in StopPrice, not Price.
	if price == 0 {
		if stop, err := strconv.ParseFloat(order.StopPrice, 64); err == nil && stop > 0 {
			price = stop
		}
	}

	return ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		CorrelationID: order.ClientOrderID,
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        domain.OrderStatus(order.Status),
		Type:          string(order.Type),
		Side:          domain.OrderSide(order.Side),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}

func translateCreateResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	if price == 0 {
		if stop, err := strconv.ParseFloat(order.StopPrice, 64); err == nil && stop > 0 {
			price = stop
		}
	}

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		CorrelationID: order.ClientOrderID,
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        domain.OrderStatus(order.Status),
		Type:          string(order.Type),
		Side:          domain.OrderSide(order.Side),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}
