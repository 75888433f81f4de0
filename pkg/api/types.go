package api

// API request/response types for REST endpoints and WebSocket messages

import (
	"strings"
	"time"

	"github.com/uhyunpark/marketsim/pkg/app/core/market"
	"github.com/uhyunpark/marketsim/pkg/app/core/order"
)

// ==============================
// REST Types
// ==============================

// OrderInfo is the wire form of an order
type OrderInfo struct {
	ID        int64   `json:"id"` // 0 for orders rejected before an id was assigned
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"` // "BUY" or "SELL"
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"` // limit price; market price at entry for market orders
	Filled    float64 `json:"filled"`
	Remaining float64 `json:"remaining"`
	Status    string  `json:"status"`    // "PENDING", "FILLED", "CANCELLED", "PARTIALLY_FILLED"
	Timestamp int64   `json:"timestamp"` // Unix milliseconds
}

func toOrderInfo(o order.Order) OrderInfo {
	info := OrderInfo{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side.String(),
		Quantity:  o.Quantity,
		Price:     o.Price,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
		Status:    o.Status.String(),
	}
	if !o.CreatedAt.IsZero() {
		info.Timestamp = o.CreatedAt.UnixMilli()
	}
	return info
}

func toOrderInfos(orders []order.Order) []OrderInfo {
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = toOrderInfo(o)
	}
	return out
}

// SubmitOrderRequest is the body of POST /orders. Price is required for
// limit orders and ignored for market orders.
type SubmitOrderRequest struct {
	Symbol   string  `json:"symbol" validate:"required"`
	Side     string  `json:"side" validate:"required,oneof=BUY SELL"`
	Type     string  `json:"type" validate:"omitempty,oneof=market limit"` // defaults to market
	Quantity float64 `json:"quantity" validate:"gt=0"`
	Price    float64 `json:"price" validate:"required_if=Type limit,gte=0"`
}

// normalize folds case before validation so "Buy" and "LIMIT" are accepted.
func (r *SubmitOrderRequest) normalize() {
	r.Side = strings.ToUpper(strings.TrimSpace(r.Side))
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
}

type SubmitOrderResponse struct {
	Status string    `json:"status"` // "filled" or "pending"
	Order  OrderInfo `json:"order"`
}

type CancelOrderRequest struct {
	OrderID int64 `json:"orderId" validate:"gt=0"`
}

type PendingOrdersResponse struct {
	Count  int         `json:"count"`
	Orders []OrderInfo `json:"orders"`
}

type HistoryResponse struct {
	Symbol string              `json:"symbol"`
	Points []market.PricePoint `json:"points"`
}

// RunRequest is the body of POST /simulation/run. Without Wait the run
// starts in the background and the call returns immediately.
type RunRequest struct {
	Steps int  `json:"steps" validate:"gte=1,lte=10000"`
	Wait  bool `json:"wait"`
}

type RunResponse struct {
	Status         string `json:"status"` // "started", "completed" or "stopped"
	RunID          string `json:"runId,omitempty"`
	StepsRequested int    `json:"stepsRequested"`
	StepsCompleted int    `json:"stepsCompleted"`
	Executions     int    `json:"executions"`
	StateHash      string `json:"stateHash,omitempty"`
}

type StatusResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
	Running   bool   `json:"running"`
	Step      int    `json:"step"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Types
// ==============================

// Channels a client can subscribe to
const (
	ChannelOrders     = "orders"
	ChannelExecutions = "executions"
	ChannelPrices     = "prices"
	ChannelSimulation = "simulation"
)

// WSSubscribeRequest is sent by clients to manage subscriptions
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orders", "prices"]
}

// OrderEvent is pushed on the orders channel
type OrderEvent struct {
	Type      string    `json:"type"`  // "order"
	Event     string    `json:"event"` // "submitted", "validated", "rejected", "cancelled", "failed"
	Order     OrderInfo `json:"order"`
	Valid     *bool     `json:"valid,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// ExecutionEvent is pushed on the executions channel
type ExecutionEvent struct {
	Type      string    `json:"type"` // "execution"
	Order     OrderInfo `json:"order"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Timestamp int64     `json:"timestamp"`
}

// PriceUpdate is pushed on the prices channel once per tick
type PriceUpdate struct {
	Type      string         `json:"type"` // "prices"
	Step      int            `json:"step"`
	Quotes    []market.Quote `json:"quotes"`
	Timestamp int64          `json:"timestamp"`
}

// SimulationEvent is pushed on the simulation channel when a run starts or ends
type SimulationEvent struct {
	Type      string `json:"type"`  // "simulation"
	Event     string `json:"event"` // "started" or "stopped"
	RunID     string `json:"runId"`
	Steps     int    `json:"steps"` // requested on start, completed on stop
	Timestamp int64  `json:"timestamp"`
}

func nowMillis() int64 { return time.Now().UnixMilli() }
