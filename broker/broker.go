package broker

import (
	"context"
	"time"
)

// Broker is the adapter contract the execution core depends on. Every
// call is fallible and must be given a deadline by the caller; adapters
// never block past the context.
type Broker interface {
	Login(ctx context.Context) error
	ListAccounts(ctx context.Context) ([]AccountSummary, error)
	ListPositions(ctx context.Context) ([]Position, error)
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ClosePosition(ctx context.Context, req CloseRequest) (OrderResult, error)
}

type AccountSummary struct {
	ID        string
	Currency  string
	Balance   float64
	Available float64
}

// Position is the broker's view of one open deal.
type Position struct {
	DealID    string
	Epic      string
	Direction Direction
	Size      float64
	OpenLevel float64
	OpenedAt  time.Time
}

type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the direction that closes a position opened with d.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

type OrderRequest struct {
	Epic       string
	Direction  Direction
	Size       float64
	StopLoss   *float64
	TakeProfit *float64
}

type CloseRequest struct {
	DealID    string
	Epic      string
	Direction Direction // direction of the original position
	Size      float64
}

type OrderStatus string

const (
	StatusFilled   OrderStatus = "FILLED"
	StatusRejected OrderStatus = "REJECTED"
	StatusClosed   OrderStatus = "CLOSED"
)

type OrderResult struct {
	DealID string
	Status OrderStatus
	Level  float64
}
