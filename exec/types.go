package exec

import (
	"time"

	"github.com/rustyeddy/livetrader/broker"
	"github.com/rustyeddy/livetrader/pkg/id"
)

// OrderIntent is a requested order as produced by a strategy or an
// operator call. Intents are historical facts: created once, never
// mutated.
type OrderIntent struct {
	ID         string
	Strategy   string
	Symbol     string
	Side       broker.Direction
	Size       float64
	Entry      *float64
	Stop       *float64
	TakeProfit *float64
	CreatedAt  time.Time
}

// NewIntent stamps an intent with a ULID and creation time.
func NewIntent(strategy, symbol string, side broker.Direction, size float64) OrderIntent {
	return OrderIntent{
		ID:        id.New(),
		Strategy:  strategy,
		Symbol:    symbol,
		Side:      side,
		Size:      size,
		CreatedAt: time.Now().UTC(),
	}
}

type AckStatus string

const (
	AckAccepted AckStatus = "ACCEPTED"
	AckRejected AckStatus = "REJECTED"
)

// OrderAck is the router's authoritative record of what happened to an
// intent. Exactly one ack exists per RouteIntent call; Reason is set
// iff the intent was rejected.
type OrderAck struct {
	IntentID string
	Status   AckStatus
	DealID   string
	Reason   string
	Time     time.Time
}

func accepted(intentID, dealID string) OrderAck {
	return OrderAck{
		IntentID: intentID,
		Status:   AckAccepted,
		DealID:   dealID,
		Time:     time.Now().UTC(),
	}
}

func rejected(intentID, reason string) OrderAck {
	return OrderAck{
		IntentID: intentID,
		Status:   AckRejected,
		Reason:   reason,
		Time:     time.Now().UTC(),
	}
}

// State is a read-only view of the router. Returned by value; callers
// can never mutate router internals through it.
type State struct {
	Connected          bool
	Armed              bool
	KillSwitchActive   bool
	LastReconciliation time.Time
	AuditErrors        int64
}
