// Package journal is the execution ledger: an append-only audit log of
// every intent, ack, fill and kill-switch event, plus the bounded
// position-snapshot buffer the reconciler feeds.
package journal

import (
	"time"

	"github.com/rustyeddy/livetrader/broker"
)

type EntryType string

const (
	TypeIntent     EntryType = "intent"
	TypeAck        EntryType = "ack"
	TypeFill       EntryType = "fill"
	TypeKillSwitch EntryType = "killswitch"
)

// Entry is one audit record. Exactly one of the payload pointers is
// set, matching Type. The field set per record type is closed; there
// is no free-form metadata map, which keeps the serialization contract
// of the log stable.
type Entry struct {
	Time       time.Time         `json:"time"`
	Type       EntryType         `json:"type"`
	Intent     *IntentRecord     `json:"intent,omitempty"`
	Ack        *AckRecord        `json:"ack,omitempty"`
	Fill       *FillRecord       `json:"fill,omitempty"`
	KillSwitch *KillSwitchRecord `json:"killswitch,omitempty"`
}

type IntentRecord struct {
	ID         string   `json:"id"`
	Strategy   string   `json:"strategy,omitempty"`
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	Size       float64  `json:"size"`
	Entry      *float64 `json:"entry,omitempty"`
	Stop       *float64 `json:"stop,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

type AckRecord struct {
	IntentID string `json:"intent_id"`
	Status   string `json:"status"`
	DealID   string `json:"deal_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type FillRecord struct {
	IntentID string  `json:"intent_id"`
	DealID   string  `json:"deal_id"`
	Epic     string  `json:"epic"`
	Side     string  `json:"side"`
	Size     float64 `json:"size"`
	Level    float64 `json:"level"`
}

type KillSwitchRecord struct {
	Active      bool   `json:"active"`
	Reason      string `json:"reason,omitempty"`
	ActivatedBy string `json:"activated_by,omitempty"`
}

// Ledger is the audit-log sink consumed by the router.
type Ledger interface {
	Append(Entry) error
	Close() error
}

// Discard is a Ledger that drops everything. Useful for tests that do
// not assert on the audit trail.
type Discard struct{}

func (Discard) Append(Entry) error { return nil }
func (Discard) Close() error       { return nil }

// PositionSnapshot captures the full position belief once per
// reconciliation cycle.
type PositionSnapshot struct {
	Time      time.Time
	Count     int
	Positions []broker.Position
}
