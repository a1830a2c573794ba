package reconcile

import (
	"sync"
	"time"

	"github.com/rustyeddy/livetrader/broker"
)

// Book holds the local belief about open positions and balance. The
// reconciliation service is its sole writer; the router only reads.
// The position set is always replaced wholesale, never patched, so a
// reader can never observe a half-applied update.
type Book struct {
	mu        sync.RWMutex
	positions []broker.Position
	balance   broker.AccountSummary
	lastSync  time.Time
}

func NewBook() *Book {
	return &Book{}
}

// ReplacePositions swaps in a complete new position set.
func (b *Book) ReplacePositions(positions []broker.Position, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = positions
	b.lastSync = at
}

func (b *Book) SetBalance(acct broker.AccountSummary) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance = acct
}

// Positions returns a copy of the current belief.
func (b *Book) Positions() []broker.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]broker.Position, len(b.positions))
	copy(out, b.positions)
	return out
}

func (b *Book) Balance() broker.AccountSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balance
}

func (b *Book) LastSync() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSync
}

// Exposure returns the notional open risk for one epic and in total,
// valued at open level.
func (b *Book) Exposure(epic string) (symbol, total float64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.positions {
		notional := p.Size * p.OpenLevel
		total += notional
		if p.Epic == epic {
			symbol += notional
		}
	}
	return symbol, total
}

func (b *Book) OpenCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}
