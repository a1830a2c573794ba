// Package gates implements LIVE-mode admission control. Demo mode
// never consults the gate; nothing here can authorize live behavior
// through a demo-mode call path.
package gates

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/livetrader/config"
)

// GateBlockedError carries every outstanding blocker at once so the
// operator can fix them in a single pass.
type GateBlockedError struct {
	Blockers []string
}

func (e *GateBlockedError) Error() string {
	return fmt.Sprintf("live trading blocked: %s", strings.Join(e.Blockers, "; "))
}

// Confirmer is a time-boxed operator confirmation. A confirmation
// expires after its TTL; an expired confirmation is identical to no
// confirmation at all.
type Confirmer struct {
	mu          sync.Mutex
	ttl         time.Duration
	confirmedAt time.Time
	now         func() time.Time
}

func NewConfirmer(ttl time.Duration) *Confirmer {
	return &Confirmer{ttl: ttl, now: time.Now}
}

// Confirm records an operator confirmation, starting the TTL clock.
func (c *Confirmer) Confirm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmedAt = c.now()
}

// Valid reports whether an unexpired confirmation exists. Checking
// does not consume the confirmation.
func (c *Confirmer) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmedAt.IsZero() {
		return false
	}
	return c.now().Sub(c.confirmedAt) <= c.ttl
}

// Clear drops any outstanding confirmation.
func (c *Confirmer) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmedAt = time.Time{}
}

// LiveGate aggregates the preconditions for flipping to live trading.
type LiveGate struct {
	cfg          config.Gates
	confirmation *Confirmer
}

func NewLiveGate(cfg config.Gates) *LiveGate {
	return &LiveGate{
		cfg:          cfg,
		confirmation: NewConfirmer(cfg.ConfirmationTTL()),
	}
}

// Confirmation exposes the operator confirmation token.
func (g *LiveGate) Confirmation() *Confirmer {
	return g.confirmation
}

// Enable checks every sub-gate and either passes or returns the
// complete blocker list in one GateBlockedError — never just the
// first failure.
func (g *LiveGate) Enable(exec config.Execution) error {
	var blockers []string

	if g.cfg.LiveEnableToken == "" {
		blockers = append(blockers, "live-enable token not set")
	}
	if g.cfg.AccountID == "" {
		blockers = append(blockers, "account-id lock not set")
	}
	blockers = append(blockers, riskConfigBlockers(exec)...)
	if !g.confirmation.Valid() {
		blockers = append(blockers, "operator confirmation missing or expired")
	}

	if len(blockers) > 0 {
		return &GateBlockedError{Blockers: blockers}
	}
	return nil
}

// riskConfigBlockers verifies the live risk configuration is complete:
// every cap must be present and positive before real money moves.
func riskConfigBlockers(exec config.Execution) []string {
	var blockers []string
	if exec.MaxPositionSize <= 0 {
		blockers = append(blockers, "max order size not configured")
	}
	if exec.MaxDailyLossPct <= 0 {
		blockers = append(blockers, "daily loss cap not configured")
	}
	if exec.MaxConcurrentPositions <= 0 {
		blockers = append(blockers, "concurrent position cap not configured")
	}
	if exec.PerSymbolExposureCap <= 0 {
		blockers = append(blockers, "per-symbol exposure cap not configured")
	}
	if exec.MaxTradesPerHour <= 0 {
		blockers = append(blockers, "trades-per-hour cap not configured")
	}
	return blockers
}
