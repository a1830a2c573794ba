// Package exec is the execution router: the state machine that turns
// order intents into broker orders under the risk engine, trading
// gates and kill switch.
//
// States: DISCONNECTED -> CONNECTED <-> ARMED -> KILLED. KILLED is
// terminal until an explicit kill-switch reset.
package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/livetrader/broker"
	"github.com/rustyeddy/livetrader/config"
	"github.com/rustyeddy/livetrader/gates"
	"github.com/rustyeddy/livetrader/journal"
	"github.com/rustyeddy/livetrader/killswitch"
	"github.com/rustyeddy/livetrader/market"
	"github.com/rustyeddy/livetrader/reconcile"
	"github.com/rustyeddy/livetrader/risk"
)

var (
	ErrNotConnected         = errors.New("router not connected")
	ErrAlreadyConnected     = errors.New("router already connected")
	ErrKillSwitchActive     = errors.New("kill switch active")
	ErrConfirmationRequired = errors.New("arm requires an unexpired operator confirmation")
)

// Deps are the collaborators a Router composes. Everything is injected
// explicitly; there are no package-level singletons, and tests build a
// fresh router per case.
type Deps struct {
	Broker        broker.Broker
	Ticks         market.TickSource // optional quote source for sizing
	Kill          *killswitch.Switch
	KillStatePath string
	Gate          *gates.LiveGate
	Ledger        journal.Ledger
	SnapshotStore journal.SnapshotStore
	FlushEvery    int
	CallTimeout   time.Duration
	Logger        *zap.Logger
}

type Router struct {
	cfg  atomic.Pointer[config.Execution]
	deps Deps

	book   *reconcile.Book
	buffer *journal.SnapshotBuffer
	logger *zap.Logger

	mu          sync.Mutex
	connected   bool
	connecting  bool
	armed       bool
	acceptTimes []time.Time // accepted-intent times within the last hour
	dayDate     string      // UTC date anchoring the daily loss tracker
	dayStart    float64     // balance at the start of dayDate

	// Fills the reconciler has not observed yet. Cleared whenever a
	// fresh reconciliation lands; without this, every cap would be
	// checked against belief up to one full interval stale.
	pendingOpens  int
	pendingBySym  map[string]float64 // epic -> notional
	pendingTotal  float64
	pendingSyncAt time.Time // book LastSync when pending was last cleared

	auditErrors atomic.Int64

	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewRouter(cfg config.Execution, deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Kill == nil {
		deps.Kill = killswitch.New()
	}
	if deps.Ledger == nil {
		deps.Ledger = journal.Discard{}
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = 10 * time.Second
	}

	r := &Router{
		deps:   deps,
		book:   reconcile.NewBook(),
		buffer: journal.NewSnapshotBuffer(),
		logger: logger,
	}
	r.cfg.Store(&cfg)
	return r
}

// Config returns the current execution config.
func (r *Router) Config() config.Execution {
	return *r.cfg.Load()
}

// SwapConfig atomically replaces the execution config. The router is
// the only component allowed to do this.
func (r *Router) SwapConfig(cfg config.Execution) {
	r.cfg.Store(&cfg)
}

// Book exposes the position/balance belief for read-only use.
func (r *Router) Book() *reconcile.Book {
	return r.book
}

// Confirm records an operator confirmation (used by Arm when
// require_arm_confirmation is set, and by the live gate).
func (r *Router) Confirm() {
	if r.deps.Gate != nil {
		r.deps.Gate.Confirmation().Confirm()
	}
}

// Connect logs in, fetches the initial balance and position set, and
// starts the background reconciliation loop. Any fetch failure is
// fatal to the call: the router never starts in an unknown state.
//
// A persisted kill-switch state file, if present, is restored here so
// a process that crashed while killed cannot come back trading.
func (r *Router) Connect(ctx context.Context, b broker.Broker) error {
	r.mu.Lock()
	if r.connected || r.connecting {
		r.mu.Unlock()
		return ErrAlreadyConnected
	}
	r.connecting = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.connecting = false
		r.mu.Unlock()
	}()

	if b != nil {
		r.deps.Broker = b
	}
	if r.deps.Broker == nil {
		return errors.New("no broker adapter")
	}

	cfg := r.Config()

	if r.deps.KillStatePath != "" && killswitch.StateFileExists(r.deps.KillStatePath) {
		if err := r.deps.Kill.Restore(r.deps.KillStatePath); err != nil {
			return fmt.Errorf("restore kill switch state: %w", err)
		}
		if r.deps.Kill.IsActive() {
			r.logger.Warn("kill switch restored active; trading stays blocked",
				zap.String("reason", r.deps.Kill.Snapshot().Reason))
		}
	}

	if cfg.Mode == config.ModeLive {
		if r.deps.Gate == nil {
			return &gates.GateBlockedError{Blockers: []string{"no live gate configured"}}
		}
		if err := r.deps.Gate.Enable(cfg); err != nil {
			return err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.deps.CallTimeout)
	defer cancel()

	if err := r.deps.Broker.Login(callCtx); err != nil {
		return fmt.Errorf("broker login: %w", err)
	}
	accounts, err := r.deps.Broker.ListAccounts(callCtx)
	if err != nil {
		return fmt.Errorf("fetch account balance: %w", err)
	}
	if len(accounts) == 0 {
		return errors.New("broker returned no accounts")
	}
	positions, err := r.deps.Broker.ListPositions(callCtx)
	if err != nil {
		return fmt.Errorf("fetch initial positions: %w", err)
	}

	now := time.Now().UTC()
	r.book.SetBalance(accounts[0])
	r.book.ReplacePositions(positions, now)

	r.mu.Lock()
	r.connected = true
	r.dayDate = now.Format("2006-01-02")
	r.dayStart = accounts[0].Balance
	r.mu.Unlock()

	svc := reconcile.NewService(r.deps.Broker, r.book, r.buffer, r.deps.SnapshotStore,
		reconcile.Options{
			Interval:    cfg.ReconcileInterval(),
			StaleAfter:  cfg.StaleAfter(),
			CallTimeout: r.deps.CallTimeout,
			FlushEvery:  r.deps.FlushEvery,
		}, r.logger.Named("reconcile"))

	loopCtx, loopCancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(loopCtx)
	group.Go(func() error {
		return svc.Run(groupCtx)
	})
	r.cancel = loopCancel
	r.group = group

	r.logger.Info("router connected",
		zap.String("mode", string(cfg.Mode)),
		zap.Float64("balance", accounts[0].Balance),
		zap.Int("open_positions", len(positions)),
	)
	return nil
}

// Close stops the reconciliation loop and joins it.
func (r *Router) Close() error {
	r.mu.Lock()
	cancel, group := r.cancel, r.group
	r.cancel, r.group = nil, nil
	r.connected = false
	r.armed = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		return group.Wait()
	}
	return nil
}

// Arm enables order submission. Fails closed when the kill switch is
// active or when a required operator confirmation is missing/expired.
func (r *Router) Arm() error {
	if ok, _ := r.deps.Kill.CanTrade(); !ok {
		return ErrKillSwitchActive
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return ErrNotConnected
	}

	cfg := r.Config()
	if cfg.RequireArmConfirmation {
		if r.deps.Gate == nil || !r.deps.Gate.Confirmation().Valid() {
			return ErrConfirmationRequired
		}
	}

	r.armed = true
	r.logger.Info("router armed")
	return nil
}

func (r *Router) Disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.armed {
		r.armed = false
		r.logger.Info("router disarmed")
	}
}

func (r *Router) GetPositions() []broker.Position {
	return r.book.Positions()
}

func (r *Router) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Connected:          r.connected,
		Armed:              r.armed,
		KillSwitchActive:   r.deps.Kill.IsActive(),
		LastReconciliation: r.book.LastSync(),
		AuditErrors:        r.auditErrors.Load(),
	}
}

// RouteIntent runs the full admission pipeline for one intent and
// always returns an ack. The cheap synchronous checks come before any
// suspension point; a broker-submission failure becomes a REJECTED ack
// with the error text, never a panic or an error return.
func (r *Router) RouteIntent(ctx context.Context, intent OrderIntent) OrderAck {
	// Fail-closed checks, in order, before any I/O.
	if ok, reason := r.deps.Kill.CanTrade(); !ok {
		return r.finishRejected(intent, reason)
	}

	r.mu.Lock()
	connected, armed := r.connected, r.armed
	r.mu.Unlock()
	if !connected {
		return r.finishRejected(intent, "router not connected")
	}
	if !armed {
		return r.finishRejected(intent, "router not armed")
	}

	cfg := r.Config()
	balance := r.book.Balance()
	price := r.referencePrice(ctx, intent)

	// Caps are checked against the reconciled book plus fills the
	// reconciler has not seen yet, so back-to-back intents inside one
	// interval cannot slip past the limits.
	pendingOpens, pendingSymbol, pendingTotal := r.pendingExposure(intent.Symbol)
	symbolExp, totalExp := r.book.Exposure(intent.Symbol)
	symbolExp += pendingSymbol
	totalExp += pendingTotal

	size := intent.Size
	if size <= 0 {
		size = risk.SizeFor(intent.Symbol, balance.Balance, intent.Entry, intent.Stop, cfg)
	}
	if price > 0 && cfg.PerSymbolExposureCap > 0 {
		size = risk.FitToExposure(size, price, cfg.PerSymbolExposureCap-symbolExp, cfg)
	}
	if size <= 0 {
		return r.finishRejected(intent, "no size fits within exposure caps")
	}

	decision := risk.Evaluate(risk.Input{
		Symbol:         intent.Symbol,
		Size:           size,
		Price:          price,
		HasStop:        intent.Stop != nil,
		Equity:         balance.Balance,
		OpenPositions:  r.book.OpenCount() + pendingOpens,
		SymbolExposure: symbolExp,
		TotalExposure:  totalExp,
		TradesLastHour: r.recentAccepts(),
		DayRealized:    r.dayRealized(balance.Balance),
	}, cfg)
	if !decision.Allowed {
		return r.finishRejected(intent, decision.Reason)
	}

	// Audit the intent before touching the broker. If the forensic
	// record cannot be written, trading stops here (fail closed).
	if err := r.deps.Ledger.Append(intentEntry(intent, size)); err != nil {
		r.auditErrors.Add(1)
		r.logger.Error("audit append failed, rejecting intent", zap.Error(err))
		return rejected(intent.ID, fmt.Sprintf("audit log unavailable: %v", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, r.deps.CallTimeout)
	defer cancel()

	result, err := r.deps.Broker.PlaceMarketOrder(callCtx, broker.OrderRequest{
		Epic:       intent.Symbol,
		Direction:  intent.Side,
		Size:       size,
		StopLoss:   intent.Stop,
		TakeProfit: intent.TakeProfit,
	})
	if err != nil {
		// A timed-out submission is a rejection, never assume-success.
		ack := rejected(intent.ID, fmt.Sprintf("broker submission failed: %v", err))
		r.appendAck(ack)
		r.logger.Warn("order submission failed",
			zap.String("intent", intent.ID),
			zap.String("kind", string(broker.KindOf(err))),
			zap.Error(err),
		)
		return ack
	}

	ack := accepted(intent.ID, result.DealID)
	r.appendAck(ack)
	r.appendFill(intent, result, size)
	r.recordAccept()

	level := result.Level
	if level <= 0 {
		level = price
	}
	r.recordPendingFill(intent.Symbol, size*level)

	r.logger.Info("order routed",
		zap.String("intent", intent.ID),
		zap.String("deal", result.DealID),
		zap.String("epic", intent.Symbol),
		zap.Float64("size", size),
	)
	return ack
}

// ActivateKillSwitch latches the switch, persists it, disarms, and —
// when close_on_kill_switch is set — liquidates every known position
// concurrently. Total wall time is bounded by the slowest single
// close, not the sum; one stuck position cannot delay the rest.
func (r *Router) ActivateKillSwitch(ctx context.Context, reason, activatedBy string) {
	r.deps.Kill.Activate(reason, activatedBy)
	if r.deps.KillStatePath != "" {
		if err := r.deps.Kill.Save(r.deps.KillStatePath); err != nil {
			r.logger.Error("persist kill switch state failed", zap.Error(err))
		}
	}
	r.Disarm()

	if err := r.deps.Ledger.Append(killEntry(true, reason, activatedBy)); err != nil {
		r.auditErrors.Add(1)
		r.logger.Error("audit kill switch event failed", zap.Error(err))
	}

	r.logger.Error("kill switch activated",
		zap.String("reason", reason),
		zap.String("by", activatedBy),
	)

	cfg := r.Config()
	if !cfg.CloseOnKillSwitch {
		return
	}

	positions := r.book.Positions()
	if len(positions) == 0 {
		return
	}

	// Spawn all closes, then join all. Close failures are isolated:
	// logged and skipped, never propagated to abort the sibling closes.
	var group errgroup.Group
	for _, p := range positions {
		group.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.deps.CallTimeout)
			defer cancel()

			_, err := r.deps.Broker.ClosePosition(callCtx, broker.CloseRequest{
				DealID:    p.DealID,
				Epic:      p.Epic,
				Direction: p.Direction,
				Size:      p.Size,
			})
			if err != nil {
				r.logger.Error("emergency close failed",
					zap.String("deal", p.DealID),
					zap.String("epic", p.Epic),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = group.Wait()

	r.logger.Info("emergency liquidation complete", zap.Int("positions", len(positions)))
}

// ResetKillSwitch clears the latch and its persisted state, leaving
// the router connected but disarmed.
func (r *Router) ResetKillSwitch() error {
	r.deps.Kill.Reset()
	if r.deps.KillStatePath != "" {
		if err := r.deps.Kill.Save(r.deps.KillStatePath); err != nil {
			return fmt.Errorf("persist kill switch reset: %w", err)
		}
	}
	if err := r.deps.Ledger.Append(killEntry(false, "", "")); err != nil {
		r.auditErrors.Add(1)
		r.logger.Error("audit kill switch reset failed", zap.Error(err))
	}
	r.logger.Info("kill switch reset")
	return nil
}

// referencePrice picks the price used for exposure arithmetic: the
// intent's entry when present, else a live quote mid, else the last
// known open level for the epic.
func (r *Router) referencePrice(ctx context.Context, intent OrderIntent) float64 {
	if intent.Entry != nil && *intent.Entry > 0 {
		return *intent.Entry
	}
	if r.deps.Ticks != nil {
		if tick, err := r.deps.Ticks.GetTick(ctx, intent.Symbol); err == nil {
			return tick.Mid()
		}
	}
	for _, p := range r.book.Positions() {
		if p.Epic == intent.Symbol && p.OpenLevel > 0 {
			return p.OpenLevel
		}
	}
	return 0
}

func (r *Router) finishRejected(intent OrderIntent, reason string) OrderAck {
	ack := rejected(intent.ID, reason)
	r.appendAck(ack)
	r.logger.Info("intent rejected",
		zap.String("intent", intent.ID),
		zap.String("reason", reason),
	)
	return ack
}

func (r *Router) appendAck(ack OrderAck) {
	entry := journal.Entry{
		Time: ack.Time,
		Type: journal.TypeAck,
		Ack: &journal.AckRecord{
			IntentID: ack.IntentID,
			Status:   string(ack.Status),
			DealID:   ack.DealID,
			Reason:   ack.Reason,
		},
	}
	if err := r.deps.Ledger.Append(entry); err != nil {
		r.auditErrors.Add(1)
		r.logger.Error("audit ack append failed", zap.Error(err))
	}
}

func (r *Router) appendFill(intent OrderIntent, result broker.OrderResult, size float64) {
	entry := journal.Entry{
		Time: time.Now().UTC(),
		Type: journal.TypeFill,
		Fill: &journal.FillRecord{
			IntentID: intent.ID,
			DealID:   result.DealID,
			Epic:     intent.Symbol,
			Side:     string(intent.Side),
			Size:     size,
			Level:    result.Level,
		},
	}
	if err := r.deps.Ledger.Append(entry); err != nil {
		r.auditErrors.Add(1)
		r.logger.Error("audit fill append failed", zap.Error(err))
	}
}

func intentEntry(intent OrderIntent, size float64) journal.Entry {
	return journal.Entry{
		Time: time.Now().UTC(),
		Type: journal.TypeIntent,
		Intent: &journal.IntentRecord{
			ID:         intent.ID,
			Strategy:   intent.Strategy,
			Symbol:     intent.Symbol,
			Side:       string(intent.Side),
			Size:       size,
			Entry:      intent.Entry,
			Stop:       intent.Stop,
			TakeProfit: intent.TakeProfit,
		},
	}
}

func killEntry(active bool, reason, by string) journal.Entry {
	return journal.Entry{
		Time: time.Now().UTC(),
		Type: journal.TypeKillSwitch,
		KillSwitch: &journal.KillSwitchRecord{
			Active:      active,
			Reason:      reason,
			ActivatedBy: by,
		},
	}
}

// pendingExposure returns the open count and notional of fills the
// reconciler has not yet folded into the book.
func (r *Router) pendingExposure(epic string) (opens int, symbol, total float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expirePendingLocked()
	return r.pendingOpens, r.pendingBySym[epic], r.pendingTotal
}

// expirePendingLocked drops pending fills once a newer reconciliation
// has landed; the book is authoritative from that point.
func (r *Router) expirePendingLocked() {
	if sync := r.book.LastSync(); sync.After(r.pendingSyncAt) {
		r.pendingSyncAt = sync
		r.pendingOpens = 0
		r.pendingTotal = 0
		r.pendingBySym = nil
	}
}

func (r *Router) recordPendingFill(epic string, notional float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expirePendingLocked()
	r.pendingOpens++
	r.pendingTotal += notional
	if r.pendingBySym == nil {
		r.pendingBySym = make(map[string]float64)
	}
	r.pendingBySym[epic] += notional
}

// recentAccepts counts accepted intents in the trailing hour.
func (r *Router) recentAccepts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	kept := r.acceptTimes[:0]
	for _, t := range r.acceptTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.acceptTimes = kept
	return len(kept)
}

func (r *Router) recordAccept() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acceptTimes = append(r.acceptTimes, time.Now())
}

// dayRealized tracks balance drift since the first observation of the
// current UTC day, backing the daily loss circuit breaker.
func (r *Router) dayRealized(balance float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if r.dayDate != today {
		r.dayDate = today
		r.dayStart = balance
	}
	return balance - r.dayStart
}
