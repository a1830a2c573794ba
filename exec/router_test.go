package exec

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/livetrader/broker"
	"github.com/rustyeddy/livetrader/broker/sim"
	"github.com/rustyeddy/livetrader/config"
	"github.com/rustyeddy/livetrader/gates"
	"github.com/rustyeddy/livetrader/journal"
	"github.com/rustyeddy/livetrader/killswitch"
	"github.com/rustyeddy/livetrader/market"
)

// recordingLedger captures audit entries in memory and can be told to
// fail a single entry type, which is how the fail-closed audit path is
// exercised.
type recordingLedger struct {
	mu      sync.Mutex
	entries []journal.Entry
	failOn  journal.EntryType
}

func (l *recordingLedger) Append(e journal.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failOn != "" && e.Type == l.failOn {
		return errors.New("disk full")
	}
	l.entries = append(l.entries, e)
	return nil
}

func (l *recordingLedger) Close() error { return nil }

func (l *recordingLedger) ofType(t journal.EntryType) []journal.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []journal.Entry
	for _, e := range l.entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// countingBroker tracks how many order and close calls reach the
// broker, so rejection tests can assert zero submissions happened.
type countingBroker struct {
	positions []broker.Position
	orders    atomic.Int64
	closes    atomic.Int64

	mu        sync.Mutex
	closeReqs []broker.CloseRequest
}

func (b *countingBroker) Login(ctx context.Context) error { return nil }

func (b *countingBroker) ListAccounts(ctx context.Context) ([]broker.AccountSummary, error) {
	return []broker.AccountSummary{{ID: "A1", Currency: "USD", Balance: 100000, Available: 100000}}, nil
}

func (b *countingBroker) ListPositions(ctx context.Context) ([]broker.Position, error) {
	return b.positions, nil
}

func (b *countingBroker) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	b.orders.Add(1)
	return broker.OrderResult{DealID: "DEAL", Status: broker.StatusFilled, Level: 1.1}, nil
}

func (b *countingBroker) ClosePosition(ctx context.Context, req broker.CloseRequest) (broker.OrderResult, error) {
	b.closes.Add(1)
	b.mu.Lock()
	b.closeReqs = append(b.closeReqs, req)
	b.mu.Unlock()
	return broker.OrderResult{DealID: req.DealID, Status: broker.StatusClosed, Level: 1.1}, nil
}

func (b *countingBroker) closeRequests() map[string]broker.CloseRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]broker.CloseRequest, len(b.closeReqs))
	for _, req := range b.closeReqs {
		out[req.DealID] = req
	}
	return out
}

// blockingBroker parks Login until released, exposing the window
// between two concurrent Connect calls.
type blockingBroker struct {
	countingBroker
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingBroker) Login(ctx context.Context) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}

func testExecConfig() config.Execution {
	cfg := config.Default().Execution
	cfg.ReconcileIntervalSec = 3600 // keep the loop quiet during tests
	return cfg
}

func testIntent() OrderIntent {
	intent := NewIntent("manual", "EUR_USD", broker.DirectionBuy, 1000)
	entry, stop := 1.10, 1.09
	intent.Entry = &entry
	intent.Stop = &stop
	return intent
}

func newSimEngine() *sim.Engine {
	engine := sim.NewEngine(broker.AccountSummary{ID: "SIM", Currency: "USD", Balance: 100000, Available: 100000})
	engine.Prices().Set(market.Tick{Instrument: "EUR_USD", Bid: 1.0999, Ask: 1.1001, Time: time.Now()})
	return engine
}

func TestConnectArmRoute(t *testing.T) {
	t.Parallel()

	engine := newSimEngine()
	ledger := &recordingLedger{}
	r := NewRouter(testExecConfig(), Deps{Ledger: ledger})

	assert.NoError(t, r.Connect(context.Background(), engine))
	t.Cleanup(func() { _ = r.Close() })
	assert.ErrorIs(t, r.Connect(context.Background(), engine), ErrAlreadyConnected)

	assert.NoError(t, r.Arm())

	ack := r.RouteIntent(context.Background(), testIntent())
	assert.Equal(t, AckAccepted, ack.Status)
	assert.NotEmpty(t, ack.DealID)
	assert.Empty(t, ack.Reason)

	assert.Equal(t, 1, engine.OpenCount())
	assert.Len(t, ledger.ofType(journal.TypeIntent), 1)
	assert.Len(t, ledger.ofType(journal.TypeAck), 1)
	assert.Len(t, ledger.ofType(journal.TypeFill), 1)

	state := r.GetState()
	assert.True(t, state.Connected)
	assert.True(t, state.Armed)
	assert.False(t, state.KillSwitchActive)
	assert.Zero(t, state.AuditErrors)
}

func TestRouteIntentNotArmed(t *testing.T) {
	t.Parallel()

	fb := &countingBroker{}
	r := NewRouter(testExecConfig(), Deps{})
	assert.NoError(t, r.Connect(context.Background(), fb))
	t.Cleanup(func() { _ = r.Close() })

	ack := r.RouteIntent(context.Background(), testIntent())
	assert.Equal(t, AckRejected, ack.Status)
	assert.Equal(t, "router not armed", ack.Reason)
	assert.Zero(t, fb.orders.Load())
}

func TestRouteIntentNotConnected(t *testing.T) {
	t.Parallel()

	r := NewRouter(testExecConfig(), Deps{Broker: &countingBroker{}})

	ack := r.RouteIntent(context.Background(), testIntent())
	assert.Equal(t, AckRejected, ack.Status)
	assert.Equal(t, "router not connected", ack.Reason)
}

func TestRouteIntentKillSwitchActive(t *testing.T) {
	t.Parallel()

	fb := &countingBroker{}
	r := NewRouter(testExecConfig(), Deps{})
	assert.NoError(t, r.Connect(context.Background(), fb))
	t.Cleanup(func() { _ = r.Close() })
	assert.NoError(t, r.Arm())

	r.ActivateKillSwitch(context.Background(), "manual stop", "operator")

	ack := r.RouteIntent(context.Background(), testIntent())
	assert.Equal(t, AckRejected, ack.Status)
	assert.Contains(t, ack.Reason, "kill switch")
	assert.Zero(t, fb.orders.Load(), "no broker call may happen after the kill switch latches")

	assert.ErrorIs(t, r.Arm(), ErrKillSwitchActive)
	assert.True(t, r.GetState().KillSwitchActive)
	assert.False(t, r.GetState().Armed)
}

func TestRouteIntentMaxPositions(t *testing.T) {
	t.Parallel()

	fb := &countingBroker{positions: []broker.Position{
		{DealID: "D1", Epic: "EUR_USD", Direction: broker.DirectionBuy, Size: 100, OpenLevel: 1.1},
		{DealID: "D2", Epic: "USD_JPY", Direction: broker.DirectionSell, Size: 100, OpenLevel: 151.0},
		{DealID: "D3", Epic: "GBP_USD", Direction: broker.DirectionBuy, Size: 100, OpenLevel: 1.27},
	}}
	r := NewRouter(testExecConfig(), Deps{}) // default cap is 3 concurrent positions
	assert.NoError(t, r.Connect(context.Background(), fb))
	t.Cleanup(func() { _ = r.Close() })
	assert.NoError(t, r.Arm())

	ack := r.RouteIntent(context.Background(), testIntent())
	assert.Equal(t, AckRejected, ack.Status)
	assert.Contains(t, ack.Reason, "Max positions (3) reached")
	assert.Zero(t, fb.orders.Load())
}

func TestRouteIntentStopLossRequired(t *testing.T) {
	t.Parallel()

	fb := &countingBroker{}
	r := NewRouter(testExecConfig(), Deps{})
	assert.NoError(t, r.Connect(context.Background(), fb))
	t.Cleanup(func() { _ = r.Close() })
	assert.NoError(t, r.Arm())

	intent := testIntent()
	intent.Stop = nil
	ack := r.RouteIntent(context.Background(), intent)
	assert.Equal(t, AckRejected, ack.Status)
	assert.Contains(t, ack.Reason, "stop loss required")
	assert.Zero(t, fb.orders.Load())
}

func TestRouteIntentAuditFailureRejects(t *testing.T) {
	t.Parallel()

	fb := &countingBroker{}
	ledger := &recordingLedger{failOn: journal.TypeIntent}
	r := NewRouter(testExecConfig(), Deps{Ledger: ledger})
	assert.NoError(t, r.Connect(context.Background(), fb))
	t.Cleanup(func() { _ = r.Close() })
	assert.NoError(t, r.Arm())

	ack := r.RouteIntent(context.Background(), testIntent())
	assert.Equal(t, AckRejected, ack.Status)
	assert.Contains(t, ack.Reason, "audit log unavailable")
	assert.Zero(t, fb.orders.Load(), "no order without a durable intent record")
	assert.Equal(t, int64(1), r.GetState().AuditErrors)
}

func TestKillSwitchFanOut(t *testing.T) {
	t.Parallel()

	engine := newSimEngine()

	// Open five positions directly on the sim so Connect sees them.
	for i := 0; i < 5; i++ {
		_, err := engine.PlaceMarketOrder(context.Background(), broker.OrderRequest{
			Epic: "EUR_USD", Direction: broker.DirectionBuy, Size: 100,
		})
		assert.NoError(t, err)
	}

	r := NewRouter(testExecConfig(), Deps{})
	assert.NoError(t, r.Connect(context.Background(), engine))
	t.Cleanup(func() { _ = r.Close() })
	assert.Equal(t, 5, len(r.GetPositions()))

	engine.SetLatency(200 * time.Millisecond)

	start := time.Now()
	r.ActivateKillSwitch(context.Background(), "fan-out test", "test")
	elapsed := time.Since(start)

	// Concurrent closes bound the wall time by the slowest close, not
	// the 1s a serial sweep would take.
	assert.Less(t, elapsed, 600*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Equal(t, 0, engine.OpenCount())
	assert.True(t, r.GetState().KillSwitchActive)
	assert.False(t, r.GetState().Armed)
}

func TestKillSwitchCloseFailureIsIsolated(t *testing.T) {
	t.Parallel()

	engine := newSimEngine()
	for i := 0; i < 3; i++ {
		_, err := engine.PlaceMarketOrder(context.Background(), broker.OrderRequest{
			Epic: "EUR_USD", Direction: broker.DirectionBuy, Size: 100,
		})
		assert.NoError(t, err)
	}

	r := NewRouter(testExecConfig(), Deps{})
	assert.NoError(t, r.Connect(context.Background(), engine))
	t.Cleanup(func() { _ = r.Close() })

	engine.FailNext("close", broker.NewCallError("close", broker.KindNetwork, errors.New("connection reset")))

	r.ActivateKillSwitch(context.Background(), "partial close", "test")

	// One close failed, the siblings still went through.
	assert.Equal(t, 1, engine.OpenCount())
	assert.True(t, r.GetState().KillSwitchActive)
}

func TestKillSwitchClosesEachPositionOnItsOwnSymbol(t *testing.T) {
	t.Parallel()

	// Multi-symbol account: every close must target the position's own
	// symbol with the position's own size and direction.
	fb := &countingBroker{positions: []broker.Position{
		{DealID: "BTC/USDT:BUY", Epic: "BTC/USDT", Direction: broker.DirectionBuy, Size: 0.5, OpenLevel: 60000},
		{DealID: "ETH/USDT:SELL", Epic: "ETH/USDT", Direction: broker.DirectionSell, Size: 4, OpenLevel: 2500},
	}}
	r := NewRouter(testExecConfig(), Deps{})
	assert.NoError(t, r.Connect(context.Background(), fb))
	t.Cleanup(func() { _ = r.Close() })

	r.ActivateKillSwitch(context.Background(), "flatten", "test")

	reqs := fb.closeRequests()
	assert.Len(t, reqs, 2)

	btc := reqs["BTC/USDT:BUY"]
	assert.Equal(t, "BTC/USDT", btc.Epic)
	assert.Equal(t, broker.DirectionBuy, btc.Direction)
	assert.InDelta(t, 0.5, btc.Size, 1e-9)

	eth := reqs["ETH/USDT:SELL"]
	assert.Equal(t, "ETH/USDT", eth.Epic)
	assert.Equal(t, broker.DirectionSell, eth.Direction)
	assert.InDelta(t, 4, eth.Size, 1e-9)
}

func TestRouteIntentCapsSeePendingFills(t *testing.T) {
	t.Parallel()

	// Back-to-back intents inside one reconcile interval: the book has
	// not caught up, so the cap must count the router's own fills.
	engine := newSimEngine()
	r := NewRouter(testExecConfig(), Deps{}) // cap is 3 concurrent positions
	assert.NoError(t, r.Connect(context.Background(), engine))
	t.Cleanup(func() { _ = r.Close() })
	assert.NoError(t, r.Arm())

	for i := 0; i < 3; i++ {
		ack := r.RouteIntent(context.Background(), testIntent())
		assert.Equal(t, AckAccepted, ack.Status)
	}

	for i := 0; i < 2; i++ {
		ack := r.RouteIntent(context.Background(), testIntent())
		assert.Equal(t, AckRejected, ack.Status)
		assert.Contains(t, ack.Reason, "Max positions (3) reached")
	}
	assert.Equal(t, 3, engine.OpenCount())
}

func TestRouteIntentExposureSeesPendingFills(t *testing.T) {
	t.Parallel()

	cfg := testExecConfig()
	cfg.PerSymbolExposureCap = 1200
	cfg.SizeStep = 100
	cfg.MinSize = 100

	engine := newSimEngine()
	r := NewRouter(cfg, Deps{})
	assert.NoError(t, r.Connect(context.Background(), engine))
	t.Cleanup(func() { _ = r.Close() })
	assert.NoError(t, r.Arm())

	// First intent consumes nearly the whole symbol cap.
	assert.Equal(t, AckAccepted, r.RouteIntent(context.Background(), testIntent()).Status)

	// The remaining headroom cannot fit a minimum-size order, even
	// before the fill shows up in the reconciled book.
	ack := r.RouteIntent(context.Background(), testIntent())
	assert.Equal(t, AckRejected, ack.Status)
	assert.Contains(t, ack.Reason, "no size fits within exposure caps")
}

func TestConnectIsSingleFlight(t *testing.T) {
	t.Parallel()

	bb := &blockingBroker{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := NewRouter(testExecConfig(), Deps{})

	done := make(chan error, 1)
	go func() { done <- r.Connect(context.Background(), bb) }()

	<-bb.entered
	assert.ErrorIs(t, r.Connect(context.Background(), bb), ErrAlreadyConnected)

	close(bb.release)
	assert.NoError(t, <-done)
	t.Cleanup(func() { _ = r.Close() })

	assert.ErrorIs(t, r.Connect(context.Background(), bb), ErrAlreadyConnected)
}

func TestReferencePriceFallsBackToTicks(t *testing.T) {
	t.Parallel()

	ticks := market.NewTickStore()
	ticks.Set(market.Tick{Instrument: "EUR_USD", Bid: 1.0998, Ask: 1.1002, Time: time.Now()})

	r := NewRouter(testExecConfig(), Deps{Ticks: ticks})

	intent := NewIntent("manual", "EUR_USD", broker.DirectionBuy, 1000)
	assert.InDelta(t, 1.1000, r.referencePrice(context.Background(), intent), 1e-9)

	entry := 1.25
	intent.Entry = &entry
	assert.InDelta(t, 1.25, r.referencePrice(context.Background(), intent), 1e-9)
}

func TestKillSwitchRestoredOnConnect(t *testing.T) {
	t.Parallel()

	statePath := filepath.Join(t.TempDir(), "killswitch.json")

	crashed := killswitch.New()
	crashed.Activate("drawdown breach", "risk-engine")
	assert.NoError(t, crashed.Save(statePath))

	r := NewRouter(testExecConfig(), Deps{KillStatePath: statePath})
	assert.NoError(t, r.Connect(context.Background(), &countingBroker{}))
	t.Cleanup(func() { _ = r.Close() })

	assert.True(t, r.GetState().KillSwitchActive, "restart must not forget an active kill switch")
	assert.ErrorIs(t, r.Arm(), ErrKillSwitchActive)

	ack := r.RouteIntent(context.Background(), testIntent())
	assert.Equal(t, AckRejected, ack.Status)
	assert.Contains(t, ack.Reason, "kill switch")

	assert.NoError(t, r.ResetKillSwitch())
	assert.False(t, r.GetState().KillSwitchActive)
	assert.NoError(t, r.Arm())
}

func TestArmRequiresConfirmation(t *testing.T) {
	t.Parallel()

	cfg := testExecConfig()
	cfg.RequireArmConfirmation = true

	gate := gates.NewLiveGate(config.Gates{ConfirmationTTLSec: 300})
	r := NewRouter(cfg, Deps{Gate: gate})
	assert.NoError(t, r.Connect(context.Background(), &countingBroker{}))
	t.Cleanup(func() { _ = r.Close() })

	assert.ErrorIs(t, r.Arm(), ErrConfirmationRequired)

	r.Confirm()
	assert.NoError(t, r.Arm())
	assert.True(t, r.GetState().Armed)

	r.Disarm()
	assert.False(t, r.GetState().Armed)
}

func TestConnectLiveModeBlockedByGate(t *testing.T) {
	t.Parallel()

	cfg := testExecConfig()
	cfg.Mode = config.ModeLive

	gate := gates.NewLiveGate(config.Gates{}) // no token, no account lock
	r := NewRouter(cfg, Deps{Gate: gate})

	err := r.Connect(context.Background(), &countingBroker{})
	var blocked *gates.GateBlockedError
	assert.ErrorAs(t, err, &blocked)
	assert.NotEmpty(t, blocked.Blockers)
}

func TestTradeRateLimit(t *testing.T) {
	t.Parallel()

	cfg := testExecConfig()
	cfg.MaxTradesPerHour = 2

	engine := newSimEngine()
	r := NewRouter(cfg, Deps{})
	assert.NoError(t, r.Connect(context.Background(), engine))
	t.Cleanup(func() { _ = r.Close() })
	assert.NoError(t, r.Arm())

	assert.Equal(t, AckAccepted, r.RouteIntent(context.Background(), testIntent()).Status)
	assert.Equal(t, AckAccepted, r.RouteIntent(context.Background(), testIntent()).Status)

	ack := r.RouteIntent(context.Background(), testIntent())
	assert.Equal(t, AckRejected, ack.Status)
	assert.Contains(t, ack.Reason, "trades per hour limit")
}

func TestSwapConfig(t *testing.T) {
	t.Parallel()

	r := NewRouter(testExecConfig(), Deps{})
	assert.Equal(t, 3, r.Config().MaxConcurrentPositions)

	cfg := r.Config()
	cfg.MaxConcurrentPositions = 5
	r.SwapConfig(cfg)
	assert.Equal(t, 5, r.Config().MaxConcurrentPositions)
}
