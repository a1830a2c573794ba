package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/livetrader/broker"
	"github.com/rustyeddy/livetrader/market"
	"github.com/rustyeddy/livetrader/pkg/id"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosed   = errors.New("position already closed")
)

// Engine is an in-memory broker used for demo runs and tests. Calls
// honor an optional per-call latency and scripted failures, which is
// what the kill-switch fan-out tests lean on.
type Engine struct {
	mu        sync.Mutex
	account   broker.AccountSummary
	ticks     *market.TickStore
	positions map[string]*position
	latency   time.Duration
	failNext  map[string]error // op name -> error to inject once
}

type position struct {
	broker.Position
	open bool
}

func NewEngine(account broker.AccountSummary) *Engine {
	return &Engine{
		account:   account,
		ticks:     market.NewTickStore(),
		positions: make(map[string]*position),
		failNext:  make(map[string]error),
	}
}

// Prices exposes the tick store so callers can script market movement.
func (e *Engine) Prices() *market.TickStore {
	return e.ticks
}

// SetLatency makes every subsequent call sleep for d before answering.
func (e *Engine) SetLatency(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latency = d
}

// FailNext injects err on the next call of the named operation
// ("login", "accounts", "positions", "order", "close").
func (e *Engine) FailNext(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext[op] = err
}

func (e *Engine) before(ctx context.Context, op string) error {
	e.mu.Lock()
	latency := e.latency
	injected, ok := e.failNext[op]
	if ok {
		delete(e.failNext, op)
	}
	e.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return broker.NewCallError(op, broker.KindTimeout, ctx.Err())
		case <-time.After(latency):
		}
	}
	if ok {
		return injected
	}
	return nil
}

func (e *Engine) Login(ctx context.Context) error {
	return e.before(ctx, "login")
}

func (e *Engine) ListAccounts(ctx context.Context) ([]broker.AccountSummary, error) {
	if err := e.before(ctx, "accounts"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return []broker.AccountSummary{e.account}, nil
}

func (e *Engine) ListPositions(ctx context.Context) ([]broker.Position, error) {
	if err := e.before(ctx, "positions"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]broker.Position, 0, len(e.positions))
	for _, p := range e.positions {
		if p.open {
			out = append(out, p.Position)
		}
	}
	return out, nil
}

func (e *Engine) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	if err := e.before(ctx, "order"); err != nil {
		return broker.OrderResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tick, err := e.ticks.Get(req.Epic)
	if err != nil {
		return broker.OrderResult{}, broker.NewCallError("order", broker.KindRejected,
			fmt.Errorf("%s: %w", req.Epic, err))
	}

	fill := tick.Ask
	if req.Direction == broker.DirectionSell {
		fill = tick.Bid
	}

	dealID := id.New()
	e.positions[dealID] = &position{
		Position: broker.Position{
			DealID:    dealID,
			Epic:      req.Epic,
			Direction: req.Direction,
			Size:      req.Size,
			OpenLevel: fill,
			OpenedAt:  time.Now().UTC(),
		},
		open: true,
	}

	return broker.OrderResult{DealID: dealID, Status: broker.StatusFilled, Level: fill}, nil
}

func (e *Engine) ClosePosition(ctx context.Context, req broker.CloseRequest) (broker.OrderResult, error) {
	if err := e.before(ctx, "close"); err != nil {
		return broker.OrderResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.positions[req.DealID]
	if !ok {
		return broker.OrderResult{}, broker.NewCallError("close", broker.KindRejected,
			fmt.Errorf("%w: %q", ErrPositionNotFound, req.DealID))
	}
	if !p.open {
		return broker.OrderResult{}, broker.NewCallError("close", broker.KindRejected,
			fmt.Errorf("%w: %q", ErrPositionClosed, req.DealID))
	}

	tick, err := e.ticks.Get(p.Epic)
	if err != nil {
		return broker.OrderResult{}, broker.NewCallError("close", broker.KindRejected,
			fmt.Errorf("%s: %w", p.Epic, err))
	}

	// Longs close on bid, shorts on ask.
	level := tick.Bid
	if p.Direction == broker.DirectionSell {
		level = tick.Ask
	}

	p.open = false

	move := level - p.OpenLevel
	if p.Direction == broker.DirectionSell {
		move = -move
	}
	e.account.Balance += move * p.Size
	e.account.Available = e.account.Balance

	return broker.OrderResult{DealID: req.DealID, Status: broker.StatusClosed, Level: level}, nil
}

// OpenCount reports the number of currently open positions.
func (e *Engine) OpenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, p := range e.positions {
		if p.open {
			n++
		}
	}
	return n
}

var _ broker.Broker = (*Engine)(nil)
