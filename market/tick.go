package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TickSource provides the most recent quote for an instrument.
type TickSource interface {
	GetTick(ctx context.Context, instrument string) (Tick, error)
}

type Tick struct {
	Instrument string
	Bid        float64
	Ask        float64
	Time       time.Time
}

func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

var ErrNoTick = errors.New("no tick for instrument")

// TickStore is a concurrency-safe map of last-known ticks.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (s *TickStore) Set(t Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[t.Instrument] = t
}

func (s *TickStore) Get(instrument string) (Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.ticks[instrument]
	if !ok {
		return Tick{}, ErrNoTick
	}
	return t, nil
}

// GetTick implements TickSource over the store's last-known quotes.
func (s *TickStore) GetTick(ctx context.Context, instrument string) (Tick, error) {
	if err := ctx.Err(); err != nil {
		return Tick{}, err
	}
	return s.Get(instrument)
}

var _ TickSource = (*TickStore)(nil)
