// Package reconcile keeps the local position/balance belief in sync
// with the broker's authoritative state. Broker failures are expected
// here: a failed cycle keeps the previous belief and the next cycle
// retries. Stale data warns, it never blocks — the kill switch, not
// this loop, is the hard stop for genuine emergencies.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/livetrader/broker"
	"github.com/rustyeddy/livetrader/journal"
)

type Options struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	CallTimeout time.Duration
	FlushEvery  int // flush the snapshot buffer every N cycles
}

type Service struct {
	broker broker.Broker
	book   *Book
	buffer *journal.SnapshotBuffer
	store  journal.SnapshotStore
	opts   Options
	logger *zap.Logger
}

func NewService(b broker.Broker, book *Book, buffer *journal.SnapshotBuffer,
	store journal.SnapshotStore, opts Options, logger *zap.Logger) *Service {

	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 10
	}

	return &Service{
		broker: b,
		book:   book,
		buffer: buffer,
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// Run drives the reconciliation loop until ctx is cancelled. It always
// returns nil on cancellation; there is no failure that should take
// the loop down, only failures to retry next cycle.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	cycles := 0
	for {
		select {
		case <-ctx.Done():
			// Final flush so buffered snapshots survive shutdown.
			if err := s.flush(); err != nil {
				s.logger.Error("final snapshot flush failed", zap.Error(err))
			}
			return nil
		case <-ticker.C:
			s.Cycle(ctx)
			cycles++
			if cycles%s.opts.FlushEvery == 0 {
				if err := s.flush(); err != nil {
					s.logger.Error("snapshot flush failed, keeping buffer",
						zap.Int("buffered", s.buffer.Len()),
						zap.Error(err),
					)
				}
			}
		}
	}
}

func (s *Service) flush() error {
	if s.store == nil {
		return nil
	}
	return s.buffer.Flush(s.store)
}

// Cycle performs one reconciliation pass: refresh positions and
// balance, snapshot the result. Failures keep the previous belief.
func (s *Service) Cycle(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	now := time.Now().UTC()

	positions, err := s.broker.ListPositions(callCtx)
	if err != nil {
		s.logger.Warn("reconciliation failed, keeping previous positions",
			zap.String("kind", string(broker.KindOf(err))),
			zap.Error(err),
		)
		s.warnIfStale(now)
		return
	}

	s.book.ReplacePositions(positions, now)
	s.buffer.Add(journal.PositionSnapshot{
		Time:      now,
		Count:     len(positions),
		Positions: positions,
	})

	// Balance refresh rides the same cycle. The balance fetched once
	// at connect goes stale after fills; this is the refresh policy.
	accounts, err := s.broker.ListAccounts(callCtx)
	if err != nil {
		s.logger.Warn("balance refresh failed, keeping previous balance",
			zap.String("kind", string(broker.KindOf(err))),
			zap.Error(err),
		)
		return
	}
	if len(accounts) > 0 {
		s.book.SetBalance(accounts[0])
	}
}

func (s *Service) warnIfStale(now time.Time) {
	last := s.book.LastSync()
	if last.IsZero() {
		return
	}
	if age := now.Sub(last); age > s.opts.StaleAfter {
		s.logger.Warn("position data stale",
			zap.Duration("age", age),
			zap.Duration("threshold", s.opts.StaleAfter),
		)
	}
}
