package journal

import "sync"

// SnapshotStore is the durable sink the buffer flushes into.
type SnapshotStore interface {
	SaveSnapshots([]PositionSnapshot) error
	Close() error
}

// SnapshotBuffer accumulates reconciliation snapshots in memory
// between flushes. The reconciliation loop runs for the life of the
// process, so the buffer being emptied after every successful flush is
// an invariant, not an optimization.
type SnapshotBuffer struct {
	mu    sync.Mutex
	snaps []PositionSnapshot
}

func NewSnapshotBuffer() *SnapshotBuffer {
	return &SnapshotBuffer{}
}

func (b *SnapshotBuffer) Add(s PositionSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snaps = append(b.snaps, s)
}

func (b *SnapshotBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.snaps)
}

// Flush writes all buffered snapshots to the store and clears the
// buffer on success. On failure the buffer is kept intact so the next
// flush retries the same snapshots.
func (b *SnapshotBuffer) Flush(store SnapshotStore) error {
	b.mu.Lock()
	pending := b.snaps
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	if err := store.SaveSnapshots(pending); err != nil {
		return err
	}

	b.mu.Lock()
	// Drop exactly what was flushed; snapshots added during the write
	// stay queued for the next cycle.
	b.snaps = b.snaps[len(pending):]
	b.mu.Unlock()
	return nil
}
