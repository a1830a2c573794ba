// Package id generates the ULIDs used for intents, sim deals and audit
// rows. ULIDs sort by creation time, so the ledger and the snapshot
// indexes stay naturally ordered.
package id

import (
	cryptorand "crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu sync.Mutex
	// Monotonic over crypto/rand: IDs minted within the same
	// millisecond still increase lexicographically.
	entropy io.Reader = ulid.Monotonic(cryptorand.Reader, 0)
)

// New returns a fresh ULID string.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}
