package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// JSONL appends audit entries as one JSON object per line. The file is
// only ever opened in append mode; normal operation never truncates or
// rewrites it. Each append is fsynced — a silently lost audit record
// would undermine the safety model this log exists for.
type JSONL struct {
	mu sync.Mutex
	f  *os.File
}

func NewJSONL(path string) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &JSONL{f: f}, nil
}

func (j *JSONL) Append(e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.f.Write(data); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	return nil
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ Ledger = (*JSONL)(nil)
