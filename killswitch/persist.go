package killswitch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the latch state to path. The write goes through a temp
// file and rename so a crash mid-write can never leave a torn state
// file behind.
func (s *Switch) Save(path string) error {
	snap := s.Snapshot()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal kill switch state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write kill switch state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename kill switch state: %w", err)
	}
	return nil
}

// Restore loads the latch state from path into s. The round trip
// reproduces the exact pre-restart trading-allowed decision.
func (s *Switch) Restore(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read kill switch state: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse kill switch state %s: %w", filepath.Base(path), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = snap
	return nil
}

// StateFileExists reports whether a persisted state file is present.
func StateFileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
