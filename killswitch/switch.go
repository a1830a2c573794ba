// Package killswitch provides the emergency latch that blocks all
// trading until an operator explicitly resets it. The latch survives
// process restarts through a small JSON state file.
package killswitch

import (
	"fmt"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the latch state.
type Snapshot struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedBy string    `json:"activated_by,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
}

// Switch is a two-state latch: inactive or active.
type Switch struct {
	mu    sync.RWMutex
	state Snapshot
}

func New() *Switch {
	return &Switch{}
}

// Activate latches the switch. Re-activating while already active
// updates the metadata and is not an error.
func (s *Switch) Activate(reason, activatedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Snapshot{
		Active:      true,
		Reason:      reason,
		ActivatedBy: activatedBy,
		ActivatedAt: time.Now().UTC(),
	}
}

// Reset clears the latch back to inactive.
func (s *Switch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Snapshot{}
}

func (s *Switch) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Active
}

// CanTrade reports whether trading is allowed, with a reason when not.
func (s *Switch) CanTrade() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.state.Active {
		return true, ""
	}
	return false, fmt.Sprintf("kill switch active since %s (%s, by %s)",
		s.state.ActivatedAt.Format(time.RFC3339), s.state.Reason, s.state.ActivatedBy)
}

func (s *Switch) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
