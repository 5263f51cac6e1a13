package common

import (
	"errors"
	"sync/atomic"
)

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the minimal capability required to inspect pause toggles.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Switch is a process-wide circuit breaker shared by every mutating entry
// point. While engaged, all guarded modules reject uniformly.
type Switch struct {
	paused atomic.Bool
}

func NewSwitch() *Switch { return &Switch{} }

// SetPaused engages or releases the breaker.
func (s *Switch) SetPaused(paused bool) {
	if s == nil {
		return
	}
	s.paused.Store(paused)
}

// IsPaused implements PauseView. The module name is accepted for interface
// compatibility; the switch pauses every module at once.
func (s *Switch) IsPaused(string) bool {
	if s == nil {
		return false
	}
	return s.paused.Load()
}
