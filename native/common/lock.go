package common

import (
	"errors"
	"sync/atomic"
)

var ErrReentrantCall = errors.New("reentrant call")

// CallLock is the mutual-exclusion guard held for the full duration of any
// state-mutating entry point. The same instance is shared across the whole
// component chain, so a nested re-entry attempt through a different component
// fails immediately instead of deadlocking.
type CallLock struct {
	entered atomic.Bool
}

func NewCallLock() *CallLock { return &CallLock{} }

// Enter acquires the lock or fails with ErrReentrantCall when the call chain
// is already inside a guarded entry point.
func (l *CallLock) Enter() error {
	if l == nil {
		return nil
	}
	if !l.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

// Exit releases the lock. Safe to defer immediately after a successful Enter.
func (l *CallLock) Exit() {
	if l == nil {
		return
	}
	l.entered.Store(false)
}
