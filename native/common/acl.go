package common

import (
	"errors"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorized  = errors.New("caller not authorized")
	ErrNotAdmin      = errors.New("caller is not the admin")
	ErrZeroPrincipal = errors.New("zero address principal")
)

// CapabilitySet is a per-component authorization set. Every component keeps
// its own instance: a grant in one component never propagates to another, so
// the full call chain must be provisioned explicitly at wiring time.
type CapabilitySet struct {
	mu      sync.RWMutex
	admin   ethcommon.Address
	members map[ethcommon.Address]bool
}

// NewCapabilitySet creates a set administered by the given principal.
func NewCapabilitySet(admin ethcommon.Address) *CapabilitySet {
	return &CapabilitySet{
		admin:   admin,
		members: make(map[ethcommon.Address]bool),
	}
}

// Grant authorizes a principal. Only the admin may grant.
func (s *CapabilitySet) Grant(caller, principal ethcommon.Address) error {
	if s == nil {
		return ErrNotAdmin
	}
	if principal == (ethcommon.Address{}) {
		return ErrZeroPrincipal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.admin {
		return ErrNotAdmin
	}
	s.members[principal] = true
	return nil
}

// Revoke removes a principal's capability. Only the admin may revoke.
func (s *CapabilitySet) Revoke(caller, principal ethcommon.Address) error {
	if s == nil {
		return ErrNotAdmin
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.admin {
		return ErrNotAdmin
	}
	delete(s.members, principal)
	return nil
}

// Authorized reports whether the principal holds the capability. The admin is
// implicitly authorized within its own component.
func (s *CapabilitySet) Authorized(principal ethcommon.Address) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return principal == s.admin || s.members[principal]
}

// Require fails closed with ErrUnauthorized when the principal lacks the
// capability. Called at the top of every restricted entry point, before any
// state is touched.
func (s *CapabilitySet) Require(principal ethcommon.Address) error {
	if !s.Authorized(principal) {
		return ErrUnauthorized
	}
	return nil
}

// RotateAdmin hands top-level administrative capability to a new principal.
func (s *CapabilitySet) RotateAdmin(caller, next ethcommon.Address) error {
	if s == nil {
		return ErrNotAdmin
	}
	if next == (ethcommon.Address{}) {
		return ErrZeroPrincipal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.admin {
		return ErrNotAdmin
	}
	s.admin = next
	return nil
}

// Admin returns the current administrative principal.
func (s *CapabilitySet) Admin() ethcommon.Address {
	if s == nil {
		return ethcommon.Address{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admin
}
