package common

import (
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func addr(fill byte) ethcommon.Address {
	var a ethcommon.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestGuardRejectsWhilePaused(t *testing.T) {
	sw := NewSwitch()
	if err := Guard(sw, "gifts"); err != nil {
		t.Fatalf("unexpected error while unpaused: %v", err)
	}
	sw.SetPaused(true)
	if err := Guard(sw, "gifts"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	sw.SetPaused(false)
	if err := Guard(sw, "gifts"); err != nil {
		t.Fatalf("unexpected error after unpause: %v", err)
	}
}

func TestCapabilitySetGrantRequire(t *testing.T) {
	admin := addr(0x01)
	member := addr(0x02)
	stranger := addr(0x03)

	set := NewCapabilitySet(admin)
	if err := set.Require(member); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized before grant, got %v", err)
	}
	if err := set.Grant(stranger, member); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin for non-admin grant, got %v", err)
	}
	if err := set.Grant(admin, member); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := set.Require(member); err != nil {
		t.Fatalf("expected member authorized, got %v", err)
	}
	if err := set.Require(admin); err != nil {
		t.Fatalf("expected admin implicitly authorized, got %v", err)
	}
	if err := set.Revoke(admin, member); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := set.Require(member); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized after revoke, got %v", err)
	}
}

func TestCapabilitySetRotateAdmin(t *testing.T) {
	admin := addr(0x01)
	next := addr(0x04)

	set := NewCapabilitySet(admin)
	if err := set.RotateAdmin(next, next); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err := set.RotateAdmin(admin, ethcommon.Address{}); !errors.Is(err, ErrZeroPrincipal) {
		t.Fatalf("expected ErrZeroPrincipal, got %v", err)
	}
	if err := set.RotateAdmin(admin, next); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if got := set.Admin(); got != next {
		t.Fatalf("admin not rotated, got %s", got.Hex())
	}
	if set.Authorized(admin) {
		t.Fatal("old admin should lose implicit authorization")
	}
}

func TestCallLockRejectsNestedEntry(t *testing.T) {
	lock := NewCallLock()
	if err := lock.Enter(); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := lock.Enter(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	lock.Exit()
	if err := lock.Enter(); err != nil {
		t.Fatalf("enter after exit: %v", err)
	}
	lock.Exit()
}
