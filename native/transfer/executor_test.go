package transfer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"giftvault/core/events"
	"giftvault/evm/evmtest"
	"giftvault/native/common"
	"giftvault/native/token"
)

type memKindStore struct {
	mu    sync.Mutex
	kinds map[ethcommon.Address]token.Kind
}

func newMemKindStore() *memKindStore {
	return &memKindStore{kinds: make(map[ethcommon.Address]token.Kind)}
}

func (s *memKindStore) TokenKindGet(addr ethcommon.Address) (token.Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.kinds[addr]
	return kind, ok
}

func (s *memKindStore) TokenKindPut(addr ethcommon.Address, kind token.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds[addr] = kind
	return nil
}

func testAddr(fill byte) ethcommon.Address {
	var a ethcommon.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

type executorFixture struct {
	chain    *evmtest.Chain
	executor *Executor
	emitter  *evmtest.CollectEmitter
	admin    ethcommon.Address
	caller   ethcommon.Address
	operator ethcommon.Address
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	chain := evmtest.NewChain()
	admin := testAddr(0x01)
	caller := testAddr(0x02)
	operator := testAddr(0x03)

	self := testAddr(0x04)
	cls := token.NewClassifier(chain, newMemKindStore(), operator, admin)
	if err := cls.Capabilities().Grant(admin, self); err != nil {
		t.Fatalf("grant classifier: %v", err)
	}
	exec := NewExecutor(self, chain, cls, operator, admin)
	if err := exec.Capabilities().Grant(admin, caller); err != nil {
		t.Fatalf("grant: %v", err)
	}
	emitter := &evmtest.CollectEmitter{}
	exec.SetEmitter(emitter)
	return &executorFixture{chain: chain, executor: exec, emitter: emitter, admin: admin, caller: caller, operator: operator}
}

func TestTransferFungible(t *testing.T) {
	fix := newExecutorFixture(t)
	tokenAddr := testAddr(0x10)
	erc20 := evmtest.NewFungibleToken(big.NewInt(0))
	fix.chain.Register(tokenAddr, erc20)

	sender := testAddr(0x20)
	recipient := testAddr(0x21)
	erc20.Mint(sender, big.NewInt(100))
	erc20.Approve(sender, fix.operator, big.NewInt(100))

	err := fix.executor.Transfer(context.Background(), fix.caller, fix.caller, tokenAddr, sender, recipient, big.NewInt(40))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := erc20.BalanceOf(recipient); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("recipient balance = %s", got)
	}
	if got := erc20.BalanceOf(sender); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("sender balance = %s", got)
	}
	if len(fix.emitter.ByType(events.TypeTransferCompleted)) != 1 {
		t.Fatal("expected transfer completed event")
	}
}

func TestTransferFungibleEmptyReturnTolerated(t *testing.T) {
	fix := newExecutorFixture(t)
	tokenAddr := testAddr(0x11)
	erc20 := evmtest.NewFungibleToken(big.NewInt(0))
	erc20.EmptyTransferReturn = true
	fix.chain.Register(tokenAddr, erc20)

	sender := testAddr(0x20)
	erc20.Mint(sender, big.NewInt(10))
	erc20.Approve(sender, fix.operator, big.NewInt(10))

	err := fix.executor.Transfer(context.Background(), fix.caller, fix.caller, tokenAddr, sender, testAddr(0x21), big.NewInt(10))
	if err != nil {
		t.Fatalf("transfer with empty return: %v", err)
	}
}

func TestTransferFungiblePreconditions(t *testing.T) {
	fix := newExecutorFixture(t)
	tokenAddr := testAddr(0x12)
	erc20 := evmtest.NewFungibleToken(big.NewInt(0))
	fix.chain.Register(tokenAddr, erc20)

	sender := testAddr(0x20)
	recipient := testAddr(0x21)
	erc20.Mint(sender, big.NewInt(5))

	err := fix.executor.Transfer(context.Background(), fix.caller, fix.caller, tokenAddr, sender, recipient, big.NewInt(10))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	erc20.Mint(sender, big.NewInt(5))
	err = fix.executor.Transfer(context.Background(), fix.caller, fix.caller, tokenAddr, sender, recipient, big.NewInt(10))
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestTransferRejectsInvalidRecipient(t *testing.T) {
	fix := newExecutorFixture(t)
	sender := testAddr(0x20)

	err := fix.executor.Transfer(context.Background(), fix.caller, fix.caller, testAddr(0x10), sender, ethcommon.Address{}, big.NewInt(1))
	if !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient for zero address, got %v", err)
	}
	err = fix.executor.Transfer(context.Background(), fix.caller, fix.caller, testAddr(0x10), sender, sender, big.NewInt(1))
	if !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient for self transfer, got %v", err)
	}
}

func TestTransferRejectsUnknownToken(t *testing.T) {
	fix := newExecutorFixture(t)
	err := fix.executor.Transfer(context.Background(), fix.caller, fix.caller, testAddr(0x55), testAddr(0x20), testAddr(0x21), big.NewInt(1))
	if !errors.Is(err, ErrUnsupportedToken) {
		t.Fatalf("expected ErrUnsupportedToken, got %v", err)
	}
}

func TestTransferRejectsUnauthorizedCaller(t *testing.T) {
	fix := newExecutorFixture(t)
	err := fix.executor.Transfer(context.Background(), testAddr(0x99), testAddr(0x99), testAddr(0x10), testAddr(0x20), testAddr(0x21), big.NewInt(1))
	if !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTransferRejectsWhilePaused(t *testing.T) {
	fix := newExecutorFixture(t)
	sw := common.NewSwitch()
	fix.executor.SetPauseView(sw)
	sw.SetPaused(true)

	err := fix.executor.Transfer(context.Background(), fix.caller, fix.caller, testAddr(0x10), testAddr(0x20), testAddr(0x21), big.NewInt(1))
	if !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestTransferUniqueSingleOwner(t *testing.T) {
	fix := newExecutorFixture(t)
	tokenAddr := testAddr(0x13)
	nft := evmtest.NewUniqueToken()
	fix.chain.Register(tokenAddr, nft)

	owner := testAddr(0x20)
	recipient := testAddr(0x21)
	id := big.NewInt(7)
	nft.Mint(owner, id)

	err := fix.executor.Transfer(context.Background(), fix.caller, fix.caller, tokenAddr, owner, recipient, id)
	if !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved before approval, got %v", err)
	}

	nft.Approve(owner, fix.operator, id)
	if err := fix.executor.Transfer(context.Background(), fix.caller, fix.caller, tokenAddr, owner, recipient, id); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := nft.OwnerOf(id); got != recipient {
		t.Fatalf("owner = %s", got.Hex())
	}
}

func TestTransferUniqueApprovedForAll(t *testing.T) {
	fix := newExecutorFixture(t)
	tokenAddr := testAddr(0x14)
	nft := evmtest.NewUniqueToken()
	fix.chain.Register(tokenAddr, nft)

	owner := testAddr(0x20)
	id := big.NewInt(9)
	nft.Mint(owner, id)
	nft.SetApprovalForAll(owner, fix.operator, true)

	if err := fix.executor.Transfer(context.Background(), fix.caller, fix.caller, tokenAddr, owner, testAddr(0x21), id); err != nil {
		t.Fatalf("transfer: %v", err)
	}
}

func TestTransferMultiBalance(t *testing.T) {
	fix := newExecutorFixture(t)
	tokenAddr := testAddr(0x15)
	multi := evmtest.NewMultiToken()
	fix.chain.Register(tokenAddr, multi)

	owner := testAddr(0x20)
	recipient := testAddr(0x21)
	id := big.NewInt(3)
	multi.Mint(owner, id, big.NewInt(5))

	err := fix.executor.Transfer(context.Background(), fix.caller, fix.caller, tokenAddr, owner, recipient, id)
	if !errors.Is(err, ErrNotApprovedForAll) {
		t.Fatalf("expected ErrNotApprovedForAll, got %v", err)
	}

	multi.SetApprovalForAll(owner, fix.operator, true)
	if err := fix.executor.Transfer(context.Background(), fix.caller, fix.caller, tokenAddr, owner, recipient, id); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	// One unit per operation for this kind.
	if got := multi.BalanceOf(recipient, id); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("recipient balance = %s", got)
	}
	if got := multi.BalanceOf(owner, id); got.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("owner balance = %s", got)
	}
}

func TestTransferEventCarriesOrigin(t *testing.T) {
	fix := newExecutorFixture(t)
	tokenAddr := testAddr(0x16)
	erc20 := evmtest.NewFungibleToken(big.NewInt(0))
	fix.chain.Register(tokenAddr, erc20)

	sender := testAddr(0x20)
	origin := testAddr(0x77)
	erc20.Mint(sender, big.NewInt(1))
	erc20.Approve(sender, fix.operator, big.NewInt(1))

	if err := fix.executor.Transfer(context.Background(), fix.caller, origin, tokenAddr, sender, testAddr(0x21), big.NewInt(1)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	recorded := fix.emitter.ByType(events.TypeTransferCompleted)
	if len(recorded) != 1 {
		t.Fatalf("expected one event, got %d", len(recorded))
	}
	completed := recorded[0].(events.TransferCompleted)
	if completed.Origin != origin || completed.Caller != fix.caller {
		t.Fatalf("origin/caller attribution wrong: %s / %s", completed.Origin.Hex(), completed.Caller.Hex())
	}
}

func TestTransferRejectsNestedEntry(t *testing.T) {
	fix := newExecutorFixture(t)
	tokenAddr := testAddr(0x17)
	erc20 := evmtest.NewFungibleToken(big.NewInt(0))
	fix.chain.Register(tokenAddr, erc20)

	sender := testAddr(0x20)
	erc20.Mint(sender, big.NewInt(2))
	erc20.Approve(sender, fix.operator, big.NewInt(2))

	var nestedErr error
	erc20.TransferHook = func(ethcommon.Address, ethcommon.Address, *big.Int) {
		nestedErr = fix.executor.Transfer(context.Background(), fix.caller, fix.caller, tokenAddr, sender, testAddr(0x22), big.NewInt(1))
	}
	if err := fix.executor.Transfer(context.Background(), fix.caller, fix.caller, tokenAddr, sender, testAddr(0x21), big.NewInt(1)); err != nil {
		t.Fatalf("outer transfer: %v", err)
	}
	if !errors.Is(nestedErr, common.ErrReentrantCall) {
		t.Fatalf("expected nested call rejection, got %v", nestedErr)
	}
}
