// Package evmtest provides an in-memory chain backend with scriptable token
// contracts for exercising classification, transfer and escrow flows without
// a node.
package evmtest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"giftvault/core/events"
)

// ErrRevert mimics an EVM revert from a contract call.
var ErrRevert = errors.New("evmtest: execution reverted")

// Contract handles calls dispatched to a registered address.
type Contract interface {
	Call(from common.Address, input []byte, value *big.Int) ([]byte, error)
}

// Chain is a minimal in-memory EVM: registered contracts answer calls keyed by
// the 4-byte selector, and plain value transfers move a native balance ledger.
type Chain struct {
	mu        sync.Mutex
	contracts map[common.Address]Contract
	native    map[common.Address]*big.Int

	// FailNativeTransfers makes fee payouts fail, for hard-fail release tests.
	FailNativeTransfers bool
}

func NewChain() *Chain {
	return &Chain{
		contracts: make(map[common.Address]Contract),
		native:    make(map[common.Address]*big.Int),
	}
}

// Register deploys a contract at the given address.
func (c *Chain) Register(addr common.Address, contract Contract) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts[addr] = contract
}

// NativeBalance returns the chain's native balance for an account.
func (c *Chain) NativeBalance(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	bal, ok := c.native[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// FundNative credits an account's native balance.
func (c *Chain) FundNative(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bal, ok := c.native[addr]
	if !ok {
		bal = big.NewInt(0)
		c.native[addr] = bal
	}
	bal.Add(bal, amount)
}

func (c *Chain) contractAt(addr common.Address) (Contract, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	contract, ok := c.contracts[addr]
	return contract, ok
}

// CodeAt reports synthetic bytecode for registered contracts and no code for
// everything else.
func (c *Chain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if _, ok := c.contractAt(account); ok {
		return []byte{0x60, 0x80, 0x60, 0x40}, nil
	}
	return nil, nil
}

// CallContract dispatches a read-only call to the target contract.
func (c *Chain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if call.To == nil {
		return nil, fmt.Errorf("evmtest: contract creation not supported")
	}
	contract, ok := c.contractAt(*call.To)
	if !ok {
		return nil, nil
	}
	return contract.Call(call.From, call.Data, call.Value)
}

// Invoke executes a state-mutating call. An empty input against a non-contract
// target is a native value transfer.
func (c *Chain) Invoke(_ context.Context, from, to common.Address, value *big.Int, input []byte) ([]byte, error) {
	contract, isContract := c.contractAt(to)
	if len(input) == 0 && !isContract {
		return nil, c.transferNative(from, to, value)
	}
	if !isContract {
		return nil, fmt.Errorf("evmtest: no contract at %s", to.Hex())
	}
	return contract.Call(from, input, value)
}

func (c *Chain) transferNative(from, to common.Address, value *big.Int) error {
	if value == nil || value.Sign() <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailNativeTransfers {
		return fmt.Errorf("%w: native transfer rejected", ErrRevert)
	}
	fromBal, ok := c.native[from]
	if !ok || fromBal.Cmp(value) < 0 {
		return fmt.Errorf("%w: insufficient native balance", ErrRevert)
	}
	toBal, ok := c.native[to]
	if !ok {
		toBal = big.NewInt(0)
		c.native[to] = toBal
	}
	fromBal.Sub(fromBal, value)
	toBal.Add(toBal, value)
	return nil
}

// CollectEmitter records every emitted event for assertions.
type CollectEmitter struct {
	mu     sync.Mutex
	Events []events.Event
}

func (e *CollectEmitter) Emit(event events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Events = append(e.Events, event)
}

// ByType returns the recorded events matching an event type.
func (e *CollectEmitter) ByType(eventType string) []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Event
	for _, event := range e.Events {
		if event.EventType() == eventType {
			out = append(out, event)
		}
	}
	return out
}
