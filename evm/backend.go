package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Caller is the read-only subset of the Ethereum RPC used for probing and
// precondition checks. *ethclient.Client satisfies it directly.
type Caller interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Invoker executes a state-mutating call from one of the identities the
// process custodies. Implementations must not report success unless the call
// was included and did not revert. Return data may be empty: transaction
// receipts do not carry it, so callers must treat an empty return as success.
type Invoker interface {
	Invoke(ctx context.Context, from common.Address, to common.Address, value *big.Int, input []byte) ([]byte, error)
}

// Backend bundles the full chain access surface required by the protocol.
type Backend interface {
	Caller
	Invoker
}

// Call performs a read against a contract and returns the raw return data.
func Call(ctx context.Context, caller Caller, from, to common.Address, input []byte) ([]byte, error) {
	msg := ethereum.CallMsg{From: from, To: &to, Data: input}
	return caller.CallContract(ctx, msg, nil)
}
