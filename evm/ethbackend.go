package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrExecutionReverted reports a mined but failed invocation.
var ErrExecutionReverted = errors.New("evm: execution reverted")

const receiptPollInterval = 2 * time.Second

// Dial initialises an Ethereum RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// SigningBackend is the production Backend: reads go straight to the node and
// writes are signed locally with the custodial key and submitted as legacy
// transactions.
type SigningBackend struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
}

// NewSigningBackend wraps a dialled client with the custodial signing key.
func NewSigningBackend(client *ethclient.Client, key *ecdsa.PrivateKey, chainID *big.Int) (*SigningBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("evm: client required")
	}
	if key == nil {
		return nil, fmt.Errorf("evm: signing key required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("evm: chain id required")
	}
	return &SigningBackend{
		client:  client,
		key:     key,
		from:    gethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
	}, nil
}

// Address returns the identity transactions are signed as.
func (b *SigningBackend) Address() common.Address { return b.from }

func (b *SigningBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return b.client.CodeAt(ctx, account, blockNumber)
}

func (b *SigningBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return b.client.CallContract(ctx, call, blockNumber)
}

// Invoke signs and submits a state-mutating call, then waits for the receipt.
// The from address must match the custodial key; the holder is the only
// identity this process may move value for.
func (b *SigningBackend) Invoke(ctx context.Context, from common.Address, to common.Address, value *big.Int, input []byte) ([]byte, error) {
	if from != b.from {
		return nil, fmt.Errorf("evm: cannot sign for %s, custodial key is %s", from.Hex(), b.from.Hex())
	}
	nonce, err := b.client.PendingNonceAt(ctx, b.from)
	if err != nil {
		return nil, fmt.Errorf("evm: fetch nonce: %w", err)
	}
	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("evm: suggest gas price: %w", err)
	}
	msg := ethereum.CallMsg{From: b.from, To: &to, Value: value, Data: input}
	gasLimit, err := b.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("evm: estimate gas: %w", err)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return nil, fmt.Errorf("evm: sign transaction: %w", err)
	}
	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("evm: send transaction: %w", err)
	}
	return nil, b.waitMined(ctx, signed.Hash())
}

func (b *SigningBackend) waitMined(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := b.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: tx %s", ErrExecutionReverted, hash.Hex())
			}
			return nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("evm: fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
