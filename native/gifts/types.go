package gifts

import (
	"errors"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"giftvault/native/token"
)

var (
	ErrGiftAlreadyExists   = errors.New("gifts: gift already exists")
	ErrGiftNotFound        = errors.New("gifts: gift not found")
	ErrGiftAlreadyClaimed  = errors.New("gifts: gift already claimed")
	ErrNotSender           = errors.New("gifts: caller is not the sender")
	ErrGiftNotExpired      = errors.New("gifts: gift not expired yet")
	ErrEmptyRecipientHash  = errors.New("gifts: empty recipient hash")
	ErrZeroToken           = errors.New("gifts: zero token address")
	ErrInvalidAmount       = errors.New("gifts: invalid amount")
	ErrInvalidCaller       = errors.New("gifts: invalid caller")
	ErrUnsupportedToken    = errors.New("gifts: unsupported token type")
	ErrBatchLengthMismatch = errors.New("gifts: batch arrays length mismatch")
	ErrFeePaymentFailed    = errors.New("gifts: fee payment failed")
	ErrFeeSettled          = errors.New("gifts: fee settled before payout failed")
	ErrFeeOutOfRange       = errors.New("gifts: percentage fee out of range")
	ErrInvalidExpiry       = errors.New("gifts: expiry not in the future")
)

// Gift is the escrow record for a single pending gift, keyed by the recipient
// hash. AmountOrID is a quantity for fungible tokens and an item identifier
// for unique ones. The record is deleted when the gift reaches a terminal
// state, so a settled gift and a never-created one are indistinguishable to a
// later lookup; the event stream is the durable audit trail.
type Gift struct {
	RecipientHash [32]byte
	Token         ethcommon.Address
	AmountOrID    *big.Int
	Sender        ethcommon.Address
	Kind          token.Kind
	Fee           *big.Int
	Claimed       bool
	Expiry        int64
	CreatedAt     int64
}

// Clone returns a deep copy so callers can mutate freely without affecting
// the stored instance.
func (g *Gift) Clone() *Gift {
	if g == nil {
		return nil
	}
	clone := *g
	if g.AmountOrID != nil {
		clone.AmountOrID = new(big.Int).Set(g.AmountOrID)
	} else {
		clone.AmountOrID = big.NewInt(0)
	}
	if g.Fee != nil {
		clone.Fee = new(big.Int).Set(g.Fee)
	} else {
		clone.Fee = big.NewInt(0)
	}
	return &clone
}

// SanitizeGift validates a gift record and returns a normalized clone with
// non-nil amount fields. The original value is not mutated.
func SanitizeGift(g *Gift) (*Gift, error) {
	if g == nil {
		return nil, fmt.Errorf("gifts: nil gift")
	}
	clone := g.Clone()
	if clone.RecipientHash == ([32]byte{}) {
		return nil, ErrEmptyRecipientHash
	}
	if clone.Token == (ethcommon.Address{}) {
		return nil, ErrZeroToken
	}
	if clone.AmountOrID.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if !clone.Kind.Valid() || clone.Kind == token.KindUnknown {
		return nil, ErrUnsupportedToken
	}
	if clone.Fee.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return clone, nil
}

// FeeSchedule holds the two fee parameters applied at deposit time:
// PercentFee applies multiplicatively to fungible quantities with
// integer-percent granularity, FlatFee applies to every unique-item gift.
type FeeSchedule struct {
	PercentFee uint64
	FlatFee    *big.Int
}

// Clone returns a deep copy with a non-nil flat fee.
func (f *FeeSchedule) Clone() *FeeSchedule {
	if f == nil {
		return &FeeSchedule{FlatFee: big.NewInt(0)}
	}
	clone := *f
	if f.FlatFee != nil {
		clone.FlatFee = new(big.Int).Set(f.FlatFee)
	} else {
		clone.FlatFee = big.NewInt(0)
	}
	return &clone
}

// ComputeFee applies the schedule to a deposit: amount*percent/100 with
// truncating integer division for fungible tokens, the flat fee otherwise.
func (f *FeeSchedule) ComputeFee(kind token.Kind, amountOrID *big.Int) *big.Int {
	schedule := f.Clone()
	if kind != token.KindFungible {
		return schedule.FlatFee
	}
	amount := big.NewInt(0)
	if amountOrID != nil {
		amount = amountOrID
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(schedule.PercentFee))
	return fee.Div(fee, big.NewInt(100))
}
