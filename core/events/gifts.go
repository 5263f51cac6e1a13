package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"giftvault/core/types"
)

const (
	TypeGiftDeposited   = "gifts.deposited"
	TypeGiftClaimed     = "gifts.claimed"
	TypeGiftFeesUpdated = "gifts.fees_updated"
	TypeEscrowReceived  = "gifts.escrow_received"
	TypeEscrowReleased  = "gifts.escrow_released"
)

// GiftDeposited records a newly escrowed gift keyed by its recipient hash.
type GiftDeposited struct {
	RecipientHash [32]byte
	Token         common.Address
	Sender        common.Address
	AmountOrID    *big.Int
	Kind          string
	Fee           *big.Int
	Expiry        int64
}

func (GiftDeposited) EventType() string { return TypeGiftDeposited }

func (e GiftDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeGiftDeposited,
		Attributes: map[string]string{
			"recipientHash": hex.EncodeToString(e.RecipientHash[:]),
			"token":         e.Token.Hex(),
			"sender":        e.Sender.Hex(),
			"amountOrId":    formatAmount(e.AmountOrID),
			"kind":          e.Kind,
			"fee":           formatAmount(e.Fee),
			"expiry":        strconv.FormatInt(e.Expiry, 10),
		},
	}
}

// GiftClaimed is the terminal record for a gift. Resolution distinguishes a
// recipient claim from a sender reclaim; together with GiftDeposited it is the
// only durable trace once the record is deleted.
type GiftClaimed struct {
	RecipientHash [32]byte
	Token         common.Address
	Recipient     common.Address
	AmountOrID    *big.Int
	Fee           *big.Int
	Resolution    string
}

func (GiftClaimed) EventType() string { return TypeGiftClaimed }

func (e GiftClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeGiftClaimed,
		Attributes: map[string]string{
			"recipientHash": hex.EncodeToString(e.RecipientHash[:]),
			"token":         e.Token.Hex(),
			"recipient":     e.Recipient.Hex(),
			"amountOrId":    formatAmount(e.AmountOrID),
			"fee":           formatAmount(e.Fee),
			"resolution":    e.Resolution,
		},
	}
}

// GiftFeesUpdated records an administrative fee schedule change.
type GiftFeesUpdated struct {
	PercentFee uint64
	FlatFee    *big.Int
	Caller     common.Address
}

func (GiftFeesUpdated) EventType() string { return TypeGiftFeesUpdated }

func (e GiftFeesUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeGiftFeesUpdated,
		Attributes: map[string]string{
			"percentFee": strconv.FormatUint(e.PercentFee, 10),
			"flatFee":    formatAmount(e.FlatFee),
			"caller":     e.Caller.Hex(),
		},
	}
}

// EscrowReceived records an asset entering the holder's custody.
type EscrowReceived struct {
	RecipientHash [32]byte
	Token         common.Address
	Sender        common.Address
	AmountOrID    *big.Int
	Kind          string
	Fee           *big.Int
}

func (EscrowReceived) EventType() string { return TypeEscrowReceived }

func (e EscrowReceived) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowReceived,
		Attributes: map[string]string{
			"recipientHash": hex.EncodeToString(e.RecipientHash[:]),
			"token":         e.Token.Hex(),
			"sender":        e.Sender.Hex(),
			"amountOrId":    formatAmount(e.AmountOrID),
			"kind":          e.Kind,
			"fee":           formatAmount(e.Fee),
		},
	}
}

// EscrowReleased records an asset leaving the holder's custody.
type EscrowReleased struct {
	Token      common.Address
	Recipient  common.Address
	AmountOrID *big.Int
	Fee        *big.Int
}

func (EscrowReleased) EventType() string { return TypeEscrowReleased }

func (e EscrowReleased) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowReleased,
		Attributes: map[string]string{
			"token":      e.Token.Hex(),
			"recipient":  e.Recipient.Hex(),
			"amountOrId": formatAmount(e.AmountOrID),
			"fee":        formatAmount(e.Fee),
		},
	}
}
