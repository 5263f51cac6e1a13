package gifts_test

import (
	"context"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"giftvault/native/common"
	"giftvault/native/gifts"
	"giftvault/native/token"
)

func TestHolderReceiveRequiresAuthorization(t *testing.T) {
	f := newFixture(t)
	sender := addr(0x01)
	_, tokenAddr := f.fungibleGift(t, sender, 100)

	gift := &gifts.Gift{
		RecipientHash: hashOf(0x11),
		Token:         tokenAddr,
		AmountOrID:    big.NewInt(10),
		Sender:        sender,
		Kind:          token.KindFungible,
	}
	err := f.holder.Receive(context.Background(), addr(0x99), sender, gift)
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestHolderReleaseRejectsZeroRecipient(t *testing.T) {
	f := newFixture(t)
	sender := addr(0x01)
	_, tokenAddr := f.fungibleGift(t, sender, 100)

	gift := &gifts.Gift{
		RecipientHash: hashOf(0x11),
		Token:         tokenAddr,
		AmountOrID:    big.NewInt(10),
		Sender:        sender,
		Kind:          token.KindFungible,
	}
	err := f.holder.Release(context.Background(), f.engineSelf, sender, gift, ethcommon.Address{}, nil)
	require.ErrorIs(t, err, gifts.ErrInvalidCaller)
}

func TestHolderReleaseRejectsFeeAboveEscrow(t *testing.T) {
	f := newFixture(t)
	sender := addr(0x01)
	_, tokenAddr := f.fungibleGift(t, sender, 100)

	gift := &gifts.Gift{
		RecipientHash: hashOf(0x11),
		Token:         tokenAddr,
		AmountOrID:    big.NewInt(10),
		Sender:        sender,
		Kind:          token.KindFungible,
		Fee:           big.NewInt(11),
	}
	err := f.holder.Release(context.Background(), f.engineSelf, sender, gift, addr(0x02), nil)
	require.ErrorIs(t, err, gifts.ErrFeePaymentFailed)
}

func TestHolderReceiverHooks(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, gifts.ERC721ReceivedSelector, f.holder.OnERC721Received(addr(0x01), addr(0x02), big.NewInt(1), nil))
	require.Equal(t, gifts.ERC1155ReceivedSelector, f.holder.OnERC1155Received(addr(0x01), addr(0x02), big.NewInt(1), big.NewInt(1), nil))
}
