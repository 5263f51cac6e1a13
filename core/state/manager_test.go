package state

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"giftvault/native/gifts"
	"giftvault/native/token"
	"giftvault/storage"
)

func testGift() *gifts.Gift {
	var hash [32]byte
	hash[0] = 0xaa
	return &gifts.Gift{
		RecipientHash: hash,
		Token:         ethcommon.HexToAddress("0x1111111111111111111111111111111111111111"),
		AmountOrID:    big.NewInt(500),
		Sender:        ethcommon.HexToAddress("0x2222222222222222222222222222222222222222"),
		Kind:          token.KindFungible,
		Fee:           big.NewInt(15),
		Expiry:        1_900_000_000,
		CreatedAt:     1_800_000_000,
	}
}

func TestGiftRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	gift := testGift()

	_, ok := m.GiftGet(gift.RecipientHash)
	require.False(t, ok)

	require.NoError(t, m.GiftPut(gift))
	got, ok := m.GiftGet(gift.RecipientHash)
	require.True(t, ok)
	require.Equal(t, gift.RecipientHash, got.RecipientHash)
	require.Equal(t, gift.Token, got.Token)
	require.Zero(t, gift.AmountOrID.Cmp(got.AmountOrID))
	require.Equal(t, gift.Sender, got.Sender)
	require.Equal(t, gift.Kind, got.Kind)
	require.Zero(t, gift.Fee.Cmp(got.Fee))
	require.False(t, got.Claimed)
	require.Equal(t, gift.Expiry, got.Expiry)
	require.Equal(t, gift.CreatedAt, got.CreatedAt)

	gift.Claimed = true
	require.NoError(t, m.GiftPut(gift))
	got, ok = m.GiftGet(gift.RecipientHash)
	require.True(t, ok)
	require.True(t, got.Claimed)

	require.NoError(t, m.GiftDelete(gift.RecipientHash))
	_, ok = m.GiftGet(gift.RecipientHash)
	require.False(t, ok)
}

func TestTokenKindPersistsOnlyVerdicts(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := ethcommon.HexToAddress("0x3333333333333333333333333333333333333333")

	_, ok := m.TokenKindGet(addr)
	require.False(t, ok)

	require.Error(t, m.TokenKindPut(addr, token.KindUnknown))
	_, ok = m.TokenKindGet(addr)
	require.False(t, ok)

	require.NoError(t, m.TokenKindPut(addr, token.KindUniqueSingleOwner))
	kind, ok := m.TokenKindGet(addr)
	require.True(t, ok)
	require.Equal(t, token.KindUniqueSingleOwner, kind)
}

func TestFeeScheduleRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	_, ok := m.FeeScheduleGet()
	require.False(t, ok)

	require.NoError(t, m.FeeSchedulePut(&gifts.FeeSchedule{PercentFee: 3, FlatFee: big.NewInt(250)}))
	schedule, ok := m.FeeScheduleGet()
	require.True(t, ok)
	require.Equal(t, uint64(3), schedule.PercentFee)
	require.Zero(t, schedule.FlatFee.Cmp(big.NewInt(250)))

	require.NoError(t, m.FeeSchedulePut(&gifts.FeeSchedule{PercentFee: 0}))
	schedule, ok = m.FeeScheduleGet()
	require.True(t, ok)
	require.Zero(t, schedule.PercentFee)
	require.Zero(t, schedule.FlatFee.Sign())
}
