package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestStreamFanOut(t *testing.T) {
	stream := NewStream(nil)
	feed, cancel := stream.Subscribe(4)
	defer cancel()

	stream.Emit(GiftFeesUpdated{Caller: common.Address{0x01}, PercentFee: 3, FlatFee: big.NewInt(5)})

	evt := <-feed
	require.Equal(t, TypeGiftFeesUpdated, evt.Type)
	require.Equal(t, "3", evt.Attributes["percentFee"])
}

func TestStreamDropsWhenSubscriberFull(t *testing.T) {
	stream := NewStream(nil)
	feed, cancel := stream.Subscribe(1)
	defer cancel()

	// The second emit must not block even though nothing drains the feed.
	stream.Emit(GiftFeesUpdated{PercentFee: 1, FlatFee: big.NewInt(0)})
	stream.Emit(GiftFeesUpdated{PercentFee: 2, FlatFee: big.NewInt(0)})

	evt := <-feed
	require.Equal(t, "1", evt.Attributes["percentFee"])
	select {
	case extra := <-feed:
		t.Fatalf("unexpected extra event %v", extra)
	default:
	}
}

func TestStreamCancelClosesFeed(t *testing.T) {
	stream := NewStream(nil)
	feed, cancel := stream.Subscribe(1)
	cancel()
	cancel() // idempotent

	_, open := <-feed
	require.False(t, open)

	// Emitting after cancel must not panic on the closed channel.
	stream.Emit(GiftFeesUpdated{PercentFee: 1, FlatFee: big.NewInt(0)})
}
