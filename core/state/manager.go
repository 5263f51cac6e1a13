package state

import (
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"giftvault/native/gifts"
	"giftvault/native/token"
	"giftvault/storage"
)

var (
	giftRecordPrefix = []byte("gift/record/")
	tokenKindPrefix  = []byte("gift/token-kind/")
	feeScheduleKey   = ethcrypto.Keccak256([]byte("gift/fee-schedule"))
)

func giftStorageKey(hash [32]byte) []byte {
	buf := make([]byte, len(giftRecordPrefix)+len(hash))
	copy(buf, giftRecordPrefix)
	copy(buf[len(giftRecordPrefix):], hash[:])
	return ethcrypto.Keccak256(buf)
}

func tokenKindKey(addr ethcommon.Address) []byte {
	buf := make([]byte, len(tokenKindPrefix)+len(addr))
	copy(buf, tokenKindPrefix)
	copy(buf[len(tokenKindPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

type storedGift struct {
	RecipientHash [32]byte
	Token         [20]byte
	AmountOrID    *big.Int
	Sender        [20]byte
	Kind          uint8
	Fee           *big.Int
	Claimed       bool
	Expiry        *big.Int
	CreatedAt     *big.Int
}

func newStoredGift(g *gifts.Gift) *storedGift {
	if g == nil {
		return nil
	}
	amount := big.NewInt(0)
	if g.AmountOrID != nil {
		amount = new(big.Int).Set(g.AmountOrID)
	}
	fee := big.NewInt(0)
	if g.Fee != nil {
		fee = new(big.Int).Set(g.Fee)
	}
	return &storedGift{
		RecipientHash: g.RecipientHash,
		Token:         g.Token,
		AmountOrID:    amount,
		Sender:        g.Sender,
		Kind:          uint8(g.Kind),
		Fee:           fee,
		Claimed:       g.Claimed,
		Expiry:        big.NewInt(g.Expiry),
		CreatedAt:     big.NewInt(g.CreatedAt),
	}
}

func (s *storedGift) toGift() (*gifts.Gift, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil gift record")
	}
	out := &gifts.Gift{
		RecipientHash: s.RecipientHash,
		Token:         ethcommon.Address(s.Token),
		AmountOrID:    big.NewInt(0),
		Sender:        ethcommon.Address(s.Sender),
		Kind:          token.Kind(s.Kind),
		Fee:           big.NewInt(0),
		Claimed:       s.Claimed,
	}
	if s.AmountOrID != nil {
		out.AmountOrID = new(big.Int).Set(s.AmountOrID)
	}
	if s.Fee != nil {
		out.Fee = new(big.Int).Set(s.Fee)
	}
	if s.Expiry != nil {
		out.Expiry = s.Expiry.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	if !out.Kind.Valid() {
		return nil, fmt.Errorf("state: invalid token kind %d", s.Kind)
	}
	return out, nil
}

type storedFeeSchedule struct {
	PercentFee uint64
	FlatFee    *big.Int
}

// Manager persists protocol state as RLP records under keccak-derived keys.
// It backs both the gift engine's bookkeeping and the classifier's kind cache.
type Manager struct {
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// GiftPut writes the gift record keyed by its recipient hash. It overwrites
// unconditionally; first-write-wins is the engine's concern.
func (m *Manager) GiftPut(g *gifts.Gift) error {
	record := newStoredGift(g)
	if record == nil {
		return fmt.Errorf("state: nil gift")
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return m.db.Put(giftStorageKey(g.RecipientHash), encoded)
}

func (m *Manager) GiftGet(hash [32]byte) (*gifts.Gift, bool) {
	data, err := m.db.Get(giftStorageKey(hash))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedGift)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toGift()
	if err != nil {
		return nil, false
	}
	return record, true
}

func (m *Manager) GiftDelete(hash [32]byte) error {
	return m.db.Delete(giftStorageKey(hash))
}

// TokenKindGet returns the persisted classification for a token address.
func (m *Manager) TokenKindGet(addr ethcommon.Address) (token.Kind, bool) {
	data, err := m.db.Get(tokenKindKey(addr))
	if err != nil || len(data) != 1 {
		return token.KindUnknown, false
	}
	kind := token.Kind(data[0])
	if !kind.Valid() || kind == token.KindUnknown {
		return token.KindUnknown, false
	}
	return kind, true
}

// TokenKindPut persists a classification. Unknown is not a persistable
// verdict and is rejected.
func (m *Manager) TokenKindPut(addr ethcommon.Address, kind token.Kind) error {
	if !kind.Valid() || kind == token.KindUnknown {
		return fmt.Errorf("state: kind %q not persistable", kind)
	}
	return m.db.Put(tokenKindKey(addr), []byte{byte(kind)})
}

func (m *Manager) FeeScheduleGet() (*gifts.FeeSchedule, bool) {
	data, err := m.db.Get(feeScheduleKey)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedFeeSchedule)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	schedule := &gifts.FeeSchedule{PercentFee: stored.PercentFee, FlatFee: big.NewInt(0)}
	if stored.FlatFee != nil {
		schedule.FlatFee = new(big.Int).Set(stored.FlatFee)
	}
	return schedule, true
}

func (m *Manager) FeeSchedulePut(schedule *gifts.FeeSchedule) error {
	if schedule == nil {
		return fmt.Errorf("state: nil fee schedule")
	}
	clone := schedule.Clone()
	encoded, err := rlp.EncodeToBytes(&storedFeeSchedule{PercentFee: clone.PercentFee, FlatFee: clone.FlatFee})
	if err != nil {
		return err
	}
	return m.db.Put(feeScheduleKey, encoded)
}

// Close releases the underlying database handle.
func (m *Manager) Close() {
	if m.db != nil {
		m.db.Close()
	}
}
