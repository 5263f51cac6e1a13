package token_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"giftvault/core/events"
	"giftvault/evm/evmtest"
	nativecommon "giftvault/native/common"
	"giftvault/native/token"
)

type memKindStore struct {
	mu    sync.Mutex
	kinds map[common.Address]token.Kind
}

func newMemKindStore() *memKindStore {
	return &memKindStore{kinds: make(map[common.Address]token.Kind)}
}

func (s *memKindStore) TokenKindGet(addr common.Address) (token.Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.kinds[addr]
	return kind, ok
}

func (s *memKindStore) TokenKindPut(addr common.Address, kind token.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds[addr] = kind
	return nil
}

// countingCaller wraps the chain to count external probe calls.
type countingCaller struct {
	*evmtest.Chain
	calls int
}

func (c *countingCaller) CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	c.calls++
	return c.Chain.CallContract(ctx, call, block)
}

func testAddr(fill byte) common.Address {
	var a common.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestClassifyFungible(t *testing.T) {
	chain := evmtest.NewChain()
	tokenAddr := testAddr(0x10)
	chain.Register(tokenAddr, evmtest.NewFungibleToken(big.NewInt(1_000_000)))

	classifier := token.NewClassifier(chain, newMemKindStore(), testAddr(0x01), testAddr(0x0a))
	kind, err := classifier.Classify(context.Background(), testAddr(0x0a), testAddr(0x02), tokenAddr)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if kind != token.KindFungible {
		t.Fatalf("expected fungible, got %s", kind)
	}
	if got := classifier.GetCached(tokenAddr); got != token.KindFungible {
		t.Fatalf("cache not populated, got %s", got)
	}
}

func TestClassifyUniqueKinds(t *testing.T) {
	chain := evmtest.NewChain()
	nft := testAddr(0x20)
	multi := testAddr(0x30)
	chain.Register(nft, evmtest.NewUniqueToken())
	chain.Register(multi, evmtest.NewMultiToken())

	classifier := token.NewClassifier(chain, newMemKindStore(), testAddr(0x01), testAddr(0x0a))

	kind, err := classifier.Classify(context.Background(), testAddr(0x0a), testAddr(0x02), nft)
	if err != nil {
		t.Fatalf("classify nft: %v", err)
	}
	if kind != token.KindUniqueSingleOwner {
		t.Fatalf("expected unique_single_owner, got %s", kind)
	}

	kind, err = classifier.Classify(context.Background(), testAddr(0x0a), testAddr(0x02), multi)
	if err != nil {
		t.Fatalf("classify multi: %v", err)
	}
	if kind != token.KindUniqueMultiBalance {
		t.Fatalf("expected unique_multi_balance, got %s", kind)
	}
}

func TestClassifySecondCallHitsCache(t *testing.T) {
	chain := evmtest.NewChain()
	tokenAddr := testAddr(0x40)
	chain.Register(tokenAddr, evmtest.NewUniqueToken())

	caller := &countingCaller{Chain: chain}
	classifier := token.NewClassifier(caller, newMemKindStore(), testAddr(0x01), testAddr(0x0a))

	first, err := classifier.Classify(context.Background(), testAddr(0x0a), testAddr(0x02), tokenAddr)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	probesAfterFirst := caller.calls
	if probesAfterFirst == 0 {
		t.Fatal("expected probes on first classification")
	}

	second, err := classifier.Classify(context.Background(), testAddr(0x0a), testAddr(0x02), tokenAddr)
	if err != nil {
		t.Fatalf("classify again: %v", err)
	}
	if first != second {
		t.Fatalf("classification not deterministic: %s vs %s", first, second)
	}
	if caller.calls != probesAfterFirst {
		t.Fatalf("second classification re-probed: %d -> %d calls", probesAfterFirst, caller.calls)
	}
}

func TestClassifyNonContractIsUnknownAndUncached(t *testing.T) {
	chain := evmtest.NewChain()
	store := newMemKindStore()
	classifier := token.NewClassifier(chain, store, testAddr(0x01), testAddr(0x0a))

	empty := testAddr(0x50)
	kind, err := classifier.Classify(context.Background(), testAddr(0x0a), testAddr(0x02), empty)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if kind != token.KindUnknown {
		t.Fatalf("expected unknown for codeless address, got %s", kind)
	}
	if _, ok := store.TokenKindGet(empty); ok {
		t.Fatal("unknown result must not be cached")
	}

	// The address later acquires code and must be re-probed.
	chain.Register(empty, evmtest.NewUniqueToken())
	kind, err = classifier.Classify(context.Background(), testAddr(0x0a), testAddr(0x02), empty)
	if err != nil {
		t.Fatalf("reclassify: %v", err)
	}
	if kind != token.KindUniqueSingleOwner {
		t.Fatalf("expected re-probe after code deploy, got %s", kind)
	}
}

func TestClassifyHostileContractIsIsolated(t *testing.T) {
	chain := evmtest.NewChain()
	reverting := testAddr(0x60)
	garbage := testAddr(0x61)
	chain.Register(reverting, &evmtest.HostileContract{})
	chain.Register(garbage, &evmtest.HostileContract{Garbage: true})

	collector := &evmtest.CollectEmitter{}
	classifier := token.NewClassifier(chain, newMemKindStore(), testAddr(0x01), testAddr(0x0a))
	classifier.SetEmitter(collector)

	for _, addr := range []common.Address{reverting, garbage} {
		kind, err := classifier.Classify(context.Background(), testAddr(0x0a), testAddr(0x02), addr)
		if err != nil {
			t.Fatalf("classify %s: %v", addr.Hex(), err)
		}
		if kind != token.KindUnknown {
			t.Fatalf("hostile contract classified as %s", kind)
		}
	}
	if len(collector.ByType(events.TypeTokenProbeFailed)) == 0 {
		t.Fatal("expected probe failure audit records")
	}
}

func TestClassifyFungibleProbeFailureAbsorbed(t *testing.T) {
	chain := evmtest.NewChain()
	tokenAddr := testAddr(0x70)
	broken := evmtest.NewFungibleToken(big.NewInt(100))
	broken.FailProbes = true
	chain.Register(tokenAddr, broken)

	store := newMemKindStore()
	classifier := token.NewClassifier(chain, store, testAddr(0x01), testAddr(0x0a))
	kind, err := classifier.Classify(context.Background(), testAddr(0x0a), testAddr(0x02), tokenAddr)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if kind != token.KindUnknown {
		t.Fatalf("expected unknown, got %s", kind)
	}
	if _, ok := store.TokenKindGet(tokenAddr); ok {
		t.Fatal("transient probe failure must not be cached")
	}
}

func TestClassifyRequiresCapability(t *testing.T) {
	chain := evmtest.NewChain()
	tokenAddr := testAddr(0x80)
	chain.Register(tokenAddr, evmtest.NewFungibleToken(big.NewInt(100)))

	admin := testAddr(0x0a)
	module := testAddr(0x0b)
	classifier := token.NewClassifier(chain, newMemKindStore(), testAddr(0x01), admin)

	if _, err := classifier.Classify(context.Background(), module, testAddr(0x02), tokenAddr); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := classifier.Capabilities().Grant(admin, module); err != nil {
		t.Fatalf("grant: %v", err)
	}
	kind, err := classifier.Classify(context.Background(), module, testAddr(0x02), tokenAddr)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if kind != token.KindFungible {
		t.Fatalf("expected fungible, got %s", kind)
	}

	// Cache reads stay open to everyone.
	if got := classifier.GetCached(tokenAddr); got != token.KindFungible {
		t.Fatalf("cache read = %s", got)
	}
}
