package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"giftvault/core/events"
	"giftvault/evm"
	nativecommon "giftvault/native/common"
)

var (
	errNilCaller = errors.New("token classifier: chain caller not configured")
	errNilStore  = errors.New("token classifier: kind store not configured")
)

// KindStore is the injected classification cache. Implementations must treat
// non-Unknown entries as immutable once written.
type KindStore interface {
	TokenKindGet(token common.Address) (Kind, bool)
	TokenKindPut(token common.Address, kind Kind) error
}

// Classifier determines which token standard an arbitrary address implements
// by probing it, never by trusting self-reported metadata beyond the standard
// introspection calls. Results are cached through the injected store; Unknown
// is never cached, so an address that later acquires code is re-probed.
type Classifier struct {
	caller  evm.Caller
	store   KindStore
	self    common.Address
	acl     *nativecommon.CapabilitySet
	emitter events.Emitter
	nowFn   func() int64
}

// NewClassifier creates a classifier probing through the given chain caller.
// The self address is used for the fungible balance probe and must be an
// account the classifier can query without side effects. admin controls the
// capability set deciding which components may trigger probes.
func NewClassifier(caller evm.Caller, store KindStore, self, admin common.Address) *Classifier {
	return &Classifier{
		caller:  caller,
		store:   store,
		self:    self,
		acl:     nativecommon.NewCapabilitySet(admin),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// Capabilities exposes the classifier's authorization set for wiring.
func (c *Classifier) Capabilities() *nativecommon.CapabilitySet { return c.acl }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (c *Classifier) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (c *Classifier) SetNowFunc(now func() int64) {
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

func (c *Classifier) emit(event events.Event) {
	if c == nil || c.emitter == nil || event == nil {
		return
	}
	c.emitter.Emit(event)
}

// GetCached returns the cached kind for an address without probing. Addresses
// never classified report KindUnknown.
func (c *Classifier) GetCached(token common.Address) Kind {
	if c == nil || c.store == nil {
		return KindUnknown
	}
	kind, ok := c.store.TokenKindGet(token)
	if !ok || !kind.Valid() {
		return KindUnknown
	}
	return kind
}

// Classify resolves the token kind for an address, probing in strict order and
// short-circuiting on the first match. caller must hold the classifier
// capability; origin names the account whose request triggered the probe and
// flows into the audit events. Probe faults against hostile or malformed
// contracts degrade to "not this kind" with an audit event; they are never
// surfaced to the caller. Only store failures return an error.
func (c *Classifier) Classify(ctx context.Context, caller, origin, tokenAddr common.Address) (Kind, error) {
	if c == nil || c.caller == nil {
		return KindUnknown, errNilCaller
	}
	if c.store == nil {
		return KindUnknown, errNilStore
	}
	if err := c.acl.Require(caller); err != nil {
		return KindUnknown, err
	}
	code, err := c.caller.CodeAt(ctx, tokenAddr, nil)
	if err != nil {
		c.auditFailure(tokenAddr, origin, "code", fmt.Sprintf("code lookup failed: %v", err))
		return KindUnknown, nil
	}
	if len(code) == 0 {
		c.auditFailure(tokenAddr, origin, "code", "address has no contract code")
		return KindUnknown, nil
	}
	if cached := c.GetCached(tokenAddr); cached != KindUnknown {
		return cached, nil
	}

	if c.supportsInterface(ctx, tokenAddr, origin, InterfaceIDERC721) {
		return c.record(origin, tokenAddr, KindUniqueSingleOwner)
	}
	if c.supportsInterface(ctx, tokenAddr, origin, InterfaceIDERC1155) {
		return c.record(origin, tokenAddr, KindUniqueMultiBalance)
	}
	if c.probeFungible(ctx, tokenAddr, origin) {
		return c.record(origin, tokenAddr, KindFungible)
	}
	return KindUnknown, nil
}

// supportsInterface runs the ERC-165 introspection probe. Any revert or
// malformed return means "not supported", never a fatal error.
func (c *Classifier) supportsInterface(ctx context.Context, tokenAddr, caller common.Address, id [4]byte) bool {
	probe := fmt.Sprintf("supportsInterface(%#x)", id)
	input, err := ERC165ABI.Pack("supportsInterface", id)
	if err != nil {
		c.auditFailure(tokenAddr, caller, probe, fmt.Sprintf("pack: %v", err))
		return false
	}
	out, err := evm.Call(ctx, c.caller, c.self, tokenAddr, input)
	if err != nil {
		c.auditFailure(tokenAddr, caller, probe, fmt.Sprintf("call reverted: %v", err))
		return false
	}
	decoded, err := ERC165ABI.Unpack("supportsInterface", out)
	if err != nil {
		c.auditFailure(tokenAddr, caller, probe, fmt.Sprintf("malformed return: %v", err))
		return false
	}
	supported, ok := decoded[0].(bool)
	if !ok || !supported {
		c.auditFailure(tokenAddr, caller, probe, "interface not supported")
		return false
	}
	return true
}

// probeFungible requires both diagnostic reads to succeed: a total-supply
// query and a balance query against the classifier's own account. Either
// failing falls through to Unknown.
func (c *Classifier) probeFungible(ctx context.Context, tokenAddr, caller common.Address) bool {
	if _, ok := c.readUint(ctx, tokenAddr, caller, "totalSupply"); !ok {
		return false
	}
	if _, ok := c.readUint(ctx, tokenAddr, caller, "balanceOf", c.self); !ok {
		return false
	}
	return true
}

func (c *Classifier) readUint(ctx context.Context, tokenAddr, caller common.Address, method string, args ...interface{}) (*big.Int, bool) {
	input, err := ERC20ABI.Pack(method, args...)
	if err != nil {
		c.auditFailure(tokenAddr, caller, method, fmt.Sprintf("pack: %v", err))
		return nil, false
	}
	out, err := evm.Call(ctx, c.caller, c.self, tokenAddr, input)
	if err != nil {
		c.auditFailure(tokenAddr, caller, method, fmt.Sprintf("call reverted: %v", err))
		return nil, false
	}
	decoded, err := ERC20ABI.Unpack(method, out)
	if err != nil {
		c.auditFailure(tokenAddr, caller, method, fmt.Sprintf("malformed return: %v", err))
		return nil, false
	}
	value, ok := decoded[0].(*big.Int)
	if !ok {
		c.auditFailure(tokenAddr, caller, method, "return is not uint256")
		return nil, false
	}
	return value, true
}

func (c *Classifier) record(caller, tokenAddr common.Address, kind Kind) (Kind, error) {
	if err := c.store.TokenKindPut(tokenAddr, kind); err != nil {
		return KindUnknown, fmt.Errorf("token classifier: cache %s: %w", tokenAddr.Hex(), err)
	}
	c.emit(events.TokenCachePopulated{Token: tokenAddr, Kind: kind.String()})
	c.emit(events.TokenClassified{
		Token:  tokenAddr,
		Kind:   kind.String(),
		Caller: caller,
		Time:   c.nowFn(),
	})
	return kind, nil
}

func (c *Classifier) auditFailure(tokenAddr, caller common.Address, probe, reason string) {
	c.emit(events.TokenProbeFailed{
		Token:  tokenAddr,
		Probe:  probe,
		Reason: reason,
		Caller: caller,
		Time:   c.nowFn(),
	})
}
