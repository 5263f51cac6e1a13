package gifts

import (
	"context"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"giftvault/core/events"
	"giftvault/evm"
	"giftvault/native/common"
	"giftvault/native/token"
)

const holderModule = "escrow"

// Receiver hook selectors returned to token contracts that probe whether the
// custody address accepts safe transfers.
var (
	ERC721ReceivedSelector  = [4]byte{0x15, 0x0b, 0x7a, 0x02}
	ERC1155ReceivedSelector = [4]byte{0xf2, 0x3a, 0x6e, 0x61}
)

// transferExecutor is the slice of the transfer engine the holder needs:
// moving assets on behalf of an authorized caller and knowing which custody
// address the moves settle into.
type transferExecutor interface {
	Transfer(ctx context.Context, caller, origin, tokenAddr, from, to ethcommon.Address, amountOrID *big.Int) error
	Operator() ethcommon.Address
}

// Holder keeps escrowed assets in the custody address and pays them out on
// release. It owns no gift bookkeeping; the orchestrator decides who gets
// what, the holder only enforces that the instruction came from an authorized
// module and that the fee leg settles before the payout leg.
type Holder struct {
	self         ethcommon.Address
	exec         transferExecutor
	invoker      evm.Invoker
	feeRecipient ethcommon.Address
	acl          *common.CapabilitySet
	pauses       common.PauseView
	lock         *common.CallLock
	emitter      events.Emitter
}

// NewHolder constructs a holder operating through the given transfer engine.
// admin controls the capability set deciding who may instruct the holder.
func NewHolder(self ethcommon.Address, exec transferExecutor, invoker evm.Invoker, feeRecipient ethcommon.Address, admin ethcommon.Address) *Holder {
	return &Holder{
		self:         self,
		exec:         exec,
		invoker:      invoker,
		feeRecipient: feeRecipient,
		acl:          common.NewCapabilitySet(admin),
		lock:         common.NewCallLock(),
		emitter:      events.NoopEmitter{},
	}
}

// Capabilities exposes the holder's authorization set for wiring.
func (h *Holder) Capabilities() *common.CapabilitySet { return h.acl }

// Custody returns the address escrowed assets are parked under.
func (h *Holder) Custody() ethcommon.Address { return h.exec.Operator() }

// FeeRecipient returns the address fee legs settle to.
func (h *Holder) FeeRecipient() ethcommon.Address { return h.feeRecipient }

func (h *Holder) SetPauseView(p common.PauseView) { h.pauses = p }

func (h *Holder) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	h.emitter = emitter
}

func (h *Holder) emit(event events.Event) {
	if h.emitter != nil {
		h.emitter.Emit(event)
	}
}

// Receive pulls the gifted asset from the sender into custody. The transfer
// engine re-checks the sender's balance and approvals, so a receive that
// returns nil means the asset is now actually held.
func (h *Holder) Receive(ctx context.Context, caller, origin ethcommon.Address, gift *Gift) error {
	if err := common.Guard(h.pauses, holderModule); err != nil {
		return err
	}
	if err := h.lock.Enter(); err != nil {
		return err
	}
	defer h.lock.Exit()
	if err := h.acl.Require(caller); err != nil {
		return err
	}
	sanitized, err := SanitizeGift(gift)
	if err != nil {
		return err
	}
	if err := h.exec.Transfer(ctx, h.self, origin, sanitized.Token, sanitized.Sender, h.Custody(), sanitized.AmountOrID); err != nil {
		return err
	}
	h.emit(events.EscrowReceived{
		RecipientHash: sanitized.RecipientHash,
		Token:         sanitized.Token,
		Sender:        sanitized.Sender,
		AmountOrID:    sanitized.AmountOrID,
		Kind:          sanitized.Kind.String(),
		Fee:           sanitized.Fee,
	})
	return nil
}

// Release pays the escrowed asset out of custody. The fee leg settles first:
// fungible fees are carved out of the escrowed amount in the gifted token
// itself, unique-item fees are forwarded in native currency from the value the
// claimant attached. A failed fee leg aborts the whole release; the payout leg
// never runs with the fee unpaid. A payout failure after the fee leg has
// committed is reported as ErrFeeSettled so the caller can account for the
// fee that already left custody.
func (h *Holder) Release(ctx context.Context, caller, origin ethcommon.Address, gift *Gift, recipient ethcommon.Address, feeValue *big.Int) error {
	if err := common.Guard(h.pauses, holderModule); err != nil {
		return err
	}
	if err := h.lock.Enter(); err != nil {
		return err
	}
	defer h.lock.Exit()
	if err := h.acl.Require(caller); err != nil {
		return err
	}
	sanitized, err := SanitizeGift(gift)
	if err != nil {
		return err
	}
	if recipient == (ethcommon.Address{}) {
		return ErrInvalidCaller
	}
	feeSettled := false
	payout := new(big.Int).Set(sanitized.AmountOrID)
	switch sanitized.Kind {
	case token.KindFungible:
		if sanitized.Fee.Sign() > 0 {
			if sanitized.Fee.Cmp(sanitized.AmountOrID) > 0 {
				return fmt.Errorf("%w: fee exceeds escrowed amount", ErrFeePaymentFailed)
			}
			if err := h.exec.Transfer(ctx, h.self, origin, sanitized.Token, h.Custody(), h.feeRecipient, sanitized.Fee); err != nil {
				return fmt.Errorf("%w: %v", ErrFeePaymentFailed, err)
			}
			payout.Sub(payout, sanitized.Fee)
			feeSettled = true
		}
	default:
		if sanitized.Fee.Sign() > 0 {
			if feeValue == nil || feeValue.Cmp(sanitized.Fee) < 0 {
				return fmt.Errorf("%w: insufficient fee value attached", ErrFeePaymentFailed)
			}
			if _, err := h.invoker.Invoke(ctx, h.Custody(), h.feeRecipient, sanitized.Fee, nil); err != nil {
				return fmt.Errorf("%w: %v", ErrFeePaymentFailed, err)
			}
			feeSettled = true
		}
	}
	if err := h.exec.Transfer(ctx, h.self, origin, sanitized.Token, h.Custody(), recipient, payout); err != nil {
		if feeSettled {
			return fmt.Errorf("%w: %v", ErrFeeSettled, err)
		}
		return err
	}
	h.emit(events.EscrowReleased{
		Token:      sanitized.Token,
		Recipient:  recipient,
		AmountOrID: payout,
		Fee:        sanitized.Fee,
	})
	return nil
}

// OnERC721Received acknowledges safe single-item transfers into custody.
func (h *Holder) OnERC721Received(_, _ ethcommon.Address, _ *big.Int, _ []byte) [4]byte {
	return ERC721ReceivedSelector
}

// OnERC1155Received acknowledges safe multi-balance transfers into custody.
func (h *Holder) OnERC1155Received(_, _ ethcommon.Address, _, _ *big.Int, _ []byte) [4]byte {
	return ERC1155ReceivedSelector
}
