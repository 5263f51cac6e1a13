package gifts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"giftvault/core/events"
	"giftvault/native/common"
	"giftvault/native/token"
)

const engineModule = "gifts"

const (
	// ResolutionClaimed marks a payout to the intended recipient.
	ResolutionClaimed = "claimed"
	// ResolutionReclaimed marks a post-expiry return to the sender.
	ResolutionReclaimed = "reclaimed"
)

var errNilState = errors.New("gifts engine: state not configured")

type engineState interface {
	GiftPut(*Gift) error
	GiftGet(hash [32]byte) (*Gift, bool)
	GiftDelete(hash [32]byte) error
	FeeScheduleGet() (*FeeSchedule, bool)
	FeeSchedulePut(*FeeSchedule) error
}

type kindClassifier interface {
	GetCached(tokenAddr ethcommon.Address) token.Kind
	Classify(ctx context.Context, caller, origin, tokenAddr ethcommon.Address) (token.Kind, error)
}

type escrowHolder interface {
	Receive(ctx context.Context, caller, origin ethcommon.Address, gift *Gift) error
	Release(ctx context.Context, caller, origin ethcommon.Address, gift *Gift, recipient ethcommon.Address, feeValue *big.Int) error
	Custody() ethcommon.Address
}

// Engine is the public face of the gifting protocol. Deposit, Claim and
// Reclaim are open to any account; DirectTransfer is gated on the integrator
// set and UpdateFees on the fee-manager set. The gift map is first-write-wins
// per recipient hash and records are deleted once a gift settles either way.
type Engine struct {
	self        ethcommon.Address
	state       engineState
	classifier  kindClassifier
	holder      escrowHolder
	exec        transferExecutor
	integrators *common.CapabilitySet
	feeManagers *common.CapabilitySet
	pauses      common.PauseView
	lock        *common.CallLock
	emitter     events.Emitter
	nowFn       func() int64
}

// NewEngine creates a gift engine with a no-op emitter. admin controls both
// the integrator and fee-manager capability sets until rotated.
func NewEngine(self ethcommon.Address, classifier kindClassifier, holder escrowHolder, exec transferExecutor, admin ethcommon.Address) *Engine {
	return &Engine{
		self:        self,
		classifier:  classifier,
		holder:      holder,
		exec:        exec,
		integrators: common.NewCapabilitySet(admin),
		feeManagers: common.NewCapabilitySet(admin),
		lock:        common.NewCallLock(),
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauseView(p common.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source. Primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Integrators exposes the capability set gating DirectTransfer.
func (e *Engine) Integrators() *common.CapabilitySet { return e.integrators }

// FeeManagers exposes the capability set gating UpdateFees.
func (e *Engine) FeeManagers() *common.CapabilitySet { return e.feeManagers }

func (e *Engine) emit(event events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) enter() (func(), error) {
	if err := common.Guard(e.pauses, engineModule); err != nil {
		return nil, err
	}
	if err := e.lock.Enter(); err != nil {
		return nil, err
	}
	return e.lock.Exit, nil
}

// FeeScheduleCurrent returns the active fee schedule, zero-valued when none
// has been set.
func (e *Engine) FeeScheduleCurrent() *FeeSchedule {
	if e.state == nil {
		return (&FeeSchedule{}).Clone()
	}
	schedule, ok := e.state.FeeScheduleGet()
	if !ok {
		return (&FeeSchedule{}).Clone()
	}
	return schedule.Clone()
}

// GetGift returns the pending gift for a recipient hash, if any. Settled
// gifts are deleted and report not found.
func (e *Engine) GetGift(hash [32]byte) (*Gift, bool) {
	if e.state == nil {
		return nil, false
	}
	gift, ok := e.state.GiftGet(hash)
	if !ok {
		return nil, false
	}
	return gift.Clone(), true
}

// Deposit escrows an asset from the caller for a hashed recipient. The token
// is classified before anything moves; unclassifiable tokens are rejected.
// The fee is computed and frozen at deposit time, and the gift expires
// expirySeconds after it.
func (e *Engine) Deposit(ctx context.Context, caller ethcommon.Address, recipientHash [32]byte, tokenAddr ethcommon.Address, amountOrID *big.Int, expirySeconds int64) error {
	exit, err := e.enter()
	if err != nil {
		return err
	}
	defer exit()
	if expirySeconds <= 0 {
		return ErrInvalidExpiry
	}
	return e.deposit(ctx, caller, recipientHash, tokenAddr, amountOrID, e.now()+expirySeconds)
}

// deposit holds no lock so BatchDeposit can reuse it under a single entry.
func (e *Engine) deposit(ctx context.Context, caller ethcommon.Address, recipientHash [32]byte, tokenAddr ethcommon.Address, amountOrID *big.Int, expiry int64) error {
	if e.state == nil {
		return errNilState
	}
	if caller == (ethcommon.Address{}) || caller == e.self {
		return ErrInvalidCaller
	}
	if recipientHash == ([32]byte{}) {
		return ErrEmptyRecipientHash
	}
	if _, exists := e.state.GiftGet(recipientHash); exists {
		return ErrGiftAlreadyExists
	}
	kind, err := e.resolveKind(ctx, caller, tokenAddr)
	if err != nil {
		return err
	}
	schedule := e.FeeScheduleCurrent()
	gift := &Gift{
		RecipientHash: recipientHash,
		Token:         tokenAddr,
		AmountOrID:    amountOrID,
		Sender:        caller,
		Kind:          kind,
		Fee:           schedule.ComputeFee(kind, amountOrID),
		Expiry:        expiry,
		CreatedAt:     e.now(),
	}
	sanitized, err := SanitizeGift(gift)
	if err != nil {
		return err
	}
	if err := e.state.GiftPut(sanitized); err != nil {
		return err
	}
	if err := e.holder.Receive(ctx, e.self, caller, sanitized); err != nil {
		// Compensate: the asset never moved, drop the record again.
		if delErr := e.state.GiftDelete(recipientHash); delErr != nil {
			return errors.Join(err, delErr)
		}
		return err
	}
	e.emit(events.GiftDeposited{
		RecipientHash: sanitized.RecipientHash,
		Token:         sanitized.Token,
		Sender:        sanitized.Sender,
		AmountOrID:    sanitized.AmountOrID,
		Kind:          sanitized.Kind.String(),
		Fee:           sanitized.Fee,
		Expiry:        sanitized.Expiry,
	})
	return nil
}

func (e *Engine) resolveKind(ctx context.Context, origin, tokenAddr ethcommon.Address) (token.Kind, error) {
	if tokenAddr == (ethcommon.Address{}) {
		return token.KindUnknown, ErrZeroToken
	}
	if kind := e.classifier.GetCached(tokenAddr); kind != token.KindUnknown {
		return kind, nil
	}
	kind, err := e.classifier.Classify(ctx, e.self, origin, tokenAddr)
	if err != nil {
		return token.KindUnknown, err
	}
	if kind == token.KindUnknown {
		return token.KindUnknown, ErrUnsupportedToken
	}
	return kind, nil
}

// Claim pays a pending gift out to the caller. The caller proves knowledge of
// the recipient hash by presenting it; feeValue is the native currency the
// caller attached to cover a flat fee on unique-item gifts.
func (e *Engine) Claim(ctx context.Context, caller ethcommon.Address, recipientHash [32]byte, feeValue *big.Int) error {
	exit, err := e.enter()
	if err != nil {
		return err
	}
	defer exit()
	if e.state == nil {
		return errNilState
	}
	if caller == (ethcommon.Address{}) {
		return ErrInvalidCaller
	}
	gift, ok := e.state.GiftGet(recipientHash)
	if !ok {
		return ErrGiftNotFound
	}
	if gift.Claimed {
		return ErrGiftAlreadyClaimed
	}
	return e.settle(ctx, caller, gift, caller, gift.Fee, feeValue, ResolutionClaimed)
}

// Reclaim returns an expired, unclaimed gift to its sender with no fee.
func (e *Engine) Reclaim(ctx context.Context, caller ethcommon.Address, recipientHash [32]byte) error {
	exit, err := e.enter()
	if err != nil {
		return err
	}
	defer exit()
	if e.state == nil {
		return errNilState
	}
	gift, ok := e.state.GiftGet(recipientHash)
	if !ok {
		return ErrGiftNotFound
	}
	if gift.Claimed {
		return ErrGiftAlreadyClaimed
	}
	if gift.Sender != caller {
		return ErrNotSender
	}
	// Reclaimable at the expiry instant itself, not only strictly after.
	if e.now() < gift.Expiry {
		return ErrGiftNotExpired
	}
	return e.settle(ctx, caller, gift, gift.Sender, big.NewInt(0), nil, ResolutionReclaimed)
}

// settle marks the gift claimed, releases it, and deletes the record. The
// claimed flag is persisted before the release so a re-entrant settlement
// attempt observes it; a failed release rolls the flag back. When the fee leg
// committed before the payout failed, the restored record is shrunk to what
// custody still holds so a retried claim or a reclaim never over-draws the
// escrow.
func (e *Engine) settle(ctx context.Context, origin ethcommon.Address, gift *Gift, recipient ethcommon.Address, fee, feeValue *big.Int, resolution string) error {
	claimed := gift.Clone()
	claimed.Claimed = true
	claimed.Fee = fee
	if err := e.state.GiftPut(claimed); err != nil {
		return err
	}
	if err := e.holder.Release(ctx, e.self, origin, claimed, recipient, feeValue); err != nil {
		restore := gift.Clone()
		if errors.Is(err, ErrFeeSettled) {
			if restore.Kind == token.KindFungible {
				restore.AmountOrID = new(big.Int).Sub(restore.AmountOrID, fee)
			}
			restore.Fee = big.NewInt(0)
		}
		if putErr := e.state.GiftPut(restore); putErr != nil {
			return errors.Join(err, putErr)
		}
		return err
	}
	if err := e.state.GiftDelete(gift.RecipientHash); err != nil {
		return err
	}
	e.emit(events.GiftClaimed{
		RecipientHash: gift.RecipientHash,
		Token:         gift.Token,
		Recipient:     recipient,
		AmountOrID:    gift.AmountOrID,
		Fee:           fee,
		Resolution:    resolution,
	})
	return nil
}

// BatchDeposit escrows several gifts of one token from the caller in one
// call, all expiring together. The batch is atomic: any failure unwinds the
// deposits already made, returning their assets to the sender, before the
// error is surfaced.
func (e *Engine) BatchDeposit(ctx context.Context, caller ethcommon.Address, recipientHashes [][32]byte, tokenAddr ethcommon.Address, amountOrIDs []*big.Int, expirySeconds int64) error {
	exit, err := e.enter()
	if err != nil {
		return err
	}
	defer exit()
	if e.state == nil {
		return errNilState
	}
	if len(amountOrIDs) != len(recipientHashes) {
		return ErrBatchLengthMismatch
	}
	if expirySeconds <= 0 {
		return ErrInvalidExpiry
	}
	seen := make(map[[32]byte]struct{}, len(recipientHashes))
	for _, hash := range recipientHashes {
		if _, dup := seen[hash]; dup {
			return ErrGiftAlreadyExists
		}
		seen[hash] = struct{}{}
	}
	expiry := e.now() + expirySeconds
	for i := range recipientHashes {
		if err := e.deposit(ctx, caller, recipientHashes[i], tokenAddr, amountOrIDs[i], expiry); err != nil {
			unwindErr := e.unwind(ctx, caller, recipientHashes[:i])
			if unwindErr != nil {
				return errors.Join(fmt.Errorf("gifts: batch deposit %d failed: %w", i, err), unwindErr)
			}
			return fmt.Errorf("gifts: batch deposit %d failed: %w", i, err)
		}
	}
	return nil
}

// unwind returns already-escrowed batch entries to the sender and drops their
// records, fee-free.
func (e *Engine) unwind(ctx context.Context, sender ethcommon.Address, hashes [][32]byte) error {
	var errs []error
	for _, hash := range hashes {
		gift, ok := e.state.GiftGet(hash)
		if !ok {
			continue
		}
		refund := gift.Clone()
		refund.Fee = big.NewInt(0)
		if err := e.holder.Release(ctx, e.self, sender, refund, sender, nil); err != nil {
			errs = append(errs, fmt.Errorf("gifts: unwind %x: %w", hash[:4], err))
			continue
		}
		if err := e.state.GiftDelete(hash); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DirectTransfer lets an authorized integrator move its own tokens through
// the transfer engine without creating a gift record. The caller is always
// the source account, so an integrator can never spend another account's
// approvals.
func (e *Engine) DirectTransfer(ctx context.Context, caller, tokenAddr, to ethcommon.Address, amountOrID *big.Int) error {
	exit, err := e.enter()
	if err != nil {
		return err
	}
	defer exit()
	if err := e.integrators.Require(caller); err != nil {
		return err
	}
	return e.exec.Transfer(ctx, e.self, caller, tokenAddr, caller, to, amountOrID)
}

// UpdateFees replaces the fee schedule. Percentage fees above 100 are
// rejected since they could never be carved out of a deposit.
func (e *Engine) UpdateFees(caller ethcommon.Address, percentFee uint64, flatFee *big.Int) error {
	exit, err := e.enter()
	if err != nil {
		return err
	}
	defer exit()
	if e.state == nil {
		return errNilState
	}
	if err := e.feeManagers.Require(caller); err != nil {
		return err
	}
	if percentFee > 100 {
		return ErrFeeOutOfRange
	}
	schedule := &FeeSchedule{PercentFee: percentFee, FlatFee: flatFee}
	if err := e.state.FeeSchedulePut(schedule.Clone()); err != nil {
		return err
	}
	e.emit(events.GiftFeesUpdated{
		PercentFee: percentFee,
		FlatFee:    schedule.Clone().FlatFee,
		Caller:     caller,
	})
	return nil
}
