package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"giftvault/core/events"
	"giftvault/evm"
	"giftvault/native/common"
	"giftvault/native/token"
)

const moduleName = "transfer"

var (
	ErrUnsupportedToken      = errors.New("transfer: unsupported token type")
	ErrInvalidRecipient      = errors.New("transfer: invalid recipient")
	ErrInsufficientBalance   = errors.New("transfer: insufficient balance")
	ErrInsufficientAllowance = errors.New("transfer: insufficient allowance")
	ErrNotApproved           = errors.New("transfer: executor not approved for item")
	ErrNotApprovedForAll     = errors.New("transfer: executor not approved for all")
	ErrTransferRejected      = errors.New("transfer: token rejected transfer")

	errNilBackend    = errors.New("transfer executor: backend not configured")
	errNilClassifier = errors.New("transfer executor: classifier not configured")
)

type classifier interface {
	GetCached(tokenAddr ethcommon.Address) token.Kind
	Classify(ctx context.Context, caller, origin, tokenAddr ethcommon.Address) (token.Kind, error)
}

// strategy is the uniform precondition-check + move contract implemented per
// token kind.
type strategy struct {
	check func(ctx context.Context, tokenAddr, from ethcommon.Address, amountOrID *big.Int) error
	move  func(ctx context.Context, tokenAddr, from, to ethcommon.Address, amountOrID *big.Int) error
}

// Executor performs the correct transfer call sequence for a classified
// token. It acts through the custodial operator identity, which token owners
// must have approved beforehand (allowance, item approval or operator
// approval, depending on the kind).
type Executor struct {
	self       ethcommon.Address
	backend    evm.Backend
	classifier classifier
	operator   ethcommon.Address
	acl        *common.CapabilitySet
	pauses     common.PauseView
	lock       *common.CallLock
	emitter    events.Emitter
	strategies map[token.Kind]strategy
}

// NewExecutor creates a transfer executor acting as the given operator
// identity, administered by admin. self is the principal the executor
// presents to the classifier's capability set.
func NewExecutor(self ethcommon.Address, backend evm.Backend, cls classifier, operator, admin ethcommon.Address) *Executor {
	e := &Executor{
		self:       self,
		backend:    backend,
		classifier: cls,
		operator:   operator,
		acl:        common.NewCapabilitySet(admin),
		lock:       common.NewCallLock(),
		emitter:    events.NoopEmitter{},
	}
	e.strategies = map[token.Kind]strategy{
		token.KindFungible:           {check: e.checkFungible, move: e.moveFungible},
		token.KindUniqueSingleOwner:  {check: e.checkUnique, move: e.moveUnique},
		token.KindUniqueMultiBalance: {check: e.checkMulti, move: e.moveMulti},
	}
	return e
}

// Capabilities exposes the executor's authorization set for wiring.
func (e *Executor) Capabilities() *common.CapabilitySet { return e.acl }

// Operator returns the custodial identity approvals must be granted to.
func (e *Executor) Operator() ethcommon.Address { return e.operator }

// SetPauseView configures the pause toggle consulted on every transfer.
func (e *Executor) SetPauseView(p common.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Executor) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Executor) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

// Transfer moves amountOrID of the token from source to destination. Caller
// is the immediate invoking component; origin is the ultimate originating
// principal, carried for audit only.
func (e *Executor) Transfer(ctx context.Context, caller, origin, tokenAddr, from, to ethcommon.Address, amountOrID *big.Int) error {
	if e == nil || e.backend == nil {
		return errNilBackend
	}
	if e.classifier == nil {
		return errNilClassifier
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.lock.Enter(); err != nil {
		return err
	}
	defer e.lock.Exit()
	if err := e.acl.Require(caller); err != nil {
		return err
	}
	if to == (ethcommon.Address{}) || to == from {
		return ErrInvalidRecipient
	}
	kind, err := e.resolveKind(ctx, origin, tokenAddr)
	if err != nil {
		return err
	}
	strat, ok := e.strategies[kind]
	if !ok {
		return ErrUnsupportedToken
	}
	if err := strat.check(ctx, tokenAddr, from, amountOrID); err != nil {
		return err
	}
	if err := strat.move(ctx, tokenAddr, from, to, amountOrID); err != nil {
		return err
	}
	e.emit(events.TransferCompleted{
		Token:      tokenAddr,
		From:       from,
		To:         to,
		AmountOrID: amountOrID,
		Kind:       kind.String(),
		Caller:     caller,
		Origin:     origin,
	})
	return nil
}

// resolveKind uses the cache when populated and otherwise classifies, letting
// the classifier fill the cache as a side effect.
func (e *Executor) resolveKind(ctx context.Context, origin, tokenAddr ethcommon.Address) (token.Kind, error) {
	kind := e.classifier.GetCached(tokenAddr)
	if kind == token.KindUnknown {
		var err error
		kind, err = e.classifier.Classify(ctx, e.self, origin, tokenAddr)
		if err != nil {
			return token.KindUnknown, err
		}
	}
	if kind == token.KindUnknown {
		return token.KindUnknown, ErrUnsupportedToken
	}
	return kind, nil
}

func (e *Executor) checkFungible(ctx context.Context, tokenAddr, from ethcommon.Address, amount *big.Int) error {
	balance, err := e.readUint(ctx, tokenAddr, "balanceOf", from)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	// The operator spends its own custody balance directly, no allowance.
	if from == e.operator {
		return nil
	}
	allowance, err := e.readUint(ctx, tokenAddr, "allowance", from, e.operator)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientAllowance, err)
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	return nil
}

// moveFungible uses an allowance-safe primitive: an empty return is success
// (receipts carry no data and some tokens return nothing), anything else must
// decode to true.
func (e *Executor) moveFungible(ctx context.Context, tokenAddr, from, to ethcommon.Address, amount *big.Int) error {
	method := "transferFrom"
	args := []interface{}{from, to, amount}
	if from == e.operator {
		method = "transfer"
		args = []interface{}{to, amount}
	}
	input, err := token.ERC20ABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("transfer: pack %s: %w", method, err)
	}
	out, err := e.backend.Invoke(ctx, e.operator, tokenAddr, nil, input)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferRejected, err)
	}
	if len(out) == 0 {
		return nil
	}
	decoded, err := token.ERC20ABI.Unpack(method, out)
	if err != nil {
		return fmt.Errorf("%w: malformed return", ErrTransferRejected)
	}
	if ok, _ := decoded[0].(bool); !ok {
		return fmt.Errorf("%w: returned false", ErrTransferRejected)
	}
	return nil
}

func (e *Executor) checkUnique(ctx context.Context, tokenAddr, from ethcommon.Address, id *big.Int) error {
	// The operator moves items it owns without any approval.
	if from == e.operator {
		return nil
	}
	approved, err := e.readAddress(ctx, tokenAddr, "getApproved", id)
	if err == nil && approved == e.operator {
		return nil
	}
	all, allErr := e.readBool(ctx, tokenAddr, token.ERC721ABI, "isApprovedForAll", from, e.operator)
	if allErr == nil && all {
		return nil
	}
	return ErrNotApproved
}

func (e *Executor) moveUnique(ctx context.Context, tokenAddr, from, to ethcommon.Address, id *big.Int) error {
	input, err := token.ERC721ABI.Pack("safeTransferFrom", from, to, id)
	if err != nil {
		return fmt.Errorf("transfer: pack safeTransferFrom: %w", err)
	}
	if _, err := e.backend.Invoke(ctx, e.operator, tokenAddr, nil, input); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferRejected, err)
	}
	return nil
}

// checkMulti requires operator approval; this kind has no per-item approval.
// Quantity is fixed at one unit per operation.
func (e *Executor) checkMulti(ctx context.Context, tokenAddr, from ethcommon.Address, id *big.Int) error {
	if from != e.operator {
		all, err := e.readBool(ctx, tokenAddr, token.ERC1155ABI, "isApprovedForAll", from, e.operator)
		if err != nil || !all {
			return ErrNotApprovedForAll
		}
	}
	input, err := token.ERC1155ABI.Pack("balanceOf", from, id)
	if err != nil {
		return fmt.Errorf("transfer: pack balanceOf: %w", err)
	}
	out, err := evm.Call(ctx, e.backend, e.operator, tokenAddr, input)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}
	decoded, err := token.ERC1155ABI.Unpack("balanceOf", out)
	if err != nil {
		return fmt.Errorf("%w: malformed return", ErrInsufficientBalance)
	}
	balance, ok := decoded[0].(*big.Int)
	if !ok || balance.Sign() < 1 {
		return ErrInsufficientBalance
	}
	return nil
}

func (e *Executor) moveMulti(ctx context.Context, tokenAddr, from, to ethcommon.Address, id *big.Int) error {
	input, err := token.ERC1155ABI.Pack("safeTransferFrom", from, to, id, big.NewInt(1), []byte{})
	if err != nil {
		return fmt.Errorf("transfer: pack safeTransferFrom: %w", err)
	}
	if _, err := e.backend.Invoke(ctx, e.operator, tokenAddr, nil, input); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferRejected, err)
	}
	return nil
}

func (e *Executor) readUint(ctx context.Context, tokenAddr ethcommon.Address, method string, args ...interface{}) (*big.Int, error) {
	input, err := token.ERC20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := evm.Call(ctx, e.backend, e.operator, tokenAddr, input)
	if err != nil {
		return nil, err
	}
	decoded, err := token.ERC20ABI.Unpack(method, out)
	if err != nil {
		return nil, err
	}
	value, ok := decoded[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("return is not uint256")
	}
	return value, nil
}

func (e *Executor) readAddress(ctx context.Context, tokenAddr ethcommon.Address, method string, args ...interface{}) (ethcommon.Address, error) {
	input, err := token.ERC721ABI.Pack(method, args...)
	if err != nil {
		return ethcommon.Address{}, err
	}
	out, err := evm.Call(ctx, e.backend, e.operator, tokenAddr, input)
	if err != nil {
		return ethcommon.Address{}, err
	}
	decoded, err := token.ERC721ABI.Unpack(method, out)
	if err != nil {
		return ethcommon.Address{}, err
	}
	addr, ok := decoded[0].(ethcommon.Address)
	if !ok {
		return ethcommon.Address{}, fmt.Errorf("return is not address")
	}
	return addr, nil
}

func (e *Executor) readBool(ctx context.Context, tokenAddr ethcommon.Address, parsed abi.ABI, method string, args ...interface{}) (bool, error) {
	input, err := parsed.Pack(method, args...)
	if err != nil {
		return false, err
	}
	out, err := evm.Call(ctx, e.backend, e.operator, tokenAddr, input)
	if err != nil {
		return false, err
	}
	decoded, err := parsed.Unpack(method, out)
	if err != nil {
		return false, err
	}
	value, ok := decoded[0].(bool)
	if !ok {
		return false, fmt.Errorf("return is not bool")
	}
	return value, nil
}
