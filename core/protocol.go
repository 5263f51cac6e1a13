// Package core assembles the protocol components and owns their
// authorization wiring. Components never reach around the graph: the
// classifier serves the executor, the executor serves the holder and the
// engine, and the holder serves only the engine.
package core

import (
	"errors"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"giftvault/core/events"
	"giftvault/core/state"
	"giftvault/evm"
	"giftvault/native/common"
	"giftvault/native/gifts"
	"giftvault/native/token"
	"giftvault/native/transfer"
)

var ErrWiring = errors.New("protocol: wiring incomplete")

// ModuleIdentity derives a deterministic address for an internal component so
// capability grants and audit events name a stable principal per component.
func ModuleIdentity(label string) ethcommon.Address {
	return ethcommon.BytesToAddress(ethcrypto.Keccak256([]byte("giftvault/module/" + label)))
}

var (
	executorIdentity = ModuleIdentity("transfer-executor")
	holderIdentity   = ModuleIdentity("escrow-holder")
	engineIdentity   = ModuleIdentity("gift-engine")
)

// Protocol is the wired component graph plus the shared pause switch.
type Protocol struct {
	Classifier *token.Classifier
	Executor   *transfer.Executor
	Holder     *gifts.Holder
	Engine     *gifts.Engine
	State      *state.Manager
	Pauses     *common.Switch

	admin ethcommon.Address
}

// Params carries everything NewProtocol needs beyond the chain backend.
type Params struct {
	// Custody is the operator identity the process signs transfers with.
	Custody ethcommon.Address
	// FeeRecipient receives every fee leg.
	FeeRecipient ethcommon.Address
	// Admin controls the capability sets and the pause switch.
	Admin ethcommon.Address
}

// NewProtocol builds and wires the full component graph against a chain
// backend and a state manager. The grant order matters: every downstream
// capability is in place before the component that depends on it is handed
// out, so a half-wired graph is never observable.
func NewProtocol(backend evm.Backend, manager *state.Manager, params Params) (*Protocol, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrWiring)
	}
	if manager == nil {
		return nil, fmt.Errorf("%w: nil state manager", ErrWiring)
	}
	if params.Custody == (ethcommon.Address{}) {
		return nil, fmt.Errorf("%w: custody address not set", ErrWiring)
	}
	if params.FeeRecipient == (ethcommon.Address{}) {
		return nil, fmt.Errorf("%w: fee recipient not set", ErrWiring)
	}
	if params.Admin == (ethcommon.Address{}) {
		return nil, fmt.Errorf("%w: admin address not set", ErrWiring)
	}

	pauses := common.NewSwitch()

	classifier := token.NewClassifier(backend, manager, params.Custody, params.Admin)

	executor := transfer.NewExecutor(executorIdentity, backend, classifier, params.Custody, params.Admin)
	executor.SetPauseView(pauses)

	holder := gifts.NewHolder(holderIdentity, executor, backend, params.FeeRecipient, params.Admin)
	holder.SetPauseView(pauses)

	engine := gifts.NewEngine(engineIdentity, classifier, holder, executor, params.Admin)
	engine.SetState(manager)
	engine.SetPauseView(pauses)

	if err := classifier.Capabilities().Grant(params.Admin, executorIdentity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWiring, err)
	}
	if err := classifier.Capabilities().Grant(params.Admin, engineIdentity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWiring, err)
	}
	if err := executor.Capabilities().Grant(params.Admin, holderIdentity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWiring, err)
	}
	if err := executor.Capabilities().Grant(params.Admin, engineIdentity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWiring, err)
	}
	if err := holder.Capabilities().Grant(params.Admin, engineIdentity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWiring, err)
	}

	p := &Protocol{
		Classifier: classifier,
		Executor:   executor,
		Holder:     holder,
		Engine:     engine,
		State:      manager,
		Pauses:     pauses,
		admin:      params.Admin,
	}
	if err := p.ValidateWiring(); err != nil {
		return nil, err
	}
	return p, nil
}

// ValidateWiring fails fast when any authorization edge of the component
// graph is missing. Called at construction and safe to re-run after
// capability rotations.
func (p *Protocol) ValidateWiring() error {
	if p.Classifier == nil || p.Executor == nil || p.Holder == nil || p.Engine == nil {
		return fmt.Errorf("%w: component missing", ErrWiring)
	}
	if !p.Classifier.Capabilities().Authorized(executorIdentity) {
		return fmt.Errorf("%w: executor cannot use classifier", ErrWiring)
	}
	if !p.Classifier.Capabilities().Authorized(engineIdentity) {
		return fmt.Errorf("%w: engine cannot use classifier", ErrWiring)
	}
	if !p.Executor.Capabilities().Authorized(holderIdentity) {
		return fmt.Errorf("%w: holder cannot use executor", ErrWiring)
	}
	if !p.Executor.Capabilities().Authorized(engineIdentity) {
		return fmt.Errorf("%w: engine cannot use executor", ErrWiring)
	}
	if !p.Holder.Capabilities().Authorized(engineIdentity) {
		return fmt.Errorf("%w: engine cannot use holder", ErrWiring)
	}
	if p.Holder.Custody() != p.Executor.Operator() {
		return fmt.Errorf("%w: custody address mismatch", ErrWiring)
	}
	return nil
}

// SetEmitter propagates one emitter to every component.
func (p *Protocol) SetEmitter(emitter events.Emitter) {
	p.Classifier.SetEmitter(emitter)
	p.Executor.SetEmitter(emitter)
	p.Holder.SetEmitter(emitter)
	p.Engine.SetEmitter(emitter)
}

// SetPaused flips the shared pause switch. Admin only.
func (p *Protocol) SetPaused(caller ethcommon.Address, paused bool) error {
	if caller != p.admin {
		return common.ErrUnauthorized
	}
	p.Pauses.SetPaused(paused)
	return nil
}

// FeeScheduleCurrent surfaces the active schedule for read endpoints.
func (p *Protocol) FeeScheduleCurrent() (uint64, *big.Int) {
	schedule := p.Engine.FeeScheduleCurrent()
	return schedule.PercentFee, schedule.FlatFee
}
