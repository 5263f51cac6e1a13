package evmtest

import (
	"bytes"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"giftvault/native/token"
)

func selector(input []byte) ([4]byte, bool) {
	if len(input) < 4 {
		return [4]byte{}, false
	}
	var sel [4]byte
	copy(sel[:], input[:4])
	return sel, true
}

// FungibleToken is an in-memory ERC-20 with scriptable quirks.
type FungibleToken struct {
	mu         sync.Mutex
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int

	// EmptyTransferReturn makes transferFrom return no data on success, the
	// non-standard convention some mainnet tokens use.
	EmptyTransferReturn bool
	// FailProbes makes the read probes revert so classification falls through.
	FailProbes bool
	// TransferHook runs inside transferFrom after balances move, before the
	// call returns. Used to model reentrant callbacks.
	TransferHook func(from, to common.Address, amount *big.Int)
	// RejectRecipient makes any transfer to the given address revert, the way
	// a blocklisting token does. Zero means reject nobody.
	RejectRecipient common.Address
}

func NewFungibleToken(supply *big.Int) *FungibleToken {
	return &FungibleToken{
		supply:     new(big.Int).Set(supply),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *FungibleToken) Mint(to common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
	t.supply.Add(t.supply, amount)
}

func (t *FungibleToken) Approve(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byOwner, ok := t.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		t.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
}

func (t *FungibleToken) BalanceOf(addr common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(addr))
}

func (t *FungibleToken) balance(addr common.Address) *big.Int {
	bal, ok := t.balances[addr]
	if !ok {
		bal = big.NewInt(0)
		t.balances[addr] = bal
	}
	return bal
}

func (t *FungibleToken) credit(addr common.Address, amount *big.Int) {
	t.balance(addr).Add(t.balance(addr), amount)
}

func (t *FungibleToken) allowance(owner, spender common.Address) *big.Int {
	byOwner, ok := t.allowances[owner]
	if !ok {
		return big.NewInt(0)
	}
	amount, ok := byOwner[spender]
	if !ok {
		return big.NewInt(0)
	}
	return amount
}

func (t *FungibleToken) Call(from common.Address, input []byte, _ *big.Int) ([]byte, error) {
	sel, ok := selector(input)
	if !ok {
		return nil, fmt.Errorf("%w: short calldata", ErrRevert)
	}
	switch {
	case bytes.Equal(sel[:], token.ERC20ABI.Methods["totalSupply"].ID):
		if t.FailProbes {
			return nil, fmt.Errorf("%w: totalSupply disabled", ErrRevert)
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		return token.ERC20ABI.Methods["totalSupply"].Outputs.Pack(new(big.Int).Set(t.supply))
	case bytes.Equal(sel[:], token.ERC20ABI.Methods["balanceOf"].ID):
		if t.FailProbes {
			return nil, fmt.Errorf("%w: balanceOf disabled", ErrRevert)
		}
		args, err := token.ERC20ABI.Methods["balanceOf"].Inputs.Unpack(input[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevert, err)
		}
		return token.ERC20ABI.Methods["balanceOf"].Outputs.Pack(t.BalanceOf(args[0].(common.Address)))
	case bytes.Equal(sel[:], token.ERC20ABI.Methods["allowance"].ID):
		args, err := token.ERC20ABI.Methods["allowance"].Inputs.Unpack(input[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevert, err)
		}
		t.mu.Lock()
		amount := new(big.Int).Set(t.allowance(args[0].(common.Address), args[1].(common.Address)))
		t.mu.Unlock()
		return token.ERC20ABI.Methods["allowance"].Outputs.Pack(amount)
	case bytes.Equal(sel[:], token.ERC20ABI.Methods["transfer"].ID):
		return t.transfer(from, input[4:])
	case bytes.Equal(sel[:], token.ERC20ABI.Methods["transferFrom"].ID):
		return t.transferFrom(from, input[4:])
	default:
		return nil, fmt.Errorf("%w: unknown selector %x", ErrRevert, sel)
	}
}

func (t *FungibleToken) transfer(from common.Address, data []byte) ([]byte, error) {
	args, err := token.ERC20ABI.Methods["transfer"].Inputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRevert, err)
	}
	to := args[0].(common.Address)
	amount := args[1].(*big.Int)
	if to != (common.Address{}) && to == t.RejectRecipient {
		return nil, fmt.Errorf("%w: recipient rejected", ErrRevert)
	}

	t.mu.Lock()
	if t.balance(from).Cmp(amount) < 0 {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: insufficient balance", ErrRevert)
	}
	t.balance(from).Sub(t.balance(from), amount)
	t.credit(to, amount)
	hook := t.TransferHook
	t.mu.Unlock()

	if hook != nil {
		hook(from, to, amount)
	}
	if t.EmptyTransferReturn {
		return nil, nil
	}
	return token.ERC20ABI.Methods["transfer"].Outputs.Pack(true)
}

func (t *FungibleToken) transferFrom(spender common.Address, data []byte) ([]byte, error) {
	args, err := token.ERC20ABI.Methods["transferFrom"].Inputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRevert, err)
	}
	from := args[0].(common.Address)
	to := args[1].(common.Address)
	amount := args[2].(*big.Int)
	if to != (common.Address{}) && to == t.RejectRecipient {
		return nil, fmt.Errorf("%w: recipient rejected", ErrRevert)
	}

	t.mu.Lock()
	if from != spender {
		allowed := t.allowance(from, spender)
		if allowed.Cmp(amount) < 0 {
			t.mu.Unlock()
			return nil, fmt.Errorf("%w: insufficient allowance", ErrRevert)
		}
		allowed.Sub(allowed, amount)
	}
	if t.balance(from).Cmp(amount) < 0 {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: insufficient balance", ErrRevert)
	}
	t.balance(from).Sub(t.balance(from), amount)
	t.credit(to, amount)
	hook := t.TransferHook
	t.mu.Unlock()

	if hook != nil {
		hook(from, to, amount)
	}
	if t.EmptyTransferReturn {
		return nil, nil
	}
	return token.ERC20ABI.Methods["transferFrom"].Outputs.Pack(true)
}

// UniqueToken is an in-memory ERC-721.
type UniqueToken struct {
	mu        sync.Mutex
	owners    map[string]common.Address
	approved  map[string]common.Address
	operators map[common.Address]map[common.Address]bool

	// TransferHook runs inside safeTransferFrom after ownership moves, in
	// place of the receiver acknowledgment callback.
	TransferHook func(from, to common.Address, id *big.Int)
}

func NewUniqueToken() *UniqueToken {
	return &UniqueToken{
		owners:    make(map[string]common.Address),
		approved:  make(map[string]common.Address),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

func (t *UniqueToken) Mint(to common.Address, id *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owners[id.String()] = to
}

func (t *UniqueToken) Approve(owner, operator common.Address, id *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owners[id.String()] == owner {
		t.approved[id.String()] = operator
	}
}

func (t *UniqueToken) SetApprovalForAll(owner, operator common.Address, approved bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byOwner, ok := t.operators[owner]
	if !ok {
		byOwner = make(map[common.Address]bool)
		t.operators[owner] = byOwner
	}
	byOwner[operator] = approved
}

func (t *UniqueToken) OwnerOf(id *big.Int) common.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owners[id.String()]
}

func (t *UniqueToken) Call(from common.Address, input []byte, _ *big.Int) ([]byte, error) {
	sel, ok := selector(input)
	if !ok {
		return nil, fmt.Errorf("%w: short calldata", ErrRevert)
	}
	switch {
	case bytes.Equal(sel[:], token.ERC165ABI.Methods["supportsInterface"].ID):
		args, err := token.ERC165ABI.Methods["supportsInterface"].Inputs.Unpack(input[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevert, err)
		}
		id := args[0].([4]byte)
		return token.ERC165ABI.Methods["supportsInterface"].Outputs.Pack(id == token.InterfaceIDERC721)
	case bytes.Equal(sel[:], token.ERC721ABI.Methods["ownerOf"].ID):
		args, err := token.ERC721ABI.Methods["ownerOf"].Inputs.Unpack(input[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevert, err)
		}
		owner := t.OwnerOf(args[0].(*big.Int))
		if owner == (common.Address{}) {
			return nil, fmt.Errorf("%w: nonexistent token", ErrRevert)
		}
		return token.ERC721ABI.Methods["ownerOf"].Outputs.Pack(owner)
	case bytes.Equal(sel[:], token.ERC721ABI.Methods["getApproved"].ID):
		args, err := token.ERC721ABI.Methods["getApproved"].Inputs.Unpack(input[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevert, err)
		}
		t.mu.Lock()
		operator := t.approved[args[0].(*big.Int).String()]
		t.mu.Unlock()
		return token.ERC721ABI.Methods["getApproved"].Outputs.Pack(operator)
	case bytes.Equal(sel[:], token.ERC721ABI.Methods["isApprovedForAll"].ID):
		args, err := token.ERC721ABI.Methods["isApprovedForAll"].Inputs.Unpack(input[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevert, err)
		}
		t.mu.Lock()
		approved := t.operators[args[0].(common.Address)][args[1].(common.Address)]
		t.mu.Unlock()
		return token.ERC721ABI.Methods["isApprovedForAll"].Outputs.Pack(approved)
	case bytes.Equal(sel[:], token.ERC721ABI.Methods["safeTransferFrom"].ID):
		return nil, t.safeTransferFrom(from, input[4:])
	default:
		return nil, fmt.Errorf("%w: unknown selector %x", ErrRevert, sel)
	}
}

func (t *UniqueToken) safeTransferFrom(caller common.Address, data []byte) error {
	args, err := token.ERC721ABI.Methods["safeTransferFrom"].Inputs.Unpack(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRevert, err)
	}
	from := args[0].(common.Address)
	to := args[1].(common.Address)
	id := args[2].(*big.Int)

	t.mu.Lock()
	key := id.String()
	owner := t.owners[key]
	if owner != from {
		t.mu.Unlock()
		return fmt.Errorf("%w: transfer from non-owner", ErrRevert)
	}
	if caller != owner && t.approved[key] != caller && !t.operators[owner][caller] {
		t.mu.Unlock()
		return fmt.Errorf("%w: caller not approved", ErrRevert)
	}
	t.owners[key] = to
	delete(t.approved, key)
	hook := t.TransferHook
	t.mu.Unlock()

	if hook != nil {
		hook(from, to, id)
	}
	return nil
}

// MultiToken is an in-memory ERC-1155.
type MultiToken struct {
	mu        sync.Mutex
	balances  map[string]map[common.Address]*big.Int
	operators map[common.Address]map[common.Address]bool

	TransferHook func(from, to common.Address, id *big.Int)
}

func NewMultiToken() *MultiToken {
	return &MultiToken{
		balances:  make(map[string]map[common.Address]*big.Int),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

func (t *MultiToken) Mint(to common.Address, id, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance(id, to).Add(t.balance(id, to), amount)
}

func (t *MultiToken) SetApprovalForAll(owner, operator common.Address, approved bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byOwner, ok := t.operators[owner]
	if !ok {
		byOwner = make(map[common.Address]bool)
		t.operators[owner] = byOwner
	}
	byOwner[operator] = approved
}

func (t *MultiToken) BalanceOf(addr common.Address, id *big.Int) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(id, addr))
}

func (t *MultiToken) balance(id *big.Int, addr common.Address) *big.Int {
	byID, ok := t.balances[id.String()]
	if !ok {
		byID = make(map[common.Address]*big.Int)
		t.balances[id.String()] = byID
	}
	bal, ok := byID[addr]
	if !ok {
		bal = big.NewInt(0)
		byID[addr] = bal
	}
	return bal
}

func (t *MultiToken) Call(from common.Address, input []byte, _ *big.Int) ([]byte, error) {
	sel, ok := selector(input)
	if !ok {
		return nil, fmt.Errorf("%w: short calldata", ErrRevert)
	}
	switch {
	case bytes.Equal(sel[:], token.ERC165ABI.Methods["supportsInterface"].ID):
		args, err := token.ERC165ABI.Methods["supportsInterface"].Inputs.Unpack(input[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevert, err)
		}
		id := args[0].([4]byte)
		return token.ERC165ABI.Methods["supportsInterface"].Outputs.Pack(id == token.InterfaceIDERC1155)
	case bytes.Equal(sel[:], token.ERC1155ABI.Methods["balanceOf"].ID):
		args, err := token.ERC1155ABI.Methods["balanceOf"].Inputs.Unpack(input[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevert, err)
		}
		return token.ERC1155ABI.Methods["balanceOf"].Outputs.Pack(t.BalanceOf(args[0].(common.Address), args[1].(*big.Int)))
	case bytes.Equal(sel[:], token.ERC1155ABI.Methods["isApprovedForAll"].ID):
		args, err := token.ERC1155ABI.Methods["isApprovedForAll"].Inputs.Unpack(input[4:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevert, err)
		}
		t.mu.Lock()
		approved := t.operators[args[0].(common.Address)][args[1].(common.Address)]
		t.mu.Unlock()
		return token.ERC1155ABI.Methods["isApprovedForAll"].Outputs.Pack(approved)
	case bytes.Equal(sel[:], token.ERC1155ABI.Methods["safeTransferFrom"].ID):
		return nil, t.safeTransferFrom(from, input[4:])
	default:
		return nil, fmt.Errorf("%w: unknown selector %x", ErrRevert, sel)
	}
}

func (t *MultiToken) safeTransferFrom(caller common.Address, data []byte) error {
	args, err := token.ERC1155ABI.Methods["safeTransferFrom"].Inputs.Unpack(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRevert, err)
	}
	from := args[0].(common.Address)
	to := args[1].(common.Address)
	id := args[2].(*big.Int)
	amount := args[3].(*big.Int)

	t.mu.Lock()
	if caller != from && !t.operators[from][caller] {
		t.mu.Unlock()
		return fmt.Errorf("%w: caller not operator", ErrRevert)
	}
	if t.balance(id, from).Cmp(amount) < 0 {
		t.mu.Unlock()
		return fmt.Errorf("%w: insufficient balance", ErrRevert)
	}
	t.balance(id, from).Sub(t.balance(id, from), amount)
	t.balance(id, to).Add(t.balance(id, to), amount)
	hook := t.TransferHook
	t.mu.Unlock()

	if hook != nil {
		hook(from, to, id)
	}
	return nil
}

// HostileContract answers every call with garbage or a revert, for probe
// isolation tests.
type HostileContract struct {
	// Garbage, when set, returns undecodable bytes instead of reverting.
	Garbage bool
}

func (h *HostileContract) Call(common.Address, []byte, *big.Int) ([]byte, error) {
	if h.Garbage {
		return []byte{0xde, 0xad}, nil
	}
	return nil, fmt.Errorf("%w: hostile contract", ErrRevert)
}
