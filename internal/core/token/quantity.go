package token

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zcoinlabs/zmarket/internal/core/domain"
)

var ErrLengthMismatch = errors.New("ids and amounts length mismatch")

// QuantityRegistry custodies amount-bearing assets: any number of units per
// caller-chosen id. Transfers require operator approval unless the operator
// moves its own units.
type QuantityRegistry struct {
	name    string
	symbol  string
	baseURI string
	owner   common.Address

	mu        sync.RWMutex
	minter    common.Address
	balances  map[uint64]map[common.Address]uint64
	supply    map[uint64]uint64
	operators map[common.Address]map[common.Address]bool
}

func NewQuantityRegistry(name, symbol, baseURI string, owner common.Address) *QuantityRegistry {
	return &QuantityRegistry{
		name:      name,
		symbol:    symbol,
		baseURI:   baseURI,
		owner:     owner,
		minter:    owner,
		balances:  make(map[uint64]map[common.Address]uint64),
		supply:    make(map[uint64]uint64),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

func (r *QuantityRegistry) Name() string   { return r.name }
func (r *QuantityRegistry) Symbol() string { return r.symbol }

func (r *QuantityRegistry) URI(id uint64) string {
	return r.baseURI + strconv.FormatUint(id, 10)
}

func (r *QuantityRegistry) TotalSupply(id uint64) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.supply[id]
}

func (r *QuantityRegistry) SetMinter(actor, minter common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if actor != r.owner {
		return ErrNotOwner
	}
	r.minter = minter
	return nil
}

func (r *QuantityRegistry) Minter() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.minter
}

func (r *QuantityRegistry) MintTo(actor, to common.Address, id, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if actor != r.minter {
		return ErrNotMinter
	}
	r.credit(to, id, amount)
	r.supply[id] += amount
	return nil
}

func (r *QuantityRegistry) BalanceOf(addr common.Address, id uint64) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balances[id][addr]
}

func (r *QuantityRegistry) SetApprovalForAll(owner, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops, ok := r.operators[owner]
	if !ok {
		ops = make(map[common.Address]bool)
		r.operators[owner] = ops
	}
	ops[operator] = approved
}

func (r *QuantityRegistry) SafeTransferFrom(operator, from, to common.Address, id, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.move(operator, from, to, id, amount)
}

// SafeBatchTransferFrom moves several ids in one call. The batch is
// all-or-nothing: balances are checked up front before anything moves.
func (r *QuantityRegistry) SafeBatchTransferFrom(operator, from, to common.Address, ids, amounts []uint64) error {
	if len(ids) != len(amounts) {
		return ErrLengthMismatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if operator != from && !r.operators[from][operator] {
		return fmt.Errorf("operator %s: %w", operator.Hex(), ErrNotApproved)
	}
	for i, id := range ids {
		if r.balances[id][from] < amounts[i] {
			return fmt.Errorf("account %s id %d: %w", from.Hex(), id, ErrInsufficientFunds)
		}
	}
	for i, id := range ids {
		r.debit(from, id, amounts[i])
		r.credit(to, id, amounts[i])
	}
	return nil
}

// move requires r.mu held.
func (r *QuantityRegistry) move(operator, from, to common.Address, id, amount uint64) error {
	if operator != from && !r.operators[from][operator] {
		return fmt.Errorf("operator %s: %w", operator.Hex(), ErrNotApproved)
	}
	if r.balances[id][from] < amount {
		return fmt.Errorf("account %s id %d: %w", from.Hex(), id, ErrInsufficientFunds)
	}
	r.debit(from, id, amount)
	r.credit(to, id, amount)
	return nil
}

// debit requires r.mu held and a sufficient balance. A zero amount is a
// no-op, so an id with no balance map never gets one allocated here.
func (r *QuantityRegistry) debit(from common.Address, id, amount uint64) {
	if amount == 0 {
		return
	}
	r.balances[id][from] -= amount
}

// credit requires r.mu held.
func (r *QuantityRegistry) credit(to common.Address, id, amount uint64) {
	byAddr, ok := r.balances[id]
	if !ok {
		byAddr = make(map[common.Address]uint64)
		r.balances[id] = byAddr
	}
	byAddr[to] += amount
}

func (r *QuantityRegistry) Supports(c domain.Capability) bool {
	return c == domain.CapProbe || c == domain.CapQuantity
}
