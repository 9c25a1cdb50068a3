package token

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zcoinlabs/zmarket/internal/core/domain"
)

var (
	ErrUnknownToken = errors.New("unknown token")
	ErrNotApproved  = errors.New("not approved")
	ErrWrongOwner   = errors.New("transfer from wrong owner")
)

// UniqueRegistry custodies one-of-a-kind tokens with registry-assigned,
// 1-based monotonic ids. One designated minter may create tokens; only the
// registry owner may change the minter.
type UniqueRegistry struct {
	name    string
	symbol  string
	baseURI string
	owner   common.Address

	mu        sync.RWMutex
	minter    common.Address
	nextID    uint64
	owners    map[uint64]common.Address
	approvals map[uint64]common.Address
	operators map[common.Address]map[common.Address]bool
}

func NewUniqueRegistry(name, symbol, baseURI string, owner common.Address) *UniqueRegistry {
	return &UniqueRegistry{
		name:      name,
		symbol:    symbol,
		baseURI:   baseURI,
		owner:     owner,
		minter:    owner,
		nextID:    1,
		owners:    make(map[uint64]common.Address),
		approvals: make(map[uint64]common.Address),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

func (r *UniqueRegistry) Name() string   { return r.name }
func (r *UniqueRegistry) Symbol() string { return r.symbol }

func (r *UniqueRegistry) TokenURI(tokenID uint64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.owners[tokenID]; !ok {
		return "", fmt.Errorf("token %d: %w", tokenID, ErrUnknownToken)
	}
	return r.baseURI + strconv.FormatUint(tokenID, 10), nil
}

func (r *UniqueRegistry) TotalSupply() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.owners))
}

// SetMinter designates the single mint authority. Owner only.
func (r *UniqueRegistry) SetMinter(actor, minter common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if actor != r.owner {
		return ErrNotOwner
	}
	r.minter = minter
	return nil
}

func (r *UniqueRegistry) Minter() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.minter
}

// MintTo creates the next token and assigns it to `to`. Minter only.
func (r *UniqueRegistry) MintTo(actor, to common.Address) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if actor != r.minter {
		return 0, ErrNotMinter
	}
	id := r.nextID
	r.nextID++
	r.owners[id] = to
	return id, nil
}

func (r *UniqueRegistry) OwnerOf(tokenID uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[tokenID]
	if !ok {
		return common.Address{}, fmt.Errorf("token %d: %w", tokenID, ErrUnknownToken)
	}
	return owner, nil
}

func (r *UniqueRegistry) BalanceOf(addr common.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n uint64
	for _, owner := range r.owners {
		if owner == addr {
			n++
		}
	}
	return n
}

// Approve lets operator move tokenID once. Token owner only.
func (r *UniqueRegistry) Approve(owner, operator common.Address, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	actual, ok := r.owners[tokenID]
	if !ok {
		return fmt.Errorf("token %d: %w", tokenID, ErrUnknownToken)
	}
	if actual != owner {
		return ErrNotOwner
	}
	r.approvals[tokenID] = operator
	return nil
}

func (r *UniqueRegistry) SetApprovalForAll(owner, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops, ok := r.operators[owner]
	if !ok {
		ops = make(map[common.Address]bool)
		r.operators[owner] = ops
	}
	ops[operator] = approved
}

// SafeTransferFrom moves tokenID from `from` to `to`. The operator must be
// the current owner, the per-token approvee, or an approved operator.
func (r *UniqueRegistry) SafeTransferFrom(operator, from, to common.Address, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[tokenID]
	if !ok {
		return fmt.Errorf("token %d: %w", tokenID, ErrUnknownToken)
	}
	if owner != from {
		return fmt.Errorf("token %d owned by %s: %w", tokenID, owner.Hex(), ErrWrongOwner)
	}
	if operator != owner && r.approvals[tokenID] != operator && !r.operators[owner][operator] {
		return fmt.Errorf("operator %s: %w", operator.Hex(), ErrNotApproved)
	}
	r.owners[tokenID] = to
	delete(r.approvals, tokenID)
	return nil
}

func (r *UniqueRegistry) Supports(c domain.Capability) bool {
	return c == domain.CapProbe || c == domain.CapUnique
}
