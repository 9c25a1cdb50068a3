package port

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/zcoinlabs/zmarket/internal/core/domain"
)

// UniqueRegistry custodies one-of-a-kind assets. Token ids are assigned by
// the registry, 1-based and monotonic. A single designated minter, settable
// only by the registry owner, may create tokens.
type UniqueRegistry interface {
	MintTo(actor, to common.Address) (uint64, error)
	OwnerOf(tokenID uint64) (common.Address, error)
	BalanceOf(addr common.Address) uint64

	Approve(owner, operator common.Address, tokenID uint64) error
	SetApprovalForAll(owner, operator common.Address, approved bool)

	// SafeTransferFrom moves tokenID from `from` to `to`. The operator must
	// be the owner or hold a token/operator approval; otherwise the call
	// fails with no effect.
	SafeTransferFrom(operator, from, to common.Address, tokenID uint64) error

	Supports(c domain.Capability) bool
}

// QuantityRegistry custodies amount-bearing assets, many units per id.
type QuantityRegistry interface {
	MintTo(actor, to common.Address, id, amount uint64) error
	BalanceOf(addr common.Address, id uint64) uint64

	SetApprovalForAll(owner, operator common.Address, approved bool)
	SafeTransferFrom(operator, from, to common.Address, id, amount uint64) error
	SafeBatchTransferFrom(operator, from, to common.Address, ids, amounts []uint64) error

	Supports(c domain.Capability) bool
}
