package service

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/zcoinlabs/zmarket/internal/core/domain"
	"github.com/zcoinlabs/zmarket/internal/port"
)

// custody is the small capability surface the settlement transitions run
// over, so the item and lot state machines stay identical across asset
// kinds.
type custody interface {
	pull(from, to common.Address, ref domain.AssetRef) error
	push(from, to common.Address, ref domain.AssetRef) error
	balance(addr common.Address, ref domain.AssetRef) uint64
}

func (m *Market) custodyFor(kind domain.AssetKind) (custody, error) {
	switch kind {
	case domain.AssetUnique:
		return uniqueCustody{reg: m.unique, operator: m.addr}, nil
	case domain.AssetQuantity:
		return quantityCustody{reg: m.quantity, operator: m.addr}, nil
	default:
		return nil, ErrUnsupportedAssetKind
	}
}

type uniqueCustody struct {
	reg      port.UniqueRegistry
	operator common.Address
}

func (c uniqueCustody) pull(from, to common.Address, ref domain.AssetRef) error {
	return c.reg.SafeTransferFrom(c.operator, from, to, ref.TokenID)
}

func (c uniqueCustody) push(from, to common.Address, ref domain.AssetRef) error {
	return c.reg.SafeTransferFrom(c.operator, from, to, ref.TokenID)
}

func (c uniqueCustody) balance(addr common.Address, ref domain.AssetRef) uint64 {
	owner, err := c.reg.OwnerOf(ref.TokenID)
	if err != nil || owner != addr {
		return 0
	}
	return 1
}

type quantityCustody struct {
	reg      port.QuantityRegistry
	operator common.Address
}

func (c quantityCustody) pull(from, to common.Address, ref domain.AssetRef) error {
	return c.reg.SafeTransferFrom(c.operator, from, to, ref.ID, ref.Amount)
}

func (c quantityCustody) push(from, to common.Address, ref domain.AssetRef) error {
	return c.reg.SafeTransferFrom(c.operator, from, to, ref.ID, ref.Amount)
}

func (c quantityCustody) balance(addr common.Address, ref domain.AssetRef) uint64 {
	return c.reg.BalanceOf(addr, ref.ID)
}
