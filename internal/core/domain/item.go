package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type ItemState uint8

const (
	ItemActive ItemState = iota + 1
	ItemSold
	ItemCancelled
)

func (s ItemState) String() string {
	switch s {
	case ItemActive:
		return "active"
	case ItemSold:
		return "sold"
	case ItemCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Item is a fixed-price sale record. While the state is ItemActive the
// referenced asset sits in marketplace custody; a terminal record no longer
// holds anything.
type Item struct {
	ID        uint64
	Asset     AssetRef
	Price     *big.Int
	Seller    common.Address
	State     ItemState
	CreatedAt int64
}

// Clone returns a deep copy so callers can hold a snapshot while the stored
// record keeps mutating.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	clone := *i
	if i.Price != nil {
		clone.Price = new(big.Int).Set(i.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}
