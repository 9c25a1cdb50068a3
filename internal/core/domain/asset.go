package domain

import "fmt"

// AssetKind discriminates the two asset families the marketplace settles:
// unique (one-of-a-kind, single token id) and quantity (fungible per id,
// carries an amount).
type AssetKind uint8

const (
	AssetUnique AssetKind = iota + 1
	AssetQuantity
)

func (k AssetKind) Valid() bool {
	return k == AssetUnique || k == AssetQuantity
}

func (k AssetKind) String() string {
	switch k {
	case AssetUnique:
		return "unique"
	case AssetQuantity:
		return "quantity"
	default:
		return "unknown"
	}
}

// AssetRef identifies an asset held or traded by the marketplace. For
// AssetUnique only TokenID is meaningful; for AssetQuantity the pair
// (ID, Amount) is.
type AssetRef struct {
	Kind    AssetKind
	TokenID uint64
	ID      uint64
	Amount  uint64
}

// UniqueRef builds a reference to a one-of-a-kind token.
func UniqueRef(tokenID uint64) AssetRef {
	return AssetRef{Kind: AssetUnique, TokenID: tokenID}
}

// QuantityRef builds a reference to amount units of a fungible id.
func QuantityRef(id, amount uint64) AssetRef {
	return AssetRef{Kind: AssetQuantity, ID: id, Amount: amount}
}

// Validate rejects references the settlement engine cannot dispatch on.
func (r AssetRef) Validate() error {
	switch r.Kind {
	case AssetUnique:
		return nil
	case AssetQuantity:
		if r.Amount == 0 {
			return fmt.Errorf("quantity asset %d: zero amount", r.ID)
		}
		return nil
	default:
		return fmt.Errorf("unsupported asset kind: %d", r.Kind)
	}
}

func (r AssetRef) String() string {
	if r.Kind == AssetQuantity {
		return fmt.Sprintf("quantity(id=%d, amount=%d)", r.ID, r.Amount)
	}
	return fmt.Sprintf("unique(token=%d)", r.TokenID)
}
