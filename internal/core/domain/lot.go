package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AuctionDuration is the fixed bidding window. The deadline is set once at
// lot creation and never extended by bids.
const AuctionDuration = 3 * 24 * time.Hour

type LotState uint8

const (
	LotActive LotState = iota + 1
	LotFinished
)

func (s LotState) String() string {
	switch s {
	case LotActive:
		return "active"
	case LotFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Lot is a timed-auction record. While LotActive the asset is in marketplace
// custody and exactly LastBidAmount of payment token is escrowed for it.
// BidsCount == 0 means no bid was ever accepted; LastBidder is meaningless
// in that case.
type Lot struct {
	ID            uint64
	Asset         AssetRef
	Seller        common.Address
	Deadline      int64
	LastBidder    common.Address
	LastBidAmount *big.Int
	BidsCount     uint32
	State         LotState
	CreatedAt     int64
}

// Clone returns a deep copy of the lot record.
func (l *Lot) Clone() *Lot {
	if l == nil {
		return nil
	}
	clone := *l
	if l.LastBidAmount != nil {
		clone.LastBidAmount = new(big.Int).Set(l.LastBidAmount)
	} else {
		clone.LastBidAmount = big.NewInt(0)
	}
	return &clone
}
