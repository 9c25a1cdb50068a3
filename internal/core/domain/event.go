package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type EventType string

const (
	EventItemMinted      EventType = "item.minted"
	EventItemOnSale      EventType = "item.on_sale"
	EventItemSold        EventType = "item.sold"
	EventItemCancelled   EventType = "item.cancelled"
	EventLotOnAuction    EventType = "lot.on_auction"
	EventBidPlaced       EventType = "lot.bid_placed"
	EventAuctionFinished EventType = "lot.finished"
)

// Event is the completion signal emitted after every successful state
// transition. Item and Lot carry a snapshot of the record as of the
// transition, never a live pointer.
type Event struct {
	ID    string
	Type  EventType
	At    int64
	Actor common.Address

	Asset  *AssetRef
	Item   *Item
	Lot    *Lot
	Amount *big.Int
}

// NewEvent stamps an envelope id onto a transition signal.
func NewEvent(t EventType, at int64, actor common.Address) Event {
	return Event{ID: uuid.NewString(), Type: t, At: at, Actor: actor}
}

// Terminal reports whether the event closes its record's lifecycle, which is
// what the write-behind archive workers key on.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventItemSold, EventItemCancelled, EventAuctionFinished:
		return true
	default:
		return false
	}
}
