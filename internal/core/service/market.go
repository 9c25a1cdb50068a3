// Package service implements the escrow and settlement engine: it custodies
// assets and payment-token escrow, enforces the item and lot state machines
// and moves value exactly once per transition.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zcoinlabs/zmarket/internal/core/domain"
	"github.com/zcoinlabs/zmarket/internal/port"
)

var (
	// Authorization.
	ErrNotOwner = errors.New("not owner")

	// State conflict.
	ErrItemNotActive    = errors.New("trade position is not active")
	ErrAuctionNotActive = errors.New("auction is not active")

	// Temporal gate.
	ErrAuctionInProgress = errors.New("auction is still in progress")

	// Value constraint.
	ErrBidTooLow = errors.New("bid is less than current")

	ErrUnsupportedAssetKind = errors.New("unsupported asset kind")
	ErrNegativePrice        = errors.New("negative price")
	ErrUnknownItem          = errors.New("unknown item")
	ErrUnknownLot           = errors.New("unknown lot")
)

type itemEntry struct {
	mu  sync.Mutex
	rec domain.Item
}

type lotEntry struct {
	mu  sync.Mutex
	rec domain.Lot
}

// Market is the settlement engine. It acts under its own address: assets in
// custody are held by addr on the registries and escrowed bids sit on addr's
// payment-ledger balance. Transitions on the same record serialize on a
// per-record lock; records with different ids proceed independently.
type Market struct {
	addr     common.Address
	coin     port.PaymentLedger
	unique   port.UniqueRegistry
	quantity port.QuantityRegistry

	nowFn      func() int64
	auctionDur time.Duration

	itemSeq atomic.Uint64
	lotSeq  atomic.Uint64

	mu    sync.RWMutex
	items map[uint64]*itemEntry
	lots  map[uint64]*lotEntry

	evMu   sync.RWMutex
	closed bool
	events chan domain.Event
}

// NewMarket wires the engine to its collaborators. queueSize bounds the
// event channel drained by the caller's workers.
func NewMarket(addr common.Address, coin port.PaymentLedger, unique port.UniqueRegistry, quantity port.QuantityRegistry, queueSize int) *Market {
	return &Market{
		addr:       addr,
		coin:       coin,
		unique:     unique,
		quantity:   quantity,
		nowFn:      func() int64 { return time.Now().Unix() },
		auctionDur: domain.AuctionDuration,
		items:      make(map[uint64]*itemEntry),
		lots:       make(map[uint64]*lotEntry),
		events:     make(chan domain.Event, queueSize),
	}
}

// Addr returns the engine's custody address. Sellers approve it as operator
// on the registries and bidders grant it payment-ledger allowance.
func (m *Market) Addr() common.Address { return m.addr }

// SetNowFunc overrides the time source. Intended for tests and demos.
func (m *Market) SetNowFunc(now func() int64) {
	if now == nil {
		m.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	m.nowFn = now
}

// SetAuctionDuration overrides the fixed bidding window for new lots.
func (m *Market) SetAuctionDuration(d time.Duration) {
	if d > 0 {
		m.auctionDur = d
	}
}

// Events exposes the transition signal stream.
func (m *Market) Events() <-chan domain.Event { return m.events }

// Close closes the event stream. Transitions that race or follow it still
// settle; their events are dropped instead of sent on the closed channel.
// Safe to call more than once.
func (m *Market) Close() {
	m.evMu.Lock()
	defer m.evMu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
}

// Supports reports the custody capabilities the engine exposes to
// integration tooling: it can receive both asset kinds.
func (m *Market) Supports(c domain.Capability) bool {
	switch c {
	case domain.CapProbe, domain.CapUniqueReceiver, domain.CapQuantityReceiver:
		return true
	default:
		return false
	}
}

func (m *Market) now() int64 { return m.nowFn() }

func (m *Market) emit(ev domain.Event) {
	m.evMu.RLock()
	defer m.evMu.RUnlock()
	if m.closed {
		return
	}
	m.events <- ev
}

// CreateItem mints a new asset to caller through the registry's designated
// minter path. The engine address must be the registry minter. For
// AssetUnique the registry picks the token id and id/amount are ignored.
func (m *Market) CreateItem(ctx context.Context, caller common.Address, kind domain.AssetKind, id, amount uint64) (domain.AssetRef, error) {
	var ref domain.AssetRef
	switch kind {
	case domain.AssetUnique:
		tokenID, err := m.unique.MintTo(m.addr, caller)
		if err != nil {
			return domain.AssetRef{}, fmt.Errorf("mint unique: %w", err)
		}
		ref = domain.UniqueRef(tokenID)
	case domain.AssetQuantity:
		ref = domain.QuantityRef(id, amount)
		if err := ref.Validate(); err != nil {
			return domain.AssetRef{}, err
		}
		if err := m.quantity.MintTo(m.addr, caller, id, amount); err != nil {
			return domain.AssetRef{}, fmt.Errorf("mint quantity: %w", err)
		}
	default:
		return domain.AssetRef{}, ErrUnsupportedAssetKind
	}

	ev := domain.NewEvent(domain.EventItemMinted, m.now(), caller)
	ev.Asset = &ref
	m.emit(ev)
	return ref, nil
}

// ListItem pulls the asset from seller into engine custody and opens a
// fixed-price sale. A zero price is permitted.
func (m *Market) ListItem(ctx context.Context, seller common.Address, ref domain.AssetRef, price *big.Int) (uint64, error) {
	cust, err := m.custodyFor(ref.Kind)
	if err != nil {
		return 0, err
	}
	if err := ref.Validate(); err != nil {
		return 0, err
	}
	if price == nil {
		price = big.NewInt(0)
	}
	if price.Sign() < 0 {
		return 0, ErrNegativePrice
	}

	if err := cust.pull(seller, m.addr, ref); err != nil {
		return 0, fmt.Errorf("take custody: %w", err)
	}

	now := m.now()
	e := &itemEntry{rec: domain.Item{
		ID:        m.itemSeq.Add(1),
		Asset:     ref,
		Price:     new(big.Int).Set(price),
		Seller:    seller,
		State:     domain.ItemActive,
		CreatedAt: now,
	}}
	m.mu.Lock()
	m.items[e.rec.ID] = e
	m.mu.Unlock()

	ev := domain.NewEvent(domain.EventItemOnSale, now, seller)
	ev.Item = e.rec.Clone()
	m.emit(ev)
	return e.rec.ID, nil
}

// BuyItem settles an active sale: price moves from buyer to seller off the
// buyer's allowance, then the custodied asset moves to the buyer. A repeat
// call fails on the terminal state.
func (m *Market) BuyItem(ctx context.Context, buyer common.Address, itemID uint64) error {
	e := m.itemEntry(itemID)
	if e == nil {
		return ErrItemNotActive
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.State != domain.ItemActive {
		return ErrItemNotActive
	}
	cust, err := m.custodyFor(e.rec.Asset.Kind)
	if err != nil {
		return err
	}

	if err := m.coin.TransferFrom(m.addr, buyer, e.rec.Seller, e.rec.Price); err != nil {
		return fmt.Errorf("pull payment: %w", err)
	}
	if err := cust.push(m.addr, buyer, e.rec.Asset); err != nil {
		// Unwind the payment so the failed call leaves no trace.
		_ = m.coin.Transfer(e.rec.Seller, buyer, e.rec.Price)
		return fmt.Errorf("release asset: %w", err)
	}

	e.rec.State = domain.ItemSold
	ev := domain.NewEvent(domain.EventItemSold, m.now(), buyer)
	ev.Item = e.rec.Clone()
	m.emit(ev)
	return nil
}

// Cancel returns a still-active item's asset to its seller. Seller only.
func (m *Market) Cancel(ctx context.Context, caller common.Address, itemID uint64) error {
	e := m.itemEntry(itemID)
	if e == nil {
		return ErrItemNotActive
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.rec.Seller {
		return ErrNotOwner
	}
	if e.rec.State != domain.ItemActive {
		return ErrItemNotActive
	}
	cust, err := m.custodyFor(e.rec.Asset.Kind)
	if err != nil {
		return err
	}
	if err := cust.push(m.addr, e.rec.Seller, e.rec.Asset); err != nil {
		return fmt.Errorf("return asset: %w", err)
	}

	e.rec.State = domain.ItemCancelled
	ev := domain.NewEvent(domain.EventItemCancelled, m.now(), caller)
	ev.Item = e.rec.Clone()
	m.emit(ev)
	return nil
}

// ListItemOnAuction pulls the asset into custody and opens a lot with a
// fixed deadline of now plus the auction duration.
func (m *Market) ListItemOnAuction(ctx context.Context, seller common.Address, ref domain.AssetRef) (uint64, error) {
	cust, err := m.custodyFor(ref.Kind)
	if err != nil {
		return 0, err
	}
	if err := ref.Validate(); err != nil {
		return 0, err
	}
	if err := cust.pull(seller, m.addr, ref); err != nil {
		return 0, fmt.Errorf("take custody: %w", err)
	}

	now := m.now()
	e := &lotEntry{rec: domain.Lot{
		ID:            m.lotSeq.Add(1),
		Asset:         ref,
		Seller:        seller,
		Deadline:      now + int64(m.auctionDur/time.Second),
		LastBidAmount: big.NewInt(0),
		State:         domain.LotActive,
		CreatedAt:     now,
	}}
	m.mu.Lock()
	m.lots[e.rec.ID] = e
	m.mu.Unlock()

	ev := domain.NewEvent(domain.EventLotOnAuction, now, seller)
	ev.Lot = e.rec.Clone()
	m.emit(ev)
	return e.rec.ID, nil
}

// MakeBid escrows a strictly higher bid and refunds the previous bidder in
// the same transition. A lot stays biddable past its deadline for as long as
// nobody has called FinishAuction; only the finish itself is time-gated.
func (m *Market) MakeBid(ctx context.Context, bidder common.Address, lotID uint64, amount *big.Int) error {
	e := m.lotEntry(lotID)
	if e == nil {
		return ErrAuctionNotActive
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.State != domain.LotActive {
		return ErrAuctionNotActive
	}
	if amount == nil || amount.Cmp(e.rec.LastBidAmount) <= 0 {
		return ErrBidTooLow
	}

	bid := new(big.Int).Set(amount)
	if err := m.coin.TransferFrom(m.addr, bidder, m.addr, bid); err != nil {
		return fmt.Errorf("escrow bid: %w", err)
	}
	if e.rec.BidsCount > 0 {
		if err := m.coin.Transfer(m.addr, e.rec.LastBidder, e.rec.LastBidAmount); err != nil {
			// The whole bid is rejected if the refund cannot complete.
			_ = m.coin.Transfer(m.addr, bidder, bid)
			return fmt.Errorf("refund previous bidder: %w", err)
		}
	}

	e.rec.LastBidder = bidder
	e.rec.LastBidAmount = bid
	e.rec.BidsCount++
	ev := domain.NewEvent(domain.EventBidPlaced, m.now(), bidder)
	ev.Lot = e.rec.Clone()
	ev.Amount = new(big.Int).Set(bid)
	m.emit(ev)
	return nil
}

// FinishAuction settles a lot once its deadline has passed. Callable by
// anyone. With no bids the asset goes back to the seller and no currency
// moves; otherwise the escrowed high bid pays the seller and the asset goes
// to the winner.
func (m *Market) FinishAuction(ctx context.Context, caller common.Address, lotID uint64) error {
	e := m.lotEntry(lotID)
	if e == nil {
		return ErrAuctionNotActive
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.State != domain.LotActive {
		return ErrAuctionNotActive
	}
	if m.now() <= e.rec.Deadline {
		return ErrAuctionInProgress
	}
	cust, err := m.custodyFor(e.rec.Asset.Kind)
	if err != nil {
		return err
	}

	if e.rec.BidsCount == 0 {
		if err := cust.push(m.addr, e.rec.Seller, e.rec.Asset); err != nil {
			return fmt.Errorf("return asset: %w", err)
		}
	} else {
		if err := m.coin.Transfer(m.addr, e.rec.Seller, e.rec.LastBidAmount); err != nil {
			return fmt.Errorf("pay seller: %w", err)
		}
		if err := cust.push(m.addr, e.rec.LastBidder, e.rec.Asset); err != nil {
			_ = m.coin.Transfer(e.rec.Seller, m.addr, e.rec.LastBidAmount)
			return fmt.Errorf("release asset: %w", err)
		}
	}

	e.rec.State = domain.LotFinished
	ev := domain.NewEvent(domain.EventAuctionFinished, m.now(), caller)
	ev.Lot = e.rec.Clone()
	if e.rec.BidsCount > 0 {
		ev.Amount = new(big.Int).Set(e.rec.LastBidAmount)
	}
	m.emit(ev)
	return nil
}

// GetItem returns a snapshot of a sale record.
func (m *Market) GetItem(ctx context.Context, itemID uint64) (*domain.Item, error) {
	e := m.itemEntry(itemID)
	if e == nil {
		return nil, ErrUnknownItem
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

// GetLot returns a snapshot of an auction record.
func (m *Market) GetLot(ctx context.Context, lotID uint64) (*domain.Lot, error) {
	e := m.lotEntry(lotID)
	if e == nil {
		return nil, ErrUnknownLot
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

// InCustody reports how many units of the referenced asset the engine
// currently holds on the registries.
func (m *Market) InCustody(ref domain.AssetRef) uint64 {
	cust, err := m.custodyFor(ref.Kind)
	if err != nil {
		return 0
	}
	return cust.balance(m.addr, ref)
}

func (m *Market) itemEntry(id uint64) *itemEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[id]
}

func (m *Market) lotEntry(id uint64) *lotEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lots[id]
}
