package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zcoinlabs/zmarket/internal/core/domain"
)

var ErrBadAmount = errors.New("malformed archived amount")

// MySQLArchive is the write-behind store for settled marketplace records.
// Workers archive terminal items and lots here; the engine's in-memory state
// stays authoritative. Archiving is idempotent so a worker retry after a
// partial failure is harmless.
//
// Expected schema:
//
//	CREATE TABLE trade_items (
//	    id           BIGINT UNSIGNED PRIMARY KEY,
//	    asset_kind   TINYINT UNSIGNED NOT NULL,
//	    token_id     BIGINT UNSIGNED NOT NULL,
//	    asset_id     BIGINT UNSIGNED NOT NULL,
//	    asset_amount BIGINT UNSIGNED NOT NULL,
//	    price        VARCHAR(78) NOT NULL,
//	    seller       CHAR(42) NOT NULL,
//	    state        VARCHAR(16) NOT NULL,
//	    created_at   BIGINT NOT NULL
//	);
//
//	CREATE TABLE auction_lots (
//	    id           BIGINT UNSIGNED PRIMARY KEY,
//	    asset_kind   TINYINT UNSIGNED NOT NULL,
//	    token_id     BIGINT UNSIGNED NOT NULL,
//	    asset_id     BIGINT UNSIGNED NOT NULL,
//	    asset_amount BIGINT UNSIGNED NOT NULL,
//	    seller       CHAR(42) NOT NULL,
//	    deadline     BIGINT NOT NULL,
//	    last_bidder  CHAR(42) NOT NULL,
//	    last_bid     VARCHAR(78) NOT NULL,
//	    bids_count   INT UNSIGNED NOT NULL,
//	    state        VARCHAR(16) NOT NULL,
//	    created_at   BIGINT NOT NULL
//	);
type MySQLArchive struct {
	db *sql.DB
}

func NewMySQLArchive(db *sql.DB) *MySQLArchive {
	return &MySQLArchive{db: db}
}

func (m *MySQLArchive) ArchiveItem(ctx context.Context, item domain.Item) error {
	price := "0"
	if item.Price != nil {
		price = item.Price.String()
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO trade_items (id, asset_kind, token_id, asset_id, asset_amount, price, seller, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE state = VALUES(state)`,
		item.ID, uint8(item.Asset.Kind), item.Asset.TokenID, item.Asset.ID, item.Asset.Amount,
		price, item.Seller.Hex(), item.State.String(), item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("archive item %d: %w", item.ID, err)
	}
	return nil
}

func (m *MySQLArchive) ArchiveLot(ctx context.Context, lot domain.Lot) error {
	bid := "0"
	if lot.LastBidAmount != nil {
		bid = lot.LastBidAmount.String()
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO auction_lots (id, asset_kind, token_id, asset_id, asset_amount, seller, deadline, last_bidder, last_bid, bids_count, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE last_bidder = VALUES(last_bidder), last_bid = VALUES(last_bid),
			bids_count = VALUES(bids_count), state = VALUES(state)`,
		lot.ID, uint8(lot.Asset.Kind), lot.Asset.TokenID, lot.Asset.ID, lot.Asset.Amount,
		lot.Seller.Hex(), lot.Deadline, lot.LastBidder.Hex(), bid, lot.BidsCount,
		lot.State.String(), lot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("archive lot %d: %w", lot.ID, err)
	}
	return nil
}

func (m *MySQLArchive) GetItem(ctx context.Context, id uint64) (*domain.Item, error) {
	var (
		item   domain.Item
		kind   uint8
		price  string
		seller string
		state  string
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, asset_kind, token_id, asset_id, asset_amount, price, seller, state, created_at
		FROM trade_items WHERE id = ?`, id,
	).Scan(&item.ID, &kind, &item.Asset.TokenID, &item.Asset.ID, &item.Asset.Amount,
		&price, &seller, &state, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item %d: %w", id, err)
	}

	item.Asset.Kind = domain.AssetKind(kind)
	item.Seller = common.HexToAddress(seller)
	item.State = parseItemState(state)
	item.Price, err = parseAmount(price)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	return &item, nil
}

func (m *MySQLArchive) GetLot(ctx context.Context, id uint64) (*domain.Lot, error) {
	var (
		lot    domain.Lot
		kind   uint8
		seller string
		bidder string
		bid    string
		state  string
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, asset_kind, token_id, asset_id, asset_amount, seller, deadline, last_bidder, last_bid, bids_count, state, created_at
		FROM auction_lots WHERE id = ?`, id,
	).Scan(&lot.ID, &kind, &lot.Asset.TokenID, &lot.Asset.ID, &lot.Asset.Amount,
		&seller, &lot.Deadline, &bidder, &bid, &lot.BidsCount, &state, &lot.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lot %d: %w", id, err)
	}

	lot.Asset.Kind = domain.AssetKind(kind)
	lot.Seller = common.HexToAddress(seller)
	lot.LastBidder = common.HexToAddress(bidder)
	lot.State = parseLotState(state)
	lot.LastBidAmount, err = parseAmount(bid)
	if err != nil {
		return nil, fmt.Errorf("lot %d: %w", id, err)
	}
	return &lot, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	return v, nil
}

func parseItemState(s string) domain.ItemState {
	switch s {
	case "active":
		return domain.ItemActive
	case "sold":
		return domain.ItemSold
	case "cancelled":
		return domain.ItemCancelled
	default:
		return 0
	}
}

func parseLotState(s string) domain.LotState {
	switch s {
	case "active":
		return domain.LotActive
	case "finished":
		return domain.LotFinished
	default:
		return 0
	}
}
