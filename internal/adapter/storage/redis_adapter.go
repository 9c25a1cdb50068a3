package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/zcoinlabs/zmarket/internal/core/domain"
)

const (
	itemKeyPrefix     = "item:"
	lotKeyPrefix      = "lot:"
	idempotencyKeyTTL = 24 * time.Hour
)

// putLotScript only overwrites a lot snapshot when the incoming one is at
// least as fresh (bid count never regresses); a finished snapshot always
// wins. Workers drain the event queue concurrently, so writes may arrive out
// of order.
var putLotScript = redis.NewScript(`
local key = KEYS[1]
local incoming = ARGV[1]
local count = tonumber(ARGV[2])
local state = ARGV[3]

local cur = redis.call('GET', key)
if cur and state ~= 'finished' then
	local ok, obj = pcall(cjson.decode, cur)
	if ok and tonumber(obj['bids_count']) and tonumber(obj['bids_count']) > count then
		return 0
	end
	if ok and obj['state'] == 'finished' then
		return 0
	end
end

redis.call('SET', key, incoming)
return 1
`)

type itemSnapshot struct {
	ID          uint64 `json:"id"`
	AssetKind   string `json:"asset_kind"`
	TokenID     uint64 `json:"token_id"`
	AssetID     uint64 `json:"asset_id"`
	AssetAmount uint64 `json:"asset_amount"`
	Price       string `json:"price"`
	Seller      string `json:"seller"`
	State       string `json:"state"`
	CreatedAt   int64  `json:"created_at"`
}

type lotSnapshot struct {
	ID          uint64 `json:"id"`
	AssetKind   string `json:"asset_kind"`
	TokenID     uint64 `json:"token_id"`
	AssetID     uint64 `json:"asset_id"`
	AssetAmount uint64 `json:"asset_amount"`
	Seller      string `json:"seller"`
	Deadline    int64  `json:"deadline"`
	LastBidder  string `json:"last_bidder"`
	LastBid     string `json:"last_bid"`
	BidsCount   uint32 `json:"bids_count"`
	State       string `json:"state"`
	CreatedAt   int64  `json:"created_at"`
}

// RedisCache mirrors record snapshots for cheap reads and backs HTTP
// request de-duplication.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) PutItem(ctx context.Context, item domain.Item) error {
	price := "0"
	if item.Price != nil {
		price = item.Price.String()
	}
	raw, err := json.Marshal(itemSnapshot{
		ID:          item.ID,
		AssetKind:   item.Asset.Kind.String(),
		TokenID:     item.Asset.TokenID,
		AssetID:     item.Asset.ID,
		AssetAmount: item.Asset.Amount,
		Price:       price,
		Seller:      item.Seller.Hex(),
		State:       item.State.String(),
		CreatedAt:   item.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal item %d: %w", item.ID, err)
	}
	return r.client.Set(ctx, itemKey(item.ID), raw, 0).Err()
}

func (r *RedisCache) PutLot(ctx context.Context, lot domain.Lot) error {
	bid := "0"
	if lot.LastBidAmount != nil {
		bid = lot.LastBidAmount.String()
	}
	raw, err := json.Marshal(lotSnapshot{
		ID:          lot.ID,
		AssetKind:   lot.Asset.Kind.String(),
		TokenID:     lot.Asset.TokenID,
		AssetID:     lot.Asset.ID,
		AssetAmount: lot.Asset.Amount,
		Seller:      lot.Seller.Hex(),
		Deadline:    lot.Deadline,
		LastBidder:  lot.LastBidder.Hex(),
		LastBid:     bid,
		BidsCount:   lot.BidsCount,
		State:       lot.State.String(),
		CreatedAt:   lot.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal lot %d: %w", lot.ID, err)
	}
	return putLotScript.Run(ctx, r.client, []string{lotKey(lot.ID)},
		raw, lot.BidsCount, lot.State.String()).Err()
}

func (r *RedisCache) GetItem(ctx context.Context, id uint64) (*domain.Item, error) {
	raw, err := r.client.Get(ctx, itemKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap itemSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal item %d: %w", id, err)
	}
	price, err := parseAmount(snap.Price)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	return &domain.Item{
		ID:        snap.ID,
		Asset:     snapshotRef(snap.AssetKind, snap.TokenID, snap.AssetID, snap.AssetAmount),
		Price:     price,
		Seller:    common.HexToAddress(snap.Seller),
		State:     parseItemState(snap.State),
		CreatedAt: snap.CreatedAt,
	}, nil
}

func (r *RedisCache) GetLot(ctx context.Context, id uint64) (*domain.Lot, error) {
	raw, err := r.client.Get(ctx, lotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap lotSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal lot %d: %w", id, err)
	}
	bid, err := parseAmount(snap.LastBid)
	if err != nil {
		return nil, fmt.Errorf("lot %d: %w", id, err)
	}
	return &domain.Lot{
		ID:            snap.ID,
		Asset:         snapshotRef(snap.AssetKind, snap.TokenID, snap.AssetID, snap.AssetAmount),
		Seller:        common.HexToAddress(snap.Seller),
		Deadline:      snap.Deadline,
		LastBidder:    common.HexToAddress(snap.LastBidder),
		LastBidAmount: bid,
		BidsCount:     snap.BidsCount,
		State:         parseLotState(snap.State),
		CreatedAt:     snap.CreatedAt,
	}, nil
}

func (r *RedisCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func itemKey(id uint64) string { return fmt.Sprintf("%s%d", itemKeyPrefix, id) }
func lotKey(id uint64) string  { return fmt.Sprintf("%s%d", lotKeyPrefix, id) }

func snapshotRef(kind string, tokenID, id, amount uint64) domain.AssetRef {
	if kind == "quantity" {
		return domain.QuantityRef(id, amount)
	}
	return domain.UniqueRef(tokenID)
}
