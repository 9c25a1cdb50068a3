package port

import (
	"context"

	"github.com/zcoinlabs/zmarket/internal/core/domain"
)

// TradeArchive persists settled marketplace records. It is write-behind:
// the engine's in-memory ledgers stay authoritative, workers archive
// terminal records for reporting and restarts.
type TradeArchive interface {
	ArchiveItem(ctx context.Context, item domain.Item) error
	ArchiveLot(ctx context.Context, lot domain.Lot) error

	// GetItem / GetLot return nil when the record was never archived.
	GetItem(ctx context.Context, id uint64) (*domain.Item, error)
	GetLot(ctx context.Context, id uint64) (*domain.Lot, error)
}
