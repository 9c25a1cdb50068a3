package port

import (
	"context"

	"github.com/zcoinlabs/zmarket/internal/core/domain"
)

// SnapshotCache mirrors record snapshots for cheap external reads and backs
// transport-level request de-duplication.
type SnapshotCache interface {
	// PutItem unconditionally overwrites the cached item snapshot.
	PutItem(ctx context.Context, item domain.Item) error

	// PutLot overwrites the cached lot snapshot unless the stored snapshot
	// already carries a higher bid count (workers may deliver out of order).
	PutLot(ctx context.Context, lot domain.Lot) error

	GetItem(ctx context.Context, id uint64) (*domain.Item, error)
	GetLot(ctx context.Context, id uint64) (*domain.Lot, error)

	// SetIdempotency sets a key for duplicate-request detection, returns
	// false if already present.
	SetIdempotency(ctx context.Context, key string) (bool, error)
}
