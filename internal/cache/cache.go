package cache

import (
	"context"
	"time"

	"supermart/backend/internal/domain"
)

// ReceiptCache caches completed receipts by bill number. Receipts are
// immutable, so entries never need invalidation, only expiry.
type ReceiptCache interface {
	Get(ctx context.Context, saleID int64) (*domain.Receipt, bool, error)
	Set(ctx context.Context, saleID int64, receipt *domain.Receipt, ttl time.Duration) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ int64) (*domain.Receipt, bool, error) {
	return nil, false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ int64, _ *domain.Receipt, _ time.Duration) error {
	return nil
}
