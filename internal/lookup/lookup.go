// Package lookup debounces barcode lookups from manual entry. Rapid
// keystrokes each trigger a lookup; only the latest one is allowed to land.
package lookup

import (
	"context"
	"errors"
	"sync"
	"time"

	"supermart/backend/internal/cart"
	"supermart/backend/internal/domain"
)

// ErrSuperseded reports that a newer lookup replaced this one before it
// completed.
var ErrSuperseded = errors.New("superseded by a newer lookup")

// Debouncer serializes barcode lookups so that a newer request cancels the
// pending or in-flight older one.
type Debouncer struct {
	finder cart.ProductFinder
	delay  time.Duration

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

func NewDebouncer(finder cart.ProductFinder, delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	return &Debouncer{finder: finder, delay: delay}
}

// Lookup waits out the debounce delay, then resolves barcode against the
// catalog. Calling Lookup cancels an earlier call still pending on the same
// Debouncer; the earlier caller gets ErrSuperseded. Cancelling ctx returns
// its error.
func (d *Debouncer) Lookup(ctx context.Context, barcode string) (*domain.Product, error) {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.seq++
	seq := d.seq
	lookupCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	timer := time.NewTimer(d.delay)
	defer timer.Stop()

	select {
	case <-lookupCtx.Done():
		return nil, supersededErr(ctx)
	case <-timer.C:
	}

	product, err := d.finder.GetProductByBarcode(lookupCtx, barcode)
	if lookupCtx.Err() != nil {
		return nil, supersededErr(ctx)
	}

	d.mu.Lock()
	current := seq == d.seq
	d.mu.Unlock()
	if !current {
		return nil, ErrSuperseded
	}
	return product, err
}

// Stop cancels the pending lookup, if any.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
}

func supersededErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrSuperseded
}
