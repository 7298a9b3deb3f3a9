package lookup

import (
	"context"
	"errors"
	"testing"
	"time"

	"supermart/backend/internal/domain"
	"supermart/backend/internal/store"
)

type mapFinder map[string]*domain.Product

func (f mapFinder) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	if p, ok := f[barcode]; ok {
		return p, nil
	}
	return nil, store.ErrNotFound
}

type outcome struct {
	product *domain.Product
	err     error
}

func TestLookupDeliversLatestOnly(t *testing.T) {
	finder := mapFinder{
		"1001": {Barcode: "1001", Name: "Milk 1L"},
		"1002": {Barcode: "1002", Name: "Bread"},
	}
	d := NewDebouncer(finder, 50*time.Millisecond)

	first := make(chan outcome, 1)
	go func() {
		p, err := d.Lookup(context.Background(), "1001")
		first <- outcome{p, err}
	}()

	// Let the first call register before superseding it.
	time.Sleep(10 * time.Millisecond)
	product, err := d.Lookup(context.Background(), "1002")
	if err != nil {
		t.Fatalf("latest lookup failed: %v", err)
	}
	if product == nil || product.Barcode != "1002" {
		t.Fatalf("product = %+v, want 1002", product)
	}

	select {
	case res := <-first:
		if !errors.Is(res.err, ErrSuperseded) {
			t.Fatalf("first lookup = (%+v, %v), want ErrSuperseded", res.product, res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for superseded lookup")
	}
}

func TestLookupReportsMiss(t *testing.T) {
	d := NewDebouncer(mapFinder{}, 10*time.Millisecond)

	if _, err := d.Lookup(context.Background(), "9999"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStopCancelsPendingLookup(t *testing.T) {
	d := NewDebouncer(mapFinder{"1001": {Barcode: "1001"}}, 200*time.Millisecond)

	pending := make(chan outcome, 1)
	go func() {
		p, err := d.Lookup(context.Background(), "1001")
		pending <- outcome{p, err}
	}()

	time.Sleep(10 * time.Millisecond)
	d.Stop()

	select {
	case res := <-pending:
		if !errors.Is(res.err, ErrSuperseded) {
			t.Fatalf("stopped lookup = (%+v, %v), want ErrSuperseded", res.product, res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stopped lookup")
	}
}

func TestLookupHonorsCallerContext(t *testing.T) {
	d := NewDebouncer(mapFinder{"1001": {Barcode: "1001"}}, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	pending := make(chan outcome, 1)
	go func() {
		p, err := d.Lookup(ctx, "1001")
		pending <- outcome{p, err}
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case res := <-pending:
		if !errors.Is(res.err, context.Canceled) {
			t.Fatalf("cancelled lookup = (%+v, %v), want context.Canceled", res.product, res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancelled lookup")
	}
}
