package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"supermart/backend/internal/domain"
	"supermart/backend/internal/store"
)

func TestCreateSaleCommitsBillAtomically(t *testing.T) {
	databaseURL := os.Getenv("SUPERMART_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SUPERMART_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	barcode := fmt.Sprintf("IT-SALE-%d", stamp)

	product, err := s.CreateProduct(ctx, domain.Product{
		Barcode:      barcode,
		Name:         "Sale IT Product",
		Category:     "test",
		Quantity:     5,
		CostPrice:    6.00,
		SellingPrice: 10.00,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE barcode = $1`, barcode)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_history WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	sale, lines, err := s.CreateSale(ctx, domain.Sale{
		Subtotal:      20.00,
		Tax:           1.00,
		Total:         21.00,
		PaymentAmount: 25.00,
		ChangeAmount:  4.00,
	}, []domain.SaleLine{{
		Barcode:   barcode,
		Quantity:  2,
		UnitPrice: 10.00,
		LineTotal: 20.00,
		UnitCost:  6.00,
	}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.ID < 1 {
		t.Fatalf("sale id = %d, want positive bill number", sale.ID)
	}
	if len(lines) != 1 || lines[0].SaleID != sale.ID {
		t.Fatalf("lines = %+v, want one line bound to sale %d", lines, sale.ID)
	}

	got, err := s.GetProductByBarcode(ctx, barcode)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Quantity != 3 {
		t.Fatalf("quantity after sale = %d, want 3", got.Quantity)
	}

	entries, err := s.ListStockHistory(ctx, barcode, 10)
	if err != nil {
		t.Fatalf("stock history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d ledger entries, want RECEIVE + SALE", len(entries))
	}
	if entries[0].TransactionType != domain.TxTypeSale || entries[0].QuantityChange != -2 || entries[0].QuantityAfter != 3 {
		t.Fatalf("latest entry = %+v, want SALE -2 -> 3", entries[0])
	}

	// Overselling must roll the whole bill back.
	_, _, err = s.CreateSale(ctx, domain.Sale{Total: 40.00, PaymentAmount: 40.00}, []domain.SaleLine{{
		Barcode:   barcode,
		Quantity:  4,
		UnitPrice: 10.00,
		LineTotal: 40.00,
		UnitCost:  6.00,
	}})
	if !errors.Is(err, store.ErrStockExceeded) {
		t.Fatalf("oversell error = %v, want ErrStockExceeded", err)
	}
	got, err = s.GetProductByBarcode(ctx, barcode)
	if err != nil {
		t.Fatalf("get product after failed sale: %v", err)
	}
	if got.Quantity != 3 {
		t.Fatalf("quantity after failed sale = %d, want 3", got.Quantity)
	}
}

func TestCreateSaleConcurrentBillsBothCommit(t *testing.T) {
	databaseURL := os.Getenv("SUPERMART_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SUPERMART_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	barcodes := []string{
		fmt.Sprintf("IT-CONC-A-%d", stamp),
		fmt.Sprintf("IT-CONC-B-%d", stamp),
	}
	for _, barcode := range barcodes {
		product, err := s.CreateProduct(ctx, domain.Product{
			Barcode:      barcode,
			Name:         "Concurrent IT Product",
			Category:     "test",
			Quantity:     5,
			CostPrice:    1.00,
			SellingPrice: 2.00,
		})
		if err != nil {
			t.Fatalf("create product %s: %v", barcode, err)
		}
		productID := product.ID
		code := barcode
		t.Cleanup(func() {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE barcode = $1`, code)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_history WHERE product_id = $1`, productID)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		})
	}

	// Checkouts for disjoint products contend only on the bill counter;
	// both must commit with distinct bill numbers, never abort.
	var wg sync.WaitGroup
	results := make(chan int64, len(barcodes))
	errs := make(chan error, len(barcodes))
	for _, barcode := range barcodes {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			sale, _, err := s.CreateSale(ctx, domain.Sale{
				Subtotal: 2.00, Tax: 0.10, Total: 2.10,
				PaymentAmount: 5.00, ChangeAmount: 2.90,
			}, []domain.SaleLine{{
				Barcode:   code,
				Quantity:  1,
				UnitPrice: 2.00,
				LineTotal: 2.00,
				UnitCost:  1.00,
			}})
			if err != nil {
				errs <- err
				return
			}
			results <- sale.ID
		}(barcode)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent sale failed: %v", err)
	}
	bills := make(map[int64]bool)
	for id := range results {
		if bills[id] {
			t.Fatalf("bill number %d issued twice", id)
		}
		bills[id] = true
	}
	if len(bills) != 2 {
		t.Fatalf("got %d committed bills, want 2", len(bills))
	}
}

func TestStockHistoryKeepsNameAfterRename(t *testing.T) {
	databaseURL := os.Getenv("SUPERMART_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SUPERMART_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	barcode := fmt.Sprintf("IT-SNAP-%d", stamp)

	product, err := s.CreateProduct(ctx, domain.Product{
		Barcode:      barcode,
		Name:         "Original Name",
		Category:     "test",
		Quantity:     5,
		CostPrice:    1.00,
		SellingPrice: 2.00,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_history WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	product.Name = "Renamed Product"
	if _, err := s.UpdateProduct(ctx, *product); err != nil {
		t.Fatalf("rename product: %v", err)
	}

	entries, err := s.ListStockHistory(ctx, barcode, 10)
	if err != nil {
		t.Fatalf("stock history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d ledger entries, want 1", len(entries))
	}
	if entries[0].ProductName != "Original Name" {
		t.Fatalf("ledger name = %q, want the name at write time %q", entries[0].ProductName, "Original Name")
	}
}
