package store

import (
	"context"
	"errors"
	"time"

	"supermart/backend/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateBarcode = errors.New("duplicate barcode")
	ErrStockExceeded    = errors.New("stock exceeded")
	ErrInvalidProduct   = errors.New("invalid product")
)

// Repository is the persistence boundary. CreateProduct, UpdateProduct and
// CreateSale are atomic units: the catalog write and its stock history entry
// (and, for sales, the sale lines and quantity decrements) are never observed
// independently.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	// CreateProduct inserts the product and appends one RECEIVE stock entry
	// for its initial quantity in the same atomic unit.
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// UpdateProduct replaces the product's mutable fields. A non-zero
	// quantity delta appends one ADJUSTMENT stock entry in the same atomic
	// unit.
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// DeleteProduct retires the product (soft delete) so historical sale
	// lines and stock entries keep a valid reference.
	DeleteProduct(ctx context.Context, barcode string) error
	ListStockHistory(ctx context.Context, barcode string, limit int) ([]domain.StockEntry, error)

	// CreateSale persists the sale and its lines, decrements each referenced
	// product's quantity and appends one SALE stock entry per line, all in a
	// single atomic unit. A decrement that would drive quantity negative
	// aborts the whole unit with ErrStockExceeded. The returned sale carries
	// the assigned bill number and sale date.
	CreateSale(ctx context.Context, sale domain.Sale, lines []domain.SaleLine) (*domain.Sale, []domain.SaleLine, error)
	ListSales(ctx context.Context, from *time.Time, to *time.Time) ([]domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleLine, error)

	SalesReportRows(ctx context.Context, from *time.Time, to *time.Time) ([]domain.SalesReportRow, error)
	InventoryReportRows(ctx context.Context) ([]domain.InventoryReportRow, error)
	LowStockReportRows(ctx context.Context, threshold int) ([]domain.LowStockReportRow, error)
	ProfitReportRows(ctx context.Context, from *time.Time, to *time.Time) ([]domain.ProfitReportRow, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
