// Package service holds the application logic between the HTTP surface and
// the store: catalog validation, sale completion, receipts and reporting.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"supermart/backend/internal/cache"
	"supermart/backend/internal/domain"
	"supermart/backend/internal/money"
	"supermart/backend/internal/store"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInsufficientPayment = errors.New("payment amount below total")
	ErrInvalidDateRange    = errors.New("invalid date range")
)

// SaleError wraps a storage fault raised while committing a sale, after the
// preconditions passed. Callers surface it as a generic failure; the cause
// stays available through Unwrap for logging.
type SaleError struct {
	cause error
}

func (e *SaleError) Error() string {
	return "sale could not be completed"
}

func (e *SaleError) Unwrap() error {
	return e.cause
}

const receiptCacheTTL = 24 * time.Hour

type Service struct {
	repo              store.Repository
	receipts          cache.ReceiptCache
	log               zerolog.Logger
	defaultTaxRate    float64
	lowStockThreshold int
}

func New(repo store.Repository, receipts cache.ReceiptCache, log zerolog.Logger, defaultTaxRate float64, lowStockThreshold int) *Service {
	if receipts == nil {
		receipts = cache.NoopReceiptCache{}
	}
	if defaultTaxRate < 0 {
		defaultTaxRate = 0
	}
	if lowStockThreshold < 1 {
		lowStockThreshold = 10
	}

	return &Service{
		repo:              repo,
		receipts:          receipts,
		log:               log,
		defaultTaxRate:    defaultTaxRate,
		lowStockThreshold: lowStockThreshold,
	}
}

func (s *Service) DefaultTaxRate() float64 {
	return s.defaultTaxRate
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrNotFound
	}
	return s.repo.GetProductByBarcode(ctx, barcode)
}

// ReceiveProduct registers a new catalog entry. The initial quantity becomes
// the product's first RECEIVE ledger entry.
func (s *Service) ReceiveProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	req.Barcode = strings.TrimSpace(req.Barcode)
	req.Name = strings.TrimSpace(req.Name)
	if req.Barcode == "" || req.Name == "" {
		return nil, store.ErrInvalidProduct
	}
	if req.Quantity < 0 || req.CostPrice < 0 || req.SellingPrice < 0 {
		return nil, store.ErrInvalidProduct
	}

	expiry, err := parseOptionalDate(req.ExpiryDate)
	if err != nil {
		return nil, store.ErrInvalidProduct
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Barcode:      req.Barcode,
		Name:         req.Name,
		Category:     strings.TrimSpace(req.Category),
		Quantity:     req.Quantity,
		CostPrice:    money.Round(req.CostPrice),
		SellingPrice: money.Round(req.SellingPrice),
		ExpiryDate:   expiry,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("barcode", created.Barcode).Int("quantity", created.Quantity).Msg("product received")
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, barcode string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	req.Name = strings.TrimSpace(req.Name)
	if barcode == "" || req.Name == "" {
		return nil, store.ErrInvalidProduct
	}
	if req.Quantity < 0 || req.CostPrice < 0 || req.SellingPrice < 0 {
		return nil, store.ErrInvalidProduct
	}

	expiry, err := parseOptionalDate(req.ExpiryDate)
	if err != nil {
		return nil, store.ErrInvalidProduct
	}

	updated, err := s.repo.UpdateProduct(ctx, domain.Product{
		Barcode:      barcode,
		Name:         req.Name,
		Category:     strings.TrimSpace(req.Category),
		Quantity:     req.Quantity,
		CostPrice:    money.Round(req.CostPrice),
		SellingPrice: money.Round(req.SellingPrice),
		ExpiryDate:   expiry,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("barcode", updated.Barcode).Msg("product updated")
	return updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, barcode string) error {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return store.ErrNotFound
	}
	if err := s.repo.DeleteProduct(ctx, barcode); err != nil {
		return err
	}
	s.log.Info().Str("barcode", barcode).Msg("product retired")
	return nil
}

func (s *Service) StockHistory(ctx context.Context, barcode string, limit int) ([]domain.StockEntry, error) {
	return s.repo.ListStockHistory(ctx, strings.TrimSpace(barcode), limit)
}

// CompleteSale commits a bill. Every money amount is recomputed fresh from
// the items; client-supplied totals are ignored. Preconditions (non-empty
// items, sufficient payment) fail before anything is written, so the caller
// keeps the cart. A storage fault after the preconditions comes back as a
// SaleError.
func (s *Service) CompleteSale(ctx context.Context, req domain.SaleCreateRequest) (*domain.Receipt, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}

	taxRate := s.defaultTaxRate
	if req.TaxRate != nil && *req.TaxRate >= 0 {
		taxRate = *req.TaxRate
	}

	sum := 0.0
	lines := make([]domain.SaleLine, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Barcode == "" || item.Quantity < 1 {
			return nil, store.ErrInvalidProduct
		}
		lineTotal := money.Round(item.UnitPrice * float64(item.Quantity))
		sum += item.UnitPrice * float64(item.Quantity)
		lines = append(lines, domain.SaleLine{
			ProductID: item.ProductID,
			Barcode:   item.Barcode,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: lineTotal,
			UnitCost:  item.UnitCost,
		})
	}

	subtotal := money.Round(sum)
	tax := money.Tax(subtotal, taxRate)
	total := money.Round(subtotal + tax)
	payment := money.Round(req.PaymentAmount)
	if payment < total {
		return nil, ErrInsufficientPayment
	}

	sale, savedLines, err := s.repo.CreateSale(ctx, domain.Sale{
		Subtotal:      subtotal,
		Tax:           tax,
		Total:         total,
		PaymentAmount: payment,
		ChangeAmount:  money.Round(payment - total),
	}, lines)
	if err != nil {
		if errors.Is(err, store.ErrStockExceeded) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidProduct) {
			return nil, err
		}
		s.log.Error().Err(err).Msg("sale commit failed")
		return nil, &SaleError{cause: err}
	}

	receipt := &domain.Receipt{Sale: *sale, Items: savedLines}
	if err := s.receipts.Set(ctx, sale.ID, receipt, receiptCacheTTL); err != nil {
		s.log.Warn().Err(err).Int64("sale_id", sale.ID).Msg("receipt cache write failed")
	}

	s.log.Info().Int64("sale_id", sale.ID).Float64("total", sale.Total).Int("lines", len(savedLines)).Msg("sale completed")
	return receipt, nil
}

func (s *Service) ListSales(ctx context.Context, fromRaw string, toRaw string) ([]domain.Sale, error) {
	from, to, err := parseDateRange(fromRaw, toRaw)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, from, to)
}

func (s *Service) SaleItems(ctx context.Context, saleID int64) ([]domain.SaleLine, error) {
	return s.repo.ListSaleItems(ctx, saleID)
}

// Receipt reprints a completed bill, read-through the receipt cache.
func (s *Service) Receipt(ctx context.Context, saleID int64) (*domain.Receipt, error) {
	if cached, ok, err := s.receipts.Get(ctx, saleID); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.log.Warn().Err(err).Int64("sale_id", saleID).Msg("receipt cache read failed")
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListSaleItems(ctx, saleID)
	if err != nil {
		return nil, err
	}

	receipt := &domain.Receipt{Sale: *sale, Items: items}
	if err := s.receipts.Set(ctx, saleID, receipt, receiptCacheTTL); err != nil {
		s.log.Warn().Err(err).Int64("sale_id", saleID).Msg("receipt cache write failed")
	}
	return receipt, nil
}

func (s *Service) SalesReport(ctx context.Context, fromRaw string, toRaw string) (*domain.SalesReport, error) {
	from, to, err := parseDateRange(fromRaw, toRaw)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.SalesReportRows(ctx, from, to)
	if err != nil {
		return nil, err
	}

	summary := domain.SalesReportSummary{TotalTransactions: len(rows)}
	for _, row := range rows {
		summary.TotalSales += row.Total
	}
	summary.TotalSales = money.Round(summary.TotalSales)
	if summary.TotalTransactions > 0 {
		summary.AverageTransaction = money.Round(summary.TotalSales / float64(summary.TotalTransactions))
	}

	return &domain.SalesReport{Summary: summary, Data: rows}, nil
}

func (s *Service) InventoryReport(ctx context.Context) (*domain.InventoryReport, error) {
	rows, err := s.repo.InventoryReportRows(ctx)
	if err != nil {
		return nil, err
	}

	summary := domain.InventoryReportSummary{TotalProducts: len(rows)}
	for _, row := range rows {
		summary.TotalItems += row.Quantity
		summary.TotalCost += row.TotalCost
		summary.TotalValue += row.TotalValue
	}
	summary.TotalCost = money.Round(summary.TotalCost)
	summary.TotalValue = money.Round(summary.TotalValue)
	summary.PotentialProfit = money.Round(summary.TotalValue - summary.TotalCost)

	return &domain.InventoryReport{Summary: summary, Data: rows}, nil
}

func (s *Service) LowStockReport(ctx context.Context) (*domain.LowStockReport, error) {
	rows, err := s.repo.LowStockReportRows(ctx, s.lowStockThreshold)
	if err != nil {
		return nil, err
	}

	summary := domain.LowStockReportSummary{LowStockItems: len(rows)}
	for _, row := range rows {
		if row.Quantity == 0 {
			summary.OutOfStock++
		}
	}

	return &domain.LowStockReport{Summary: summary, Data: rows}, nil
}

func (s *Service) ProfitReport(ctx context.Context, fromRaw string, toRaw string) (*domain.ProfitReport, error) {
	from, to, err := parseDateRange(fromRaw, toRaw)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ProfitReportRows(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var summary domain.ProfitReportSummary
	for i := range rows {
		rows[i].Revenue = money.Round(rows[i].Revenue)
		rows[i].Cost = money.Round(rows[i].Cost)
		rows[i].Profit = money.Round(rows[i].Profit)
		rows[i].AvgSellingPrice = money.Round(rows[i].AvgSellingPrice)
		summary.TotalRevenue += rows[i].Revenue
		summary.TotalCost += rows[i].Cost
	}
	summary.TotalRevenue = money.Round(summary.TotalRevenue)
	summary.TotalCost = money.Round(summary.TotalCost)
	summary.TotalProfit = money.Round(summary.TotalRevenue - summary.TotalCost)
	if summary.TotalRevenue > 0 {
		summary.ProfitMargin = money.Round(summary.TotalProfit / summary.TotalRevenue * 100)
	}

	return &domain.ProfitReport{Summary: summary, Data: rows}, nil
}

// parseDateRange parses optional from/to ISO dates. The to bound is treated
// as inclusive end-of-day so a single-day range covers the whole day.
func parseDateRange(fromRaw string, toRaw string) (*time.Time, *time.Time, error) {
	var from, to *time.Time

	if fromRaw = strings.TrimSpace(fromRaw); fromRaw != "" {
		parsed, err := time.Parse("2006-01-02", fromRaw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: from=%q", ErrInvalidDateRange, fromRaw)
		}
		parsed = parsed.UTC()
		from = &parsed
	}
	if toRaw = strings.TrimSpace(toRaw); toRaw != "" {
		parsed, err := time.Parse("2006-01-02", toRaw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: to=%q", ErrInvalidDateRange, toRaw)
		}
		endOfDay := parsed.UTC().Add(24*time.Hour - time.Nanosecond)
		to = &endOfDay
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, ErrInvalidDateRange
	}
	return from, to, nil
}

func parseOptionalDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	parsed = parsed.UTC()
	return &parsed, nil
}
