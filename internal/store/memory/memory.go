package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"supermart/backend/internal/domain"
	"supermart/backend/internal/money"
	"supermart/backend/internal/store"
)

// Store is an in-memory Repository for tests and DATABASE_URL-less dev runs.
// A single mutex guards every map so multi-step writes (sale commit, product
// create plus ledger entry) stay atomic.
type Store struct {
	mu              sync.RWMutex
	productsByCode  map[string]domain.Product
	stockHistory    []domain.StockEntry
	salesByID       map[int64]domain.Sale
	saleItems       map[int64][]domain.SaleLine
	usersByUsername map[string]domain.UserAccount

	nextProductID int64
	nextEntryID   int64
	nextLineID    int64
	lastBill      int64
}

func New() *Store {
	return &Store{
		productsByCode:  make(map[string]domain.Product),
		stockHistory:    make([]domain.StockEntry, 0, 128),
		salesByID:       make(map[int64]domain.Sale),
		saleItems:       make(map[int64][]domain.SaleLine),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	seed := []struct {
		barcode  string
		name     string
		category string
		qty      int
		cost     float64
		price    float64
	}{
		{"8990011000011", "Milk 1L", "dairy", 40, 0.95, 1.60},
		{"8990011000028", "White Bread", "bakery", 25, 0.55, 1.10},
		{"8990011000035", "Eggs 12pk", "dairy", 18, 2.10, 3.40},
		{"8990011000042", "Instant Noodles", "grocery", 120, 0.22, 0.45},
		{"8990011000059", "Sugar 1kg", "grocery", 30, 1.05, 1.70},
		{"8990011000066", "Ground Coffee 250g", "beverage", 15, 2.80, 4.90},
		{"8990011000073", "Tea Bags 25pk", "beverage", 22, 0.95, 1.80},
		{"8990011000080", "Mineral Water 600ml", "beverage", 90, 0.18, 0.40},
		{"8990011000097", "Potato Chips", "snack", 35, 0.75, 1.40},
		{"8990011000103", "Chocolate Bar", "snack", 48, 0.55, 1.00},
		{"8990011000110", "Bath Soap", "household", 26, 0.45, 0.85},
		{"8990011000127", "Dish Detergent", "household", 8, 1.15, 2.05},
	}

	ctx := context.Background()
	for _, p := range seed {
		if _, err := s.CreateProduct(ctx, domain.Product{
			Barcode:      p.barcode,
			Name:         p.name,
			Category:     p.category,
			Quantity:     p.qty,
			CostPrice:    p.cost,
			SellingPrice: p.price,
		}); err != nil {
			log.Fatalf("[memory-store] failed to seed product %s: %v", p.barcode, err)
		}
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByCode))
	for _, p := range s.productsByCode {
		if !p.Active {
			continue
		}
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})

	return products, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByCode[barcode]
	if !exists || !product.Active {
		return nil, store.ErrNotFound
	}
	copyProduct := cloneProduct(product)
	return &copyProduct, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.Barcode = strings.TrimSpace(product.Barcode)
	product.Name = strings.TrimSpace(product.Name)
	if product.Barcode == "" || product.Name == "" {
		return nil, store.ErrInvalidProduct
	}
	if product.Quantity < 0 || product.CostPrice < 0 || product.SellingPrice < 0 {
		return nil, store.ErrInvalidProduct
	}
	// A retired barcode stays taken: its ledger and sale lines still
	// reference the record, so re-creation is rejected the same as a live
	// duplicate.
	if _, exists := s.productsByCode[product.Barcode]; exists {
		return nil, store.ErrDuplicateBarcode
	}

	now := time.Now().UTC()
	s.nextProductID++
	product.ID = s.nextProductID
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now
	s.productsByCode[product.Barcode] = product

	if product.Quantity > 0 {
		s.appendStockEntry(product, domain.TxTypeReceive, product.Quantity, "Initial stock", now)
	}

	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Quantity < 0 || product.CostPrice < 0 || product.SellingPrice < 0 {
		return nil, store.ErrInvalidProduct
	}
	current, exists := s.productsByCode[product.Barcode]
	if !exists || !current.Active {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	delta := product.Quantity - current.Quantity

	current.Name = product.Name
	current.Category = product.Category
	current.Quantity = product.Quantity
	current.CostPrice = product.CostPrice
	current.SellingPrice = product.SellingPrice
	current.ExpiryDate = product.ExpiryDate
	current.UpdatedAt = now
	s.productsByCode[current.Barcode] = current

	if delta != 0 {
		s.appendStockEntry(current, domain.TxTypeAdjustment, delta, "Stock adjusted", now)
	}

	updated := cloneProduct(current)
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, barcode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByCode[barcode]
	if !exists || !product.Active {
		return store.ErrNotFound
	}
	product.Active = false
	product.UpdatedAt = time.Now().UTC()
	s.productsByCode[barcode] = product
	return nil
}

func (s *Store) ListStockHistory(_ context.Context, barcode string, limit int) ([]domain.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockEntry, 0, 64)
	for _, entry := range s.stockHistory {
		if barcode != "" && entry.Barcode != barcode {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.StockEntry) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return int(b.ID - a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CreateSale validates every line against current stock before mutating
// anything, so a failed line leaves products, sales and the ledger untouched.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale, lines []domain.SaleLine) (*domain.Sale, []domain.SaleLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(lines) == 0 {
		return nil, nil, store.ErrInvalidProduct
	}

	need := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, nil, store.ErrInvalidProduct
		}
		need[line.Barcode] += line.Quantity
	}
	for barcode, qty := range need {
		product, exists := s.productsByCode[barcode]
		if !exists || !product.Active {
			return nil, nil, store.ErrNotFound
		}
		if product.Quantity < qty {
			return nil, nil, store.ErrStockExceeded
		}
	}

	now := time.Now().UTC()
	s.lastBill++
	sale.ID = s.lastBill
	sale.SaleDate = now
	s.salesByID[sale.ID] = sale

	savedLines := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		product := s.productsByCode[line.Barcode]
		product.Quantity -= line.Quantity
		product.UpdatedAt = now
		s.productsByCode[line.Barcode] = product

		s.nextLineID++
		line.ID = s.nextLineID
		line.SaleID = sale.ID
		line.ProductID = product.ID
		line.ProductName = product.Name
		savedLines = append(savedLines, line)

		s.appendStockEntry(product, domain.TxTypeSale, -line.Quantity, billNote(sale.ID), now)
	}
	s.saleItems[sale.ID] = savedLines

	created := sale
	out := make([]domain.SaleLine, len(savedLines))
	copy(out, savedLines)
	return &created, out, nil
}

func (s *Store) ListSales(_ context.Context, from *time.Time, to *time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if !inRange(sale.SaleDate, from, to) {
			continue
		}
		result = append(result, sale)
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		return int(b.ID - a.ID)
	})
	return result, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := sale
	return &copySale, nil
}

func (s *Store) ListSaleItems(_ context.Context, saleID int64) ([]domain.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.salesByID[saleID]; !exists {
		return nil, store.ErrNotFound
	}
	items := s.saleItems[saleID]
	result := make([]domain.SaleLine, len(items))
	copy(result, items)
	return result, nil
}

func (s *Store) SalesReportRows(_ context.Context, from *time.Time, to *time.Time) ([]domain.SalesReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SalesReportRow, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if !inRange(sale.SaleDate, from, to) {
			continue
		}
		row := domain.SalesReportRow{
			ID:       sale.ID,
			SaleDate: sale.SaleDate,
			Subtotal: sale.Subtotal,
			Tax:      sale.Tax,
			Total:    sale.Total,
		}
		for _, line := range s.saleItems[sale.ID] {
			row.ItemsCount++
			row.TotalItems += line.Quantity
		}
		result = append(result, row)
	}
	slices.SortFunc(result, func(a, b domain.SalesReportRow) int {
		return int(b.ID - a.ID)
	})
	return result, nil
}

func (s *Store) InventoryReportRows(_ context.Context) ([]domain.InventoryReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryReportRow, 0, len(s.productsByCode))
	for _, p := range s.productsByCode {
		if !p.Active {
			continue
		}
		result = append(result, domain.InventoryReportRow{
			Barcode:      p.Barcode,
			ProductName:  p.Name,
			Category:     p.Category,
			Quantity:     p.Quantity,
			CostPrice:    p.CostPrice,
			SellingPrice: p.SellingPrice,
			TotalCost:    money.Round(p.CostPrice * float64(p.Quantity)),
			TotalValue:   money.Round(p.SellingPrice * float64(p.Quantity)),
			ExpiryDate:   p.ExpiryDate,
		})
	}
	slices.SortFunc(result, func(a, b domain.InventoryReportRow) int {
		if a.Category == b.Category {
			return cmpString(a.ProductName, b.ProductName)
		}
		return cmpString(a.Category, b.Category)
	})
	return result, nil
}

func (s *Store) LowStockReportRows(_ context.Context, threshold int) ([]domain.LowStockReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LowStockReportRow, 0, 16)
	for _, p := range s.productsByCode {
		if !p.Active || p.Quantity >= threshold {
			continue
		}
		result = append(result, domain.LowStockReportRow{
			Barcode:      p.Barcode,
			ProductName:  p.Name,
			Category:     p.Category,
			Quantity:     p.Quantity,
			SellingPrice: p.SellingPrice,
		})
	}
	slices.SortFunc(result, func(a, b domain.LowStockReportRow) int {
		if a.Quantity == b.Quantity {
			return cmpString(a.ProductName, b.ProductName)
		}
		return a.Quantity - b.Quantity
	})
	return result, nil
}

func (s *Store) ProfitReportRows(_ context.Context, from *time.Time, to *time.Time) ([]domain.ProfitReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		name    string
		sold    int
		revenue float64
		cost    float64
	}
	byBarcode := map[string]*agg{}

	for id, sale := range s.salesByID {
		if !inRange(sale.SaleDate, from, to) {
			continue
		}
		for _, line := range s.saleItems[id] {
			a := byBarcode[line.Barcode]
			if a == nil {
				a = &agg{name: line.ProductName}
				byBarcode[line.Barcode] = a
			}
			a.sold += line.Quantity
			a.revenue += line.LineTotal
			a.cost += line.UnitCost * float64(line.Quantity)
		}
	}

	result := make([]domain.ProfitReportRow, 0, len(byBarcode))
	for barcode, a := range byBarcode {
		row := domain.ProfitReportRow{
			ProductName: a.name,
			Barcode:     barcode,
			TotalSold:   a.sold,
			Revenue:     money.Round(a.revenue),
			Cost:        money.Round(a.cost),
			Profit:      money.Round(a.revenue - a.cost),
		}
		if a.sold > 0 {
			row.AvgSellingPrice = money.Round(a.revenue / float64(a.sold))
		}
		result = append(result, row)
	}
	slices.SortFunc(result, func(a, b domain.ProfitReportRow) int {
		if a.Profit == b.Profit {
			return cmpString(a.Barcode, b.Barcode)
		}
		if a.Profit > b.Profit {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidProduct
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidProduct
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidProduct
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// appendStockEntry records one ledger entry. Caller must hold s.mu and must
// have already applied the quantity change to the product.
func (s *Store) appendStockEntry(product domain.Product, txType string, change int, notes string, at time.Time) {
	s.nextEntryID++
	s.stockHistory = append(s.stockHistory, domain.StockEntry{
		ID:              s.nextEntryID,
		ProductID:       product.ID,
		Barcode:         product.Barcode,
		ProductName:     product.Name,
		TransactionType: txType,
		QuantityChange:  change,
		QuantityAfter:   product.Quantity,
		Notes:           notes,
		CreatedAt:       at,
	})
}

func billNote(saleID int64) string {
	return fmt.Sprintf("Sale #%d", saleID)
}

func inRange(t time.Time, from *time.Time, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	if src.ExpiryDate != nil {
		expiry := src.ExpiryDate.UTC()
		dup.ExpiryDate = &expiry
	}
	return dup
}
