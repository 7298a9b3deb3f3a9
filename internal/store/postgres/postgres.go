package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"supermart/backend/internal/domain"
	"supermart/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, barcode, product_name, category, quantity, cost_price, selling_price, expiry_date, active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	var expiry sql.NullTime
	err := row.Scan(&p.ID, &p.Barcode, &p.Name, &p.Category, &p.Quantity, &p.CostPrice, &p.SellingPrice, &expiry, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		e := expiry.Time.UTC()
		p.ExpiryDate = &e
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY product_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE barcode = $1 AND active = true
	`, barcode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Barcode == "" || product.Name == "" {
		return nil, store.ErrInvalidProduct
	}
	if product.Quantity < 0 || product.CostPrice < 0 || product.SellingPrice < 0 {
		return nil, store.ErrInvalidProduct
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	created, err := scanProduct(tx.QueryRowContext(ctx, `
		INSERT INTO products (barcode, product_name, category, quantity, cost_price, selling_price, expiry_date, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,true,now(),now())
		RETURNING `+productColumns+`
	`, product.Barcode, product.Name, product.Category, product.Quantity, product.CostPrice, product.SellingPrice, nullDate(product.ExpiryDate)))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateBarcode
		}
		return nil, err
	}

	if created.Quantity > 0 {
		if err := insertStockEntry(ctx, tx, created, domain.TxTypeReceive, created.Quantity, "Initial stock"); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Quantity < 0 || product.CostPrice < 0 || product.SellingPrice < 0 {
		return nil, store.ErrInvalidProduct
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanProduct(tx.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE barcode = $1 AND active = true
		FOR UPDATE
	`, product.Barcode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	updated, err := scanProduct(tx.QueryRowContext(ctx, `
		UPDATE products
		SET product_name = $2, category = $3, quantity = $4, cost_price = $5, selling_price = $6, expiry_date = $7, updated_at = now()
		WHERE barcode = $1
		RETURNING `+productColumns+`
	`, product.Barcode, product.Name, product.Category, product.Quantity, product.CostPrice, product.SellingPrice, nullDate(product.ExpiryDate)))
	if err != nil {
		return nil, err
	}

	if delta := product.Quantity - current.Quantity; delta != 0 {
		if err := insertStockEntry(ctx, tx, updated, domain.TxTypeAdjustment, delta, "Stock adjusted"); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProduct retires the product so ledger entries and sale lines keep a
// valid product reference.
func (s *Store) DeleteProduct(ctx context.Context, barcode string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET active = false, updated_at = now()
		WHERE barcode = $1 AND active = true
	`, barcode)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListStockHistory(ctx context.Context, barcode string, limit int) ([]domain.StockEntry, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, barcode, product_name, transaction_type, quantity_change, quantity_after, notes, created_at
		FROM stock_history
		WHERE ($1 = '' OR barcode = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, barcode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.StockEntry, 0, limit)
	for rows.Next() {
		var e domain.StockEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Barcode, &e.ProductName, &e.TransactionType, &e.QuantityChange, &e.QuantityAfter, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// CreateSale commits the whole bill in one transaction: the bill counter
// bump, the sale row, every sale line, every stock decrement and every
// ledger entry. Product rows are locked in barcode order before any
// decrement, so concurrent sales against the same product serialize behind
// the row locks and the quantity check cannot be raced past; a loser that
// finds the stock short fails with ErrStockExceeded after it unblocks.
// Default isolation is deliberate: under SERIALIZABLE the shared
// bill_counter row would abort one of every two overlapping checkouts.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, lines []domain.SaleLine) (*domain.Sale, []domain.SaleLine, error) {
	if len(lines) == 0 {
		return nil, nil, store.ErrInvalidProduct
	}
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, nil, store.ErrInvalidProduct
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	barcodes := uniqueBarcodes(lines)

	productRows, err := tx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true AND barcode = ANY($1)
		ORDER BY barcode
		FOR UPDATE
	`, barcodes)
	if err != nil {
		return nil, nil, err
	}
	productMap := make(map[string]*domain.Product, len(barcodes))
	for productRows.Next() {
		p, err := scanProduct(productRows)
		if err != nil {
			_ = productRows.Close()
			return nil, nil, err
		}
		productMap[p.Barcode] = p
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, nil, err
	}
	_ = productRows.Close()

	need := make(map[string]int, len(barcodes))
	for _, line := range lines {
		need[line.Barcode] += line.Quantity
	}
	for _, barcode := range barcodes {
		product, exists := productMap[barcode]
		if !exists {
			return nil, nil, store.ErrNotFound
		}
		if product.Quantity < need[barcode] {
			return nil, nil, store.ErrStockExceeded
		}
	}

	var billNumber int64
	if err := tx.QueryRowContext(ctx, `
		UPDATE bill_counter SET last_bill = last_bill + 1 WHERE id = 1
		RETURNING last_bill
	`).Scan(&billNumber); err != nil {
		return nil, nil, err
	}

	var saleDate time.Time
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO sales (id, subtotal, tax, total, payment_amount, change_amount, sale_date)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		RETURNING sale_date
	`, billNumber, sale.Subtotal, sale.Tax, sale.Total, sale.PaymentAmount, sale.ChangeAmount).Scan(&saleDate); err != nil {
		return nil, nil, err
	}

	savedLines := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		product := productMap[line.Barcode]

		var quantityAfter int
		if err := tx.QueryRowContext(ctx, `
			UPDATE products
			SET quantity = quantity - $2, updated_at = now()
			WHERE id = $1
			RETURNING quantity
		`, product.ID, line.Quantity).Scan(&quantityAfter); err != nil {
			return nil, nil, err
		}
		product.Quantity = quantityAfter

		var lineID int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, barcode, product_name, quantity, price, total, cost_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id
		`, billNumber, product.ID, line.Barcode, product.Name, line.Quantity, line.UnitPrice, line.LineTotal, line.UnitCost).Scan(&lineID); err != nil {
			return nil, nil, err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_history (product_id, barcode, product_name, transaction_type, quantity_change, quantity_after, notes, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		`, product.ID, product.Barcode, product.Name, domain.TxTypeSale, -line.Quantity, quantityAfter, fmt.Sprintf("Sale #%d", billNumber)); err != nil {
			return nil, nil, err
		}

		line.ID = lineID
		line.SaleID = billNumber
		line.ProductID = product.ID
		line.ProductName = product.Name
		savedLines = append(savedLines, line)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	sale.ID = billNumber
	sale.SaleDate = saleDate
	return &sale, savedLines, nil
}

func (s *Store) ListSales(ctx context.Context, from *time.Time, to *time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subtotal, tax, total, payment_amount, change_amount, sale_date
		FROM sales
		WHERE ($1::timestamptz IS NULL OR sale_date >= $1)
		  AND ($2::timestamptz IS NULL OR sale_date <= $2)
		ORDER BY id DESC
	`, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.Subtotal, &sale.Tax, &sale.Total, &sale.PaymentAmount, &sale.ChangeAmount, &sale.SaleDate); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, subtotal, tax, total, payment_amount, change_amount, sale_date
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.Subtotal, &sale.Tax, &sale.Total, &sale.PaymentAmount, &sale.ChangeAmount, &sale.SaleDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleLine, error) {
	if _, err := s.GetSale(ctx, saleID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, barcode, product_name, quantity, price, total, cost_price
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleLine, 0, 16)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.Barcode, &line.ProductName, &line.Quantity, &line.UnitPrice, &line.LineTotal, &line.UnitCost); err != nil {
			return nil, err
		}
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SalesReportRows(ctx context.Context, from *time.Time, to *time.Time) ([]domain.SalesReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.sale_date, s.subtotal, s.tax, s.total,
		       COUNT(si.id) AS items_count,
		       COALESCE(SUM(si.quantity), 0) AS total_items
		FROM sales s
		LEFT JOIN sale_items si ON si.sale_id = s.id
		WHERE ($1::timestamptz IS NULL OR s.sale_date >= $1)
		  AND ($2::timestamptz IS NULL OR s.sale_date <= $2)
		GROUP BY s.id
		ORDER BY s.id DESC
	`, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.SalesReportRow, 0, 64)
	for rows.Next() {
		var row domain.SalesReportRow
		if err := rows.Scan(&row.ID, &row.SaleDate, &row.Subtotal, &row.Tax, &row.Total, &row.ItemsCount, &row.TotalItems); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) InventoryReportRows(ctx context.Context) ([]domain.InventoryReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT barcode, product_name, category, quantity, cost_price, selling_price,
		       quantity * cost_price AS total_cost,
		       quantity * selling_price AS total_value,
		       expiry_date
		FROM products
		WHERE active = true
		ORDER BY category, product_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.InventoryReportRow, 0, 128)
	for rows.Next() {
		var row domain.InventoryReportRow
		var expiry sql.NullTime
		if err := rows.Scan(&row.Barcode, &row.ProductName, &row.Category, &row.Quantity, &row.CostPrice, &row.SellingPrice, &row.TotalCost, &row.TotalValue, &expiry); err != nil {
			return nil, err
		}
		if expiry.Valid {
			e := expiry.Time.UTC()
			row.ExpiryDate = &e
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) LowStockReportRows(ctx context.Context, threshold int) ([]domain.LowStockReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT barcode, product_name, category, quantity, selling_price
		FROM products
		WHERE active = true AND quantity < $1
		ORDER BY quantity, product_name
	`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.LowStockReportRow, 0, 32)
	for rows.Next() {
		var row domain.LowStockReportRow
		if err := rows.Scan(&row.Barcode, &row.ProductName, &row.Category, &row.Quantity, &row.SellingPrice); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ProfitReportRows(ctx context.Context, from *time.Time, to *time.Time) ([]domain.ProfitReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT si.product_name, si.barcode,
		       COALESCE(SUM(si.quantity), 0) AS total_sold,
		       COALESCE(SUM(si.total), 0) AS revenue,
		       COALESCE(SUM(si.cost_price * si.quantity), 0) AS cost,
		       COALESCE(SUM(si.total), 0) - COALESCE(SUM(si.cost_price * si.quantity), 0) AS profit,
		       CASE WHEN SUM(si.quantity) > 0 THEN SUM(si.total) / SUM(si.quantity) ELSE 0 END AS avg_selling_price
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		WHERE ($1::timestamptz IS NULL OR s.sale_date >= $1)
		  AND ($2::timestamptz IS NULL OR s.sale_date <= $2)
		GROUP BY si.barcode, si.product_name
		ORDER BY profit DESC
	`, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ProfitReportRow, 0, 64)
	for rows.Next() {
		var row domain.ProfitReportRow
		if err := rows.Scan(&row.ProductName, &row.Barcode, &row.TotalSold, &row.Revenue, &row.Cost, &row.Profit, &row.AvgSellingPrice); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidProduct
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,true,now())
	`, user.Username, user.Password, user.Role)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidProduct
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM app_users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidProduct
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password_hash = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func insertStockEntry(ctx context.Context, tx *sql.Tx, product *domain.Product, txType string, change int, notes string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_history (product_id, barcode, product_name, transaction_type, quantity_change, quantity_after, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, product.ID, product.Barcode, product.Name, txType, change, product.Quantity, notes)
	return err
}

func uniqueBarcodes(lines []domain.SaleLine) []string {
	seen := make(map[string]struct{}, len(lines))
	barcodes := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.Barcode]; ok {
			continue
		}
		seen[line.Barcode] = struct{}{}
		barcodes = append(barcodes, line.Barcode)
	}
	sort.Strings(barcodes)
	return barcodes
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return nowDateUTC(*val)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
