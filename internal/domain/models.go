package domain

import "time"

// Product is a catalog entry keyed by its barcode. Quantity is the current
// on-hand stock and always equals the signed sum of the product's stock
// history entries.
type Product struct {
	ID           int64      `json:"id"`
	Barcode      string     `json:"barcode"`
	Name         string     `json:"product_name"`
	Category     string     `json:"category"`
	Quantity     int        `json:"quantity"`
	CostPrice    float64    `json:"cost_price"`
	SellingPrice float64    `json:"selling_price"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type ProductCreateRequest struct {
	Barcode      string  `json:"barcode"`
	Name         string  `json:"product_name"`
	Category     string  `json:"category"`
	Quantity     int     `json:"quantity"`
	CostPrice    float64 `json:"cost_price"`
	SellingPrice float64 `json:"selling_price"`
	ExpiryDate   string  `json:"expiry_date,omitempty"`
}

type ProductUpdateRequest struct {
	Name         string  `json:"product_name"`
	Category     string  `json:"category"`
	Quantity     int     `json:"quantity"`
	CostPrice    float64 `json:"cost_price"`
	SellingPrice float64 `json:"selling_price"`
	ExpiryDate   string  `json:"expiry_date,omitempty"`
}

// Stock history transaction types.
const (
	TxTypeReceive    = "RECEIVE"
	TxTypeAdjustment = "ADJUSTMENT"
	TxTypeSale       = "SALE"
)

// StockEntry is one append-only stock ledger record. Barcode and product name
// are denormalized snapshots taken at write time so the entry stays readable
// after the product is retired.
type StockEntry struct {
	ID              int64     `json:"id"`
	ProductID       int64     `json:"product_id"`
	Barcode         string    `json:"barcode"`
	ProductName     string    `json:"product_name"`
	TransactionType string    `json:"transaction_type"`
	QuantityChange  int       `json:"quantity_change"`
	QuantityAfter   int       `json:"quantity_after"`
	Notes           string    `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
}

// CartLine is a transient billing line. Unit price and cost are snapshots of
// the catalog taken at add time; MaxQuantity is the stock ceiling observed
// then.
type CartLine struct {
	ProductID   int64   `json:"product_id"`
	Barcode     string  `json:"barcode"`
	ProductName string  `json:"product_name"`
	UnitPrice   float64 `json:"price"`
	UnitCost    float64 `json:"cost_price"`
	Quantity    int     `json:"quantity"`
	LineTotal   float64 `json:"total"`
	MaxQuantity int     `json:"max_quantity"`
}

type CartSummary struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}

// Sale is a completed bill. ID is the customer-facing bill number, assigned
// by the store at commit time. Immutable once created.
type Sale struct {
	ID            int64     `json:"id"`
	Subtotal      float64   `json:"subtotal"`
	Tax           float64   `json:"tax"`
	Total         float64   `json:"total"`
	PaymentAmount float64   `json:"payment_amount"`
	ChangeAmount  float64   `json:"change_amount"`
	SaleDate      time.Time `json:"sale_date"`
}

// SaleLine is an immutable line of a sale. UnitCost is captured at sale time
// so later cost-price edits do not distort historical profit.
type SaleLine struct {
	ID          int64   `json:"id"`
	SaleID      int64   `json:"sale_id"`
	ProductID   int64   `json:"product_id"`
	Barcode     string  `json:"barcode"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"price"`
	LineTotal   float64 `json:"total"`
	UnitCost    float64 `json:"cost_price"`
}

// SaleCreateRequest is the checkout payload. Subtotal, tax, total and change
// are client echoes kept for wire compatibility; the coordinator recomputes
// every money amount fresh from the items. TaxRate is the store-level tax
// percentage supplied by the caller (nil means the configured default).
type SaleCreateRequest struct {
	Items         []CartLine `json:"items"`
	Subtotal      float64    `json:"subtotal"`
	Tax           float64    `json:"tax"`
	Total         float64    `json:"total"`
	PaymentAmount float64    `json:"payment_amount"`
	ChangeAmount  float64    `json:"change_amount"`
	TaxRate       *float64   `json:"tax_rate,omitempty"`
}

// Receipt bundles a sale with its lines for printing and reprinting.
type Receipt struct {
	Sale  Sale       `json:"sale"`
	Items []SaleLine `json:"items"`
}

type SalesReportRow struct {
	ID         int64     `json:"id"`
	SaleDate   time.Time `json:"sale_date"`
	Subtotal   float64   `json:"subtotal"`
	Tax        float64   `json:"tax"`
	Total      float64   `json:"total"`
	ItemsCount int       `json:"items_count"`
	TotalItems int       `json:"total_items"`
}

type SalesReportSummary struct {
	TotalSales         float64 `json:"total_sales"`
	TotalTransactions  int     `json:"total_transactions"`
	AverageTransaction float64 `json:"average_transaction"`
}

type SalesReport struct {
	Summary SalesReportSummary `json:"summary"`
	Data    []SalesReportRow   `json:"data"`
}

type InventoryReportRow struct {
	Barcode      string     `json:"barcode"`
	ProductName  string     `json:"product_name"`
	Category     string     `json:"category"`
	Quantity     int        `json:"quantity"`
	CostPrice    float64    `json:"cost_price"`
	SellingPrice float64    `json:"selling_price"`
	TotalCost    float64    `json:"total_cost"`
	TotalValue   float64    `json:"total_value"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
}

type InventoryReportSummary struct {
	TotalProducts   int     `json:"total_products"`
	TotalItems      int     `json:"total_items"`
	TotalCost       float64 `json:"total_cost"`
	TotalValue      float64 `json:"total_value"`
	PotentialProfit float64 `json:"potential_profit"`
}

type InventoryReport struct {
	Summary InventoryReportSummary `json:"summary"`
	Data    []InventoryReportRow   `json:"data"`
}

type LowStockReportRow struct {
	Barcode      string  `json:"barcode"`
	ProductName  string  `json:"product_name"`
	Category     string  `json:"category"`
	Quantity     int     `json:"quantity"`
	SellingPrice float64 `json:"selling_price"`
}

type LowStockReportSummary struct {
	LowStockItems int `json:"low_stock_items"`
	OutOfStock    int `json:"out_of_stock"`
}

type LowStockReport struct {
	Summary LowStockReportSummary `json:"summary"`
	Data    []LowStockReportRow   `json:"data"`
}

type ProfitReportRow struct {
	ProductName     string  `json:"product_name"`
	Barcode         string  `json:"barcode"`
	TotalSold       int     `json:"total_sold"`
	Revenue         float64 `json:"revenue"`
	Cost            float64 `json:"cost"`
	Profit          float64 `json:"profit"`
	AvgSellingPrice float64 `json:"avg_selling_price"`
}

type ProfitReportSummary struct {
	TotalRevenue float64 `json:"total_revenue"`
	TotalCost    float64 `json:"total_cost"`
	TotalProfit  float64 `json:"total_profit"`
	ProfitMargin float64 `json:"profit_margin"`
}

type ProfitReport struct {
	Summary ProfitReportSummary `json:"summary"`
	Data    []ProfitReportRow   `json:"data"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
