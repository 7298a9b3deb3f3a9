package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"supermart/backend/internal/domain"
	"supermart/backend/internal/service"
	"supermart/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, zerolog.Nop(), 5, 10)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", zerolog.Nop())
}

func loginAs(t *testing.T, api *API, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d (body: %s)", username, res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

func doJSON(t *testing.T, api *API, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestProductsRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCashierCannotMutateCatalog(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/products", token, domain.ProductCreateRequest{
		Barcode:      "7770000000001",
		Name:         "Forbidden Item",
		Category:     "misc",
		Quantity:     1,
		CostPrice:    1,
		SellingPrice: 2,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier on admin route, got %d", rec.Code)
	}
}

func TestProductLifecycle(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")

	create := domain.ProductCreateRequest{
		Barcode:      "7770000000010",
		Name:         "Olive Oil 500ml",
		Category:     "grocery",
		Quantity:     12,
		CostPrice:    3.40,
		SellingPrice: 5.90,
	}

	rec := doJSON(t, api, http.MethodPost, "/api/products", token, create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/products", token, create)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate barcode: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/products/barcode/7770000000010", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	var fetched domain.Product
	if err := json.NewDecoder(rec.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if fetched.Name != "Olive Oil 500ml" || fetched.Quantity != 12 {
		t.Fatalf("unexpected product %+v", fetched)
	}

	rec = doJSON(t, api, http.MethodPut, "/api/products/7770000000010", token, domain.ProductUpdateRequest{
		Name:         "Olive Oil 500ml",
		Category:     "grocery",
		Quantity:     9,
		CostPrice:    3.40,
		SellingPrice: 6.20,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/products/7770000000010", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/products/barcode/7770000000010", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rec.Code)
	}

	// The ledger survives the soft delete: initial receive plus adjustment.
	rec = doJSON(t, api, http.MethodGet, "/api/stock-history?barcode=7770000000010", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stock history: expected 200, got %d", rec.Code)
	}
	var entries []domain.StockEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode stock history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
}

func TestTillScanCheckoutFlow(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")
	cashier := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/products", admin, domain.ProductCreateRequest{
		Barcode:      "7770000000021",
		Name:         "Orange Juice 1L",
		Category:     "beverage",
		Quantity:     3,
		CostPrice:    4.00,
		SellingPrice: 7.00,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed product: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	scan := cartScanRequest{Barcode: "7770000000021"}
	for i := 0; i < 3; i++ {
		rec = doJSON(t, api, http.MethodPost, "/api/till/till-1/cart/items", cashier, scan)
		if rec.Code != http.StatusOK {
			t.Fatalf("scan %d: expected 200, got %d (body: %s)", i+1, rec.Code, rec.Body.String())
		}
	}

	// Fourth scan exceeds on-hand stock.
	rec = doJSON(t, api, http.MethodPost, "/api/till/till-1/cart/items", cashier, scan)
	if rec.Code != http.StatusConflict {
		t.Fatalf("scan past stock: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/till/till-1/cart", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cart view: expected 200, got %d", rec.Code)
	}
	var view cartView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if len(view.Items) != 1 || view.Items[0].Quantity != 3 {
		t.Fatalf("expected one line of quantity 3, got %+v", view.Items)
	}
	if view.Summary.Subtotal != 21.00 || view.Summary.Tax != 1.05 || view.Summary.Total != 22.05 {
		t.Fatalf("unexpected cart summary %+v", view.Summary)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/till/till-1/checkout", cashier, checkoutRequest{PaymentAmount: 25.00})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var receipt domain.Receipt
	if err := json.NewDecoder(rec.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Sale.Total != 22.05 || receipt.Sale.ChangeAmount != 2.95 {
		t.Fatalf("unexpected receipt sale %+v", receipt.Sale)
	}
	if len(receipt.Items) != 1 || receipt.Items[0].Quantity != 3 {
		t.Fatalf("unexpected receipt items %+v", receipt.Items)
	}

	// Checkout drains the cart and records the receipt on the till.
	rec = doJSON(t, api, http.MethodGet, "/api/till/till-1/cart", cashier, nil)
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if len(view.Items) != 0 {
		t.Fatalf("expected empty cart after checkout, got %+v", view.Items)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/till/till-1/last-receipt", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("last receipt: expected 200, got %d", rec.Code)
	}
}

func TestBarcodeLookupEndpoint(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodGet, "/api/till/till-8/lookup?barcode=8990011000011", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var product domain.Product
	if err := json.NewDecoder(rec.Body).Decode(&product); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if product.Name != "Milk 1L" {
		t.Fatalf("unexpected product %+v", product)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/till/till-8/lookup?barcode=0000000000000", cashier, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown barcode: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/till/till-8/lookup", cashier, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing barcode: expected 400, got %d", rec.Code)
	}
}

func TestCartViewTaxRateOverride(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/till/till-9/cart/items", cashier, cartScanRequest{Barcode: "8990011000059"})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/till/till-9/cart?tax_rate=0", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cart view: expected 200, got %d", rec.Code)
	}
	var view cartView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if view.Summary.Tax != 0 || view.Summary.Total != view.Summary.Subtotal {
		t.Fatalf("expected zero tax with override, got %+v", view.Summary)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/till/till-9/cart?tax_rate=500", cashier, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range tax rate, got %d", rec.Code)
	}
}

func TestCheckoutInsufficientPaymentKeepsCart(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/till/till-2/cart/items", cashier, cartScanRequest{Barcode: "8990011000035"})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/till/till-2/checkout", cashier, checkoutRequest{PaymentAmount: 0.01})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("underpaid checkout: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/till/till-2/cart", cashier, nil)
	var view cartView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if len(view.Items) != 1 {
		t.Fatalf("expected cart to survive a failed checkout, got %+v", view.Items)
	}
}

func TestSalesReportAfterCheckout(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")
	cashier := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api, http.MethodPost, "/api/till/till-3/cart/items", cashier, cartScanRequest{Barcode: "8990011000066"})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodPost, "/api/till/till-3/checkout", cashier, checkoutRequest{PaymentAmount: 10.00})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/reports/sales", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sales report: expected 200, got %d", rec.Code)
	}
	var report domain.SalesReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Summary.TotalTransactions != 1 || len(report.Data) != 1 {
		t.Fatalf("expected one transaction in report, got %+v", report.Summary)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/reports/sales?from=2030-01-02&to=2030-01-01", admin, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted range: expected 400, got %d", rec.Code)
	}
}

func TestReportExportReturnsWorkbook(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")

	rec := doJSON(t, api, http.MethodGet, "/api/reports/inventory/export", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "inventory-report-") {
		t.Fatalf("unexpected content disposition %q", got)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected workbook bytes in response")
	}
}

func TestUnknownReportKind(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")

	rec := doJSON(t, api, http.MethodGet, "/api/reports/bogus", admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown report, got %d", rec.Code)
	}
}
