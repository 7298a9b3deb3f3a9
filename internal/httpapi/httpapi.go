// Package httpapi exposes the REST surface of the POS backend and owns the
// per-till cart sessions.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"supermart/backend/internal/cart"
	"supermart/backend/internal/domain"
	"supermart/backend/internal/excel"
	"supermart/backend/internal/lookup"
	"supermart/backend/internal/obs"
	"supermart/backend/internal/service"
	"supermart/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	tills         *tillRegistry
	log           zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log zerolog.Logger) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		tills:         newTillRegistry(svc),
		log:           log,
	}
}

// tillSession is the mutable state of one register: its open cart, its
// debounced manual-entry lookup and the last completed receipt. Cart and
// receipt access goes through the session mutex; lookups synchronizes
// itself.
type tillSession struct {
	mu       sync.Mutex
	cart     *cart.Cart
	lookups  *lookup.Debouncer
	lastSale *domain.Receipt
}

type tillRegistry struct {
	mu       sync.Mutex
	finder   cart.ProductFinder
	sessions map[string]*tillSession
}

func newTillRegistry(finder cart.ProductFinder) *tillRegistry {
	return &tillRegistry{finder: finder, sessions: make(map[string]*tillSession)}
}

func (r *tillRegistry) session(till string) *tillSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[till]
	if !ok {
		s = &tillSession{
			cart:    cart.New(),
			lookups: lookup.NewDebouncer(r.finder, 0),
		}
		r.sessions[till] = s
	}
	return s
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{a.allowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(obs.RequestLogger{Logger: a.log}.Middleware)
	r.Use(securityHeaders)
	r.Use(limitBody)

	r.Get("/healthz", a.handleHealth)
	r.Post("/api/auth/login", a.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth("cashier", "admin"))

		r.Get("/api/products", a.handleListProducts)
		r.Get("/api/products/barcode/{barcode}", a.handleGetProduct)

		r.Post("/api/sales", a.handleCreateSale)
		r.Get("/api/sales/{id}/items", a.handleSaleItems)
		r.Get("/api/sales/{id}/receipt", a.handleReceipt)

		r.Route("/api/till/{till}", func(r chi.Router) {
			r.Get("/cart", a.handleCartView)
			r.Delete("/cart", a.handleCartClear)
			r.Post("/cart/items", a.handleCartScan)
			r.Patch("/cart/items/{barcode}", a.handleCartChangeQuantity)
			r.Delete("/cart/items/{barcode}", a.handleCartRemoveLine)
			r.Get("/lookup", a.handleBarcodeLookup)
			r.Post("/checkout", a.handleCheckout)
			r.Get("/last-receipt", a.handleLastReceipt)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth("admin"))

		r.Post("/api/products", a.handleCreateProduct)
		r.Put("/api/products/{barcode}", a.handleUpdateProduct)
		r.Delete("/api/products/{barcode}", a.handleDeleteProduct)
		r.Get("/api/stock-history", a.handleStockHistory)

		r.Get("/api/sales", a.handleListSales)

		r.Get("/api/reports/{kind}", a.handleReport)
		r.Get("/api/reports/{kind}/export", a.handleReportExport)
	})

	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProductByBarcode(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.ReceiveProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "barcode"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), chi.URLParam(r, "barcode")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleStockHistory(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	entries, err := a.service.StockHistory(r.Context(), r.URL.Query().Get("barcode"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := a.service.CompleteSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.ListSales(r.Context(), r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleSaleItems(w http.ResponseWriter, r *http.Request) {
	saleID, err := parseSaleID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items, err := a.service.SaleItems(r.Context(), saleID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	saleID, err := parseSaleID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := a.service.Receipt(r.Context(), saleID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type cartScanRequest struct {
	Barcode string `json:"barcode"`
}

type cartQuantityRequest struct {
	Delta int `json:"delta"`
}

type cartView struct {
	Items   []domain.CartLine  `json:"items"`
	Summary domain.CartSummary `json:"summary"`
}

type checkoutRequest struct {
	PaymentAmount float64  `json:"payment_amount"`
	TaxRate       *float64 `json:"tax_rate,omitempty"`
}

func (a *API) handleCartView(w http.ResponseWriter, r *http.Request) {
	taxRate := a.service.DefaultTaxRate()
	if raw := strings.TrimSpace(r.URL.Query().Get("tax_rate")); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 100 {
			writeError(w, http.StatusBadRequest, errors.New("invalid tax_rate"))
			return
		}
		taxRate = parsed
	}

	session := a.tills.session(chi.URLParam(r, "till"))
	session.mu.Lock()
	view := cartView{Items: session.cart.Lines(), Summary: session.cart.Summary(taxRate)}
	session.mu.Unlock()
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCartScan(w http.ResponseWriter, r *http.Request) {
	var req cartScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session := a.tills.session(chi.URLParam(r, "till"))
	session.mu.Lock()
	line, err := session.cart.AddByBarcode(r.Context(), a.service, req.Barcode)
	view := cartView{Items: session.cart.Lines(), Summary: session.cart.Summary(a.service.DefaultTaxRate())}
	session.mu.Unlock()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"line": line, "cart": view})
}

func (a *API) handleCartChangeQuantity(w http.ResponseWriter, r *http.Request) {
	var req cartQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Delta == 0 {
		writeError(w, http.StatusBadRequest, errors.New("delta must be non-zero"))
		return
	}

	session := a.tills.session(chi.URLParam(r, "till"))
	session.mu.Lock()
	err := session.cart.ChangeQuantity(chi.URLParam(r, "barcode"), req.Delta)
	view := cartView{Items: session.cart.Lines(), Summary: session.cart.Summary(a.service.DefaultTaxRate())}
	session.mu.Unlock()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCartRemoveLine(w http.ResponseWriter, r *http.Request) {
	session := a.tills.session(chi.URLParam(r, "till"))
	session.mu.Lock()
	err := session.cart.RemoveLine(chi.URLParam(r, "barcode"))
	view := cartView{Items: session.cart.Lines(), Summary: session.cart.Summary(a.service.DefaultTaxRate())}
	session.mu.Unlock()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCartClear(w http.ResponseWriter, r *http.Request) {
	session := a.tills.session(chi.URLParam(r, "till"))
	session.mu.Lock()
	session.cart.Clear()
	session.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// handleCheckout completes the till's open cart as a sale. The cart is only
// cleared after the sale committed; any failure leaves it intact so the
// cashier can retry or amend.
func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session := a.tills.session(chi.URLParam(r, "till"))
	session.mu.Lock()
	defer session.mu.Unlock()

	receipt, err := a.service.CompleteSale(r.Context(), domain.SaleCreateRequest{
		Items:         session.cart.Lines(),
		PaymentAmount: req.PaymentAmount,
		TaxRate:       req.TaxRate,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	session.cart.Clear()
	session.lastSale = receipt
	writeJSON(w, http.StatusCreated, receipt)
}

// handleBarcodeLookup resolves a manually typed barcode after the debounce
// delay. A newer lookup on the same till supersedes the pending one.
func (a *API) handleBarcodeLookup(w http.ResponseWriter, r *http.Request) {
	barcode := strings.TrimSpace(r.URL.Query().Get("barcode"))
	if barcode == "" {
		writeError(w, http.StatusBadRequest, errors.New("barcode is required"))
		return
	}

	session := a.tills.session(chi.URLParam(r, "till"))
	product, err := session.lookups.Lookup(r.Context(), barcode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleLastReceipt(w http.ResponseWriter, r *http.Request) {
	session := a.tills.session(chi.URLParam(r, "till"))
	session.mu.Lock()
	receipt := session.lastSale
	session.mu.Unlock()
	if receipt == nil {
		writeError(w, http.StatusNotFound, errors.New("no completed sale on this till"))
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	var (
		payload any
		err     error
	)
	switch chi.URLParam(r, "kind") {
	case "sales":
		payload, err = a.service.SalesReport(r.Context(), from, to)
	case "inventory":
		payload, err = a.service.InventoryReport(r.Context())
	case "low-stock":
		payload, err = a.service.LowStockReport(r.Context())
	case "profit":
		payload, err = a.service.ProfitReport(r.Context(), from, to)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown report"))
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) handleReportExport(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	kind := chi.URLParam(r, "kind")

	var (
		workbook *excel.Workbook
		err      error
	)
	switch kind {
	case "sales":
		var report *domain.SalesReport
		if report, err = a.service.SalesReport(r.Context(), from, to); err == nil {
			workbook, err = excel.SalesReport(report)
		}
	case "inventory":
		var report *domain.InventoryReport
		if report, err = a.service.InventoryReport(r.Context()); err == nil {
			workbook, err = excel.InventoryReport(report)
		}
	case "low-stock":
		var report *domain.LowStockReport
		if report, err = a.service.LowStockReport(r.Context()); err == nil {
			workbook, err = excel.LowStockReport(report)
		}
	case "profit":
		var report *domain.ProfitReport
		if report, err = a.service.ProfitReport(r.Context(), from, to); err == nil {
			workbook, err = excel.ProfitReport(report)
		}
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown report"))
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	filename := fmt.Sprintf("%s-report-%s.xlsx", kind, time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := workbook.Write(w); err != nil {
		a.log.Error().Err(err).Str("kind", kind).Msg("report export write failed")
	}
}

func parseSaleID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid sale id")
	}
	return id, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// writeServiceError maps domain errors onto HTTP statuses. Unknown errors
// come back as a generic 500; the cause is logged by the service layer.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrDuplicateBarcode),
		errors.Is(err, store.ErrInvalidProduct),
		errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrInsufficientPayment),
		errors.Is(err, service.ErrInvalidDateRange):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrStockExceeded),
		errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, lookup.ErrSuperseded):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 4xx messages are user-facing; 5xx responses stay generic so internal
	// details never leak to clients.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
