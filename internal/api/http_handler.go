package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"inventory-analytics-service/internal/analytics"
	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/export"
	"inventory-analytics-service/internal/logging"
	"inventory-analytics-service/internal/store"
)

// TableauFileName is the attachment name of the Tableau CSV feed.
const TableauFileName = "inventory_daily_facts.csv"

// HTTPHandler holds dependencies for HTTP handlers.
type HTTPHandler struct {
	svc *analytics.Service
}

// NewHTTPHandler creates a new HTTPHandler with dependencies.
func NewHTTPHandler(svc *analytics.Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// RegisterRoutes mounts the public endpoints on r.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/tableau/fact_daily.csv", h.TableauFeed)
	r.Route("/api", func(r chi.Router) {
		r.Get("/facts/daily", h.DailyFacts)
		r.Get("/products", h.ListProducts)
		r.Get("/categories", h.ListCategories)
		r.Get("/metrics/kpis", h.KPIs)
	})
}

// --- Helpers ---

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal"
)

// ErrorResponse defines the structure for JSON error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondWithError(w http.ResponseWriter, code int, errCode, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message, Code: errCode})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logging.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// respondWithServiceError maps service errors onto HTTP statuses.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		respondWithError(w, http.StatusBadRequest, CodeInvalidArgument, vErr.Error())
	case errors.Is(err, store.ErrUnavailable):
		logging.Ctx(r.Context()).Error().Err(err).Str("op", op).Msg("Store unavailable")
		respondWithError(w, http.StatusServiceUnavailable, CodeUnavailable, "Database unavailable")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("op", op).Msg("Request failed")
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "Failed to "+op)
	}
}

func rawFeedQuery(r *http.Request) analytics.RawFeedQuery {
	q := r.URL.Query()
	return analytics.RawFeedQuery{
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Category:  q.Get("category"),
		Limit:     q.Get("limit"),
		Format:    q.Get("format"),
	}
}

func decimalNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// --- Service Handlers ---

func (h *HTTPHandler) Root(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.svc.Info())
}

// healthResponse keeps the "mongodb" field older dashboards poll.
type healthResponse struct {
	domain.HealthReport
	MongoDB string `json:"mongodb"`
}

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.svc.Health(r.Context())
	code := http.StatusOK
	if !report.Healthy {
		logging.Ctx(r.Context()).Warn().Str("error", report.Error).Msg("Health check failed")
		code = http.StatusServiceUnavailable
	}
	respondWithJSON(w, code, healthResponse{HealthReport: report, MongoDB: report.Store})
}

// --- Feed Handlers ---

// TableauFeed always serves CSV, whatever format is requested.
func (h *HTTPHandler) TableauFeed(w http.ResponseWriter, r *http.Request) {
	raw := rawFeedQuery(r)
	raw.Format = string(export.FormatCSV)
	h.serveFeed(w, r, raw, TableauFileName)
}

func (h *HTTPHandler) DailyFacts(w http.ResponseWriter, r *http.Request) {
	h.serveFeed(w, r, rawFeedQuery(r), "")
}

// serveFeed streams the fact feed. Errors before the first byte reaches the
// client become JSON errors; later errors abort the connection so a client
// never mistakes a truncated document for a complete one.
func (h *HTTPHandler) serveFeed(w http.ResponseWriter, r *http.Request, raw analytics.RawFeedQuery, filename string) {
	ctx := r.Context()
	q, err := h.svc.ParseFeedQuery(raw)
	if err != nil {
		respondWithServiceError(w, r, "build daily facts", err)
		return
	}

	rows, err := h.svc.DailyFacts(ctx, q)
	if err != nil {
		respondWithServiceError(w, r, "build daily facts", err)
		return
	}
	// Cursors must close even when the client has gone away.
	defer rows.Close(context.WithoutCancel(ctx))

	if filename == "" && q.Format != export.FormatJSON {
		filename = "inventory_daily_facts." + string(q.Format)
	}

	tw := &trackingWriter{ResponseWriter: w}
	fw, err := export.NewWriter(q.Format, tw)
	if err != nil {
		respondWithServiceError(w, r, "build daily facts", err)
		return
	}

	w.Header().Set("Content-Type", q.Format.ContentType())
	if filename != "" {
		w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	}

	start := time.Now()
	n, err := export.Copy(ctx, fw, rows, q.Format)
	if err != nil {
		if !tw.wrote {
			w.Header().Del("Content-Disposition")
			respondWithServiceError(w, r, "build daily facts", err)
			return
		}
		logging.Ctx(ctx).Error().Err(err).Int64("rows", n).Msg("Feed aborted mid-stream")
		panic(http.ErrAbortHandler)
	}
	logging.Ctx(ctx).Info().
		Int64("rows", n).
		Str("format", string(q.Format)).
		Str("date_range", q.Range.String()).
		Dur("duration", time.Since(start)).
		Msg("Served daily facts")
}

// trackingWriter records whether any body bytes reached the client.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.wrote = true
	}
	return t.ResponseWriter.Write(p)
}

// --- Catalog Handlers ---

// ProductResponse is the JSON shape of a catalog product.
type ProductResponse struct {
	ProductID         string       `json:"product_id"`
	Category          string       `json:"category"`
	Price             json.Number  `json:"price"`
	UOM               string       `json:"uom"`
	LeadTimeDays      int          `json:"lead_time_days"`
	SafetyStock       int          `json:"safety_stock"`
	ReorderMultiplier *json.Number `json:"reorder_multiplier"`
}

func convertDomainProduct(p domain.Product) ProductResponse {
	out := ProductResponse{
		ProductID:    p.ID,
		Category:     p.Category,
		Price:        decimalNumber(p.Price),
		UOM:          p.UOM,
		LeadTimeDays: p.LeadTimeDays,
		SafetyStock:  p.SafetyStock,
	}
	if p.ReorderMultiplier.Valid {
		m := decimalNumber(p.ReorderMultiplier.Decimal)
		out.ReorderMultiplier = &m
	}
	return out
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	var filter *string
	if category != "" {
		filter = &category
	}

	products, err := h.svc.Products(r.Context(), filter)
	if err != nil {
		respondWithServiceError(w, r, "retrieve products", err)
		return
	}

	out := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		out = append(out, convertDomainProduct(p))
	}
	respondWithJSON(w, http.StatusOK, struct {
		Products []ProductResponse `json:"products"`
		Count    int               `json:"count"`
	}{Products: out, Count: len(out)})
}

func (h *HTTPHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.svc.Categories(r.Context())
	if err != nil {
		respondWithServiceError(w, r, "retrieve categories", err)
		return
	}
	respondWithJSON(w, http.StatusOK, struct {
		Categories []string `json:"categories"`
	}{Categories: categories})
}

// --- KPI Handlers ---

// KPIResponse is the JSON shape of a KPI summary.
type KPIResponse struct {
	TotalSKUs         int         `json:"total_skus"`
	InStockPercentage json.Number `json:"in_stock_percentage"`
	FillRate          json.Number `json:"fill_rate"`
	StockoutRate      json.Number `json:"stockout_rate"`
	StockoutDays      int64       `json:"stockout_days"`
	ReorderAlertDays  int64       `json:"reorder_alert_days"`
	RowCount          int64       `json:"row_count"`
	TotalDemand       int64       `json:"total_demand"`
	DateRange         string      `json:"date_range"`
}

func convertKPISummary(s *domain.KPISummary) KPIResponse {
	return KPIResponse{
		TotalSKUs:         s.TotalSKUs,
		InStockPercentage: decimalNumber(s.InStockPercentage),
		FillRate:          decimalNumber(s.FillRate),
		StockoutRate:      decimalNumber(s.StockoutRate),
		StockoutDays:      s.StockoutDays,
		ReorderAlertDays:  s.ReorderAlertDays,
		RowCount:          s.RowCount,
		TotalDemand:       s.TotalDemand,
		DateRange:         s.DateRange,
	}
}

func (h *HTTPHandler) KPIs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kq, err := h.svc.ParseKPIQuery(q.Get("start_date"), q.Get("end_date"), q.Get("category"))
	if err != nil {
		respondWithServiceError(w, r, "compute KPIs", err)
		return
	}
	summary, err := h.svc.KPIs(r.Context(), kq)
	if err != nil {
		respondWithServiceError(w, r, "compute KPIs", err)
		return
	}
	respondWithJSON(w, http.StatusOK, convertKPISummary(summary))
}
