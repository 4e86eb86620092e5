// Package server exposes the expense form webhook and the property estimate
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	"github.com/rentbooks/rentbooks/pkg/books"
	"github.com/rentbooks/rentbooks/pkg/estimate"
	"github.com/rentbooks/rentbooks/pkg/ledger"
)

// Expenses posts submitted expenses.
type Expenses interface {
	PostExpense(ctx context.Context, exp books.Expense) (ledger.Result, error)
}

// Estimates returns the property estimate, cached or freshly scraped.
type Estimates interface {
	Estimate(ctx context.Context, addr estimate.Address) (estimate.Estimate, error)
}

// Config holds the collaborators of the HTTP API.
type Config struct {
	// NewRun returns a fresh run per request.
	NewRun    func() Expenses
	Estimates Estimates
	Address   estimate.Address
	// Token, when set, is required as a bearer token on /api routes.
	Token string
	// AllowedOrigins enables CORS for browser form submissions.
	AllowedOrigins []string
	Location       *time.Location
	Logger         *slog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config) http.Handler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &handler{cfg: cfg, logger: cfg.Logger.With("component", "server")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		}))
	}

	r.Get("/healthz", h.health)

	r.Route("/api", func(r chi.Router) {
		if cfg.Token != "" {
			r.Use(BearerAuth(cfg.Token))
		}
		r.Post("/expenses", h.createExpense)
		r.Get("/estimate", h.getEstimate)
	})
	return r
}

type handler struct {
	cfg    Config
	logger *slog.Logger
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ExpenseRequest is the expense form submission.
type ExpenseRequest struct {
	Date        string          `json:"date"` // YYYY-MM-DD or MM/DD/YYYY
	AccountName string          `json:"account_name"`
	Vendor      string          `json:"vendor"`
	Amount      decimal.Decimal `json:"amount"`
	Party       string          `json:"party"`
	Memo        string          `json:"memo"`
}

// ExpenseResponse reports what happened to a submission.
type ExpenseResponse struct {
	Result string `json:"result"`
}

var expenseDateFormats = []string{time.DateOnly, ledger.DateFormat, "1/2/2006"}

func (h *handler) parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, format := range expenseDateFormats {
		if t, err := time.ParseInLocation(format, s, h.cfg.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// createExpense handles POST /api/expenses.
func (h *handler) createExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to parse request body")
		return
	}

	if req.AccountName == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Missing account_name")
		return
	}
	if req.Amount.IsZero() {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Missing amount")
		return
	}
	date, err := h.parseDate(req.Date)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid date")
		return
	}

	res, err := h.cfg.NewRun().PostExpense(r.Context(), books.Expense{
		Date:        date,
		AccountName: req.AccountName,
		Vendor:      req.Vendor,
		Amount:      req.Amount,
		Party:       req.Party,
		Memo:        req.Memo,
	})
	switch {
	case errors.Is(err, books.ErrUnknownAccount):
		writeJSONError(w, http.StatusUnprocessableEntity, "unknown_account", err.Error())
		return
	case errors.Is(err, books.ErrUnauthorized):
		writeJSONError(w, http.StatusForbidden, "forbidden", "Operator check failed")
		return
	case err != nil:
		h.logger.Error("Failed to post expense", "account", req.AccountName, "vendor", req.Vendor, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to post expense")
		return
	}

	status := http.StatusCreated
	if res == ledger.AlreadyPosted {
		status = http.StatusOK
	}
	writeJSON(w, status, ExpenseResponse{Result: res.String()})
}

// getEstimate handles GET /api/estimate.
func (h *handler) getEstimate(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Estimates == nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "No property configured")
		return
	}

	est, err := h.cfg.Estimates.Estimate(r.Context(), h.cfg.Address)
	if errors.Is(err, estimate.ErrScrape) {
		writeJSONError(w, http.StatusBadGateway, "scrape_failed", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Failed to get estimate", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to get estimate")
		return
	}
	writeJSON(w, http.StatusOK, est)
}
