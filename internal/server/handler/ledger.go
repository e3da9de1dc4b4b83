package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/service"
)

// Summarizer builds the account summary at a mark price.
type Summarizer interface {
	Summary(ctx context.Context, symbol string, mark float64) (service.AccountSummary, error)
}

// LedgerHandler serves the transaction ledger and account summary.
type LedgerHandler struct {
	ledger  domain.LedgerStore
	reports Summarizer
	status  func() domain.EngineStatus
	symbol  string
	logger  *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler. status supplies the mark price
// for the summary; symbol is the default filter.
func NewLedgerHandler(ledger domain.LedgerStore, reports Summarizer, status func() domain.EngineStatus, symbol string, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, reports: reports, status: status, symbol: symbol, logger: logger}
}

type listTransactionsResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

// ListTransactions pages ledger rows newest first.
// GET /api/transactions?symbol=&code=O|C&since=&until=&limit=&offset=
func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := parseTxFilter(r, h.symbol)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.ledger.Query(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: query ledger failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to query transactions")
		return
	}
	if rows == nil {
		rows = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{Transactions: rows, Limit: f.Limit, Offset: f.Offset})
}

// GetSummary returns the account summary valued at the engine's latest price.
// GET /api/summary
func (h *LedgerHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	var mark float64
	if h.status != nil {
		mark = h.status().Price
	}
	s, err := h.reports.Summary(r.Context(), h.symbol, mark)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: build summary failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}
	writeJSON(w, http.StatusOK, s)
}
