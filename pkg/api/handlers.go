package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/wjz5788/leverageguard-attestor-sub002/internal/decoder"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

// CursorReader reads the scan cursor.
type CursorReader interface {
	Get(ctx context.Context) (uint64, error)
}

// OrderReader loads orders by id.
type OrderReader interface {
	Get(ctx context.Context, id string) (*store.Order, error)
}

// LedgerReader pages through the unmatched payment ledger.
type LedgerReader interface {
	List(ctx context.Context, filter store.ListFilter) ([]*store.UnmatchedPayment, error)
}

// ChainHead reports the current block number.
type ChainHead interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Sources are the read models behind the API.
type Sources struct {
	Cursor CursorReader
	Orders OrderReader
	Ledger LedgerReader
	Chain  ChainHead
}

// Handler handles HTTP requests for the API.
type Handler struct {
	src Sources
	log *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(src Sources, log *logger.Logger) *Handler {
	return &Handler{
		src: src,
		log: log,
	}
}

// Health reports that the API is serving.
// @Summary Health check
// @Description Liveness check of the API
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "API is up"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Status returns the scan cursor, the chain tip and the lag between them.
// An unreachable node is reported in the body; only a cursor failure is an error.
// @Summary Reconciliation status
// @Description Scan cursor, chain tip and backfill lag
// @Tags Status
// @Produce json
// @Success 200 {object} StatusResponse "Current status"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	cursor, err := h.src.Cursor.Get(r.Context())
	if err != nil {
		h.log.Errorw("failed to read cursor", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read cursor")
		return
	}

	resp := StatusResponse{Cursor: cursor, Timestamp: time.Now()}

	tip, err := h.src.Chain.BlockNumber(r.Context())
	if err != nil {
		h.log.Warnw("failed to get chain tip", "error", err)
		resp.ChainError = err.Error()
	} else {
		lag := uint64(0)
		if tip >= cursor {
			lag = tip - cursor + 1
		}
		resp.Tip = &tip
		resp.Lag = &lag
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetOrder returns the payment state of one order.
// @Summary Get order payment state
// @Description Payment attribution and status of an order
// @Tags Orders
// @Produce json
// @Param id path string true "Order id"
// @Success 200 {object} store.Order "Order"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Order not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /orders/{id} [get]
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "order id is required")
		return
	}

	order, err := h.src.Orders.Get(r.Context(), decoder.CanonicalOrderID(id))
	if errors.Is(err, store.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("order '%s' not found", id))
		return
	}
	if err != nil {
		h.log.Errorw("failed to load order", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// ListUnmatched pages through the unmatched payment ledger.
// @Summary List ledger entries
// @Description Every observed payment event, including ones that matched no order
// @Tags Ledger
// @Produce json
// @Param order_id query string false "Only entries for this order id"
// @Param limit query int false "Maximum number of entries to return" default(100)
// @Param offset query int false "Number of entries to skip" default(0)
// @Success 200 {object} UnmatchedResponse "Ledger page"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /unmatched [get]
func (h *Handler) ListUnmatched(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid query parameters: %v", err))
		return
	}

	// one extra row tells whether another page exists
	lookahead := filter
	lookahead.Limit++

	payments, err := h.src.Ledger.List(r.Context(), lookahead)
	if err != nil {
		h.log.Errorw("failed to list ledger", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list payments")
		return
	}

	hasMore := len(payments) > filter.Limit
	if hasMore {
		payments = payments[:filter.Limit]
	}

	respondJSON(w, http.StatusOK, UnmatchedResponse{
		Payments: payments,
		Pagination: PaginationResult{
			Limit:   filter.Limit,
			Offset:  filter.Offset,
			HasMore: hasMore,
		},
	})
}

// parseListFilter parses HTTP query parameters into a ListFilter.
func parseListFilter(r *http.Request) (store.ListFilter, error) {
	filter := store.ListFilter{Limit: store.DefaultPageSize}
	q := r.URL.Query()

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit >= store.MaxPageSize {
			return filter, fmt.Errorf("invalid limit: must be between 1 and %d", store.MaxPageSize-1)
		}
		filter.Limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset: must be non-negative")
		}
		filter.Offset = offset
	}

	if orderID := q.Get("order_id"); orderID != "" {
		filter.OrderID = decoder.CanonicalOrderID(orderID)
	}

	return filter, nil
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// Encode JSON first to catch any errors before writing status
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)

	// Headers already sent, a failed write can only be dropped
	_, _ = w.Write(encoded)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	respondJSON(w, status, response)
}
