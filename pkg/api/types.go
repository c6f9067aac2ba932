package api

import (
	"time"

	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

// PaginationResult contains pagination metadata.
type PaginationResult struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse reports how far reconciliation has progressed.
type StatusResponse struct {
	// Cursor is the next block the scanner will read
	Cursor uint64 `json:"cursor"`
	// Tip is the chain head, omitted when the node could not be reached
	Tip *uint64 `json:"tip,omitempty"`
	// Lag is the number of blocks between the cursor and the tip
	Lag *uint64 `json:"lag,omitempty"`
	// ChainError describes why the tip is missing
	ChainError string    `json:"chain_error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// UnmatchedResponse is a page of ledger entries.
type UnmatchedResponse struct {
	Payments   []*store.UnmatchedPayment `json:"payments"`
	Pagination PaginationResult          `json:"pagination"`
}
