package store

import (
	"context"
	"errors"
)

var (
	// ErrCursorRewind is returned when a cursor write would move the cursor backwards.
	ErrCursorRewind = errors.New("cursor cannot move backwards")

	// ErrOrderNotFound is returned when no order exists for the given id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrPaymentNotFound is returned when no ledger entry exists for the given id.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrFinalityRegression is returned when a final payment would be downgraded to provisional.
	ErrFinalityRegression = errors.New("finality regression: paid order cannot return to paid_unconfirmed")

	// ErrAlreadySettled is returned when an order is already paid by a different event.
	ErrAlreadySettled = errors.New("order already settled by another payment")
)

// CursorStore persists the next block the scanner has to process.
type CursorStore interface {
	// Get returns the stored cursor, or 0 if none was ever written.
	Get(ctx context.Context) (uint64, error)

	// Set stores a new cursor. Values lower than the stored one are rejected with ErrCursorRewind.
	Set(ctx context.Context, block uint64) error

	// Reset overwrites the cursor unconditionally. Operator use only.
	Reset(ctx context.Context, block uint64) error
}

// OrderStore reads and writes the payment state of orders.
type OrderStore interface {
	// Materialize creates a pending order if none exists. It reports whether a row was created.
	Materialize(ctx context.Context, id string) (bool, error)

	// ApplyPayment writes the attribution tuple and returns the status the order ends up in.
	ApplyPayment(ctx context.Context, id string, payment Payment) (OrderStatus, error)

	// Get returns the order with the given id or ErrOrderNotFound.
	Get(ctx context.Context, id string) (*Order, error)

	// ListByStatus returns up to limit orders in the given status ordered by (block, id),
	// starting strictly after the given position. A nil position starts from the beginning.
	ListByStatus(ctx context.Context, status OrderStatus, after *OrderPosition, limit int) ([]*Order, error)
}

// Ledger is the append-only record of every observed payment event.
type Ledger interface {
	// Record inserts the payment unless its id already exists. It reports whether a row was inserted.
	Record(ctx context.Context, payment *UnmatchedPayment) (bool, error)

	// Get returns the ledger entry with the given id or ErrPaymentNotFound.
	Get(ctx context.Context, id string) (*UnmatchedPayment, error)

	// List returns ledger entries matching the filter, ordered by block and log index.
	List(ctx context.Context, filter ListFilter) ([]*UnmatchedPayment, error)
}
