package store

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus is the payment status of an order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusPaidUnconfirmed OrderStatus = "paid_unconfirmed"
	StatusPaid            OrderStatus = "paid"
	StatusQuarantined     OrderStatus = "payment_quarantined"
)

// EngineOwnedStatuses lists the statuses the reconciler is allowed to move an order between.
var EngineOwnedStatuses = []OrderStatus{
	StatusPending,
	StatusPaidUnconfirmed,
	StatusPaid,
	StatusQuarantined,
}

// EngineOwned reports whether the reconciler may change an order out of this status.
// Every other status belongs to flows outside the reconciler.
func (s OrderStatus) EngineOwned() bool {
	for _, owned := range EngineOwnedStatuses {
		if s == owned {
			return true
		}
	}
	return false
}

// ChainCursor is the singleton row holding the next block to scan.
type ChainCursor struct {
	ID        int    `meddler:"id,pk"`
	LastBlock uint64 `meddler:"last_block"`
	UpdatedAt int64  `meddler:"updated_at"`
}

// Order is an order row as far as payment reconciliation is concerned.
type Order struct {
	ID          string          `meddler:"id" json:"id"`
	Status      OrderStatus     `meddler:"status" json:"status"`
	Payer       *common.Address `meddler:"payer,address" json:"payer,omitempty"`
	TxHash      *common.Hash    `meddler:"tx_hash,hash" json:"tx_hash,omitempty"`
	LogIndex    *uint           `meddler:"log_index" json:"log_index,omitempty"`
	BlockNumber *uint64         `meddler:"block_number" json:"block_number,omitempty"`
	PaidAmount  *string         `meddler:"paid_amount" json:"paid_amount,omitempty"`
	PaidToken   *common.Address `meddler:"paid_token,address" json:"paid_token,omitempty"`
	Treasury    *common.Address `meddler:"treasury,address" json:"treasury,omitempty"`
	PaidAt      *int64          `meddler:"paid_at" json:"paid_at,omitempty"`
	CreatedAt   int64           `meddler:"created_at" json:"created_at"`
	UpdatedAt   int64           `meddler:"updated_at" json:"updated_at"`
}

// OrderPosition is a keyset position in a status listing.
type OrderPosition struct {
	BlockNumber uint64
	ID          string
}

// Position returns the listing position of the order.
func (o *Order) Position() *OrderPosition {
	pos := &OrderPosition{ID: o.ID}
	if o.BlockNumber != nil {
		pos.BlockNumber = *o.BlockNumber
	}
	return pos
}

// Payment is the attribution tuple written to an order by a single payment event.
type Payment struct {
	Status      OrderStatus
	Payer       *common.Address
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Amount      *string
	Token       *common.Address
	Treasury    *common.Address
}

// UnmatchedPayment is a ledger row. Domain fields are nil when the event could not be decoded.
type UnmatchedPayment struct {
	ID          string          `meddler:"id" json:"id"`
	TxHash      common.Hash     `meddler:"tx_hash,hash" json:"tx_hash"`
	LogIndex    uint            `meddler:"log_index" json:"log_index"`
	BlockNumber uint64          `meddler:"block_number" json:"block_number"`
	OrderID     *string         `meddler:"order_id" json:"order_id,omitempty"`
	Payer       *common.Address `meddler:"payer,address" json:"payer,omitempty"`
	Token       *common.Address `meddler:"token,address" json:"token,omitempty"`
	Treasury    *common.Address `meddler:"treasury,address" json:"treasury,omitempty"`
	Amount      *string         `meddler:"amount" json:"amount,omitempty"`
	Decoded     bool            `meddler:"decoded" json:"decoded"`
	RawTopics   []common.Hash   `meddler:"raw_topics,json" json:"raw_topics"`
	RawData     string          `meddler:"raw_data" json:"raw_data"`
	CreatedAt   int64           `meddler:"created_at" json:"created_at"`
}

// PaymentID builds the ledger identity of a log.
func PaymentID(txHash common.Hash, logIndex uint) string {
	return fmt.Sprintf("%s:%d", txHash.Hex(), logIndex)
}

// ListFilter selects ledger entries. A zero Limit means the default page size.
type ListFilter struct {
	OrderID string
	Limit   int
	Offset  int
}

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Normalize clamps the paging parameters into their valid range.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
