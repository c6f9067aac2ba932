package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/db"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	pkgstore "github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

// Compile-time check to ensure Ledger implements pkgstore.Ledger interface.
var _ pkgstore.Ledger = (*Ledger)(nil)

const ledgerTable = "unmatched_payments"

// Ledger is the SQLite-backed unmatched payment ledger.
type Ledger struct {
	db          *sql.DB
	log         *logger.Logger
	maintenance db.Maintenance
}

// NewLedger creates a new Ledger.
func NewLedger(sqlDB *sql.DB, log *logger.Logger, maintenance db.Maintenance) *Ledger {
	if maintenance == nil {
		maintenance = &db.NoOpMaintenance{}
	}

	return &Ledger{
		db:          sqlDB,
		log:         log.WithComponent(common.ComponentLedger),
		maintenance: maintenance,
	}
}

// Record inserts the payment; an existing row with the same id is left untouched.
func (l *Ledger) Record(ctx context.Context, payment *pkgstore.UnmatchedPayment) (bool, error) {
	if payment.ID == "" {
		payment.ID = pkgstore.PaymentID(payment.TxHash, payment.LogIndex)
	}
	if payment.CreatedAt == 0 {
		payment.CreatedAt = time.Now().Unix()
	}
	if payment.RawTopics == nil {
		payment.RawTopics = []ethcommon.Hash{}
	}

	columns, err := meddler.ColumnsQuoted(payment, true)
	if err != nil {
		return false, fmt.Errorf("failed to map ledger columns: %w", err)
	}
	placeholders, err := meddler.PlaceholdersString(payment, true)
	if err != nil {
		return false, fmt.Errorf("failed to map ledger placeholders: %w", err)
	}
	values, err := meddler.Values(payment, true)
	if err != nil {
		return false, fmt.Errorf("failed to map ledger values: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO NOTHING",
		ledgerTable, columns, placeholders)

	unlock := l.maintenance.AcquireOperationLock()
	defer unlock()

	res, err := l.db.ExecContext(ctx, query, values...)
	if err != nil {
		return false, fmt.Errorf("failed to record payment %s: %w", payment.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	inserted := affected == 1
	LedgerInsertInc(inserted)

	if inserted {
		l.log.Debugw("payment recorded", "id", payment.ID, "block", payment.BlockNumber, "decoded", payment.Decoded)
	}

	return inserted, nil
}

// Get returns the ledger entry with the given id.
func (l *Ledger) Get(ctx context.Context, id string) (*pkgstore.UnmatchedPayment, error) {
	unlock := l.maintenance.AcquireOperationLock()
	defer unlock()

	var payment pkgstore.UnmatchedPayment
	err := meddler.QueryRow(l.db, &payment, `SELECT * FROM unmatched_payments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", pkgstore.ErrPaymentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment %s: %w", id, err)
	}

	return &payment, nil
}

// List returns a page of ledger entries, optionally restricted to one order id.
func (l *Ledger) List(ctx context.Context, filter pkgstore.ListFilter) ([]*pkgstore.UnmatchedPayment, error) {
	filter = filter.Normalize()

	unlock := l.maintenance.AcquireOperationLock()
	defer unlock()

	query := `SELECT * FROM unmatched_payments`
	args := make([]any, 0, 3) //nolint:mnd
	if filter.OrderID != "" {
		query += ` WHERE order_id = ?`
		args = append(args, filter.OrderID)
	}
	query += ` ORDER BY block_number ASC, log_index ASC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	payments := make([]*pkgstore.UnmatchedPayment, 0)
	if err := meddler.QueryAll(l.db, &payments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	return payments, nil
}
