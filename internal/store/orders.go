package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/russross/meddler"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/confirmation"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/db"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	pkgstore "github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

// Compile-time check to ensure OrderStore implements pkgstore.OrderStore interface.
var _ pkgstore.OrderStore = (*OrderStore)(nil)

const applyPaymentQuery = `
	UPDATE orders SET
		status = ?, payer = ?, tx_hash = ?, log_index = ?, block_number = ?,
		paid_amount = ?, paid_token = ?, treasury = ?, paid_at = ?, updated_at = ?
	WHERE id = ?
`

// OrderStore writes payment attribution onto order rows.
type OrderStore struct {
	db          *sql.DB
	log         *logger.Logger
	maintenance db.Maintenance
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(sqlDB *sql.DB, log *logger.Logger, maintenance db.Maintenance) *OrderStore {
	if maintenance == nil {
		maintenance = &db.NoOpMaintenance{}
	}

	return &OrderStore{
		db:          sqlDB,
		log:         log.WithComponent(common.ComponentOrderStore),
		maintenance: maintenance,
	}
}

// Materialize inserts a pending placeholder order unless one already exists.
func (s *OrderStore) Materialize(ctx context.Context, id string) (bool, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, pkgstore.StatusPending, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to materialize order %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	created := affected == 1
	if created {
		OrderMaterializedInc()
		s.log.Infow("order materialized from chain data", "order_id", id)
	}

	return created, nil
}

// ApplyPayment writes the attribution tuple with a single UPDATE.
//
// Orders in engine-owned statuses take payment.Status, except that a paid order is never
// moved back: a provisional re-observation fails with ErrFinalityRegression and a paid order
// attributed to a different event fails with ErrAlreadySettled. Orders in any other status
// keep it and only receive the attribution.
func (s *OrderStore) ApplyPayment(ctx context.Context, id string, payment pkgstore.Payment) (pkgstore.OrderStatus, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current pkgstore.Order
	err = meddler.QueryRow(tx, &current, `SELECT * FROM orders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", pkgstore.ErrOrderNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load order %s: %w", id, err)
	}

	next, err := nextStatus(&current, payment)
	if err != nil {
		return current.Status, err
	}

	paidAt := current.PaidAt
	if paidAt == nil {
		now := time.Now().Unix()
		paidAt = &now
	}

	args, err := paymentArgs(payment)
	if err != nil {
		return "", err
	}
	args = append([]any{next}, args...)
	args = append(args, *paidAt, time.Now().Unix(), id)

	if _, err := tx.ExecContext(ctx, applyPaymentQuery, args...); err != nil {
		return "", fmt.Errorf("failed to apply payment to order %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit payment for order %s: %w", id, err)
	}

	if current.Status != next {
		OrderTransitionInc(current.Status, next)
		s.log.Infow("order status changed",
			"order_id", id,
			"from", current.Status,
			"to", next,
			"tx_hash", payment.TxHash.Hex(),
			"log_index", payment.LogIndex,
			"block", payment.BlockNumber,
		)
	}

	return next, nil
}

func nextStatus(current *pkgstore.Order, payment pkgstore.Payment) (pkgstore.OrderStatus, error) {
	if !current.Status.EngineOwned() {
		return current.Status, nil
	}

	if current.Status != pkgstore.StatusPaid {
		return payment.Status, nil
	}

	if current.TxHash == nil {
		return pkgstore.StatusPaid, nil
	}

	sameEvent := *current.TxHash == payment.TxHash &&
		current.LogIndex != nil && *current.LogIndex == payment.LogIndex
	if !sameEvent {
		return "", fmt.Errorf("%w: order %s paid by %s", pkgstore.ErrAlreadySettled, current.ID, current.TxHash.Hex())
	}

	if err := confirmation.CheckTransition(current.Status, payment.Status); err != nil {
		return "", fmt.Errorf("order %s: %w", current.ID, err)
	}

	return pkgstore.StatusPaid, nil
}

func paymentArgs(p pkgstore.Payment) ([]any, error) {
	var addrs [3]any
	for i, a := range []any{p.Payer, p.Token, p.Treasury} {
		v, err := db.AddressMeddler{}.PreWrite(a)
		if err != nil {
			return nil, err
		}
		addrs[i] = v
	}

	return []any{addrs[0], p.TxHash.Hex(), p.LogIndex, p.BlockNumber, p.Amount, addrs[1], addrs[2]}, nil
}

// Get returns the order with the given id.
func (s *OrderStore) Get(ctx context.Context, id string) (*pkgstore.Order, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var order pkgstore.Order
	err := meddler.QueryRow(s.db, &order, `SELECT * FROM orders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", pkgstore.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}

	return &order, nil
}

// ListByStatus returns up to limit orders in status ordered by (block, id), strictly
// after the given position. Orders without a block sort as block 0.
func (s *OrderStore) ListByStatus(
	ctx context.Context,
	status pkgstore.OrderStatus,
	after *pkgstore.OrderPosition,
	limit int,
) ([]*pkgstore.Order, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	if limit <= 0 {
		limit = pkgstore.DefaultPageSize
	}
	if after == nil {
		// ids are never empty, so this position precedes every row
		after = &pkgstore.OrderPosition{}
	}

	var orders []*pkgstore.Order
	err := meddler.QueryAll(s.db, &orders, `
		SELECT * FROM orders
		WHERE status = ?
		  AND (COALESCE(block_number, 0) > ? OR (COALESCE(block_number, 0) = ? AND id > ?))
		ORDER BY COALESCE(block_number, 0) ASC, id ASC
		LIMIT ?`,
		status, after.BlockNumber, after.BlockNumber, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s orders: %w", status, err)
	}

	return orders, nil
}
