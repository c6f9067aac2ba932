package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/confirmation"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

const defaultSweepBatch = 100

// ChainReader is the RPC surface the sweeper needs.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Sweeper re-observes provisional payments so they get promoted once final,
// even when no backfill pass or live delivery sees them again.
type Sweeper struct {
	orders   store.OrderStore
	client   ChainReader
	handler  LogHandler
	tracker  *confirmation.Tracker
	interval time.Duration
	batch    int
	log      *logger.Logger
}

// NewSweeper creates a Sweeper that runs every interval.
func NewSweeper(
	orders store.OrderStore,
	client ChainReader,
	handler LogHandler,
	tracker *confirmation.Tracker,
	interval time.Duration,
	log *logger.Logger,
) *Sweeper {
	return &Sweeper{
		orders:   orders,
		client:   client,
		handler:  handler,
		tracker:  tracker,
		interval: interval,
		batch:    defaultSweepBatch,
		log:      log.WithComponent(internalcommon.ComponentSweeper),
	}
}

// Run sweeps every interval until ctx is done. Sweep errors are logged, not returned.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("sweep interval must be positive")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Infow("confirmation sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("confirmation sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Warnw("confirmation sweep failed", "error", err)
			}
		}
	}
}

// Sweep re-runs the stored event of every paid_unconfirmed order that has reached
// the threshold and returns how many orders were promoted to paid.
// It pages through all provisional orders by (block, id), so orders that can never be
// promoted do not hide the ones behind them. A receipt that disappeared is reported and
// the order is left as it is.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	var (
		tip      uint64
		haveTip  bool
		after    *store.OrderPosition
		promoted int
		errs     []error
	)

pages:
	for {
		orders, err := s.orders.ListByStatus(ctx, store.StatusPaidUnconfirmed, after, s.batch)
		if err != nil {
			errs = append(errs, err)
			break
		}
		if len(orders) == 0 {
			break
		}

		if !haveTip {
			if tip, err = s.client.BlockNumber(ctx); err != nil {
				return 0, fmt.Errorf("failed to get chain tip: %w", err)
			}
			haveTip = true
		}

		for _, order := range orders {
			if ctx.Err() != nil {
				return promoted, ctx.Err()
			}

			if order.TxHash == nil || order.LogIndex == nil || order.BlockNumber == nil {
				continue
			}

			// ordered by block, so nothing after this one is final either
			if _, class := s.tracker.Classify(*order.BlockNumber, tip); class != confirmation.Final {
				SweepResultInc("pending")
				break pages
			}

			ok, err := s.promote(ctx, order, tip)
			if err != nil {
				errs = append(errs, fmt.Errorf("order %s: %w", order.ID, err))
				continue
			}
			if ok {
				promoted++
			}
		}

		if len(orders) < s.batch {
			break
		}
		after = orders[len(orders)-1].Position()
	}

	if promoted > 0 {
		s.log.Infow("provisional payments promoted", "count", promoted, "tip", tip)
	}

	return promoted, errors.Join(errs...)
}

func (s *Sweeper) promote(ctx context.Context, order *store.Order, tip uint64) (bool, error) {
	receipt, err := s.client.TransactionReceipt(ctx, *order.TxHash)
	if errors.Is(err, ethereum.NotFound) {
		SweepResultInc("receipt_missing")
		s.log.Warnw("receipt not found for provisional payment, possibly reorged out",
			"order_id", order.ID,
			"tx_hash", order.TxHash.Hex(),
		)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to fetch receipt: %w", err)
	}

	for _, log := range receipt.Logs {
		if log.Index != *order.LogIndex || log.TxHash != *order.TxHash {
			continue
		}

		result, err := s.handler.HandleLog(ctx, log, tip)
		if err != nil {
			return false, err
		}

		promoted := result.Status == store.StatusPaid
		if promoted {
			SweepResultInc("promoted")
		} else {
			SweepResultInc("unchanged")
		}
		return promoted, nil
	}

	SweepResultInc("log_missing")
	s.log.Warnw("payment log not found in receipt",
		"order_id", order.ID,
		"tx_hash", order.TxHash.Hex(),
		"log_index", *order.LogIndex,
	)

	return false, nil
}
