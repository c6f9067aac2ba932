package reconciler

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/confirmation"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	rpcmocks "github.com/wjz5788/leverageguard-attestor-sub002/internal/rpc/mocks"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/testutil"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

func newTestSweeper(f *fixture, client ChainReader) *Sweeper {
	return NewSweeper(f.orders, client, f.pipeline, confirmation.NewTracker(12), time.Minute, logger.NewNopLogger())
}

func TestSweeper_PromotesFinalPayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MismatchAccept, nil)
	client := rpcmocks.NewEthClient(t)

	lg := testutil.PaymentLog{OrderID: orderABC, Block: 120, TxHash: tx1, Index: 2}.Build(t)
	res, err := f.pipeline.HandleLog(ctx, lg, 125)
	require.NoError(t, err)
	require.Equal(t, store.StatusPaidUnconfirmed, res.Status)

	client.EXPECT().BlockNumber(mock.Anything).Return(uint64(140), nil)
	client.EXPECT().TransactionReceipt(mock.Anything, tx1).Return(&types.Receipt{
		TxHash: tx1,
		Logs:   []*types.Log{lg},
	}, nil)

	promoted, err := newTestSweeper(f, client).Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, promoted)

	order, err := f.orders.Get(ctx, testutil.OrderKey(orderABC))
	require.NoError(t, err)
	require.Equal(t, store.StatusPaid, order.Status)
}

func TestSweeper_SkipsBelowThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MismatchAccept, nil)
	client := rpcmocks.NewEthClient(t)

	lg := testutil.PaymentLog{OrderID: orderABC, Block: 120, TxHash: tx1}.Build(t)
	_, err := f.pipeline.HandleLog(ctx, lg, 125)
	require.NoError(t, err)

	client.EXPECT().BlockNumber(mock.Anything).Return(uint64(126), nil)

	promoted, err := newTestSweeper(f, client).Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, promoted)
}

func TestSweeper_ReceiptMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MismatchAccept, nil)
	client := rpcmocks.NewEthClient(t)

	lg := testutil.PaymentLog{OrderID: orderABC, Block: 120, TxHash: tx1}.Build(t)
	_, err := f.pipeline.HandleLog(ctx, lg, 125)
	require.NoError(t, err)

	client.EXPECT().BlockNumber(mock.Anything).Return(uint64(200), nil)
	client.EXPECT().TransactionReceipt(mock.Anything, tx1).Return(nil, ethereum.NotFound)

	promoted, err := newTestSweeper(f, client).Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, promoted)

	order, err := f.orders.Get(ctx, testutil.OrderKey(orderABC))
	require.NoError(t, err)
	require.Equal(t, store.StatusPaidUnconfirmed, order.Status, "never downgraded or promoted without the log")
}

func TestSweeper_UnpromotableOrdersDoNotStarveLaterOnes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MismatchAccept, nil)
	client := rpcmocks.NewEthClient(t)

	const (
		batch = 4
		stuck = 3*batch + 1
	)

	// receipts of these were reorged away, so they stay provisional forever
	for i := range stuck {
		lg := testutil.PaymentLog{
			OrderID: common.BigToHash(big.NewInt(int64(0x1000 + i))),
			Block:   100,
			TxHash:  common.BigToHash(big.NewInt(int64(0x2000 + i))),
		}.Build(t)
		_, err := f.pipeline.HandleLog(ctx, lg, 100)
		require.NoError(t, err)
	}

	healthy := testutil.PaymentLog{OrderID: orderABC, Block: 120, TxHash: tx1, Index: 3}.Build(t)
	_, err := f.pipeline.HandleLog(ctx, healthy, 125)
	require.NoError(t, err)

	client.EXPECT().BlockNumber(mock.Anything).Return(uint64(500), nil)
	client.EXPECT().TransactionReceipt(mock.Anything, mock.Anything).
		RunAndReturn(func(_ context.Context, hash common.Hash) (*types.Receipt, error) {
			if hash == tx1 {
				return &types.Receipt{TxHash: tx1, Logs: []*types.Log{healthy}}, nil
			}
			return nil, ethereum.NotFound
		})

	s := newTestSweeper(f, client)
	s.batch = batch

	for pass := range 2 {
		promoted, err := s.Sweep(ctx)
		require.NoError(t, err)
		if pass == 0 {
			require.Equal(t, 1, promoted)
		} else {
			require.Zero(t, promoted)
		}
	}

	order, err := f.orders.Get(ctx, testutil.OrderKey(orderABC))
	require.NoError(t, err)
	require.Equal(t, store.StatusPaid, order.Status)

	// one receipt lookup per stuck order per pass, plus the healthy one once
	client.AssertNumberOfCalls(t, "TransactionReceipt", 2*stuck+1)

	remaining, err := f.orders.ListByStatus(ctx, store.StatusPaidUnconfirmed, nil, 100)
	require.NoError(t, err)
	require.Len(t, remaining, stuck)
}

func TestSweeper_StopsAtFirstProvisionalOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MismatchAccept, nil)
	client := rpcmocks.NewEthClient(t)
	orderDEF := common.HexToHash("0xdef")

	final := testutil.PaymentLog{OrderID: orderABC, Block: 120, TxHash: tx1}.Build(t)
	recent := testutil.PaymentLog{OrderID: orderDEF, Block: 135, TxHash: tx2}.Build(t)
	for _, lg := range []*types.Log{final, recent} {
		_, err := f.pipeline.HandleLog(ctx, lg, 135)
		require.NoError(t, err)
	}

	// 21 confirmations for block 120 but only 6 for block 135, whose receipt is never fetched
	client.EXPECT().BlockNumber(mock.Anything).Return(uint64(140), nil).Once()
	client.EXPECT().TransactionReceipt(mock.Anything, tx1).
		Return(&types.Receipt{TxHash: tx1, Logs: []*types.Log{final}}, nil).Once()

	s := newTestSweeper(f, client)
	s.batch = 1

	promoted, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, promoted)

	order, err := f.orders.Get(ctx, testutil.OrderKey(orderDEF))
	require.NoError(t, err)
	require.Equal(t, store.StatusPaidUnconfirmed, order.Status)
}

func TestSweeper_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing to sweep makes no RPC calls", func(t *testing.T) {
		f := newFixture(t, config.MismatchAccept, nil)
		promoted, err := newTestSweeper(f, rpcmocks.NewEthClient(t)).Sweep(ctx)
		require.NoError(t, err)
		require.Zero(t, promoted)
	})

	t.Run("tip lookup fails", func(t *testing.T) {
		f := newFixture(t, config.MismatchAccept, nil)
		client := rpcmocks.NewEthClient(t)

		lg := testutil.PaymentLog{OrderID: orderABC, Block: 120, TxHash: tx1}.Build(t)
		_, err := f.pipeline.HandleLog(ctx, lg, 125)
		require.NoError(t, err)

		client.EXPECT().BlockNumber(mock.Anything).Return(uint64(0), errors.New("boom"))

		_, err = newTestSweeper(f, client).Sweep(ctx)
		require.ErrorContains(t, err, "boom")
	})

	t.Run("receipt lookup fails", func(t *testing.T) {
		f := newFixture(t, config.MismatchAccept, nil)
		client := rpcmocks.NewEthClient(t)

		lg := testutil.PaymentLog{OrderID: orderABC, Block: 120, TxHash: tx1}.Build(t)
		_, err := f.pipeline.HandleLog(ctx, lg, 125)
		require.NoError(t, err)

		client.EXPECT().BlockNumber(mock.Anything).Return(uint64(200), nil)
		client.EXPECT().TransactionReceipt(mock.Anything, tx1).Return(nil, errors.New("timeout"))

		_, err = newTestSweeper(f, client).Sweep(ctx)
		require.ErrorContains(t, err, "timeout")
	})
}

func TestSweeper_RunRequiresInterval(t *testing.T) {
	f := newFixture(t, config.MismatchAccept, nil)
	s := NewSweeper(f.orders, rpcmocks.NewEthClient(t), f.pipeline, confirmation.NewTracker(12), 0, logger.NewNopLogger())
	require.Error(t, s.Run(context.Background()))
}
