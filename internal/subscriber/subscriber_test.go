package subscriber

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	internalcommon "github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/reconciler"
	irpc "github.com/wjz5788/leverageguard-attestor-sub002/internal/rpc"
	rpcmocks "github.com/wjz5788/leverageguard-attestor-sub002/internal/rpc/mocks"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
)

const waitFor = 2 * time.Second

var contract = common.HexToAddress("0x00000000000000000000000000000000000000Cc")

type delivery struct {
	log types.Log
	tip uint64
}

type recordingHandler struct {
	got chan delivery
	err error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan delivery, 16)}
}

func (h *recordingHandler) HandleLog(_ context.Context, log *types.Log, tip uint64) (reconciler.Result, error) {
	h.got <- delivery{log: *log, tip: tip}
	if h.err != nil {
		return reconciler.Result{}, h.err
	}
	return reconciler.Result{Matched: !log.Removed}, nil
}

func (h *recordingHandler) next(t *testing.T) delivery {
	t.Helper()

	select {
	case d := <-h.got:
		return d
	case <-time.After(waitFor):
		t.Fatal("no log delivered")
		return delivery{}
	}
}

type fakeSubscription struct {
	errCh        chan error
	once         sync.Once
	unsubscribed chan struct{}
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error, 1), unsubscribed: make(chan struct{})}
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.unsubscribed) })
}

func testConfig() Config {
	return Config{
		Contract:     contract,
		PollInterval: 10 * time.Millisecond,
		Retry: &config.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    internalcommon.NewDuration(time.Millisecond),
			MaxBackoff:        internalcommon.NewDuration(5 * time.Millisecond),
			BackoffMultiplier: 2,
		},
	}
}

func runAsync(ctx context.Context, s *Subscriber, from uint64) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, from) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("subscriber did not stop")
	}
}

func TestSubscriber_PushDelivery(t *testing.T) {
	client := rpcmocks.NewEthClient(t)
	handler := newRecordingHandler()
	sub := newFakeSubscription()

	client.EXPECT().SubscribeLogs(mock.Anything, mock.MatchedBy(func(q ethereum.FilterQuery) bool {
		return len(q.Addresses) == 1 && q.Addresses[0] == contract
	}), mock.Anything).RunAndReturn(
		func(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
			go func() { ch <- types.Log{BlockNumber: 160, Index: 1} }()
			return sub, nil
		}).Once()
	client.EXPECT().BlockNumber(mock.Anything).Return(uint64(170), nil)

	s := New(testConfig(), client, handler, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s, 151)

	d := handler.next(t)
	require.Equal(t, uint64(160), d.log.BlockNumber)
	require.Equal(t, uint64(170), d.tip)

	require.Eventually(t, func() bool { return s.LastSeen() == 160 }, waitFor, time.Millisecond)

	cancel()
	waitDone(t, done)

	select {
	case <-sub.unsubscribed:
	default:
		t.Fatal("subscription was not closed")
	}
}

func TestSubscriber_TipNeverBelowLogBlock(t *testing.T) {
	client := rpcmocks.NewEthClient(t)
	handler := newRecordingHandler()

	client.EXPECT().BlockNumber(mock.Anything).Return(uint64(100), nil)

	s := New(testConfig(), client, handler, logger.NewNopLogger())
	s.deliver(context.Background(), &types.Log{BlockNumber: 105})

	require.Equal(t, uint64(105), handler.next(t).tip)
}

func TestSubscriber_Resubscribes(t *testing.T) {
	client := rpcmocks.NewEthClient(t)
	handler := newRecordingHandler()
	dropped := newFakeSubscription()
	live := newFakeSubscription()

	client.EXPECT().SubscribeLogs(mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("dial tcp: connection refused")).Once()
	client.EXPECT().SubscribeLogs(mock.Anything, mock.Anything, mock.Anything).
		RunAndReturn(func(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
			dropped.errCh <- errors.New("websocket: close 1006")
			return dropped, nil
		}).Once()
	client.EXPECT().SubscribeLogs(mock.Anything, mock.Anything, mock.Anything).
		RunAndReturn(func(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
			go func() { ch <- types.Log{BlockNumber: 200} }()
			return live, nil
		}).Once()
	client.EXPECT().BlockNumber(mock.Anything).Return(uint64(200), nil)

	s := New(testConfig(), client, handler, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s, 0)

	require.Equal(t, uint64(200), handler.next(t).log.BlockNumber)

	cancel()
	waitDone(t, done)

	<-dropped.unsubscribed
}

func TestSubscriber_FallsBackToPolling(t *testing.T) {
	client := rpcmocks.NewEthClient(t)
	handler := newRecordingHandler()

	client.EXPECT().SubscribeLogs(mock.Anything, mock.Anything, mock.Anything).
		Return(nil, irpc.ErrNotificationsUnsupported).Once()
	client.EXPECT().BlockNumber(mock.Anything).Return(uint64(160), nil)
	client.EXPECT().GetLogs(mock.Anything, mock.MatchedBy(func(q ethereum.FilterQuery) bool {
		return q.FromBlock.Uint64() == 151 && q.ToBlock.Uint64() == 160
	})).Return([]types.Log{{BlockNumber: 155}}, nil).Once()
	client.EXPECT().GetLogs(mock.Anything, mock.Anything).Return(nil, nil).Maybe()

	s := New(testConfig(), client, handler, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s, 151)

	d := handler.next(t)
	require.Equal(t, uint64(155), d.log.BlockNumber)
	require.Equal(t, uint64(160), d.tip)

	cancel()
	waitDone(t, done)
}

func TestSubscriber_PollOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("caught up", func(t *testing.T) {
		client := rpcmocks.NewEthClient(t)
		client.EXPECT().BlockNumber(mock.Anything).Return(uint64(150), nil)

		s := New(testConfig(), client, newRecordingHandler(), logger.NewNopLogger())
		next, err := s.PollOnce(ctx, 151)
		require.NoError(t, err)
		require.Equal(t, uint64(151), next)
	})

	t.Run("bounded range", func(t *testing.T) {
		client := rpcmocks.NewEthClient(t)
		client.EXPECT().BlockNumber(mock.Anything).Return(uint64(5000), nil)
		client.EXPECT().GetLogs(mock.Anything, mock.MatchedBy(func(q ethereum.FilterQuery) bool {
			return q.FromBlock.Uint64() == 100 && q.ToBlock.Uint64() == 1099
		})).Return(nil, nil)

		s := New(testConfig(), client, newRecordingHandler(), logger.NewNopLogger())
		next, err := s.PollOnce(ctx, 100)
		require.NoError(t, err)
		require.Equal(t, uint64(1100), next)
	})

	t.Run("failed log is retried next pass", func(t *testing.T) {
		client := rpcmocks.NewEthClient(t)
		client.EXPECT().BlockNumber(mock.Anything).Return(uint64(160), nil)
		client.EXPECT().GetLogs(mock.Anything, mock.Anything).Return([]types.Log{{BlockNumber: 155}}, nil)

		handler := newRecordingHandler()
		handler.err = errors.New("database is locked")

		s := New(testConfig(), client, handler, logger.NewNopLogger())
		next, err := s.PollOnce(ctx, 151)
		require.Error(t, err)
		require.Equal(t, uint64(151), next)
	})
}

func TestSubscriber_RemovedLogDoesNotMoveLastSeen(t *testing.T) {
	client := rpcmocks.NewEthClient(t)
	client.EXPECT().BlockNumber(mock.Anything).Return(uint64(300), nil)

	handler := newRecordingHandler()
	s := New(testConfig(), client, handler, logger.NewNopLogger())
	s.lastSeen.Store(100)

	s.deliver(context.Background(), &types.Log{BlockNumber: 250, Removed: true})

	require.True(t, handler.next(t).log.Removed)
	require.Equal(t, uint64(100), s.LastSeen())
}
