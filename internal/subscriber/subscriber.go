package subscriber

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/metrics"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/reconciler"
	irpc "github.com/wjz5788/leverageguard-attestor-sub002/internal/rpc"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
)

// Delivery modes.
const (
	ModePush = "push"
	ModePoll = "poll"
)

const (
	logBuffer    = 128
	maxPollRange = 1000
)

// LogStream is the RPC surface the subscriber needs.
type LogStream interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Config contains configuration for the Subscriber.
type Config struct {
	Contract common.Address

	// PollInterval is used when the endpoint cannot push logs
	PollInterval time.Duration

	// Retry shapes the wait between resubscription attempts
	Retry *config.RetryConfig
}

// Subscriber delivers new contract logs to the pipeline as they are mined.
// It never touches the scan cursor; anything it misses is picked up by backfill.
type Subscriber struct {
	cfg     Config
	client  LogStream
	handler reconciler.LogHandler
	log     *logger.Logger

	lastSeen atomic.Uint64
}

// New creates a Subscriber.
func New(cfg Config, client LogStream, handler reconciler.LogHandler, log *logger.Logger) *Subscriber {
	if cfg.Retry == nil {
		cfg.Retry = &config.RetryConfig{}
		cfg.Retry.ApplyDefaults()
	}

	return &Subscriber{
		cfg:     cfg,
		client:  client,
		handler: handler,
		log:     log.WithComponent(internalcommon.ComponentSubscriber),
	}
}

// LastSeen returns the highest block a live log was delivered for.
func (s *Subscriber) LastSeen() uint64 {
	return s.lastSeen.Load()
}

// Run streams logs from fromBlock onward until ctx is done. Broken subscriptions are
// re-established with backoff; endpoints without push support are polled instead.
func (s *Subscriber) Run(ctx context.Context, fromBlock uint64) error {
	s.lastSeen.Store(fromBlock)

	query := ethereum.FilterQuery{Addresses: []common.Address{s.cfg.Contract}}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		ch := make(chan types.Log, logBuffer)
		sub, err := s.client.SubscribeLogs(ctx, query, ch)
		if errors.Is(err, irpc.ErrNotificationsUnsupported) {
			s.log.Infow("endpoint cannot push logs, falling back to polling",
				"interval", s.cfg.PollInterval,
				"from", fromBlock,
			)
			return s.poll(ctx, fromBlock)
		}
		if err != nil {
			attempt++
			wait := irpc.Backoff(s.cfg.Retry, attempt+1)
			s.log.Warnw("failed to subscribe to logs", "attempt", attempt, "retry_in", wait, "error", err)
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}

		if attempt > 0 {
			ResubscriptionInc()
		}
		attempt = 0
		ModeSet(ModePush)
		metrics.ComponentHealthSet(internalcommon.ComponentSubscriber, true)
		s.log.Infow("log subscription established", "contract", s.cfg.Contract.Hex())

		err = s.consume(ctx, sub, ch)
		sub.Unsubscribe()
		if err == nil {
			return nil
		}

		metrics.ComponentHealthSet(internalcommon.ComponentSubscriber, false)
		s.log.Warnw("log subscription dropped, resubscribing", "error", err)
	}
}

// consume returns nil when ctx is done and the subscription error otherwise.
func (s *Subscriber) consume(ctx context.Context, sub ethereum.Subscription, ch <-chan types.Log) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return errors.New("subscription closed")
			}
			return err
		case lg := <-ch:
			s.deliver(ctx, &lg)
		}
	}
}

// deliver applies one live log with a fresh tip. Failures are logged, not returned:
// backfill re-observes the log.
func (s *Subscriber) deliver(ctx context.Context, lg *types.Log) {
	metrics.LogsFetchedInc("live", 1)

	tip, err := s.client.BlockNumber(ctx)
	if err != nil {
		HandleErrorInc()
		s.log.Warnw("failed to get tip for live log, leaving it to backfill",
			"tx_hash", lg.TxHash.Hex(),
			"log_index", lg.Index,
			"error", err,
		)
		return
	}
	tip = max(tip, lg.BlockNumber)

	res, err := s.handler.HandleLog(ctx, lg, tip)
	if err != nil {
		HandleErrorInc()
		s.log.Warnw("failed to apply live log, leaving it to backfill",
			"tx_hash", lg.TxHash.Hex(),
			"log_index", lg.Index,
			"block", lg.BlockNumber,
			"error", err,
		)
		return
	}

	if !lg.Removed && lg.BlockNumber > s.lastSeen.Load() {
		s.lastSeen.Store(lg.BlockNumber)
	}

	s.log.Debugw("live log applied",
		"tx_hash", lg.TxHash.Hex(),
		"log_index", lg.Index,
		"matched", res.Matched,
		"reason", res.Reason,
		"status", res.Status,
	)
}

func (s *Subscriber) poll(ctx context.Context, from uint64) error {
	if s.cfg.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}

	ModeSet(ModePoll)
	metrics.ComponentHealthSet(internalcommon.ComponentSubscriber, true)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			next, err := s.PollOnce(ctx, from)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.log.Warnw("log poll failed", "from", from, "error", err)
				continue
			}
			from = next
		}
	}
}

// PollOnce fetches and applies the logs in [from, tip] (at most one bounded range) and
// returns the next block to poll from. A failed log stops the pass so it is retried.
func (s *Subscriber) PollOnce(ctx context.Context, from uint64) (uint64, error) {
	tip, err := s.client.BlockNumber(ctx)
	if err != nil {
		return from, fmt.Errorf("failed to get chain tip: %w", err)
	}
	if from > tip {
		return from, nil
	}

	to := min(tip, from+maxPollRange-1)
	logs, err := s.client.GetLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.cfg.Contract},
	})
	if err != nil {
		return from, fmt.Errorf("failed to get logs [%d, %d]: %w", from, to, err)
	}
	metrics.LogsFetchedInc("poll", len(logs))

	for i := range logs {
		if _, err := s.handler.HandleLog(ctx, &logs[i], tip); err != nil {
			HandleErrorInc()
			return from, fmt.Errorf("failed to apply log %s:%d: %w", logs[i].TxHash.Hex(), logs[i].Index, err)
		}
	}

	s.lastSeen.Store(to)

	return to + 1, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
