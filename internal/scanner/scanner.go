package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
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
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

const (
	// MaxChunkSize is the widest getLogs range the scanner will request.
	MaxChunkSize = config.MaxChunkSize

	// maxRateLimitedChunks bounds how often one chunk is retried after the provider throttles it.
	maxRateLimitedChunks = 5

	delayGrowth = 2
)

// Chunk results reported in metrics.
const (
	ChunkApplied     = "applied"
	ChunkSplit       = "split"
	ChunkRateLimited = "rate_limited"
	ChunkFailed      = "failed"
)

// LogSource is the RPC surface the scanner needs.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// Config contains configuration for the Scanner.
type Config struct {
	// Contract is the only address whose logs are fetched
	Contract common.Address

	// StartBlock is the lower bound of every scan
	StartBlock uint64

	// ChunkSize is the number of blocks per getLogs request
	ChunkSize uint64

	// ChunkDelay is the pause between chunks
	ChunkDelay time.Duration

	// MaxChunkDelay caps the delay after rate-limit responses
	MaxChunkDelay time.Duration

	// ChunkTimeout bounds one chunk once it has started
	ChunkTimeout time.Duration
}

// Scanner walks the chain from the cursor to the tip in bounded chunks and feeds every
// contract log through the reconciliation pipeline. It is the only writer of the cursor.
type Scanner struct {
	cfg     Config
	client  LogSource
	cursor  store.CursorStore
	handler reconciler.LogHandler
	log     *logger.Logger

	delay time.Duration
}

// New creates a Scanner. A zero or oversized chunk size is clamped to MaxChunkSize.
func New(
	cfg Config,
	client LogSource,
	cursor store.CursorStore,
	handler reconciler.LogHandler,
	log *logger.Logger,
) *Scanner {
	if cfg.ChunkSize == 0 || cfg.ChunkSize > MaxChunkSize {
		cfg.ChunkSize = MaxChunkSize
	}
	if cfg.MaxChunkDelay < cfg.ChunkDelay {
		cfg.MaxChunkDelay = cfg.ChunkDelay
	}

	return &Scanner{
		cfg:     cfg,
		client:  client,
		cursor:  cursor,
		handler: handler,
		log:     log.WithComponent(internalcommon.ComponentScanner),
		delay:   cfg.ChunkDelay,
	}
}

// Backfill scans from max(cursor, start block) to the current tip and returns the cursor
// it leaves behind. It reads the cursor and tip afresh on every call, so running it again
// after a failure or restart resumes where the last applied chunk ended.
// Cancellation is honored between chunks; a started chunk runs to completion or timeout.
func (s *Scanner) Backfill(ctx context.Context) (uint64, error) {
	cursor, err := s.cursor.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor: %w", err)
	}

	from := max(cursor, s.cfg.StartBlock)

	tip, err := s.client.BlockNumber(ctx)
	if err != nil {
		return from, fmt.Errorf("failed to get chain tip: %w", err)
	}
	metrics.ChainTipSet(tip, from)

	if from > tip {
		s.log.Debugw("cursor is ahead of chain tip, nothing to scan", "cursor", from, "tip", tip)
		return from, nil
	}

	s.log.Infow("backfill started", "from", from, "tip", tip, "chunk_size", s.cfg.ChunkSize)

	rateLimited := 0
	for from <= tip {
		if err := ctx.Err(); err != nil {
			return from, err
		}

		to := min(from+s.cfg.ChunkSize-1, tip)

		end, err := s.runChunk(ctx, from, to, tip)
		if err != nil {
			if irpc.IsRateLimitError(err) && rateLimited < maxRateLimitedChunks {
				rateLimited++
				ChunkResultInc(ChunkRateLimited)
				s.slowDown()
				s.log.Warnw("provider rate limited chunk, backing off",
					"from", from,
					"to", to,
					"delay", s.delay,
				)
				if err := s.sleep(ctx); err != nil {
					return from, err
				}
				continue
			}

			ChunkResultInc(ChunkFailed)
			metrics.ErrorsInc(internalcommon.ComponentScanner, "error")
			return from, fmt.Errorf("chunk [%d, %d] failed: %w", from, to, err)
		}

		rateLimited = 0
		s.speedUp()

		from = end + 1
		metrics.ChainTipSet(tip, from)

		if from <= tip {
			if err := s.sleep(ctx); err != nil {
				return from, err
			}
		}
	}

	s.log.Infow("backfill caught up", "cursor", from, "tip", tip)

	return from, nil
}

// Run performs periodic backfill passes until ctx is done.
// Failed passes are logged and retried on the next tick.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("backfill interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Backfill(ctx); err != nil && ctx.Err() == nil {
				s.log.Warnw("periodic backfill failed", "error", err)
			}
		}
	}
}

// runChunk detaches the chunk from ctx so shutdown never interrupts it halfway.
func (s *Scanner) runChunk(ctx context.Context, from, to, tip uint64) (uint64, error) {
	chunkCtx := context.WithoutCancel(ctx)
	if s.cfg.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		chunkCtx, cancel = context.WithTimeout(chunkCtx, s.cfg.ChunkTimeout)
		defer cancel()
	}

	return s.ProcessChunk(chunkCtx, from, to, tip)
}

// ProcessChunk applies every contract log in [from, to] with tip as the chain head and
// then moves the cursor to the block after the last applied one. When the provider
// refuses the range as too large, only a prefix of it is processed; the returned value
// is the last block covered. The cursor is left untouched when any log fails.
func (s *Scanner) ProcessChunk(ctx context.Context, from, to, tip uint64) (uint64, error) {
	start := time.Now()

	logs, end, err := s.fetchLogs(ctx, from, to)
	if err != nil {
		return 0, err
	}
	if end < to {
		ChunkResultInc(ChunkSplit)
	}
	metrics.LogsFetchedInc("backfill", len(logs))

	var matched, unmatched int
	for i := range logs {
		res, err := s.handler.HandleLog(ctx, &logs[i], tip)
		if err != nil {
			return 0, fmt.Errorf("failed to apply log %s:%d: %w", logs[i].TxHash.Hex(), logs[i].Index, err)
		}
		if res.Matched {
			matched++
		} else {
			unmatched++
		}
	}

	if err := s.cursor.Set(ctx, end+1); err != nil {
		return 0, fmt.Errorf("failed to advance cursor: %w", err)
	}

	ChunkResultInc(ChunkApplied)
	metrics.BlocksScannedInc(end - from + 1)
	metrics.ChunkProcessingTimeLog(time.Since(start))

	s.log.Infow("chunk applied",
		"from", from,
		"to", end,
		"logs", len(logs),
		"matched", matched,
		"unmatched", unmatched,
		"cursor", end+1,
	)

	return end, nil
}

// fetchLogs fetches logs and retries with a smaller range while the provider reports too many results.
func (s *Scanner) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, uint64, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.cfg.Contract},
	}

	logs, err := s.client.GetLogs(ctx, query)
	if err == nil {
		return logs, to, nil
	}

	ok, errData := irpc.IsTooManyResultsError(err)
	if !ok {
		return nil, 0, err
	}

	// the suggested range is only usable when it starts where we asked
	if suggestedFrom, suggestedTo, ok := irpc.ParseSuggestedBlockRange(errData); ok &&
		suggestedFrom == from && suggestedTo < to {
		s.log.Infow("too many logs, retrying with suggested block range",
			"from", suggestedFrom,
			"to", suggestedTo,
			"original_to", to,
		)
		return s.fetchLogs(ctx, from, suggestedTo)
	}

	const splitBy = 2
	mid := from + (to-from)/splitBy
	if mid == to {
		return nil, 0, fmt.Errorf("cannot split range further, block %d has too many logs: %w", from, err)
	}

	s.log.Infow("too many logs, retrying with half the block range",
		"from", from,
		"to", mid,
		"original_to", to,
	)

	return s.fetchLogs(ctx, from, mid)
}

func (s *Scanner) slowDown() {
	next := s.delay * delayGrowth
	if next == 0 {
		next = s.cfg.MaxChunkDelay
	}
	s.delay = min(next, s.cfg.MaxChunkDelay)
	ChunkDelaySet(s.delay)
}

func (s *Scanner) speedUp() {
	if s.delay <= s.cfg.ChunkDelay {
		return
	}
	s.delay = max(s.delay/delayGrowth, s.cfg.ChunkDelay)
	ChunkDelaySet(s.delay)
}

// Delay returns the current pause between chunks.
func (s *Scanner) Delay() time.Duration {
	return s.delay
}

func (s *Scanner) sleep(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
