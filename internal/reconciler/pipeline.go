package reconciler

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/decoder"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
)

// Event outcomes reported in metrics.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeRemoved   = "removed"
	OutcomeFailed    = "failed"
)

// LogHandler consumes raw payment logs. Scanner, subscriber and sweeper all feed one.
type LogHandler interface {
	HandleLog(ctx context.Context, log *types.Log, tip uint64) (Result, error)
}

// Compile-time check to ensure Pipeline implements LogHandler interface.
var _ LogHandler = (*Pipeline)(nil)

// Pipeline is the single decode and match path for every payment log.
type Pipeline struct {
	decoder *decoder.Decoder
	matcher *Matcher
	log     *logger.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(dec *decoder.Decoder, matcher *Matcher, log *logger.Logger) *Pipeline {
	return &Pipeline{
		decoder: dec,
		matcher: matcher,
		log:     log.WithComponent(internalcommon.ComponentMatcher),
	}
}

// HandleLog decodes log and applies it with tip as the current chain head.
// Logs retracted by a reorg are counted and skipped; they never get a ledger row.
func (p *Pipeline) HandleLog(ctx context.Context, log *types.Log, tip uint64) (Result, error) {
	if log.Removed {
		RemovedLogInc()
		EventOutcomeInc(OutcomeRemoved)
		p.log.Warnw("ignoring removed log",
			"tx_hash", log.TxHash.Hex(),
			"log_index", log.Index,
			"block", log.BlockNumber,
		)
		return Result{Reason: ReasonRemoved}, nil
	}

	ev := NewPaymentEvent(log, p.decoder.Decode(log))

	result, err := p.matcher.Apply(ctx, ev, tip)
	switch {
	case err != nil:
		EventOutcomeInc(OutcomeFailed)
	case result.Matched:
		EventOutcomeInc(OutcomeMatched)
	default:
		EventOutcomeInc(OutcomeUnmatched)
	}

	return result, err
}
