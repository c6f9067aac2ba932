package reconciler

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/decoder"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

// PaymentEvent is one observed payment log, identified by (TxHash, LogIndex).
// Domain fields are nil when the log could not be decoded.
type PaymentEvent struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64

	OrderID  *string
	Payer    *common.Address
	Token    *common.Address
	Treasury *common.Address
	Amount   *string

	Decoded   bool
	RawTopics []common.Hash
	RawData   []byte
}

// NewPaymentEvent combines a log with its decode result.
func NewPaymentEvent(log *types.Log, res decoder.Result) *PaymentEvent {
	ev := &PaymentEvent{
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		BlockNumber: log.BlockNumber,
		RawTopics:   log.Topics,
		RawData:     log.Data,
	}

	if res.Decoded != nil {
		ev.Decoded = true
		ev.OrderID = res.Decoded.OrderID
		ev.Payer = res.Decoded.Payer
		ev.Token = res.Decoded.Token
		ev.Treasury = res.Decoded.Treasury
		ev.Amount = res.Decoded.Amount
	}

	return ev
}

// ID is the ledger identity of the event.
func (e *PaymentEvent) ID() string {
	return store.PaymentID(e.TxHash, e.LogIndex)
}

func (e *PaymentEvent) ledgerEntry() *store.UnmatchedPayment {
	topics := e.RawTopics
	if topics == nil {
		topics = []common.Hash{}
	}

	return &store.UnmatchedPayment{
		ID:          e.ID(),
		TxHash:      e.TxHash,
		LogIndex:    e.LogIndex,
		BlockNumber: e.BlockNumber,
		OrderID:     e.OrderID,
		Payer:       e.Payer,
		Token:       e.Token,
		Treasury:    e.Treasury,
		Amount:      e.Amount,
		Decoded:     e.Decoded,
		RawTopics:   topics,
		RawData:     hexutil.Encode(e.RawData),
	}
}
