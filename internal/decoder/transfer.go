package decoder

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
)

const (
	transferTopicsCount = 3  // signature + from + to
	transferDataSize    = 32 // uint256 value
)

// TransferTopic is the signature topic of the ERC-20 Transfer event.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ErrTransferNotFound is returned when a receipt has no matching Transfer log.
var ErrTransferNotFound = errors.New("no matching ERC-20 transfer in receipt")

// Transfer is a decoded ERC-20 Transfer event.
type Transfer struct {
	Token    common.Address
	From     common.Address
	To       common.Address
	Value    *big.Int
	LogIndex uint
}

// DecodeTransfer parses an ERC-20 Transfer event from a log.
func DecodeTransfer(log *types.Log) (*Transfer, error) {
	if len(log.Topics) != transferTopicsCount || log.Topics[0] != TransferTopic {
		return nil, fmt.Errorf("not an ERC-20 Transfer log: %d topics", len(log.Topics))
	}

	if len(log.Data) != transferDataSize {
		return nil, fmt.Errorf("invalid Transfer event: expected %d bytes of data, got %d",
			transferDataSize, len(log.Data))
	}

	return &Transfer{
		Token:    log.Address,
		From:     common.BytesToAddress(log.Topics[1].Bytes()),
		To:       common.BytesToAddress(log.Topics[2].Bytes()),
		Value:    new(big.Int).SetBytes(log.Data),
		LogIndex: log.Index,
	}, nil
}

// ReceiptFetcher is the part of the RPC client the verifier needs.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TransferVerifier looks up the token transfer that accompanies a payment event.
type TransferVerifier struct {
	client ReceiptFetcher
	log    *logger.Logger
}

// NewTransferVerifier creates a TransferVerifier.
func NewTransferVerifier(client ReceiptFetcher, log *logger.Logger) *TransferVerifier {
	return &TransferVerifier{
		client: client,
		log:    log,
	}
}

// FindTransfer returns the first Transfer to `to` emitted by token in the transaction.
func (v *TransferVerifier) FindTransfer(ctx context.Context, txHash common.Hash, token, to common.Address) (*Transfer, error) {
	receipt, err := v.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt for %s: %w", txHash.Hex(), err)
	}

	for _, log := range receipt.Logs {
		if log.Address != token || len(log.Topics) == 0 || log.Topics[0] != TransferTopic {
			continue
		}

		transfer, err := DecodeTransfer(log)
		if err != nil {
			v.log.Debugw("skipping malformed Transfer log", "tx_hash", txHash.Hex(), "error", err)
			continue
		}

		if transfer.To == to {
			return transfer, nil
		}
	}

	return nil, fmt.Errorf("%w: tx %s, token %s, to %s", ErrTransferNotFound, txHash.Hex(), token.Hex(), to.Hex())
}
