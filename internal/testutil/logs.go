package testutil

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/decoder"
)

// Fixture addresses shared by payment tests.
var (
	Payer    = common.HexToAddress("0x00000000000000000000000000000000000000Aa")
	Token    = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	Treasury = common.HexToAddress("0x00000000000000000000000000000000000000Bb")
	Contract = common.HexToAddress("0x00000000000000000000000000000000000000Cc")
)

// PaymentLog describes a PaymentReceived log. Zero fields take fixture values.
type PaymentLog struct {
	OrderID  common.Hash
	Payer    common.Address
	Amount   *big.Int
	Token    common.Address
	Treasury common.Address

	Block  uint64
	TxHash common.Hash
	Index  uint
}

// Build packs the log with the embedded payment ABI.
func (p PaymentLog) Build(t *testing.T) *types.Log {
	t.Helper()

	parsed, err := abi.JSON(strings.NewReader(decoder.DefaultABI()))
	require.NoError(t, err)
	event := parsed.Events[decoder.DefaultEventName]

	if p.Payer == (common.Address{}) {
		p.Payer = Payer
	}
	if p.Token == (common.Address{}) {
		p.Token = Token
	}
	if p.Treasury == (common.Address{}) {
		p.Treasury = Treasury
	}
	if p.Amount == nil {
		p.Amount = big.NewInt(5_000_000)
	}

	data, err := event.Inputs.NonIndexed().Pack(p.Amount, p.Token, p.Treasury)
	require.NoError(t, err)

	return &types.Log{
		Address: Contract,
		Topics: []common.Hash{
			event.ID,
			p.OrderID,
			common.BytesToHash(p.Payer.Bytes()),
		},
		Data:        data,
		BlockNumber: p.Block,
		TxHash:      p.TxHash,
		Index:       p.Index,
	}
}

// OrderKey is the canonical order id stored for a bytes32 order id topic.
func OrderKey(id common.Hash) string {
	return strings.ToLower(id.Hex())
}
