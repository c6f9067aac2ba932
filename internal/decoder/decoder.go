package decoder

import (
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
)

// DefaultEventName is the payment event looked up in the ABI.
const DefaultEventName = "PaymentReceived"

//go:embed abi/payment.json
var defaultABI string

// Field aliases in lookup order. When no alias matches, the field is taken by position.
var (
	orderIDFields  = []string{"orderId", "order_id", "orderID"}
	payerFields    = []string{"payer", "from", "sender"}
	amountFields   = []string{"amount", "value"}
	tokenFields    = []string{"token"}
	treasuryFields = []string{"treasury", "to", "recipient"}
)

const (
	orderIDPosition = iota
	payerPosition
	amountPosition
	tokenPosition
	treasuryPosition
)

// Config selects the ABI the decoder uses.
type Config struct {
	// ABIPath is a JSON ABI file. The embedded PaymentReceived ABI is used when empty.
	ABIPath string
	// Disable turns every log into a Fallback result.
	Disable bool
}

// Decoder turns payment logs into tagged Results.
type Decoder struct {
	event *abi.Event
	log   *logger.Logger
}

// New loads the payment event ABI. Only an unreadable or invalid ABI is an error.
func New(cfg Config, log *logger.Logger) (*Decoder, error) {
	d := &Decoder{log: log.WithComponent(internalcommon.ComponentDecoder)}

	if cfg.Disable {
		d.log.Warn("ABI decoding disabled, all payment logs will be recorded raw")
		return d, nil
	}

	source := defaultABI
	if cfg.ABIPath != "" {
		data, err := os.ReadFile(cfg.ABIPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read ABI file: %w", err)
		}
		source = string(data)
	}

	parsed, err := abi.JSON(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	event, err := selectEvent(parsed)
	if err != nil {
		return nil, err
	}
	d.event = event

	d.log.Infow("payment event ABI loaded", "event", event.Sig, "topic", event.ID.Hex())

	return d, nil
}

func selectEvent(parsed abi.ABI) (*abi.Event, error) {
	if event, ok := parsed.Events[DefaultEventName]; ok {
		return &event, nil
	}

	if len(parsed.Events) == 1 {
		for _, event := range parsed.Events {
			return &event, nil
		}
	}

	return nil, fmt.Errorf("ABI must define %s or exactly one event, found %d events",
		DefaultEventName, len(parsed.Events))
}

// DefaultABI returns the embedded payment event ABI.
func DefaultABI() string {
	return defaultABI
}

// Topic returns the signature topic of the payment event, or the zero hash when
// decoding is disabled.
func (d *Decoder) Topic() common.Hash {
	if d.event == nil {
		return common.Hash{}
	}
	return d.event.ID
}

// Decode never fails: anything the ABI cannot handle becomes a Fallback result.
func (d *Decoder) Decode(log *types.Log) Result {
	if d.event == nil {
		return d.fallback(log, ReasonNoABI)
	}

	if len(log.Topics) == 0 || log.Topics[0] != d.event.ID {
		return d.fallback(log, ReasonTopicMismatch)
	}

	values, err := d.unpack(log)
	if err != nil {
		d.log.Debugw("failed to unpack payment log",
			"tx_hash", log.TxHash.Hex(),
			"log_index", log.Index,
			"error", err,
		)
		return d.fallback(log, ReasonUnpackError)
	}

	decoded := &Decoded{}

	if v, ok := d.lookup(values, orderIDFields, orderIDPosition); ok {
		if id, err := normalizeOrderID(v); err == nil {
			decoded.OrderID = &id
		}
	}
	if v, ok := d.lookup(values, payerFields, payerPosition); ok {
		decoded.Payer = normalizeAddress(v)
	}
	if v, ok := d.lookup(values, amountFields, amountPosition); ok {
		if amount, err := normalizeAmount(v); err == nil {
			decoded.Amount = &amount
		}
	}
	if v, ok := d.lookup(values, tokenFields, tokenPosition); ok {
		decoded.Token = normalizeAddress(v)
	}
	if v, ok := d.lookup(values, treasuryFields, treasuryPosition); ok {
		decoded.Treasury = normalizeAddress(v)
	}

	DecodeResultInc("decoded", "")

	return Result{Decoded: decoded}
}

func (d *Decoder) unpack(log *types.Log) (map[string]any, error) {
	var indexed abi.Arguments
	for _, input := range d.event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}

	if len(log.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("expected %d indexed topics, got %d", len(indexed), len(log.Topics)-1)
	}

	values := make(map[string]any, len(d.event.Inputs))
	if err := d.event.Inputs.NonIndexed().UnpackIntoMap(values, log.Data); err != nil {
		return nil, fmt.Errorf("unpack data: %w", err)
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}

	return values, nil
}

// lookup finds a field by one of its names, falling back to its position in the event.
func (d *Decoder) lookup(values map[string]any, names []string, position int) (any, bool) {
	for _, name := range names {
		if v, ok := values[name]; ok {
			return v, true
		}
	}

	if position < len(d.event.Inputs) {
		v, ok := values[d.event.Inputs[position].Name]
		return v, ok
	}

	return nil, false
}

func (d *Decoder) fallback(log *types.Log, reason string) Result {
	DecodeResultInc("fallback", reason)

	topics := make([]common.Hash, len(log.Topics))
	copy(topics, log.Topics)

	data := make([]byte, len(log.Data))
	copy(data, log.Data)

	return Result{Fallback: &Fallback{Topics: topics, Data: data, Reason: reason}}
}

// CanonicalOrderID returns the 0x-prefixed lower-case form of an order id.
// Ids that are not hex are hex-encoded first.
func CanonicalOrderID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}

	if isHex(id) {
		return internalcommon.NormalizeHex(id)
	}

	return "0x" + hex.EncodeToString([]byte(id))
}

func isHex(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

var errUnsupportedType = errors.New("unsupported value type")

func normalizeOrderID(v any) (string, error) {
	switch id := v.(type) {
	case [32]byte:
		return "0x" + hex.EncodeToString(id[:]), nil
	case common.Hash:
		return strings.ToLower(id.Hex()), nil
	case []byte:
		return "0x" + hex.EncodeToString(id), nil
	case string:
		if id == "" {
			return "", errUnsupportedType
		}
		return CanonicalOrderID(id), nil
	case *big.Int:
		if id == nil {
			return "", errUnsupportedType
		}
		return fmt.Sprintf("0x%x", id), nil
	}

	return "", fmt.Errorf("%w: %T", errUnsupportedType, v)
}

func normalizeAddress(v any) *common.Address {
	switch a := v.(type) {
	case common.Address:
		return &a
	case string:
		if common.IsHexAddress(a) {
			addr := common.HexToAddress(a)
			return &addr
		}
	}
	return nil
}

func normalizeAmount(v any) (string, error) {
	switch amount := v.(type) {
	case *big.Int:
		if amount == nil {
			return "", errUnsupportedType
		}
		return amount.String(), nil
	case uint64:
		return new(big.Int).SetUint64(amount).String(), nil
	case uint32, uint16, uint8, int64, int32, int16, int8:
		return fmt.Sprintf("%d", amount), nil
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(amount), 0)
		if !ok {
			return "", fmt.Errorf("%w: %q is not an integer", errUnsupportedType, amount)
		}
		return n.String(), nil
	}

	return "", fmt.Errorf("%w: %T", errUnsupportedType, v)
}
