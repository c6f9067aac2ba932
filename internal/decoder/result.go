package decoder

import (
	"github.com/ethereum/go-ethereum/common"
)

// Fallback reasons.
const (
	ReasonNoABI         = "no-abi"
	ReasonTopicMismatch = "topic-mismatch"
	ReasonUnpackError   = "unpack-error"
)

// Decoded holds the normalized payment fields recovered through the ABI.
// A field the event does not carry, or that could not be normalized, is nil.
type Decoded struct {
	OrderID  *string
	Payer    *common.Address
	Amount   *string
	Token    *common.Address
	Treasury *common.Address
}

// Fallback keeps the raw log content when ABI decoding was not possible.
type Fallback struct {
	Topics []common.Hash
	Data   []byte
	Reason string
}

// Result is the outcome of decoding one log: exactly one of Decoded and Fallback is set.
type Result struct {
	Decoded  *Decoded
	Fallback *Fallback
}

// IsDecoded reports whether the ABI path produced the result.
func (r Result) IsDecoded() bool {
	return r.Decoded != nil
}

// OrderID returns the decoded order id, if any.
func (r Result) OrderID() (string, bool) {
	if r.Decoded == nil || r.Decoded.OrderID == nil {
		return "", false
	}
	return *r.Decoded.OrderID, true
}
