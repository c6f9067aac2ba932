package confirmation

import (
	"fmt"

	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

// ErrFinalityRegression is returned when a final payment would become provisional again.
var ErrFinalityRegression = store.ErrFinalityRegression

// Classification of an event relative to the chain tip.
type Classification int

const (
	Provisional Classification = iota
	Final
)

func (c Classification) String() string {
	if c == Final {
		return "final"
	}
	return "provisional"
}

// Status is the order status an event with this classification produces.
func (c Classification) Status() store.OrderStatus {
	if c == Final {
		return store.StatusPaid
	}
	return store.StatusPaidUnconfirmed
}

// Confirmations counts the block containing the event and every block mined on top of it.
// Events above the tip have none.
func Confirmations(block, tip uint64) uint64 {
	if tip < block {
		return 0
	}
	return tip - block + 1
}

// Tracker classifies events against a confirmation threshold.
type Tracker struct {
	Threshold uint64
}

// NewTracker returns a Tracker; a zero threshold means config.DefaultConfirmations.
func NewTracker(threshold uint64) *Tracker {
	if threshold == 0 {
		threshold = config.DefaultConfirmations
	}
	return &Tracker{Threshold: threshold}
}

// Classify returns the confirmation count of block at tip and whether it is final.
func (t *Tracker) Classify(block, tip uint64) (uint64, Classification) {
	confs := Confirmations(block, tip)
	if confs >= t.Threshold {
		return confs, Final
	}
	return confs, Provisional
}

// CheckTransition rejects moving a paid order back to paid_unconfirmed.
func CheckTransition(prev, next store.OrderStatus) error {
	if prev == store.StatusPaid && next == store.StatusPaidUnconfirmed {
		return fmt.Errorf("%w: %s -> %s", ErrFinalityRegression, prev, next)
	}
	return nil
}
