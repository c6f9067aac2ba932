package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/confirmation"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/decoder"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

// Reasons reported for unmatched events.
const (
	ReasonNoOrderID          = "no-orderId"
	ReasonValidationMismatch = "validation-mismatch"
	ReasonAlreadySettled     = "already-settled"
	ReasonRemoved            = "removed"
)

// Mismatch kinds.
const (
	MismatchToken          = "token"
	MismatchTreasury       = "treasury"
	MismatchTransfer       = "transfer-missing"
	MismatchTransferAmount = "transfer-amount"
)

// Result is the outcome of applying one payment event.
type Result struct {
	Matched       bool
	Reason        string
	OrderID       string
	Status        store.OrderStatus
	Confirmations uint64
	Mismatches    []string
}

// TransferFinder locates the token transfer backing a payment.
type TransferFinder interface {
	FindTransfer(ctx context.Context, txHash common.Hash, token, to common.Address) (*decoder.Transfer, error)
}

// MatcherConfig holds the expected payment destination and the mismatch handling.
type MatcherConfig struct {
	Token    common.Address
	Treasury common.Address
	Policy   config.MismatchPolicy
}

// Matcher applies payment events to orders. It is the only writer of order payment state.
type Matcher struct {
	cfg      MatcherConfig
	ledger   store.Ledger
	orders   store.OrderStore
	tracker  *confirmation.Tracker
	verifier TransferFinder
	log      *logger.Logger
}

// NewMatcher creates a Matcher. verifier may be nil to skip receipt cross-checks.
func NewMatcher(
	cfg MatcherConfig,
	ledger store.Ledger,
	orders store.OrderStore,
	tracker *confirmation.Tracker,
	verifier TransferFinder,
	log *logger.Logger,
) *Matcher {
	if cfg.Policy == "" {
		cfg.Policy = config.MismatchAccept
	}

	return &Matcher{
		cfg:      cfg,
		ledger:   ledger,
		orders:   orders,
		tracker:  tracker,
		verifier: verifier,
		log:      log.WithComponent(internalcommon.ComponentMatcher),
	}
}

// Apply records the event in the ledger and, when it carries an order id, writes the
// payment to that order. Every step is idempotent, so re-applying an event only
// re-asserts the stored values or promotes a provisional payment.
// A returned error means the event was not fully applied.
func (m *Matcher) Apply(ctx context.Context, ev *PaymentEvent, tip uint64) (Result, error) {
	if _, err := m.ledger.Record(ctx, ev.ledgerEntry()); err != nil {
		return Result{}, fmt.Errorf("failed to record payment %s: %w", ev.ID(), err)
	}

	if ev.OrderID == nil || *ev.OrderID == "" {
		m.log.Debugw("payment without order id recorded as unmatched", "id", ev.ID(), "block", ev.BlockNumber)
		return Result{Reason: ReasonNoOrderID}, nil
	}

	orderID := decoder.CanonicalOrderID(*ev.OrderID)

	if _, err := m.orders.Materialize(ctx, orderID); err != nil {
		return Result{}, err
	}

	confs, class := m.tracker.Classify(ev.BlockNumber, tip)
	result := Result{OrderID: orderID, Confirmations: confs}

	mismatches, err := m.validate(ctx, ev)
	if err != nil {
		return Result{}, err
	}
	result.Mismatches = mismatches

	status := class.Status()
	if len(mismatches) > 0 {
		for _, kind := range mismatches {
			ValidationMismatchInc(kind)
		}

		m.log.Warnw("payment failed cross-validation",
			"id", ev.ID(),
			"order_id", orderID,
			"mismatches", mismatches,
			"policy", m.cfg.Policy,
		)

		switch m.cfg.Policy {
		case config.MismatchReject:
			result.Reason = ReasonValidationMismatch
			return result, nil
		case config.MismatchQuarantine:
			status = store.StatusQuarantined
		case config.MismatchAccept:
		}
	}

	applied, err := m.orders.ApplyPayment(ctx, orderID, store.Payment{
		Status:      status,
		Payer:       ev.Payer,
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		BlockNumber: ev.BlockNumber,
		Amount:      ev.Amount,
		Token:       ev.Token,
		Treasury:    ev.Treasury,
	})
	if errors.Is(err, store.ErrAlreadySettled) {
		m.log.Warnw("order already paid by another event, payment left in ledger",
			"id", ev.ID(),
			"order_id", orderID,
		)
		result.Reason = ReasonAlreadySettled
		return result, nil
	}
	if err != nil {
		return Result{}, err
	}

	result.Matched = true
	result.Status = applied

	m.log.Debugw("payment applied",
		"id", ev.ID(),
		"order_id", orderID,
		"status", applied,
		"confirmations", confs,
		"classification", class,
	)

	return result, nil
}

// validate returns the mismatch kinds of ev. Only a failed receipt lookup is an error.
func (m *Matcher) validate(ctx context.Context, ev *PaymentEvent) ([]string, error) {
	var mismatches []string

	if ev.Token == nil || *ev.Token != m.cfg.Token {
		mismatches = append(mismatches, MismatchToken)
	}
	if ev.Treasury == nil || *ev.Treasury != m.cfg.Treasury {
		mismatches = append(mismatches, MismatchTreasury)
	}

	if m.verifier == nil {
		return mismatches, nil
	}

	transfer, err := m.verifier.FindTransfer(ctx, ev.TxHash, m.cfg.Token, m.cfg.Treasury)
	switch {
	case errors.Is(err, decoder.ErrTransferNotFound):
		mismatches = append(mismatches, MismatchTransfer)
	case err != nil:
		return nil, fmt.Errorf("failed to verify transfer for %s: %w", ev.ID(), err)
	case ev.Amount == nil || transfer.Value.String() != *ev.Amount:
		mismatches = append(mismatches, MismatchTransferAmount)
	}

	return mismatches, nil
}
