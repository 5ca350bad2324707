package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"storefront-payments/internal/core/domain"
)

// ErrPoisonRecord marks a record that can never be stored and belongs in the DLQ.
var ErrPoisonRecord = errors.New("poison record")

// OutcomeStore persists decoded outcomes.
type OutcomeStore interface {
	Insert(ctx context.Context, o domain.PaymentOutcome) error
}

// Deduper tracks event ids that are already stored. An id is marked only
// after its insert succeeded, so a failed insert can be retried.
type Deduper interface {
	Seen(ctx context.Context, eventID uuid.UUID) (bool, error)
	MarkSeen(ctx context.Context, eventID uuid.UUID) error
}

// Recorder turns raw outcome events into analytics rows.
type Recorder struct {
	store  OutcomeStore
	dedupe Deduper
	logger *slog.Logger
}

func New(store OutcomeStore, dedupe Deduper, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, dedupe: dedupe, logger: logger}
}

// Handle records one event. Errors wrapping ErrPoisonRecord must not be retried.
func (r *Recorder) Handle(ctx context.Context, value []byte) error {
	o, err := Decode(value)
	if err != nil {
		return err
	}

	if r.dedupe != nil {
		seen, err := r.dedupe.Seen(ctx, o.EventID)
		if err != nil {
			// the ReplacingMergeTree collapses duplicates later anyway
			r.logger.Warn("dedupe check failed, recording anyway", "event_id", o.EventID, "error", err)
		} else if seen {
			r.logger.Debug("duplicate outcome skipped", "event_id", o.EventID)
			return nil
		}
	}

	if err := r.store.Insert(ctx, o); err != nil {
		return fmt.Errorf("insert outcome %s: %w", o.EventID, err)
	}
	if r.dedupe != nil {
		if err := r.dedupe.MarkSeen(ctx, o.EventID); err != nil {
			r.logger.Warn("failed to mark outcome as recorded", "event_id", o.EventID, "error", err)
		}
	}
	r.logger.Info("payment outcome recorded",
		"event_id", o.EventID,
		"order_number", o.OrderNumber,
		"outcome", o.Outcome,
		"attempts", o.Attempts,
	)
	return nil
}

// Decode parses and checks an outcome event.
func Decode(value []byte) (domain.PaymentOutcome, error) {
	var o domain.PaymentOutcome
	if err := json.Unmarshal(value, &o); err != nil {
		return o, fmt.Errorf("unmarshal outcome: %v: %w", err, ErrPoisonRecord)
	}
	switch {
	case o.EventID == uuid.Nil:
		return o, fmt.Errorf("missing event_id: %w", ErrPoisonRecord)
	case o.Outcome == "":
		return o, fmt.Errorf("missing outcome: %w", ErrPoisonRecord)
	case o.OccurredAt.IsZero():
		return o, fmt.Errorf("missing occurred_at: %w", ErrPoisonRecord)
	case o.Amount.IsNegative():
		return o, fmt.Errorf("negative amount %s: %w", o.Amount, ErrPoisonRecord)
	}
	return o, nil
}
