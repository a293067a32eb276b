/*
events.go - Idempotent application of external events

PURPOSE:
  Payment-provider webhooks are delivered at-least-once. Before applying
  one, the handler checks the processed_events table for the event's
  external id; a hit means the event already ran and the call is a
  no-op. The marker row is inserted in the SAME transaction as the
  ledger writes the event produces, so a crash between "apply" and
  "mark" cannot leave a half-applied event.

SUPPORTED EVENTS:
  payment.completed  fiat settled at the processor -> purchase credit
  payment.refunded   processor clawed funds back  -> reversal of the
                     entry the original event produced

  Anything else is recorded as processed with no ledger effect, so a
  provider adding event types does not cause unbounded redelivery.
*/
package economy

import (
	"context"

	"go.uber.org/zap"
)

const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentRefunded  = "payment.refunded"
)

// ExternalEvent is one externally delivered event, keyed by the
// provider's id.
type ExternalEvent struct {
	EventID   string
	EventType string
	UserID    UserID
	Amount    Money
	RequestID string
	SourceIP  string
}

// EventResult reports whether this delivery had any effect.
type EventResult struct {
	Applied bool
	// EntryID is the principal ledger entry, set on first application and
	// on replays (from the marker row).
	EntryID EntryID
}

// ApplyExternalEvent applies an event exactly once. Replays return
// Applied=false and are success, not failure.
func (e *Engine) ApplyExternalEvent(ctx context.Context, ev ExternalEvent) (*EventResult, error) {
	if ev.EventID == "" {
		return nil, ErrInvalidAmount
	}

	result := &EventResult{}
	err := e.Store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetProcessedEvent(ctx, ev.EventID)
		if err != nil {
			return &StoreError{Op: "get processed event", Err: err}
		}
		if existing != nil {
			result.Applied = false
			result.EntryID = existing.EntryID
			return nil
		}

		entryID, err := e.applyEvent(ctx, tx, ev)
		if err != nil {
			return err
		}

		if err := tx.RecordProcessedEvent(ctx, ProcessedEvent{
			EventID:     ev.EventID,
			EventType:   ev.EventType,
			EntryID:     entryID,
			ProcessedAt: e.now(),
		}); err != nil {
			return &StoreError{Op: "record processed event", Err: err}
		}

		result.Applied = true
		result.EntryID = entryID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Applied {
		e.log.Info("duplicate event ignored", zap.String("event_id", ev.EventID))
		return result, nil
	}

	e.audit(ctx, AuditExternalEvent, "payment-provider", ev.Amount, []EntryID{result.EntryID}, map[string]string{
		"event_id":   ev.EventID,
		"event_type": ev.EventType,
	})
	return result, nil
}

// applyEvent runs inside the idempotency transaction. It writes through
// the transactional store view directly rather than through the public
// Execute* operations, which would open their own transactions.
func (e *Engine) applyEvent(ctx context.Context, tx Store, ev ExternalEvent) (EntryID, error) {
	prov := Provenance{Actor: "payment-provider", RequestID: ev.RequestID, SourceIP: ev.SourceIP}

	switch ev.EventType {
	case EventPaymentCompleted:
		if ev.UserID == "" {
			return "", ErrMissingUser
		}
		v := NewValidator(tx, e.maxAmount)
		if err := v.ValidateAmount(ev.Amount); err != nil {
			return "", err
		}
		fees, err := CalculateFee(KindPurchase, ev.Amount)
		if err != nil {
			return "", err
		}
		credit := e.newEntry(KindPurchase, "", ev.UserID, ev.Amount, fees, prov, map[string]string{
			"event_id": ev.EventID,
		})
		if err := NewLedger(tx).Append(ctx, credit); err != nil {
			return "", err
		}
		return credit.ID, nil

	case EventPaymentRefunded:
		// Reverse the entry the completed event produced.
		original, err := e.entryForEvent(ctx, tx, ev)
		if err != nil {
			return "", err
		}
		if original.Status == StatusReversed {
			return "", ErrAlreadyReversed
		}
		if err := tx.MarkReversed(ctx, original.ID); err != nil {
			return "", &StoreError{Op: "mark reversed", Err: err}
		}
		record := e.newEntry(KindReversal, original.ToUser, original.FromUser, original.Net,
			FeeResult{Net: original.Net}, prov, map[string]string{
				"reversed_entry": string(original.ID),
				"reason":         "payment refunded",
				"event_id":       ev.EventID,
			})
		record.Status = StatusReversed
		record.ReferenceID = original.ID
		if err := NewLedger(tx).Append(ctx, record); err != nil {
			return "", err
		}
		return record.ID, nil

	default:
		// Unknown types are marked processed with no ledger effect.
		e.log.Warn("unhandled event type", zap.String("event_type", ev.EventType), zap.String("event_id", ev.EventID))
		return "", nil
	}
}

// entryForEvent resolves a refund to the purchase entry of the original
// completed event, recorded in the processed_events table. The refund
// payload carries the original event id in RequestID by provider
// convention; fall back to the user's most recent purchase of the same
// amount if the provider omitted it.
func (e *Engine) entryForEvent(ctx context.Context, tx Store, ev ExternalEvent) (*LedgerEntry, error) {
	if ev.RequestID != "" {
		if marker, err := tx.GetProcessedEvent(ctx, ev.RequestID); err != nil {
			return nil, &StoreError{Op: "get processed event", Err: err}
		} else if marker != nil && marker.EntryID != "" {
			entry, err := tx.GetEntry(ctx, marker.EntryID)
			if err != nil {
				return nil, &StoreError{Op: "get entry", Err: err}
			}
			if entry != nil {
				return entry, nil
			}
		}
	}

	entries, err := tx.EntriesByUser(ctx, ev.UserID)
	if err != nil {
		return nil, &StoreError{Op: "load entries", Err: err}
	}
	for i := len(entries) - 1; i >= 0; i-- {
		en := entries[i]
		if en.Kind == KindPurchase && en.Status == StatusComplete && en.Amount.Equal(ev.Amount) {
			return &en, nil
		}
	}
	return nil, ErrEntryNotFound
}
