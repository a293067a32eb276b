/*
engine.go - Transfer orchestration

PURPOSE:
  Composes validators, the fee schedule, and ledger writes into one
  atomic operation per economic action: purchase, transfer, marketplace
  purchase, royalty payout, reversal.

ATOMICITY:
  Every operation runs inside TxStore.WithTx. The validator reads the
  balance through the transactional store view, so the balance check and
  the debit commit as one unit. Two concurrent debits whose sum exceeds
  the balance cannot both succeed: whichever transaction commits second
  re-validates against the ledger the first one already changed.

ROW SHAPES:
  purchase     credit row (no sender - funds originate outside the ledger)
  transfer     principal row (from -> to) + platform fee row
  marketplace  same as transfer, 5% fee, listing id in metadata
  royalty      platform -> creator, no fee
  reversal     status flips + one reversal record row (see ExecuteReversal)

  The payer always loses the gross amount, the recipient gains the net,
  and the platform account gains the fee. Money is conserved.

ERROR HANDLING:
  Fail fast, fail clean: any validation failure surfaces before a write
  is attempted, and a failed commit leaves no partial rows. Audit is
  emitted after commit and never affects the outcome.

SEE ALSO:
  - validate.go: The single validation gate
  - fees.go: Fee schedule
  - withdrawal.go: The withdrawal state machine, same transaction rules
*/
package economy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultMaxAmount caps a single movement unless configured otherwise.
var DefaultMaxAmount = decimal.NewFromInt(1_000_000)

// PlatformAccount is the default account collecting fees.
const PlatformAccount UserID = "platform"

// Provenance is carried onto every entry an operation writes.
type Provenance struct {
	Actor     string
	RequestID string
	SourceIP  string
}

// OperationResult reports a committed economic action.
type OperationResult struct {
	Fee     Money
	Net     Money
	Entries []LedgerEntry
}

// Config tunes an Engine. Zero values fall back to defaults.
type Config struct {
	Platform  UserID
	MaxAmount Money
	Audit     AuditSink
	Logger    *zap.Logger
}

// Engine is the transfer orchestrator.
type Engine struct {
	Store    TxStore
	Audit    AuditSink
	Platform UserID

	maxAmount Money
	log       *zap.Logger
	now       func() time.Time
}

func NewEngine(store TxStore, cfg Config) *Engine {
	e := &Engine{
		Store:     store,
		Audit:     cfg.Audit,
		Platform:  cfg.Platform,
		maxAmount: cfg.MaxAmount,
		log:       cfg.Logger,
		now:       defaultNow,
	}
	if e.Platform == "" {
		e.Platform = PlatformAccount
	}
	if e.maxAmount.IsZero() {
		e.maxAmount = DefaultMaxAmount
	}
	if e.Audit == nil {
		e.Audit = &StoreAuditSink{Store: store}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// =============================================================================
// PURCHASE - External funding enters the system
// =============================================================================

// ExecutePurchase credits userID with amount. Funds originate outside
// the ledger (the payment processor already settled fiat), so no debit
// row exists and no balance is checked.
func (e *Engine) ExecutePurchase(ctx context.Context, userID UserID, amount Money, prov Provenance) (*OperationResult, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	result, err := e.writeMovement(ctx, KindPurchase, "", userID, amount, prov, nil, false)
	if err != nil {
		return nil, err
	}
	e.audit(ctx, AuditPurchase, prov.Actor, amount, entryIDs(result.Entries), map[string]string{"user": string(userID)})
	return result, nil
}

// =============================================================================
// TRANSFER - User to user
// =============================================================================

// ExecuteTransfer moves amount from one user to another: the sender
// loses amount, the recipient gains net, the platform gains the fee.
func (e *Engine) ExecuteTransfer(ctx context.Context, from, to UserID, amount Money, prov Provenance) (*OperationResult, error) {
	result, err := e.writeMovement(ctx, KindTransfer, from, to, amount, prov, nil, true)
	if err != nil {
		return nil, err
	}
	e.audit(ctx, AuditTransfer, prov.Actor, amount, entryIDs(result.Entries), map[string]string{
		"from": string(from), "to": string(to),
	})
	return result, nil
}

// ExecuteMarketplacePurchase is a transfer tagged with the listing it
// paid for, at the marketplace fee rate.
func (e *Engine) ExecuteMarketplacePurchase(ctx context.Context, buyer, seller UserID, amount Money, listingID string, prov Provenance) (*OperationResult, error) {
	meta := map[string]string{"listing_id": listingID}
	result, err := e.writeMovement(ctx, KindMarketplacePurchase, buyer, seller, amount, prov, meta, true)
	if err != nil {
		return nil, err
	}
	e.audit(ctx, AuditMarketplacePurchase, prov.Actor, amount, entryIDs(result.Entries), map[string]string{
		"buyer": string(buyer), "seller": string(seller), "listing_id": listingID,
	})
	return result, nil
}

// ExecuteRoyaltyPayout pays a creator from the platform account, fee
// free. Validated like any other debit: the platform must hold the
// funds it pays out.
func (e *Engine) ExecuteRoyaltyPayout(ctx context.Context, creator UserID, amount Money, listingID string, prov Provenance) (*OperationResult, error) {
	var meta map[string]string
	if listingID != "" {
		meta = map[string]string{"listing_id": listingID}
	}
	result, err := e.writeMovement(ctx, KindRoyaltyPayout, e.Platform, creator, amount, prov, meta, true)
	if err != nil {
		return nil, err
	}
	e.audit(ctx, AuditTransfer, prov.Actor, amount, entryIDs(result.Entries), map[string]string{
		"to": string(creator), "kind": string(KindRoyaltyPayout),
	})
	return result, nil
}

// writeMovement is the shared path for every credit/debit pair. When
// debit is true the sender's balance is validated inside the same
// transaction that writes the rows.
func (e *Engine) writeMovement(ctx context.Context, kind EntryKind, from, to UserID, amount Money, prov Provenance, meta map[string]string, debit bool) (*OperationResult, error) {
	fees, err := CalculateFee(kind, amount)
	if err != nil {
		return nil, err
	}
	if !fees.Net.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var entries []LedgerEntry
	err = e.Store.WithTx(ctx, func(tx Store) error {
		v := NewValidator(tx, e.maxAmount)
		if debit {
			if err := v.ValidateTransfer(ctx, from, to, amount); err != nil {
				return err
			}
		} else if err := v.ValidateAmount(amount); err != nil {
			return err
		}

		principal := e.newEntry(kind, from, to, amount, fees, prov, meta)
		entries = []LedgerEntry{principal}

		if fees.Fee.IsPositive() {
			feeRow := e.newEntry(kind, "", e.Platform, fees.Fee, FeeResult{Net: fees.Fee}, prov, map[string]string{"fee_for": string(principal.ID)})
			feeRow.ReferenceID = principal.ID
			entries = append(entries, feeRow)
		}

		return NewLedger(tx).Append(ctx, entries...)
	})
	if err != nil {
		return nil, err
	}

	e.log.Debug("movement committed",
		zap.String("kind", string(kind)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("amount", amount.String()),
		zap.String("fee", fees.Fee.String()))

	return &OperationResult{Fee: fees.Fee, Net: fees.Net, Entries: entries}, nil
}

// =============================================================================
// REVERSAL - Additive undo
// =============================================================================

// ExecuteReversal undoes the economic effect of an entry without
// deleting history. Atomically it (a) flips the entry and its companion
// fee rows to reversed, which removes them from every derived balance,
// and (b) appends a reversal record documenting the flip. The record is
// born reversed: it is forensic, not balance-effective, so the undo is
// applied exactly once. Only principal rows may be named; a companion
// row fails ErrCompanionEntry because it can only flip with its
// principal.
func (e *Engine) ExecuteReversal(ctx context.Context, originalID EntryID, reason string, prov Provenance) (*OperationResult, error) {
	var entries []LedgerEntry
	var reversedAmount Money

	err := e.Store.WithTx(ctx, func(tx Store) error {
		original, err := tx.GetEntry(ctx, originalID)
		if err != nil {
			return &StoreError{Op: "get entry", Err: err}
		}
		if original == nil {
			return ErrEntryNotFound
		}
		if original.ReferenceID != "" {
			// Fee rows and reversal records flip with their principal.
			// Flipping a fee row alone would erase the platform's credit
			// while the payer's gross debit stands.
			return ErrCompanionEntry
		}
		if original.Status == StatusReversed {
			return ErrAlreadyReversed
		}
		reversedAmount = original.Amount

		if err := tx.MarkReversed(ctx, original.ID); err != nil {
			return &StoreError{Op: "mark reversed", Err: err}
		}

		companions, err := tx.EntriesByReference(ctx, original.ID)
		if err != nil {
			return &StoreError{Op: "load companions", Err: err}
		}
		for _, c := range companions {
			if c.Status != StatusComplete {
				continue
			}
			if err := tx.MarkReversed(ctx, c.ID); err != nil {
				return &StoreError{Op: "mark reversed", Err: err}
			}
		}

		record := e.newEntry(KindReversal, original.ToUser, original.FromUser, original.Net, FeeResult{Net: original.Net}, prov, map[string]string{
			"reversed_entry": string(original.ID),
			"reason":         reason,
		})
		record.Status = StatusReversed
		record.ReferenceID = original.ID
		entries = []LedgerEntry{record}

		return NewLedger(tx).Append(ctx, entries...)
	})
	if err != nil {
		return nil, err
	}

	e.audit(ctx, AuditReversal, prov.Actor, reversedAmount, entryIDs(entries), map[string]string{
		"reversed_entry": string(originalID),
		"reason":         reason,
	})
	return &OperationResult{Net: entries[0].Net, Entries: entries}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) newEntry(kind EntryKind, from, to UserID, amount Money, fees FeeResult, prov Provenance, meta map[string]string) LedgerEntry {
	return LedgerEntry{
		ID:        EntryID(uuid.NewString()),
		Kind:      kind,
		FromUser:  from,
		ToUser:    to,
		Amount:    amount,
		Fee:       fees.Fee,
		Net:       fees.Net,
		Status:    StatusComplete,
		Metadata:  meta,
		RequestID: prov.RequestID,
		SourceIP:  prov.SourceIP,
		CreatedAt: e.now(),
	}
}

func entryIDs(entries []LedgerEntry) []EntryID {
	ids := make([]EntryID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
