/*
ledger.go - Append-only ledger wrapper

PURPOSE:
  The Ledger is the immutable source of truth for all balance changes.
  Every purchase, transfer, payout, withdrawal debit, and reversal is
  recorded here. Balance is always computed by replaying entries -
  there is no separate "balance" field that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no update, no delete, with one exception
  2. THE EXCEPTION: Status may flip complete -> reversed, once, and the
     flip is itself recorded as a reversal entry
  3. AUDITABLE: every movement is traceable with full provenance

CORRECTIONS:
  A mistake is never edited. The original entry is flipped to reversed
  (removing it from the derived balance) and a reversal record
  documenting the flip is appended. Both remain in the ledger forever.

SEE ALSO:
  - store.go: Low-level persistence interface
  - engine.go: Writes entries through this wrapper
*/
package economy

import "context"

// Ledger checks entry invariants before handing writes to the Store.
type Ledger struct {
	Store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{Store: store}
}

// CheckEntry enforces the structural invariants of a ledger row. Called
// on every entry before it is written; a violation here is a programming
// error in the orchestrator, not bad user input.
func CheckEntry(e LedgerEntry) error {
	if e.FromUser == "" && e.ToUser == "" {
		return ErrInvalidAmount
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if e.Fee.IsNegative() {
		return ErrInvalidAmount
	}
	if !e.Net.IsPositive() {
		return ErrInvalidAmount
	}
	if !e.Amount.Sub(e.Fee).Equal(e.Net) {
		return ErrInvalidAmount
	}
	return nil
}

// Append writes entries atomically after checking each one.
func (l *Ledger) Append(ctx context.Context, entries ...LedgerEntry) error {
	for _, e := range entries {
		if err := CheckEntry(e); err != nil {
			return err
		}
	}
	if err := l.Store.AppendEntries(ctx, entries); err != nil {
		return &StoreError{Op: "append entries", Err: err}
	}
	return nil
}

// History returns every entry touching the user, oldest first.
func (l *Ledger) History(ctx context.Context, userID UserID) ([]LedgerEntry, error) {
	entries, err := l.Store.EntriesByUser(ctx, userID)
	if err != nil {
		return nil, &StoreError{Op: "load entries", Err: err}
	}
	return entries, nil
}

// Entry returns a single entry, or ErrEntryNotFound.
func (l *Ledger) Entry(ctx context.Context, id EntryID) (*LedgerEntry, error) {
	e, err := l.Store.GetEntry(ctx, id)
	if err != nil {
		return nil, &StoreError{Op: "get entry", Err: err}
	}
	if e == nil {
		return nil, ErrEntryNotFound
	}
	return e, nil
}
