/*
store.go - Persistence interface for the ledger and its satellites

PURPOSE:
  Defines the interface between the economy engine and the database.
  The Store keeps append-only semantics for the ledger while also
  persisting withdrawals, processed events, and the audit log.
  Implementations: store/sqlite (production), economy/store (in-memory).

APPEND-ONLY CONTRACT:
  - AppendEntries(): atomic multi-row write, the only way money moves
  - MarkReversed(): the single permitted mutation, complete -> reversed,
    usable only inside a reversal transaction
  - NO other update and NO delete exists for financial fields

ATOMICITY:
  TxStore.WithTx runs a function against a transactional view of the
  whole Store. Balance re-validation and the resulting writes share one
  transaction, which closes the check-then-act race: two concurrent
  debits against the same user cannot both pass validation on a balance
  that only covers one of them.

SEE ALSO:
  - ledger.go: Higher-level ledger wrapper
  - store/sqlite/sqlite.go: Production implementation
  - economy/store/memory.go: In-memory implementation for tests
*/
package economy

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Full persistence surface
// =============================================================================

// Store persists ledger entries, withdrawals, processed events, and
// audit records. The ledger portion is append-only: corrections happen
// via reversal, never edits.
type Store interface {
	// --- Ledger (append-only) ---

	// AppendEntries persists entries atomically. Either all commit or none.
	AppendEntries(ctx context.Context, entries []LedgerEntry) error

	// GetEntry returns an entry by id, or nil if absent.
	GetEntry(ctx context.Context, id EntryID) (*LedgerEntry, error)

	// EntriesByUser returns every entry where the user is sender or
	// recipient, ordered by creation time.
	EntriesByUser(ctx context.Context, userID UserID) ([]LedgerEntry, error)

	// EntriesByReference returns entries whose ReferenceID matches.
	// Used to find a principal row's companion fee rows.
	EntriesByReference(ctx context.Context, refID EntryID) ([]LedgerEntry, error)

	// SumCompleted returns sum(net where to=user and status=complete) and
	// sum(amount where from=user and status=complete). The Balance
	// Calculator builds on nothing else.
	SumCompleted(ctx context.Context, userID UserID) (credits, debits Money, err error)

	// MarkReversed flips an entry's status complete -> reversed. The only
	// mutation of a ledger row the store permits.
	MarkReversed(ctx context.Context, id EntryID) error

	// --- Withdrawals ---

	SaveWithdrawal(ctx context.Context, w Withdrawal) error
	GetWithdrawal(ctx context.Context, id WithdrawalID) (*Withdrawal, error)
	WithdrawalsByUser(ctx context.Context, userID UserID) ([]Withdrawal, error)

	// SumHolds returns the total amount of the user's pending and approved
	// withdrawals. Processing withdrawals are excluded: their ledger debit
	// already reduces the derived balance.
	SumHolds(ctx context.Context, userID UserID) (Money, error)

	// --- Processed events (idempotency) ---

	GetProcessedEvent(ctx context.Context, eventID string) (*ProcessedEvent, error)
	RecordProcessedEvent(ctx context.Context, ev ProcessedEvent) error

	// --- Audit log (append-only, forensic) ---

	AppendAudit(ctx context.Context, rec AuditRecord) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
}

// TxStore wraps Store with transaction support. Every mutating economic
// operation runs inside WithTx.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back and no partial rows exist.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT FILTER
// =============================================================================

type AuditFilter struct {
	TraceID string
	Actor   string
	Actions []AuditAction
	From    *time.Time
	To      *time.Time
	Limit   int
}
