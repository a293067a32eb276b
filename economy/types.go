/*
Package economy provides the core economic ledger engine.

PURPOSE:
  This package contains the types and algorithms for the platform's
  token economy: an append-only financial ledger, balances derived from
  that ledger, a fee schedule, and the orchestration for transfers,
  purchases, reversals, and withdrawals.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: a decimal token amount (2 decimal places at rest)
  - LedgerEntry: an immutable record of one financial movement
  - Withdrawal: a request to convert ledger balance into an external payout
  - ProcessedEvent: idempotency marker for externally delivered events
  - AuditRecord: forensic record of one economic action

DESIGN PRINCIPLES:
  1. Immutability: ledger entries are never edited, only reversed
  2. Precision: decimal.Decimal everywhere, no floats touch money
  3. Derivation: balance is always computed from the ledger, never stored
  4. Auditability: every entry carries provenance (request id, source ip)

SEE ALSO:
  - ledger.go: Entry persistence interface
  - balance.go: Balance derivation from entries
  - engine.go: Transfer orchestration
  - withdrawal.go: Withdrawal state machine
*/
package economy

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Token amounts
// =============================================================================

// Money is a token amount. All arithmetic goes through decimal.Decimal;
// amounts at rest are rounded to two decimal places.
type Money = decimal.Decimal

// NewMoney builds a Money from a float for literals in tests and demos.
// Production paths parse strings.
func NewMoney(value float64) Money {
	return decimal.NewFromFloat(value)
}

// ParseMoney parses a decimal string, returning zero on failure.
func ParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundMoney rounds half up to two decimal places, the system-wide
// rounding rule for fees and nets.
func RoundMoney(m Money) Money {
	return m.Round(2)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EntryID string
type WithdrawalID string

// =============================================================================
// LEDGER ENTRY - Immutable record of one financial movement
// =============================================================================

type EntryKind string

const (
	KindPurchase            EntryKind = "purchase"             // External funding enters the system
	KindTransfer            EntryKind = "transfer"             // User-to-user transfer
	KindMarketplacePurchase EntryKind = "marketplace_purchase" // Listing purchase (5% platform fee)
	KindRoyaltyPayout       EntryKind = "royalty_payout"       // Creator royalty (no fee)
	KindWithdrawal          EntryKind = "withdrawal"           // Funds leave the system
	KindReversal            EntryKind = "reversal"             // Record of a status flip, never balance-effective
)

type EntryStatus string

const (
	StatusComplete EntryStatus = "complete"
	StatusReversed EntryStatus = "reversed"
)

// LedgerEntry is one row of the append-only ledger.
//
// INVARIANTS:
//   - At least one of FromUser/ToUser is set. External funding has no
//     FromUser; withdrawals have no ToUser.
//   - Amount is strictly positive; Fee is non-negative; Net = Amount - Fee
//     and is strictly positive.
//   - After creation, the only field that ever changes is Status, and
//     only complete -> reversed, and only inside a reversal transaction.
type LedgerEntry struct {
	ID       EntryID
	Kind     EntryKind
	FromUser UserID // empty for external funding
	ToUser   UserID // empty for withdrawals
	Amount   Money  // gross value moved
	Fee      Money  // computed at write time, never recomputed
	Net      Money  // Amount - Fee; what the recipient receives
	Status   EntryStatus

	// ReferenceID links companion rows: a platform fee row references its
	// principal row; a reversal record references the entry it reversed.
	ReferenceID EntryID

	Metadata map[string]string

	// Provenance
	RequestID string
	SourceIP  string

	CreatedAt time.Time
}

// =============================================================================
// WITHDRAWAL - Request to convert balance into an external payout
// =============================================================================

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalApproved   WithdrawalStatus = "approved"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalComplete   WithdrawalStatus = "complete"
	WithdrawalCancelled  WithdrawalStatus = "cancelled"
)

// Withdrawal moves through: pending -> approved -> processing -> complete,
// or pending|approved -> cancelled.
//
// A pending or approved withdrawal places a hold: its Amount is
// subtracted from the user's available balance even though no ledger
// debit exists yet. The debit is written only when processing begins,
// and LedgerEntryID links back to it.
type Withdrawal struct {
	ID     WithdrawalID
	UserID UserID
	Amount Money
	Fee    Money
	Net    Money
	Status WithdrawalStatus

	ReviewedBy  string
	ReviewedAt  *time.Time
	ProcessedAt *time.Time

	// Populated only once processing debits the ledger.
	LedgerEntryID EntryID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the withdrawal can no longer change state.
func (w Withdrawal) Terminal() bool {
	return w.Status == WithdrawalComplete || w.Status == WithdrawalCancelled
}

// HoldsBalance reports whether this withdrawal reserves available
// balance. Processing rows do not: their ledger debit already reduces
// the derived balance, and counting them as holds too would reserve the
// amount twice.
func (w Withdrawal) HoldsBalance() bool {
	return w.Status == WithdrawalPending || w.Status == WithdrawalApproved
}

// =============================================================================
// PROCESSED EVENT - Idempotency marker for external events
// =============================================================================

// ProcessedEvent records that an externally delivered event (payment
// provider webhook) has been applied. Presence of a row means "already
// applied, do not reapply". The row is written in the same transaction
// as the ledger entries the event produced.
type ProcessedEvent struct {
	EventID     string // external id, unique
	EventType   string
	EntryID     EntryID // principal ledger entry the event produced
	ProcessedAt time.Time
}

// =============================================================================
// AUDIT RECORD - Forensic trail, never used to derive balance
// =============================================================================

type AuditAction string

const (
	AuditPurchase            AuditAction = "purchase"
	AuditTransfer            AuditAction = "transfer"
	AuditMarketplacePurchase AuditAction = "marketplace_purchase"
	AuditReversal            AuditAction = "reversal"
	AuditWithdrawalRequested AuditAction = "withdrawal_requested"
	AuditWithdrawalApproved  AuditAction = "withdrawal_approved"
	AuditWithdrawalProcessed AuditAction = "withdrawal_processed"
	AuditWithdrawalCancelled AuditAction = "withdrawal_cancelled"
	AuditExternalEvent       AuditAction = "external_event"
)

type AuditRecord struct {
	ID      string
	TraceID string
	Action  AuditAction
	Actor   string
	Amount  Money
	// EntryIDs are the ledger entries this action produced.
	EntryIDs  []EntryID
	Metadata  map[string]string
	CreatedAt time.Time
}

// =============================================================================
// BALANCE SUMMARY - Derived, never persisted
// =============================================================================

// BalanceSummary is the answer to "how much does this user have?".
//
//	Balance = TotalCredits - TotalDebits
//	TotalCredits = sum(net where toUser = U and status = complete)
//	TotalDebits  = sum(amount where fromUser = U and status = complete)
type BalanceSummary struct {
	UserID       UserID
	Balance      Money
	TotalCredits Money
	TotalDebits  Money
}
