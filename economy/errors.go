/*
errors.go - Centralized error types for the economy engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify with errors.Is; structured errors carry context.

PROPAGATION POLICY:
  Validators recover nothing locally. Every failure surfaces to the
  caller as a tagged error before any write is attempted; there is no
  partial-success outcome for a multi-row write. ErrStoreUnavailable is
  the only condition warranting caller-side retry, and only because the
  idempotency layer makes retries safe.

SEE ALSO:
  - validate.go: Produces most of these
  - engine.go, withdrawal.go: Propagate them untouched
*/
package economy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an amount is non-positive or above
	// the configured maximum.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrMissingUser is returned when an operation names an empty user id.
	// A debit without a recipient would strand the funds on no account.
	ErrMissingUser = errors.New("user id is required")

	// ErrSelfTransfer is returned when sender and recipient are the same user.
	ErrSelfTransfer = errors.New("cannot transfer to self")

	// ErrInsufficientBalance is returned when a debit exceeds the derived balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAvailableBalance is returned when a withdrawal request
	// exceeds balance net of existing holds.
	ErrInsufficientAvailableBalance = errors.New("insufficient available balance")

	// ErrUnknownTransactionType is returned by the fee engine for a kind
	// it has no schedule for.
	ErrUnknownTransactionType = errors.New("unknown transaction type")

	// ErrAlreadyReversed is returned when reversing an entry whose status
	// is already reversed.
	ErrAlreadyReversed = errors.New("entry already reversed")

	// ErrCompanionEntry is returned when reversing a row that references a
	// principal, such as a fee row. Companions flip only with their
	// principal; flipping one alone would unbalance the ledger.
	ErrCompanionEntry = errors.New("companion entry is reversed with its principal")

	// ErrInvalidState is returned on an illegal withdrawal state transition.
	ErrInvalidState = errors.New("invalid withdrawal state")

	// ErrEntryNotFound is returned when a referenced ledger entry doesn't exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrWithdrawalNotFound is returned when a referenced withdrawal doesn't exist.
	ErrWithdrawalNotFound = errors.New("withdrawal not found")

	// ErrDuplicateEvent marks an external event that was already applied.
	// Treated as success by webhook handlers, never shown as a failure.
	ErrDuplicateEvent = errors.New("event already processed")

	// ErrStoreUnavailable wraps database-level failures. The entire
	// operation rolls back as a unit; no partial ledger rows exist.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a balance shortfall.
type InsufficientBalanceError struct {
	UserID    UserID
	Available Money
	Requested Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InsufficientAvailableBalanceError reports a shortfall after holds.
type InsufficientAvailableBalanceError struct {
	UserID    UserID
	Balance   Money
	Held      Money
	Requested Money
}

func (e *InsufficientAvailableBalanceError) Error() string {
	return fmt.Sprintf("insufficient available balance for %s: balance %s, held %s, requested %s",
		e.UserID, e.Balance, e.Held, e.Requested)
}

func (e *InsufficientAvailableBalanceError) Unwrap() error {
	return ErrInsufficientAvailableBalance
}

// InvalidStateError reports an illegal withdrawal transition.
type InvalidStateError struct {
	WithdrawalID WithdrawalID
	From         WithdrawalStatus
	To           WithdrawalStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("withdrawal %s: cannot transition %s -> %s", e.WithdrawalID, e.From, e.To)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// StoreError wraps a persistence failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return ErrStoreUnavailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry. Retries
// are safe only because event application is idempotent.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to invalid caller input
// or a business-rule rejection rather than a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrMissingUser) ||
		errors.Is(err, ErrSelfTransfer) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientAvailableBalance) ||
		errors.Is(err, ErrUnknownTransactionType) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrCompanionEntry) ||
		errors.Is(err, ErrInvalidState)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound) || errors.Is(err, ErrWithdrawalNotFound)
}
