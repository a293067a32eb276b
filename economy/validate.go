/*
validate.go - Precondition checks for every mutating operation

PURPOSE:
  Side-effect-free validators consumed by the orchestrator and the
  withdrawal workflow. Each returns a tagged error or nil; nothing is
  recovered locally and nothing is written on failure.

  ValidateTransfer is the single gate every money-moving operation
  passes before any ledger write is attempted. It runs against the
  transactional store view, so the balance it checks is the balance the
  commit will see.
*/
package economy

import "context"

// Validator bundles the precondition checks. MaxAmount caps a single
// movement; it guards against fat-finger amounts, not against wealth.
type Validator struct {
	Balances  *BalanceCalculator
	MaxAmount Money
}

func NewValidator(store Store, maxAmount Money) *Validator {
	return &Validator{Balances: NewBalanceCalculator(store), MaxAmount: maxAmount}
}

// ValidateAmount rejects non-positive amounts and amounts above the
// configured maximum.
func (v *Validator) ValidateAmount(amount Money) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if v.MaxAmount.IsPositive() && amount.GreaterThan(v.MaxAmount) {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateUsers rejects empty parties and self-transfers. A debit with
// an empty recipient would credit no account and strand the funds.
func (v *Validator) ValidateUsers(from, to UserID) error {
	if from == "" || to == "" {
		return ErrMissingUser
	}
	if from == to {
		return ErrSelfTransfer
	}
	return nil
}

// ValidateBalance rejects debits exceeding the derived balance.
func (v *Validator) ValidateBalance(ctx context.Context, userID UserID, amount Money) error {
	summary, err := v.Balances.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if summary.Balance.LessThan(amount) {
		return &InsufficientBalanceError{
			UserID:    userID,
			Available: summary.Balance,
			Requested: amount,
		}
	}
	return nil
}

// ValidateTransfer composes amount, user, and balance checks.
func (v *Validator) ValidateTransfer(ctx context.Context, from, to UserID, amount Money) error {
	if err := v.ValidateAmount(amount); err != nil {
		return err
	}
	if err := v.ValidateUsers(from, to); err != nil {
		return err
	}
	return v.ValidateBalance(ctx, from, amount)
}
