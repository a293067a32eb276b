/*
balance.go - Balance derivation

PURPOSE:
  Answers "how much does this user have?" by aggregating the ledger on
  every call. No cached balance field exists anywhere in the system.

KEY INSIGHT:
  Because balance is a read-time fold over the ledger, balance
  corruption is structurally impossible: any bug can at worst miscompute
  a derived number, never silently lose the ledger's history. A reversed
  entry drops out of both sums, which is exactly how a reversal undoes
  its economic effect.

AVAILABILITY:
  AvailableBalance subtracts withdrawal holds (pending/approved
  withdrawal amounts) from the derived balance. That is what stops a
  user requesting more than they have while earlier requests are still
  in flight, even though the ledger itself shows a surplus until the
  debit posts.

SEE ALSO:
  - store.go: SumCompleted and SumHolds, the only queries used here
  - validate.go: Consumes HasSufficient
*/
package economy

import "context"

// BalanceCalculator derives balances from a Store. It is a pure reader:
// pass the transactional store view to compute inside a transaction.
type BalanceCalculator struct {
	Store Store
}

func NewBalanceCalculator(store Store) *BalanceCalculator {
	return &BalanceCalculator{Store: store}
}

// Balance computes the user's balance fresh from the ledger.
func (bc *BalanceCalculator) Balance(ctx context.Context, userID UserID) (BalanceSummary, error) {
	credits, debits, err := bc.Store.SumCompleted(ctx, userID)
	if err != nil {
		return BalanceSummary{}, &StoreError{Op: "sum completed", Err: err}
	}
	return BalanceSummary{
		UserID:       userID,
		Balance:      credits.Sub(debits),
		TotalCredits: credits,
		TotalDebits:  debits,
	}, nil
}

// HasSufficient reports whether the derived balance covers amount.
func (bc *BalanceCalculator) HasSufficient(ctx context.Context, userID UserID, amount Money) (bool, error) {
	summary, err := bc.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return summary.Balance.GreaterThanOrEqual(amount), nil
}

// AvailableBalance returns balance net of withdrawal holds, plus the
// components for error reporting.
func (bc *BalanceCalculator) AvailableBalance(ctx context.Context, userID UserID) (available, balance, held Money, err error) {
	summary, err := bc.Balance(ctx, userID)
	if err != nil {
		return Money{}, Money{}, Money{}, err
	}
	held, err = bc.Store.SumHolds(ctx, userID)
	if err != nil {
		return Money{}, Money{}, Money{}, &StoreError{Op: "sum holds", Err: err}
	}
	return summary.Balance.Sub(held), summary.Balance, held, nil
}
