/*
withdrawal.go - Withdrawal state machine

PURPOSE:
  Layered on the ledger: request -> approve -> process -> complete, with
  cancellation from pending or approved. The ledger is touched exactly
  once, when processing debits the funds that leave the system.

HOLDS:
  A pending or approved withdrawal reserves its amount against the
  user's available balance. Holds are never stored: they are derived
  from the withdrawal rows themselves, so releasing a hold is
  structural - any transition out of pending/approved (cancel, process)
  removes the row from the hold sum. There is no release path to forget.

  Once processing, the ledger debit exists and already reduces the
  derived balance, so processing rows must NOT also count as holds or
  the amount would be reserved twice.

STATE TRANSITIONS:
  pending   -> approved   (reviewer action)
  approved  -> processing -> complete  (funds leave, debit posts)
  pending   -> cancelled
  approved  -> cancelled
  Anything else fails ErrInvalidState.

SEE ALSO:
  - balance.go: AvailableBalance, the hold-aware check
  - engine.go: Same transaction discipline for the debit
*/
package economy

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestWithdrawal creates a pending withdrawal if the user's balance,
// net of existing holds, covers the amount. The check and the insert
// share one transaction so two concurrent requests cannot both reserve
// the same funds.
func (e *Engine) RequestWithdrawal(ctx context.Context, userID UserID, amount Money, prov Provenance) (*Withdrawal, error) {
	fees, err := CalculateFee(KindWithdrawal, amount)
	if err != nil {
		return nil, err
	}

	var w Withdrawal
	err = e.Store.WithTx(ctx, func(tx Store) error {
		v := NewValidator(tx, e.maxAmount)
		if err := v.ValidateAmount(amount); err != nil {
			return err
		}

		available, balance, held, err := v.Balances.AvailableBalance(ctx, userID)
		if err != nil {
			return err
		}
		if available.LessThan(amount) {
			return &InsufficientAvailableBalanceError{
				UserID:    userID,
				Balance:   balance,
				Held:      held,
				Requested: amount,
			}
		}

		now := e.now()
		w = Withdrawal{
			ID:        WithdrawalID(uuid.NewString()),
			UserID:    userID,
			Amount:    amount,
			Fee:       fees.Fee,
			Net:       fees.Net,
			Status:    WithdrawalPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return e.save(ctx, tx, w)
	})
	if err != nil {
		return nil, err
	}

	e.audit(ctx, AuditWithdrawalRequested, prov.Actor, amount, nil, map[string]string{
		"withdrawal": string(w.ID), "user": string(userID),
	})
	return &w, nil
}

// ApproveWithdrawal transitions pending -> approved.
func (e *Engine) ApproveWithdrawal(ctx context.Context, id WithdrawalID, reviewerID string, prov Provenance) (*Withdrawal, error) {
	var w Withdrawal
	err := e.Store.WithTx(ctx, func(tx Store) error {
		current, err := e.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status != WithdrawalPending {
			return &InvalidStateError{WithdrawalID: id, From: current.Status, To: WithdrawalApproved}
		}

		now := e.now()
		w = *current
		w.Status = WithdrawalApproved
		w.ReviewedBy = reviewerID
		w.ReviewedAt = &now
		w.UpdatedAt = now
		return e.save(ctx, tx, w)
	})
	if err != nil {
		return nil, err
	}

	e.audit(ctx, AuditWithdrawalApproved, reviewerID, w.Amount, nil, map[string]string{
		"withdrawal": string(w.ID), "user": string(w.UserID),
	})
	return &w, nil
}

// ProcessWithdrawal transitions approved -> processing -> complete.
// This is the only point a WITHDRAWAL debit is written; the balance is
// re-checked in the same transaction because transfers may have drained
// the account since approval.
func (e *Engine) ProcessWithdrawal(ctx context.Context, id WithdrawalID, prov Provenance) (*Withdrawal, error) {
	var w Withdrawal
	err := e.Store.WithTx(ctx, func(tx Store) error {
		current, err := e.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status != WithdrawalApproved {
			return &InvalidStateError{WithdrawalID: id, From: current.Status, To: WithdrawalProcessing}
		}

		v := NewValidator(tx, e.maxAmount)
		if err := v.ValidateBalance(ctx, current.UserID, current.Amount); err != nil {
			return err
		}

		// The row passes through processing before the debit posts. Both
		// saves share the transaction, so no committed state ever shows a
		// processing row without its debit or vice versa.
		now := e.now()
		w = *current
		w.Status = WithdrawalProcessing
		w.UpdatedAt = now
		if err := e.save(ctx, tx, w); err != nil {
			return err
		}

		debit := e.newEntry(KindWithdrawal, current.UserID, "", current.Amount,
			FeeResult{Fee: current.Fee, Net: current.Net}, prov, map[string]string{
				"withdrawal": string(current.ID),
			})
		if err := NewLedger(tx).Append(ctx, debit); err != nil {
			return err
		}

		w.Status = WithdrawalComplete
		w.ProcessedAt = &now
		w.LedgerEntryID = debit.ID
		return e.save(ctx, tx, w)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("withdrawal processed",
		zap.String("withdrawal", string(w.ID)),
		zap.String("user", string(w.UserID)),
		zap.String("amount", w.Amount.String()))
	e.audit(ctx, AuditWithdrawalProcessed, prov.Actor, w.Amount, []EntryID{w.LedgerEntryID}, map[string]string{
		"withdrawal": string(w.ID), "user": string(w.UserID),
	})
	return &w, nil
}

// CancelWithdrawal transitions pending|approved -> cancelled. No ledger
// effect: no debit was ever posted, and dropping out of the non-terminal
// states releases the hold.
func (e *Engine) CancelWithdrawal(ctx context.Context, id WithdrawalID, userID UserID, prov Provenance) (*Withdrawal, error) {
	var w Withdrawal
	err := e.Store.WithTx(ctx, func(tx Store) error {
		current, err := e.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if userID != "" && current.UserID != userID {
			return ErrWithdrawalNotFound
		}
		if current.Status != WithdrawalPending && current.Status != WithdrawalApproved {
			return &InvalidStateError{WithdrawalID: id, From: current.Status, To: WithdrawalCancelled}
		}

		w = *current
		w.Status = WithdrawalCancelled
		w.UpdatedAt = e.now()
		return e.save(ctx, tx, w)
	})
	if err != nil {
		return nil, err
	}

	e.audit(ctx, AuditWithdrawalCancelled, prov.Actor, w.Amount, nil, map[string]string{
		"withdrawal": string(w.ID), "user": string(w.UserID),
	})
	return &w, nil
}

// GetWithdrawal returns a withdrawal, or ErrWithdrawalNotFound.
func (e *Engine) GetWithdrawal(ctx context.Context, id WithdrawalID) (*Withdrawal, error) {
	return e.load(ctx, e.Store, id)
}

// WithdrawalsForUser lists a user's withdrawals, newest first.
func (e *Engine) WithdrawalsForUser(ctx context.Context, userID UserID) ([]Withdrawal, error) {
	ws, err := e.Store.WithdrawalsByUser(ctx, userID)
	if err != nil {
		return nil, &StoreError{Op: "list withdrawals", Err: err}
	}
	return ws, nil
}

func (e *Engine) load(ctx context.Context, s Store, id WithdrawalID) (*Withdrawal, error) {
	w, err := s.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, &StoreError{Op: "get withdrawal", Err: err}
	}
	if w == nil {
		return nil, ErrWithdrawalNotFound
	}
	return w, nil
}

func (e *Engine) save(ctx context.Context, s Store, w Withdrawal) error {
	if err := s.SaveWithdrawal(ctx, w); err != nil {
		return &StoreError{Op: "save withdrawal", Err: err}
	}
	return nil
}
