package economy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/economy-engine/economy"
	"github.com/warp/economy-engine/economy/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func availableOf(t *testing.T, e *economy.Engine, user economy.UserID) (available, balance, held economy.Money) {
	t.Helper()
	available, balance, held, err := economy.NewBalanceCalculator(e.Store).AvailableBalance(context.Background(), user)
	require.NoError(t, err)
	return available, balance, held
}

// =============================================================================
// HOLD TESTS
// =============================================================================

func TestRequestWithdrawal_OpensHold(t *testing.T) {
	// GIVEN: Alice holds 100.00
	// WHEN: She requests a 60.00 withdrawal
	// THEN: Balance stays 100.00 (no ledger row yet) but only 40.00 is
	//       available; the 60.00 is held

	e := newTestEngine(t)
	fund(t, e, "alice", "100")

	w, err := e.RequestWithdrawal(context.Background(), "alice", money("60"), prov())
	require.NoError(t, err)
	assert.Equal(t, economy.WithdrawalPending, w.Status)

	available, balance, held := availableOf(t, e, "alice")
	assert.True(t, balance.Equal(money("100")), "balance %s", balance)
	assert.True(t, held.Equal(money("60")), "held %s", held)
	assert.True(t, available.Equal(money("40")), "available %s", available)
}

func TestRequestWithdrawal_ExceedsAvailable_Rejected(t *testing.T) {
	// GIVEN: Alice holds 100.00 with a 60.00 pending withdrawal
	// WHEN: She requests another 50.00
	// THEN: Rejected against the available (not raw) balance

	e := newTestEngine(t)
	fund(t, e, "alice", "100")
	_, err := e.RequestWithdrawal(context.Background(), "alice", money("60"), prov())
	require.NoError(t, err)

	_, err = e.RequestWithdrawal(context.Background(), "alice", money("50"), prov())

	assert.ErrorIs(t, err, economy.ErrInsufficientAvailableBalance)
	var availErr *economy.InsufficientAvailableBalanceError
	require.ErrorAs(t, err, &availErr)
	assert.True(t, availErr.Held.Equal(money("60")))
	assert.True(t, availErr.Balance.Equal(money("100")))
}

func TestCancelWithdrawal_ReleasesHold(t *testing.T) {
	// GIVEN: A 60.00 pending withdrawal holding Alice's funds
	// WHEN: It is cancelled
	// THEN: The full balance is available again

	e := newTestEngine(t)
	fund(t, e, "alice", "100")
	w, err := e.RequestWithdrawal(context.Background(), "alice", money("60"), prov())
	require.NoError(t, err)

	cancelled, err := e.CancelWithdrawal(context.Background(), w.ID, "", prov())
	require.NoError(t, err)
	assert.Equal(t, economy.WithdrawalCancelled, cancelled.Status)

	available, _, held := availableOf(t, e, "alice")
	assert.True(t, held.IsZero(), "held %s", held)
	assert.True(t, available.Equal(money("100")), "available %s", available)
}

func TestProcessWithdrawal_HoldNotDoubleCounted(t *testing.T) {
	// GIVEN: An approved 60.00 withdrawal
	// WHEN: It is processed (ledger debit posts)
	// THEN: Available drops to 40.00 once - the completed row no longer
	//       counts as a hold on top of the debit

	e := newTestEngine(t)
	fund(t, e, "alice", "100")
	w, err := e.RequestWithdrawal(context.Background(), "alice", money("60"), prov())
	require.NoError(t, err)
	_, err = e.ApproveWithdrawal(context.Background(), w.ID, "reviewer-1", prov())
	require.NoError(t, err)

	_, err = e.ProcessWithdrawal(context.Background(), w.ID, prov())
	require.NoError(t, err)

	available, balance, held := availableOf(t, e, "alice")
	assert.True(t, balance.Equal(money("40")), "balance %s", balance)
	assert.True(t, held.IsZero(), "held %s", held)
	assert.True(t, available.Equal(money("40")), "available %s", available)
}

// =============================================================================
// STATE MACHINE TESTS
// =============================================================================

func TestWithdrawal_FullLifecycle(t *testing.T) {
	// GIVEN: Alice holds 100.00
	// WHEN: Request -> approve -> process
	// THEN: Each transition is recorded and the final row carries the
	//       reviewer, timestamps, and the ledger debit it produced

	e := newTestEngine(t)
	fund(t, e, "alice", "100")

	w, err := e.RequestWithdrawal(context.Background(), "alice", money("60"), prov())
	require.NoError(t, err)
	assert.Equal(t, economy.WithdrawalPending, w.Status)

	approved, err := e.ApproveWithdrawal(context.Background(), w.ID, "reviewer-1", prov())
	require.NoError(t, err)
	assert.Equal(t, economy.WithdrawalApproved, approved.Status)
	assert.Equal(t, "reviewer-1", approved.ReviewedBy)
	require.NotNil(t, approved.ReviewedAt)

	done, err := e.ProcessWithdrawal(context.Background(), w.ID, prov())
	require.NoError(t, err)
	assert.Equal(t, economy.WithdrawalComplete, done.Status)
	require.NotNil(t, done.ProcessedAt)
	require.NotEmpty(t, done.LedgerEntryID)

	debit, err := e.Store.GetEntry(context.Background(), done.LedgerEntryID)
	require.NoError(t, err)
	require.NotNil(t, debit)
	assert.Equal(t, economy.KindWithdrawal, debit.Kind)
	assert.Equal(t, economy.UserID("alice"), debit.FromUser)
	assert.True(t, debit.Amount.Equal(money("60")))
}

func TestProcessWithdrawal_WithoutApproval_Rejected(t *testing.T) {
	// GIVEN: A pending withdrawal
	// WHEN: Processing is attempted directly
	// THEN: InvalidStateError; no debit is written

	e := newTestEngine(t)
	fund(t, e, "alice", "100")
	w, err := e.RequestWithdrawal(context.Background(), "alice", money("60"), prov())
	require.NoError(t, err)

	_, err = e.ProcessWithdrawal(context.Background(), w.ID, prov())

	assert.ErrorIs(t, err, economy.ErrInvalidState)
	var stateErr *economy.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, economy.WithdrawalPending, stateErr.From)

	assertBalance(t, e, "alice", "100")
}

func TestProcessWithdrawal_BalanceDrained_Rejected(t *testing.T) {
	// GIVEN: An approved withdrawal, but transfers drained the account
	//        after approval (transfers check raw balance, not holds)
	// WHEN: Processing
	// THEN: Rejected by the in-transaction re-check; status unchanged

	e := newTestEngine(t)
	fund(t, e, "alice", "100")
	w, err := e.RequestWithdrawal(context.Background(), "alice", money("80"), prov())
	require.NoError(t, err)
	_, err = e.ApproveWithdrawal(context.Background(), w.ID, "reviewer-1", prov())
	require.NoError(t, err)

	// Drain the raw balance out from under the approval.
	_, err = e.ExecuteTransfer(context.Background(), "alice", "bob", money("90"), prov())
	require.NoError(t, err)

	_, err = e.ProcessWithdrawal(context.Background(), w.ID, prov())
	assert.ErrorIs(t, err, economy.ErrInsufficientBalance)

	current, err := e.GetWithdrawal(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, economy.WithdrawalApproved, current.Status)
}

func TestCancelWithdrawal_AfterComplete_Rejected(t *testing.T) {
	// GIVEN: A completed withdrawal
	// WHEN: Cancelling it
	// THEN: InvalidStateError - complete is terminal

	e := newTestEngine(t)
	fund(t, e, "alice", "100")
	w, err := e.RequestWithdrawal(context.Background(), "alice", money("60"), prov())
	require.NoError(t, err)
	_, err = e.ApproveWithdrawal(context.Background(), w.ID, "reviewer-1", prov())
	require.NoError(t, err)
	_, err = e.ProcessWithdrawal(context.Background(), w.ID, prov())
	require.NoError(t, err)

	_, err = e.CancelWithdrawal(context.Background(), w.ID, "", prov())
	assert.ErrorIs(t, err, economy.ErrInvalidState)
}

func TestCancelWithdrawal_FromApproved_Allowed(t *testing.T) {
	// GIVEN: An approved withdrawal
	// WHEN: Cancelling it
	// THEN: Allowed; approval does not lock the user in

	e := newTestEngine(t)
	fund(t, e, "alice", "100")
	w, err := e.RequestWithdrawal(context.Background(), "alice", money("60"), prov())
	require.NoError(t, err)
	_, err = e.ApproveWithdrawal(context.Background(), w.ID, "reviewer-1", prov())
	require.NoError(t, err)

	cancelled, err := e.CancelWithdrawal(context.Background(), w.ID, "", prov())
	require.NoError(t, err)
	assert.Equal(t, economy.WithdrawalCancelled, cancelled.Status)
}

func TestCancelWithdrawal_WrongOwner_NotFound(t *testing.T) {
	// GIVEN: Alice's pending withdrawal
	// WHEN: Bob tries to cancel it (owner-scoped call)
	// THEN: ErrWithdrawalNotFound - existence is not leaked to non-owners

	e := newTestEngine(t)
	fund(t, e, "alice", "100")
	w, err := e.RequestWithdrawal(context.Background(), "alice", money("60"), prov())
	require.NoError(t, err)

	_, err = e.CancelWithdrawal(context.Background(), w.ID, "bob", prov())
	assert.ErrorIs(t, err, economy.ErrWithdrawalNotFound)
}

func TestApproveWithdrawal_Twice_Rejected(t *testing.T) {
	// GIVEN: An approved withdrawal
	// WHEN: Approving it again
	// THEN: InvalidStateError

	e := newTestEngine(t)
	fund(t, e, "alice", "100")
	w, err := e.RequestWithdrawal(context.Background(), "alice", money("60"), prov())
	require.NoError(t, err)
	_, err = e.ApproveWithdrawal(context.Background(), w.ID, "reviewer-1", prov())
	require.NoError(t, err)

	_, err = e.ApproveWithdrawal(context.Background(), w.ID, "reviewer-2", prov())
	assert.ErrorIs(t, err, economy.ErrInvalidState)
}

func TestWithdrawalsForUser_NewestFirst(t *testing.T) {
	// GIVEN: Two withdrawals for Alice
	// WHEN: Listing them
	// THEN: Both are returned

	e := newTestEngine(t)
	fund(t, e, "alice", "100")
	_, err := e.RequestWithdrawal(context.Background(), "alice", money("10"), prov())
	require.NoError(t, err)
	_, err = e.RequestWithdrawal(context.Background(), "alice", money("20"), prov())
	require.NoError(t, err)

	ws, err := e.WithdrawalsForUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, ws, 2)
}

// =============================================================================
// STATE MACHINE TESTS
// =============================================================================

// statusTapStore records every withdrawal status persisted through it,
// inside and outside transactions.
type statusTapStore struct {
	economy.TxStore
	statuses *[]economy.WithdrawalStatus
}

func (s *statusTapStore) SaveWithdrawal(ctx context.Context, w economy.Withdrawal) error {
	*s.statuses = append(*s.statuses, w.Status)
	return s.TxStore.SaveWithdrawal(ctx, w)
}

func (s *statusTapStore) WithTx(ctx context.Context, fn func(economy.Store) error) error {
	return s.TxStore.WithTx(ctx, func(tx economy.Store) error {
		return fn(&statusTap{Store: tx, statuses: s.statuses})
	})
}

type statusTap struct {
	economy.Store
	statuses *[]economy.WithdrawalStatus
}

func (s *statusTap) SaveWithdrawal(ctx context.Context, w economy.Withdrawal) error {
	*s.statuses = append(*s.statuses, w.Status)
	return s.Store.SaveWithdrawal(ctx, w)
}

func TestProcessWithdrawal_PassesThroughProcessing(t *testing.T) {
	// GIVEN: An approved withdrawal
	// WHEN: Processing it
	// THEN: The row is persisted as processing before the ledger debit
	//       posts, then as complete, all inside one transaction

	var statuses []economy.WithdrawalStatus
	tap := &statusTapStore{TxStore: store.NewTxMemory(), statuses: &statuses}
	e := economy.NewEngine(tap, economy.Config{})

	fund(t, e, "alice", "100")
	w, err := e.RequestWithdrawal(context.Background(), "alice", money("60"), prov())
	require.NoError(t, err)
	_, err = e.ApproveWithdrawal(context.Background(), w.ID, "reviewer-1", prov())
	require.NoError(t, err)

	statuses = statuses[:0]
	done, err := e.ProcessWithdrawal(context.Background(), w.ID, prov())
	require.NoError(t, err)

	assert.Equal(t, []economy.WithdrawalStatus{
		economy.WithdrawalProcessing,
		economy.WithdrawalComplete,
	}, statuses)
	assert.Equal(t, economy.WithdrawalComplete, done.Status)
	assertBalance(t, e, "alice", "40")
}
