package economy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/economy-engine/economy"
)

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestApplyExternalEvent_CompletedPayment_Credits(t *testing.T) {
	// GIVEN: A fresh ledger
	// WHEN: A payment.completed event for 100.00 arrives
	// THEN: Alice is credited once and the event is marked applied

	e := newTestEngine(t)

	res, err := e.ApplyExternalEvent(context.Background(), economy.ExternalEvent{
		EventID:   "evt-1",
		EventType: economy.EventPaymentCompleted,
		UserID:    "alice",
		Amount:    money("100"),
	})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.NotEmpty(t, res.EntryID)
	assertBalance(t, e, "alice", "100")
}

func TestApplyExternalEvent_Replay_NoDoubleCredit(t *testing.T) {
	// GIVEN: An already applied payment.completed event
	// WHEN: The provider redelivers it (at-least-once delivery)
	// THEN: Applied=false, same entry id, balance unchanged - and the
	//       call is a success so the provider stops retrying

	e := newTestEngine(t)
	ev := economy.ExternalEvent{
		EventID:   "evt-1",
		EventType: economy.EventPaymentCompleted,
		UserID:    "alice",
		Amount:    money("100"),
	}

	first, err := e.ApplyExternalEvent(context.Background(), ev)
	require.NoError(t, err)

	second, err := e.ApplyExternalEvent(context.Background(), ev)
	require.NoError(t, err, "replay must be success, not failure")

	assert.False(t, second.Applied)
	assert.Equal(t, first.EntryID, second.EntryID)
	assertBalance(t, e, "alice", "100")
}

func TestApplyExternalEvent_FailedApply_NotMarked(t *testing.T) {
	// GIVEN: An event that fails validation (zero amount)
	// WHEN: It is applied, then retried with a fixed amount under the
	//       same event id
	// THEN: The failed attempt left no marker, so the retry applies

	e := newTestEngine(t)

	_, err := e.ApplyExternalEvent(context.Background(), economy.ExternalEvent{
		EventID:   "evt-1",
		EventType: economy.EventPaymentCompleted,
		UserID:    "alice",
		Amount:    money("0"),
	})
	require.Error(t, err)

	res, err := e.ApplyExternalEvent(context.Background(), economy.ExternalEvent{
		EventID:   "evt-1",
		EventType: economy.EventPaymentCompleted,
		UserID:    "alice",
		Amount:    money("100"),
	})
	require.NoError(t, err)
	assert.True(t, res.Applied, "marker and credit commit together; a failed apply leaves neither")
	assertBalance(t, e, "alice", "100")
}

// =============================================================================
// REFUND TESTS
// =============================================================================

func TestApplyExternalEvent_Refund_ReversesOriginal(t *testing.T) {
	// GIVEN: A credited payment.completed event
	// WHEN: The matching payment.refunded arrives, referencing the
	//       original event id
	// THEN: The credit is reversed and the balance returns to zero

	e := newTestEngine(t)

	first, err := e.ApplyExternalEvent(context.Background(), economy.ExternalEvent{
		EventID:   "evt-1",
		EventType: economy.EventPaymentCompleted,
		UserID:    "alice",
		Amount:    money("100"),
	})
	require.NoError(t, err)

	res, err := e.ApplyExternalEvent(context.Background(), economy.ExternalEvent{
		EventID:   "evt-2",
		EventType: economy.EventPaymentRefunded,
		UserID:    "alice",
		Amount:    money("100"),
		RequestID: "evt-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)

	assertBalance(t, e, "alice", "0")

	original, err := e.Store.GetEntry(context.Background(), first.EntryID)
	require.NoError(t, err)
	assert.Equal(t, economy.StatusReversed, original.Status)
}

func TestApplyExternalEvent_Refund_FallbackByAmount(t *testing.T) {
	// GIVEN: A credited purchase, refund arrives without the original
	//        event reference
	// WHEN: Applying the refund
	// THEN: It resolves the newest complete purchase of the same amount

	e := newTestEngine(t)
	fund(t, e, "alice", "100")

	res, err := e.ApplyExternalEvent(context.Background(), economy.ExternalEvent{
		EventID:   "evt-refund",
		EventType: economy.EventPaymentRefunded,
		UserID:    "alice",
		Amount:    money("100"),
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assertBalance(t, e, "alice", "0")
}

func TestApplyExternalEvent_Refund_NoMatch_Fails(t *testing.T) {
	// GIVEN: No purchase to match
	// WHEN: A refund arrives
	// THEN: ErrEntryNotFound and no marker, so a later redelivery (after
	//       the completed event lands) can still apply

	e := newTestEngine(t)

	_, err := e.ApplyExternalEvent(context.Background(), economy.ExternalEvent{
		EventID:   "evt-refund",
		EventType: economy.EventPaymentRefunded,
		UserID:    "alice",
		Amount:    money("100"),
	})
	assert.ErrorIs(t, err, economy.ErrEntryNotFound)
}

func TestApplyExternalEvent_RefundReplay_NoDoubleReversal(t *testing.T) {
	// GIVEN: An applied refund
	// WHEN: The refund event is redelivered
	// THEN: Applied=false; the credit is not reversed "twice"

	e := newTestEngine(t)
	fund(t, e, "alice", "100")

	ev := economy.ExternalEvent{
		EventID:   "evt-refund",
		EventType: economy.EventPaymentRefunded,
		UserID:    "alice",
		Amount:    money("100"),
	}
	_, err := e.ApplyExternalEvent(context.Background(), ev)
	require.NoError(t, err)

	res, err := e.ApplyExternalEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assertBalance(t, e, "alice", "0")
}

// =============================================================================
// UNKNOWN EVENT TYPES
// =============================================================================

func TestApplyExternalEvent_UnknownType_MarkedNoEffect(t *testing.T) {
	// GIVEN: An event type this engine does not handle
	// WHEN: It is delivered, twice
	// THEN: Both deliveries succeed, no ledger effect, and the second is
	//       recognized as a replay (the provider is not retried forever)

	e := newTestEngine(t)
	ev := economy.ExternalEvent{
		EventID:   "evt-weird",
		EventType: "payment.disputed",
		UserID:    "alice",
		Amount:    money("100"),
	}

	first, err := e.ApplyExternalEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Empty(t, first.EntryID)

	second, err := e.ApplyExternalEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, second.Applied)

	assertBalance(t, e, "alice", "0")
}
