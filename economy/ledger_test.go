package economy_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/economy-engine/economy"
	"github.com/warp/economy-engine/economy/store"
)

// =============================================================================
// ENTRY INVARIANT TESTS
// =============================================================================

func validEntry() economy.LedgerEntry {
	return economy.LedgerEntry{
		ID:        "entry-1",
		Kind:      economy.KindTransfer,
		FromUser:  "alice",
		ToUser:    "bob",
		Amount:    money("100"),
		Fee:       money("1.46"),
		Net:       money("98.54"),
		Status:    economy.StatusComplete,
		CreatedAt: time.Now().UTC(),
	}
}

func TestCheckEntry_Valid(t *testing.T) {
	assert.NoError(t, economy.CheckEntry(validEntry()))
}

func TestCheckEntry_NoUsers_Rejected(t *testing.T) {
	// GIVEN: An entry with neither sender nor recipient
	// THEN: Rejected - money must touch someone

	e := validEntry()
	e.FromUser, e.ToUser = "", ""
	assert.Error(t, economy.CheckEntry(e))
}

func TestCheckEntry_SingleSidedEntries_Allowed(t *testing.T) {
	// GIVEN: A purchase (no sender) and a withdrawal (no recipient)
	// THEN: Both are valid shapes

	purchase := validEntry()
	purchase.FromUser = ""
	purchase.Fee = decimal.Zero
	purchase.Net = purchase.Amount
	assert.NoError(t, economy.CheckEntry(purchase))

	withdrawal := validEntry()
	withdrawal.ToUser = ""
	withdrawal.Fee = decimal.Zero
	withdrawal.Net = withdrawal.Amount
	assert.NoError(t, economy.CheckEntry(withdrawal))
}

func TestCheckEntry_ArithmeticMustHold(t *testing.T) {
	// GIVEN: amount - fee != net
	// THEN: Rejected; the three fields are one fact stored redundantly

	e := validEntry()
	e.Net = money("98.55")
	assert.Error(t, economy.CheckEntry(e))
}

func TestCheckEntry_NonPositiveAmounts_Rejected(t *testing.T) {
	e := validEntry()
	e.Amount = money("-5")
	assert.Error(t, economy.CheckEntry(e))

	e = validEntry()
	e.Fee = money("-1")
	assert.Error(t, economy.CheckEntry(e))

	e = validEntry()
	e.Amount, e.Fee, e.Net = money("1"), money("1"), money("0")
	assert.Error(t, economy.CheckEntry(e), "net must be strictly positive")
}

// =============================================================================
// LEDGER WRAPPER TESTS
// =============================================================================

func TestLedger_Append_RejectsBadEntryBeforeWrite(t *testing.T) {
	// GIVEN: A batch where the second entry is invalid
	// WHEN: Appending
	// THEN: Nothing is written - the batch is all or nothing

	mem := store.NewMemory()
	l := economy.NewLedger(mem)

	good := validEntry()
	bad := validEntry()
	bad.ID = "entry-2"
	bad.Net = money("1")

	err := l.Append(context.Background(), good, bad)
	require.Error(t, err)

	_, err = l.Entry(context.Background(), good.ID)
	assert.ErrorIs(t, err, economy.ErrEntryNotFound)
}

func TestLedger_Entry_NotFound(t *testing.T) {
	l := economy.NewLedger(store.NewMemory())

	_, err := l.Entry(context.Background(), "ghost")
	assert.ErrorIs(t, err, economy.ErrEntryNotFound)
}

// =============================================================================
// BALANCE DERIVATION TESTS
// =============================================================================

func TestBalance_DerivedFromCompletedOnly(t *testing.T) {
	// GIVEN: A complete credit and a reversed credit for the same user
	// WHEN: Deriving the balance
	// THEN: Only the complete row counts

	mem := store.NewMemory()
	l := economy.NewLedger(mem)

	credit := validEntry()
	credit.FromUser = ""
	credit.Fee = decimal.Zero
	credit.Net = credit.Amount
	credit.ToUser = "bob"

	reversedCredit := credit
	reversedCredit.ID = "entry-2"
	reversedCredit.Status = economy.StatusReversed

	require.NoError(t, l.Append(context.Background(), credit, reversedCredit))

	summary, err := economy.NewBalanceCalculator(mem).Balance(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, summary.Balance.Equal(money("100")), "balance %s", summary.Balance)
}

func TestBalance_CreditsNetDebitsGross(t *testing.T) {
	// GIVEN: Bob received a transfer (net 98.54) and sent one (amount 50)
	// WHEN: Deriving his balance
	// THEN: Credits count at net, debits at gross:
	//       98.54 - 50 = 48.54

	mem := store.NewMemory()
	l := economy.NewLedger(mem)

	in := validEntry() // alice -> bob, net 98.54
	out := economy.LedgerEntry{
		ID:        "entry-out",
		Kind:      economy.KindTransfer,
		FromUser:  "bob",
		ToUser:    "carol",
		Amount:    money("50"),
		Fee:       money("0.73"),
		Net:       money("49.27"),
		Status:    economy.StatusComplete,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, l.Append(context.Background(), in, out))

	summary, err := economy.NewBalanceCalculator(mem).Balance(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, summary.Balance.Equal(money("48.54")), "balance %s", summary.Balance)
	assert.True(t, summary.TotalCredits.Equal(money("98.54")))
	assert.True(t, summary.TotalDebits.Equal(money("50")))
}

func TestBalance_UnknownUser_Zero(t *testing.T) {
	summary, err := economy.NewBalanceCalculator(store.NewMemory()).Balance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, summary.Balance.IsZero())
}
