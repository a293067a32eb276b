package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/economy-engine/api"
	"github.com/warp/economy-engine/economy"
	"github.com/warp/economy-engine/economy/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	engine := economy.NewEngine(store.NewTxMemory(), economy.Config{})
	router := api.NewRouter(api.NewHandler(engine), []string{"*"})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func get(t *testing.T, srv *httptest.Server, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func purchase(t *testing.T, srv *httptest.Server, user, amount string) {
	t.Helper()
	resp, _ := post(t, srv, "/api/purchases", api.PurchaseRequest{UserID: user, Amount: amount})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// OPERATION ENDPOINT TESTS
// =============================================================================

func TestAPI_PurchaseThenBalance(t *testing.T) {
	// GIVEN: A running server
	// WHEN: POST /api/purchases then GET the balance
	// THEN: The credit shows up, amounts as decimal strings

	srv := newTestServer(t)
	purchase(t, srv, "alice", "100")

	var balance api.BalanceDTO
	resp := get(t, srv, "/api/users/alice/balance", &balance)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", balance.UserID)
	assert.Equal(t, "100", balance.Balance)
	assert.Equal(t, "100", balance.Available)
	assert.Equal(t, "0", balance.Held)
}

func TestAPI_Transfer_Succeeds(t *testing.T) {
	// GIVEN: Alice funded with 100
	// WHEN: POST /api/transfers for the full amount
	// THEN: 201 with fee/net and both rows

	srv := newTestServer(t)
	purchase(t, srv, "alice", "100")

	resp, body := post(t, srv, "/api/transfers", api.TransferRequest{
		FromUser: "alice", ToUser: "bob", Amount: "100",
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "1.46", body["fee"])
	assert.Equal(t, "98.54", body["net"])
	assert.Len(t, body["entries"], 2)

	var bob api.BalanceDTO
	get(t, srv, "/api/users/bob/balance", &bob)
	assert.Equal(t, "98.54", bob.Balance)
}

func TestAPI_Transfer_InsufficientFunds_422(t *testing.T) {
	srv := newTestServer(t)
	purchase(t, srv, "alice", "10")

	resp, body := post(t, srv, "/api/transfers", api.TransferRequest{
		FromUser: "alice", ToUser: "bob", Amount: "50",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "Insufficient funds", body["error"])
}

func TestAPI_Transfer_SelfTransfer_400(t *testing.T) {
	srv := newTestServer(t)
	purchase(t, srv, "alice", "100")

	resp, _ := post(t, srv, "/api/transfers", api.TransferRequest{
		FromUser: "alice", ToUser: "alice", Amount: "10",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Transfer_MissingRecipient_400(t *testing.T) {
	// GIVEN: Alice holds 100
	// WHEN: The transfer body omits to_user
	// THEN: 400 and her balance is untouched; nothing was burned

	srv := newTestServer(t)
	purchase(t, srv, "alice", "100")

	resp, _ := post(t, srv, "/api/transfers", api.TransferRequest{
		FromUser: "alice", Amount: "50",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var balance api.BalanceDTO
	get(t, srv, "/api/users/alice/balance", &balance)
	assert.Equal(t, "100", balance.Balance)
}

func TestAPI_Transfer_MalformedAmount_400(t *testing.T) {
	// GIVEN: An amount that is not a decimal string
	// THEN: 400 at the edge, before any domain logic runs

	srv := newTestServer(t)

	resp, _ := post(t, srv, "/api/transfers", api.TransferRequest{
		FromUser: "alice", ToUser: "bob", Amount: "ten bucks",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Reversal_UnknownEntry_404(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := post(t, srv, "/api/reversals", api.ReversalRequest{EntryID: "ghost", Reason: "fraud"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Reversal_Twice_409(t *testing.T) {
	// GIVEN: A committed purchase reversed once
	// WHEN: Reversing the same entry again
	// THEN: 409 Conflict

	srv := newTestServer(t)
	resp, body := post(t, srv, "/api/purchases", api.PurchaseRequest{UserID: "alice", Amount: "100"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	entries := body["entries"].([]any)
	entryID := entries[0].(map[string]any)["id"].(string)

	resp, _ = post(t, srv, "/api/reversals", api.ReversalRequest{EntryID: entryID, Reason: "chargeback"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = post(t, srv, "/api/reversals", api.ReversalRequest{EntryID: entryID, Reason: "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_MarketplacePurchase(t *testing.T) {
	srv := newTestServer(t)
	purchase(t, srv, "buyer", "100")

	resp, body := post(t, srv, "/api/marketplace/purchases", api.MarketplacePurchaseRequest{
		BuyerID: "buyer", SellerID: "seller", ListingID: "listing-42", Amount: "100",
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "5", body["fee"])
	assert.Equal(t, "95", body["net"])
}

func TestAPI_Ledger_ReturnsHistory(t *testing.T) {
	srv := newTestServer(t)
	purchase(t, srv, "alice", "100")

	var entries []api.LedgerEntryDTO
	resp := get(t, srv, "/api/users/alice/ledger", &entries)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, entries, 1)
	assert.Equal(t, "purchase", entries[0].Kind)
	assert.Equal(t, "100", entries[0].Amount)
}

// =============================================================================
// WITHDRAWAL ENDPOINT TESTS
// =============================================================================

func TestAPI_WithdrawalLifecycle(t *testing.T) {
	// GIVEN: Alice funded with 100
	// WHEN: Request -> approve -> process over the API
	// THEN: Status moves through the machine and the balance drops when
	//       (and only when) processing posts the debit

	srv := newTestServer(t)
	purchase(t, srv, "alice", "100")

	resp, body := post(t, srv, "/api/withdrawals", api.WithdrawalRequest{UserID: "alice", Amount: "60"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	id := body["id"].(string)

	var balance api.BalanceDTO
	get(t, srv, "/api/users/alice/balance", &balance)
	assert.Equal(t, "100", balance.Balance, "no debit yet")
	assert.Equal(t, "40", balance.Available, "but the amount is held")

	resp, body = post(t, srv, "/api/withdrawals/"+id+"/approve", api.ApproveWithdrawalRequest{ReviewerID: "reviewer-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", body["status"])

	resp, body = post(t, srv, "/api/withdrawals/"+id+"/process", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "complete", body["status"])
	assert.NotEmpty(t, body["ledger_entry_id"])

	get(t, srv, "/api/users/alice/balance", &balance)
	assert.Equal(t, "40", balance.Balance)
	assert.Equal(t, "40", balance.Available)
}

func TestAPI_Withdrawal_ProcessPending_409(t *testing.T) {
	srv := newTestServer(t)
	purchase(t, srv, "alice", "100")

	resp, body := post(t, srv, "/api/withdrawals", api.WithdrawalRequest{UserID: "alice", Amount: "60"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)

	resp, _ = post(t, srv, "/api/withdrawals/"+id+"/process", struct{}{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Withdrawal_OverAvailable_422(t *testing.T) {
	srv := newTestServer(t)
	purchase(t, srv, "alice", "100")

	resp, _ := post(t, srv, "/api/withdrawals", api.WithdrawalRequest{UserID: "alice", Amount: "60"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = post(t, srv, "/api/withdrawals", api.WithdrawalRequest{UserID: "alice", Amount: "50"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAPI_Withdrawal_GetUnknown_404(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/withdrawals/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// WEBHOOK ENDPOINT TESTS
// =============================================================================

func TestAPI_Webhook_AppliesOnce(t *testing.T) {
	// GIVEN: A payment.completed delivery
	// WHEN: The provider delivers it twice
	// THEN: 200 both times; applied=true then applied=false; one credit

	srv := newTestServer(t)
	event := api.PaymentEventRequest{
		EventID:   "evt-1",
		EventType: "payment.completed",
		UserID:    "alice",
		Amount:    "100",
	}

	resp, body := post(t, srv, "/api/webhooks/payments", event)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["applied"])

	resp, body = post(t, srv, "/api/webhooks/payments", event)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["applied"])

	var balance api.BalanceDTO
	get(t, srv, "/api/users/alice/balance", &balance)
	assert.Equal(t, "100", balance.Balance)
}

func TestAPI_Webhook_MissingEventID_400(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := post(t, srv, "/api/webhooks/payments", api.PaymentEventRequest{
		EventType: "payment.completed", UserID: "alice", Amount: "100",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// AUDIT ENDPOINT TESTS
// =============================================================================

func TestAPI_Audit_RecordsOperations(t *testing.T) {
	// GIVEN: A transfer executed over the API
	// WHEN: Querying the audit log
	// THEN: The action appears with its entry ids and a trace id

	srv := newTestServer(t)
	purchase(t, srv, "alice", "100")
	resp, _ := post(t, srv, "/api/transfers", api.TransferRequest{
		FromUser: "alice", ToUser: "bob", Amount: "50",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var records []api.AuditRecordDTO
	r := get(t, srv, "/api/audit?action=transfer", &records)

	assert.Equal(t, http.StatusOK, r.StatusCode)
	require.Len(t, records, 1)
	assert.Equal(t, "transfer", records[0].Action)
	assert.NotEmpty(t, records[0].TraceID)
	assert.Len(t, records[0].EntryIDs, 2)
}
