/*
handlers.go - HTTP API handlers for the economy engine

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Users:
    GET    /api/users/{id}/balance      Balance summary (derived)
    GET    /api/users/{id}/ledger       Full entry history
    GET    /api/users/{id}/withdrawals  Withdrawal history

  Operations:
    POST   /api/purchases               Credit from external payment
    POST   /api/transfers               User-to-user transfer
    POST   /api/marketplace/purchases   Buyer pays seller for a listing
    POST   /api/royalties               Platform pays a creator
    POST   /api/reversals               Undo a completed entry

  Withdrawals:
    POST   /api/withdrawals             Request (opens a hold)
    GET    /api/withdrawals/{id}        Inspect
    POST   /api/withdrawals/{id}/approve
    POST   /api/withdrawals/{id}/process
    POST   /api/withdrawals/{id}/cancel

  Webhooks:
    POST   /api/webhooks/payments       Idempotent external events

  Audit:
    GET    /api/audit                   Forensic records (filterable)

ERROR HANDLING:
  Domain errors map to HTTP status via handleDomainError:
  - 400: Validation (invalid amount, missing user, self transfer,
         companion entry, unknown type)
  - 404: Entry or withdrawal not found
  - 409: Already reversed, invalid state transition, duplicate event
  - 422: Insufficient balance / insufficient available balance
  - 500: Store failures

PROVENANCE:
  Every mutating request carries Provenance onto the rows it writes:
  actor from the X-Actor header, request id from chi's RequestID
  middleware, source IP from RemoteAddr. The request id also seeds the
  audit trace id, so all records of one request share it.

SECURITY NOTE:
  No authentication middleware. The X-Actor header is trusted as-is;
  an auth layer in front of this service must set it.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/economy-engine/economy"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *economy.Engine
	Balances *economy.BalanceCalculator
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *economy.Engine) *Handler {
	return &Handler{
		Engine:   engine,
		Balances: economy.NewBalanceCalculator(engine.Store),
	}
}

// =============================================================================
// USER QUERIES
// =============================================================================

// GetBalance returns the derived balance summary for a user.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := economy.UserID(chi.URLParam(r, "id"))

	available, balance, held, err := h.Balances.AvailableBalance(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to calculate balance", err)
		return
	}
	summary, err := h.Balances.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to calculate balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		UserID:       string(userID),
		Balance:      balance.String(),
		Available:    available.String(),
		Held:         held.String(),
		TotalCredits: summary.TotalCredits.String(),
		TotalDebits:  summary.TotalDebits.String(),
	})
}

// GetLedger returns the user's full entry history, oldest first.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID := economy.UserID(chi.URLParam(r, "id"))

	entries, err := economy.NewLedger(h.Engine.Store).History(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// GetUserWithdrawals returns the user's withdrawals, newest first.
func (h *Handler) GetUserWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID := economy.UserID(chi.URLParam(r, "id"))

	ws, err := h.Engine.WithdrawalsForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load withdrawals", err)
		return
	}
	dtos := make([]WithdrawalDTO, len(ws))
	for i, wd := range ws {
		dtos[i] = toWithdrawalDTO(wd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// OPERATIONS
// =============================================================================

// CreatePurchase credits a user after an external payment settled.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	res, err := h.Engine.ExecutePurchase(traced(r), economy.UserID(req.UserID), amount, provenance(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationResponse(res))
}

// CreateTransfer moves funds from one user to another, fee deducted.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	res, err := h.Engine.ExecuteTransfer(traced(r),
		economy.UserID(req.FromUser), economy.UserID(req.ToUser), amount, provenance(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationResponse(res))
}

// CreateMarketplacePurchase is a buyer paying a seller for a listing.
func (h *Handler) CreateMarketplacePurchase(w http.ResponseWriter, r *http.Request) {
	var req MarketplacePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	res, err := h.Engine.ExecuteMarketplacePurchase(traced(r),
		economy.UserID(req.BuyerID), economy.UserID(req.SellerID), amount, req.ListingID, provenance(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationResponse(res))
}

// CreateRoyaltyPayout pays a creator from the platform account.
func (h *Handler) CreateRoyaltyPayout(w http.ResponseWriter, r *http.Request) {
	var req RoyaltyPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	res, err := h.Engine.ExecuteRoyaltyPayout(traced(r),
		economy.UserID(req.CreatorID), amount, req.ListingID, provenance(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationResponse(res))
}

// CreateReversal undoes a completed entry and its companion rows.
func (h *Handler) CreateReversal(w http.ResponseWriter, r *http.Request) {
	var req ReversalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EntryID == "" {
		writeError(w, http.StatusBadRequest, "entry_id is required", nil)
		return
	}

	res, err := h.Engine.ExecuteReversal(traced(r), economy.EntryID(req.EntryID), req.Reason, provenance(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationResponse(res))
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// CreateWithdrawal opens a withdrawal; its amount is held immediately.
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	wd, err := h.Engine.RequestWithdrawal(traced(r), economy.UserID(req.UserID), amount, provenance(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalDTO(*wd))
}

// GetWithdrawal returns a single withdrawal.
func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := economy.WithdrawalID(chi.URLParam(r, "id"))

	wd, err := h.Engine.GetWithdrawal(r.Context(), id)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(*wd))
}

// ApproveWithdrawal moves pending -> approved.
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := economy.WithdrawalID(chi.URLParam(r, "id"))

	var req ApproveWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ReviewerID == "" {
		writeError(w, http.StatusBadRequest, "reviewer_id is required", nil)
		return
	}

	wd, err := h.Engine.ApproveWithdrawal(traced(r), id, req.ReviewerID, provenance(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(*wd))
}

// ProcessWithdrawal executes an approved withdrawal: writes the ledger
// debit and completes the row in one transaction.
func (h *Handler) ProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := economy.WithdrawalID(chi.URLParam(r, "id"))

	wd, err := h.Engine.ProcessWithdrawal(traced(r), id, provenance(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(*wd))
}

// CancelWithdrawal cancels a pending or approved withdrawal.
func (h *Handler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := economy.WithdrawalID(chi.URLParam(r, "id"))

	var req CancelWithdrawalRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	wd, err := h.Engine.CancelWithdrawal(traced(r), id, economy.UserID(req.UserID), provenance(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(*wd))
}

// =============================================================================
// WEBHOOKS
// =============================================================================

// HandlePaymentEvent ingests a payment processor event. Replays return
// 200 with applied=false: the processor sees success and stops retrying.
func (h *Handler) HandlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	var req PaymentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EventID == "" {
		writeError(w, http.StatusBadRequest, "event_id is required", nil)
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}

	res, err := h.Engine.ApplyExternalEvent(traced(r), economy.ExternalEvent{
		EventID:   req.EventID,
		EventType: req.EventType,
		UserID:    economy.UserID(req.UserID),
		Amount:    amount,
		RequestID: req.Reference,
		SourceIP:  remoteIP(r),
	})
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventResponse{
		Applied: res.Applied,
		EntryID: string(res.EntryID),
	})
}

// =============================================================================
// AUDIT
// =============================================================================

// QueryAudit returns forensic records matching the query parameters:
// trace_id, actor, action (repeatable), from, to (RFC3339), limit.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := economy.AuditFilter{
		TraceID: q.Get("trace_id"),
		Actor:   q.Get("actor"),
		Limit:   100,
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, economy.AuditAction(a))
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'from' timestamp (use RFC3339)", err)
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'to' timestamp (use RFC3339)", err)
			return
		}
		filter.To = &t
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	records, err := h.Engine.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}
	dtos := make([]AuditRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toAuditDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// traced seeds the audit trace id from chi's request id.
func traced(r *http.Request) context.Context {
	return economy.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
}

// provenance captures who did this, from where.
func provenance(r *http.Request) economy.Provenance {
	return economy.Provenance{
		Actor:     r.Header.Get("X-Actor"),
		RequestID: middleware.GetReqID(r.Context()),
		SourceIP:  remoteIP(r),
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseAmount rejects anything that is not a well-formed decimal. Range
// checks belong to the domain layer; this is purely syntactic.
func parseAmount(w http.ResponseWriter, s string) (economy.Money, bool) {
	if s == "" {
		writeError(w, http.StatusBadRequest, "amount is required", nil)
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount (use a decimal string)", err)
		return decimal.Zero, false
	}
	return amount, true
}

// handleDomainError maps domain errors to HTTP status codes.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case economy.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, economy.ErrInvalidAmount),
		errors.Is(err, economy.ErrMissingUser),
		errors.Is(err, economy.ErrSelfTransfer),
		errors.Is(err, economy.ErrCompanionEntry),
		errors.Is(err, economy.ErrUnknownTransactionType):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, economy.ErrAlreadyReversed),
		errors.Is(err, economy.ErrInvalidState),
		errors.Is(err, economy.ErrDuplicateEvent):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, economy.ErrInsufficientBalance),
		errors.Is(err, economy.ErrInsufficientAvailableBalance):
		writeError(w, http.StatusUnprocessableEntity, "Insufficient funds", err)
	default:
		zap.L().Error("unhandled domain error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
