/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS:
  All money crosses the wire as decimal strings ("25.00"), never as
  JSON numbers. Clients that parse them into floats do so at their
  own risk; the server never does.

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - economy/types.go: Domain types these project
*/
package api

import (
	"time"

	"github.com/warp/economy-engine/economy"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// PurchaseRequest credits a user after an external payment settles.
type PurchaseRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

// TransferRequest moves funds between two users.
type TransferRequest struct {
	FromUser string `json:"from_user"`
	ToUser   string `json:"to_user"`
	Amount   string `json:"amount"`
}

// MarketplacePurchaseRequest is a buyer paying a seller for a listing.
type MarketplacePurchaseRequest struct {
	BuyerID   string `json:"buyer_id"`
	SellerID  string `json:"seller_id"`
	ListingID string `json:"listing_id"`
	Amount    string `json:"amount"`
}

// RoyaltyPayoutRequest pays a creator from the platform account.
type RoyaltyPayoutRequest struct {
	CreatorID string `json:"creator_id"`
	ListingID string `json:"listing_id"`
	Amount    string `json:"amount"`
}

// ReversalRequest undoes a completed entry.
type ReversalRequest struct {
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

// WithdrawalRequest opens a withdrawal for review.
type WithdrawalRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

// ApproveWithdrawalRequest records who reviewed the withdrawal.
type ApproveWithdrawalRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

// CancelWithdrawalRequest optionally scopes the cancel to an owner.
type CancelWithdrawalRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// PaymentEventRequest is the payment processor webhook payload.
type PaymentEventRequest struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BalanceDTO is the balance summary for one user.
type BalanceDTO struct {
	UserID       string `json:"user_id"`
	Balance      string `json:"balance"`
	Available    string `json:"available"`
	Held         string `json:"held"`
	TotalCredits string `json:"total_credits"`
	TotalDebits  string `json:"total_debits"`
}

// LedgerEntryDTO represents one ledger row in API responses.
type LedgerEntryDTO struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	FromUser    string            `json:"from_user,omitempty"`
	ToUser      string            `json:"to_user,omitempty"`
	Amount      string            `json:"amount"`
	Fee         string            `json:"fee"`
	Net         string            `json:"net"`
	Status      string            `json:"status"`
	ReferenceID string            `json:"reference_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

// OperationResponse reports a committed operation.
type OperationResponse struct {
	Fee     string           `json:"fee"`
	Net     string           `json:"net"`
	Entries []LedgerEntryDTO `json:"entries"`
}

// WithdrawalDTO represents a withdrawal in API responses.
type WithdrawalDTO struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Amount        string `json:"amount"`
	Fee           string `json:"fee"`
	Net           string `json:"net"`
	Status        string `json:"status"`
	ReviewedBy    string `json:"reviewed_by,omitempty"`
	ReviewedAt    string `json:"reviewed_at,omitempty"`
	ProcessedAt   string `json:"processed_at,omitempty"`
	LedgerEntryID string `json:"ledger_entry_id,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// EventResponse reports the outcome of a webhook delivery. Applied is
// false when the event was seen before; the delivery still succeeds.
type EventResponse struct {
	Applied bool   `json:"applied"`
	EntryID string `json:"entry_id,omitempty"`
}

// AuditRecordDTO represents one forensic record.
type AuditRecordDTO struct {
	ID        string            `json:"id"`
	TraceID   string            `json:"trace_id"`
	Action    string            `json:"action"`
	Actor     string            `json:"actor,omitempty"`
	Amount    string            `json:"amount"`
	EntryIDs  []string          `json:"entry_ids,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEntryDTO(e economy.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:          string(e.ID),
		Kind:        string(e.Kind),
		FromUser:    string(e.FromUser),
		ToUser:      string(e.ToUser),
		Amount:      e.Amount.String(),
		Fee:         e.Fee.String(),
		Net:         e.Net.String(),
		Status:      string(e.Status),
		ReferenceID: string(e.ReferenceID),
		Metadata:    e.Metadata,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []economy.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toOperationResponse(res *economy.OperationResult) OperationResponse {
	return OperationResponse{
		Fee:     res.Fee.String(),
		Net:     res.Net.String(),
		Entries: toEntryDTOs(res.Entries),
	}
}

func toWithdrawalDTO(w economy.Withdrawal) WithdrawalDTO {
	dto := WithdrawalDTO{
		ID:            string(w.ID),
		UserID:        string(w.UserID),
		Amount:        w.Amount.String(),
		Fee:           w.Fee.String(),
		Net:           w.Net.String(),
		Status:        string(w.Status),
		ReviewedBy:    w.ReviewedBy,
		LedgerEntryID: string(w.LedgerEntryID),
		CreatedAt:     w.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     w.UpdatedAt.Format(time.RFC3339),
	}
	if w.ReviewedAt != nil {
		dto.ReviewedAt = w.ReviewedAt.Format(time.RFC3339)
	}
	if w.ProcessedAt != nil {
		dto.ProcessedAt = w.ProcessedAt.Format(time.RFC3339)
	}
	return dto
}

func toAuditDTO(rec economy.AuditRecord) AuditRecordDTO {
	ids := make([]string, len(rec.EntryIDs))
	for i, id := range rec.EntryIDs {
		ids[i] = string(id)
	}
	return AuditRecordDTO{
		ID:        rec.ID,
		TraceID:   rec.TraceID,
		Action:    string(rec.Action),
		Actor:     rec.Actor,
		Amount:    rec.Amount.String(),
		EntryIDs:  ids,
		Metadata:  rec.Metadata,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
}
