// Package store provides a memory-backed economy.Store for tests and demos.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/economy-engine/economy"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.Mutex
	entries     []economy.LedgerEntry
	entryByID   map[economy.EntryID]int
	withdrawals map[economy.WithdrawalID]economy.Withdrawal
	events      map[string]economy.ProcessedEvent
	audit       []economy.AuditRecord
}

func NewMemory() *Memory {
	return &Memory{
		entryByID:   make(map[economy.EntryID]int),
		withdrawals: make(map[economy.WithdrawalID]economy.Withdrawal),
		events:      make(map[string]economy.ProcessedEvent),
	}
}

// --- Ledger ---

func (m *Memory) AppendEntries(_ context.Context, entries []economy.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entries)
}

func (m *Memory) appendLocked(entries []economy.LedgerEntry) error {
	for _, e := range entries {
		m.entryByID[e.ID] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *Memory) GetEntry(_ context.Context, id economy.EntryID) (*economy.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getEntryLocked(id)
}

func (m *Memory) getEntryLocked(id economy.EntryID) (*economy.LedgerEntry, error) {
	if i, ok := m.entryByID[id]; ok {
		e := m.entries[i]
		return &e, nil
	}
	return nil, nil
}

func (m *Memory) EntriesByUser(_ context.Context, userID economy.UserID) ([]economy.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entriesByUserLocked(userID), nil
}

func (m *Memory) entriesByUserLocked(userID economy.UserID) []economy.LedgerEntry {
	var result []economy.LedgerEntry
	for _, e := range m.entries {
		if e.FromUser == userID || e.ToUser == userID {
			result = append(result, e)
		}
	}
	return result
}

func (m *Memory) EntriesByReference(_ context.Context, refID economy.EntryID) ([]economy.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entriesByReferenceLocked(refID), nil
}

func (m *Memory) entriesByReferenceLocked(refID economy.EntryID) []economy.LedgerEntry {
	var result []economy.LedgerEntry
	for _, e := range m.entries {
		if e.ReferenceID == refID {
			result = append(result, e)
		}
	}
	return result
}

func (m *Memory) SumCompleted(_ context.Context, userID economy.UserID) (economy.Money, economy.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumCompletedLocked(userID)
}

func (m *Memory) sumCompletedLocked(userID economy.UserID) (economy.Money, economy.Money, error) {
	credits, debits := decimal.Zero, decimal.Zero
	for _, e := range m.entries {
		if e.Status != economy.StatusComplete {
			continue
		}
		if e.ToUser == userID {
			credits = credits.Add(e.Net)
		}
		if e.FromUser == userID {
			debits = debits.Add(e.Amount)
		}
	}
	return credits, debits, nil
}

func (m *Memory) MarkReversed(_ context.Context, id economy.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markReversedLocked(id)
}

func (m *Memory) markReversedLocked(id economy.EntryID) error {
	i, ok := m.entryByID[id]
	if !ok {
		return economy.ErrEntryNotFound
	}
	m.entries[i].Status = economy.StatusReversed
	return nil
}

// --- Withdrawals ---

func (m *Memory) SaveWithdrawal(_ context.Context, w economy.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawals[w.ID] = w
	return nil
}

func (m *Memory) GetWithdrawal(_ context.Context, id economy.WithdrawalID) (*economy.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.withdrawals[id]; ok {
		return &w, nil
	}
	return nil, nil
}

func (m *Memory) WithdrawalsByUser(_ context.Context, userID economy.UserID) ([]economy.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.withdrawalsByUserLocked(userID), nil
}

func (m *Memory) withdrawalsByUserLocked(userID economy.UserID) []economy.Withdrawal {
	var result []economy.Withdrawal
	for _, w := range m.withdrawals {
		if w.UserID == userID {
			result = append(result, w)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (m *Memory) SumHolds(_ context.Context, userID economy.UserID) (economy.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumHoldsLocked(userID), nil
}

func (m *Memory) sumHoldsLocked(userID economy.UserID) economy.Money {
	held := decimal.Zero
	for _, w := range m.withdrawals {
		if w.UserID == userID && w.HoldsBalance() {
			held = held.Add(w.Amount)
		}
	}
	return held
}

// --- Processed events ---

func (m *Memory) GetProcessedEvent(_ context.Context, eventID string) (*economy.ProcessedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[eventID]; ok {
		return &ev, nil
	}
	return nil, nil
}

func (m *Memory) RecordProcessedEvent(_ context.Context, ev economy.ProcessedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.EventID]; ok {
		return economy.ErrDuplicateEvent
	}
	m.events[ev.EventID] = ev
	return nil
}

// --- Audit ---

func (m *Memory) AppendAudit(_ context.Context, rec economy.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, rec)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter economy.AuditFilter) ([]economy.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterAudit(m.audit, filter), nil
}

// filterAudit returns matches newest first, mirroring the sqlite store.
func filterAudit(records []economy.AuditRecord, filter economy.AuditFilter) []economy.AuditRecord {
	var result []economy.AuditRecord
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if filter.TraceID != "" && rec.TraceID != filter.TraceID {
			continue
		}
		if filter.Actor != "" && rec.Actor != filter.Actor {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, rec.Action) {
			continue
		}
		if filter.From != nil && rec.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && rec.CreatedAt.After(*filter.To) {
			continue
		}
		result = append(result, rec)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result
}

func containsAction(actions []economy.AuditAction, a economy.AuditAction) bool {
	for _, c := range actions {
		if c == a {
			return true
		}
	}
	return false
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

var _ economy.TxStore = (*TxMemory)(nil)

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn against a transactional view, holding the store
// lock for the duration. On error the pre-transaction state is
// restored, so a failed operation leaves no partial rows. The lock also
// serializes concurrent operations, which is what gives the single-user
// ordering guarantee in tests.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(economy.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries     []economy.LedgerEntry
	entryByID   map[economy.EntryID]int
	withdrawals map[economy.WithdrawalID]economy.Withdrawal
	events      map[string]economy.ProcessedEvent
	audit       []economy.AuditRecord
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		entries:     append([]economy.LedgerEntry{}, tm.entries...),
		entryByID:   make(map[economy.EntryID]int, len(tm.entryByID)),
		withdrawals: make(map[economy.WithdrawalID]economy.Withdrawal, len(tm.withdrawals)),
		events:      make(map[string]economy.ProcessedEvent, len(tm.events)),
		audit:       append([]economy.AuditRecord{}, tm.audit...),
	}
	for k, v := range tm.entryByID {
		s.entryByID[k] = v
	}
	for k, v := range tm.withdrawals {
		s.withdrawals[k] = v
	}
	for k, v := range tm.events {
		s.events[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.entries = s.entries
	tm.entryByID = s.entryByID
	tm.withdrawals = s.withdrawals
	tm.events = s.events
	tm.audit = s.audit
}

// txMemoryView accesses the parent without re-locking; the WithTx caller
// already holds the lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) AppendEntries(_ context.Context, entries []economy.LedgerEntry) error {
	return tv.parent.appendLocked(entries)
}

func (tv *txMemoryView) GetEntry(_ context.Context, id economy.EntryID) (*economy.LedgerEntry, error) {
	return tv.parent.getEntryLocked(id)
}

func (tv *txMemoryView) EntriesByUser(_ context.Context, userID economy.UserID) ([]economy.LedgerEntry, error) {
	return tv.parent.entriesByUserLocked(userID), nil
}

func (tv *txMemoryView) EntriesByReference(_ context.Context, refID economy.EntryID) ([]economy.LedgerEntry, error) {
	return tv.parent.entriesByReferenceLocked(refID), nil
}

func (tv *txMemoryView) SumCompleted(_ context.Context, userID economy.UserID) (economy.Money, economy.Money, error) {
	return tv.parent.sumCompletedLocked(userID)
}

func (tv *txMemoryView) MarkReversed(_ context.Context, id economy.EntryID) error {
	return tv.parent.markReversedLocked(id)
}

func (tv *txMemoryView) SaveWithdrawal(_ context.Context, w economy.Withdrawal) error {
	tv.parent.withdrawals[w.ID] = w
	return nil
}

func (tv *txMemoryView) GetWithdrawal(_ context.Context, id economy.WithdrawalID) (*economy.Withdrawal, error) {
	if w, ok := tv.parent.withdrawals[id]; ok {
		return &w, nil
	}
	return nil, nil
}

func (tv *txMemoryView) WithdrawalsByUser(_ context.Context, userID economy.UserID) ([]economy.Withdrawal, error) {
	return tv.parent.withdrawalsByUserLocked(userID), nil
}

func (tv *txMemoryView) SumHolds(_ context.Context, userID economy.UserID) (economy.Money, error) {
	return tv.parent.sumHoldsLocked(userID), nil
}

func (tv *txMemoryView) GetProcessedEvent(_ context.Context, eventID string) (*economy.ProcessedEvent, error) {
	if ev, ok := tv.parent.events[eventID]; ok {
		return &ev, nil
	}
	return nil, nil
}

func (tv *txMemoryView) RecordProcessedEvent(_ context.Context, ev economy.ProcessedEvent) error {
	if _, ok := tv.parent.events[ev.EventID]; ok {
		return economy.ErrDuplicateEvent
	}
	tv.parent.events[ev.EventID] = ev
	return nil
}

func (tv *txMemoryView) AppendAudit(_ context.Context, rec economy.AuditRecord) error {
	tv.parent.audit = append(tv.parent.audit, rec)
	return nil
}

func (tv *txMemoryView) QueryAudit(_ context.Context, filter economy.AuditFilter) ([]economy.AuditRecord, error) {
	return filterAudit(tv.parent.audit, filter), nil
}
