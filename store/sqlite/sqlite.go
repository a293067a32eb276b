/*
Package sqlite provides the SQLite-backed implementation of economy.Store.

PURPOSE:
  Production persistence for the ledger and its satellites. The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No DELETE exists for any financial table
  - The only UPDATE against the ledger is MarkReversed, and its WHERE
    clause restricts it to the complete -> reversed flip
  - processed_events has a primary key on the external event id, so a
    replayed event cannot insert a second marker

KEY TABLES:
  ledger            Immutable rows of all financial movements
  withdrawals       Withdrawal state machine rows
  processed_events  Idempotency markers for external events
  audit_log         Append-only forensic records

AMOUNTS:
  Stored as decimal strings and summed in Go with shopspring/decimal.
  SQLite's SUM would coerce to floating point; money never touches a
  float here.

CONCURRENCY:
  A mutex serializes writers on top of WAL mode. WithTx holds the mutex
  for the whole transaction, which is what makes the balance re-check
  and the commit one unit: a second operation against the same user
  cannot interleave between them.

USAGE:
  store, err := sqlite.New("./data/economy.db")
  if err != nil { ... }
  defer store.Close()
  engine := economy.NewEngine(store, economy.Config{})

SEE ALSO:
  - economy/store.go: Interface definitions
  - economy/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/economy-engine/economy"
)

// Store implements economy.TxStore on SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

var _ economy.TxStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps the mutex honest: WithTx holds the lock,
	// so no second connection may write behind its back.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Ledger (append-only; the single source of truth for money)
	CREATE TABLE IF NOT EXISTS ledger (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		from_user TEXT,
		to_user TEXT,
		amount TEXT NOT NULL,
		fee TEXT NOT NULL,
		net TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'complete',
		reference_id TEXT,
		metadata_json TEXT,
		request_id TEXT,
		source_ip TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_from_user
		ON ledger(from_user) WHERE from_user IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_ledger_to_user
		ON ledger(to_user) WHERE to_user IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_ledger_reference
		ON ledger(reference_id) WHERE reference_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_ledger_status
		ON ledger(status);
	CREATE INDEX IF NOT EXISTS idx_ledger_created_at
		ON ledger(created_at);

	-- Withdrawals (state machine; holds derive from these rows)
	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		fee TEXT NOT NULL,
		net TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reviewed_by TEXT,
		reviewed_at TEXT,
		processed_at TEXT,
		ledger_entry_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_user
		ON withdrawals(user_id);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_status
		ON withdrawals(status);

	-- Processed events (idempotency markers, event id unique)
	CREATE TABLE IF NOT EXISTS processed_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		entry_id TEXT,
		processed_at TEXT NOT NULL
	);

	-- Audit log (append-only, forensic; never used to derive balance)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		trace_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor TEXT,
		amount TEXT NOT NULL,
		entry_ids_json TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_trace
		ON audit_log(trace_id);
	CREATE INDEX IF NOT EXISTS idx_audit_action
		ON audit_log(action);
	CREATE INDEX IF NOT EXISTS idx_audit_created_at
		ON audit_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx. Internal functions
// take one so the transactional view reuses them without re-locking.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

const ledgerColumns = `id, kind, from_user, to_user, amount, fee, net, status,
	reference_id, metadata_json, request_id, source_ip, created_at`

// AppendEntries persists entries atomically.
func (s *Store) AppendEntries(ctx context.Context, entries []economy.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := appendEntries(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func appendEntries(ctx context.Context, q queryer, entries []economy.LedgerEntry) error {
	query := `
		INSERT INTO ledger
		(id, kind, from_user, to_user, amount, fee, net, status,
		 reference_id, metadata_json, request_id, source_ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, e := range entries {
		metadataJSON, _ := json.Marshal(e.Metadata)
		_, err := q.ExecContext(ctx, query,
			e.ID,
			e.Kind,
			nullString(string(e.FromUser)),
			nullString(string(e.ToUser)),
			e.Amount.String(),
			e.Fee.String(),
			e.Net.String(),
			e.Status,
			nullString(string(e.ReferenceID)),
			string(metadataJSON),
			nullString(e.RequestID),
			nullString(e.SourceIP),
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}
	return nil
}

// GetEntry returns an entry by id, or nil.
func (s *Store) GetEntry(ctx context.Context, id economy.EntryID) (*economy.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getEntry(ctx, s.db, id)
}

func getEntry(ctx context.Context, q queryer, id economy.EntryID) (*economy.LedgerEntry, error) {
	entries, err := queryEntries(ctx, q,
		`SELECT `+ledgerColumns+` FROM ledger WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// EntriesByUser returns every entry touching the user, oldest first.
func (s *Store) EntriesByUser(ctx context.Context, userID economy.UserID) ([]economy.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return entriesByUser(ctx, s.db, userID)
}

func entriesByUser(ctx context.Context, q queryer, userID economy.UserID) ([]economy.LedgerEntry, error) {
	return queryEntries(ctx, q, `
		SELECT `+ledgerColumns+`
		FROM ledger
		WHERE from_user = ? OR to_user = ?
		ORDER BY created_at ASC, id ASC
	`, userID, userID)
}

// EntriesByReference returns companion rows of a principal entry.
func (s *Store) EntriesByReference(ctx context.Context, refID economy.EntryID) ([]economy.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return entriesByReference(ctx, s.db, refID)
}

func entriesByReference(ctx context.Context, q queryer, refID economy.EntryID) ([]economy.LedgerEntry, error) {
	return queryEntries(ctx, q, `
		SELECT `+ledgerColumns+`
		FROM ledger
		WHERE reference_id = ?
		ORDER BY created_at ASC, id ASC
	`, refID)
}

// SumCompleted derives the two sums the balance formula needs. Amounts
// are decimal strings; summing happens in Go to keep exact precision.
func (s *Store) SumCompleted(ctx context.Context, userID economy.UserID) (economy.Money, economy.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sumCompleted(ctx, s.db, userID)
}

func sumCompleted(ctx context.Context, q queryer, userID economy.UserID) (economy.Money, economy.Money, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT from_user, to_user, amount, net
		FROM ledger
		WHERE status = 'complete' AND (from_user = ? OR to_user = ?)
	`, userID, userID)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to query sums: %w", err)
	}
	defer rows.Close()

	credits, debits := decimal.Zero, decimal.Zero
	for rows.Next() {
		var fromUser, toUser sql.NullString
		var amount, net string
		if err := rows.Scan(&fromUser, &toUser, &amount, &net); err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("failed to scan sums: %w", err)
		}
		if toUser.Valid && economy.UserID(toUser.String) == userID {
			credits = credits.Add(economy.ParseMoney(net))
		}
		if fromUser.Valid && economy.UserID(fromUser.String) == userID {
			debits = debits.Add(economy.ParseMoney(amount))
		}
	}
	return credits, debits, rows.Err()
}

// MarkReversed flips an entry complete -> reversed. The WHERE clause is
// the enforcement: no other status transition can happen through here.
func (s *Store) MarkReversed(ctx context.Context, id economy.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markReversed(ctx, s.db, id)
}

func markReversed(ctx context.Context, q queryer, id economy.EntryID) error {
	res, err := q.ExecContext(ctx,
		`UPDATE ledger SET status = 'reversed' WHERE id = ? AND status = 'complete'`, id)
	if err != nil {
		return fmt.Errorf("failed to mark reversed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return economy.ErrEntryNotFound
	}
	return nil
}

func queryEntries(ctx context.Context, q queryer, query string, args ...any) ([]economy.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []economy.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (economy.LedgerEntry, error) {
	var (
		e            economy.LedgerEntry
		fromUser     sql.NullString
		toUser       sql.NullString
		amount       string
		fee          string
		net          string
		referenceID  sql.NullString
		metadataJSON sql.NullString
		requestID    sql.NullString
		sourceIP     sql.NullString
		createdAt    string
	)

	err := rows.Scan(
		&e.ID, &e.Kind, &fromUser, &toUser, &amount, &fee, &net, &e.Status,
		&referenceID, &metadataJSON, &requestID, &sourceIP, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	e.FromUser = economy.UserID(fromUser.String)
	e.ToUser = economy.UserID(toUser.String)
	e.Amount = economy.ParseMoney(amount)
	e.Fee = economy.ParseMoney(fee)
	e.Net = economy.ParseMoney(net)
	e.ReferenceID = economy.EntryID(referenceID.String)
	e.RequestID = requestID.String
	e.SourceIP = sourceIP.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
	}
	return e, nil
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

const withdrawalColumns = `id, user_id, amount, fee, net, status,
	reviewed_by, reviewed_at, processed_at, ledger_entry_id, created_at, updated_at`

// SaveWithdrawal inserts or updates a withdrawal row. Amount/fee/net are
// written once at insert; subsequent saves only move the state machine.
func (s *Store) SaveWithdrawal(ctx context.Context, w economy.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveWithdrawal(ctx, s.db, w)
}

func saveWithdrawal(ctx context.Context, q queryer, w economy.Withdrawal) error {
	query := `
		INSERT INTO withdrawals
		(id, user_id, amount, fee, net, status, reviewed_by, reviewed_at,
		 processed_at, ledger_entry_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reviewed_by = excluded.reviewed_by,
			reviewed_at = excluded.reviewed_at,
			processed_at = excluded.processed_at,
			ledger_entry_id = excluded.ledger_entry_id,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		w.ID, w.UserID,
		w.Amount.String(), w.Fee.String(), w.Net.String(),
		w.Status,
		nullString(w.ReviewedBy),
		nullTime(w.ReviewedAt),
		nullTime(w.ProcessedAt),
		nullString(string(w.LedgerEntryID)),
		w.CreatedAt.UTC().Format(time.RFC3339Nano),
		w.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save withdrawal: %w", err)
	}
	return nil
}

// GetWithdrawal returns a withdrawal by id, or nil.
func (s *Store) GetWithdrawal(ctx context.Context, id economy.WithdrawalID) (*economy.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getWithdrawal(ctx, s.db, id)
}

func getWithdrawal(ctx context.Context, q queryer, id economy.WithdrawalID) (*economy.Withdrawal, error) {
	ws, err := queryWithdrawals(ctx, q,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(ws) == 0 {
		return nil, nil
	}
	return &ws[0], nil
}

// WithdrawalsByUser returns the user's withdrawals, newest first.
func (s *Store) WithdrawalsByUser(ctx context.Context, userID economy.UserID) ([]economy.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withdrawalsByUser(ctx, s.db, userID)
}

func withdrawalsByUser(ctx context.Context, q queryer, userID economy.UserID) ([]economy.Withdrawal, error) {
	return queryWithdrawals(ctx, q, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
}

// SumHolds totals pending and approved withdrawal amounts for the user.
func (s *Store) SumHolds(ctx context.Context, userID economy.UserID) (economy.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sumHolds(ctx, s.db, userID)
}

func sumHolds(ctx context.Context, q queryer, userID economy.UserID) (economy.Money, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT amount FROM withdrawals
		WHERE user_id = ? AND status IN ('pending', 'approved')
	`, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query holds: %w", err)
	}
	defer rows.Close()

	held := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		held = held.Add(economy.ParseMoney(amount))
	}
	return held, rows.Err()
}

func queryWithdrawals(ctx context.Context, q queryer, query string, args ...any) ([]economy.Withdrawal, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	var ws []economy.Withdrawal
	for rows.Next() {
		var (
			w             economy.Withdrawal
			amount        string
			fee           string
			net           string
			reviewedBy    sql.NullString
			reviewedAt    sql.NullString
			processedAt   sql.NullString
			ledgerEntryID sql.NullString
			createdAt     string
			updatedAt     string
		)
		if err := rows.Scan(
			&w.ID, &w.UserID, &amount, &fee, &net, &w.Status,
			&reviewedBy, &reviewedAt, &processedAt, &ledgerEntryID,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}

		w.Amount = economy.ParseMoney(amount)
		w.Fee = economy.ParseMoney(fee)
		w.Net = economy.ParseMoney(net)
		w.ReviewedBy = reviewedBy.String
		w.ReviewedAt = parseNullTime(reviewedAt)
		w.ProcessedAt = parseNullTime(processedAt)
		w.LedgerEntryID = economy.EntryID(ledgerEntryID.String)
		w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		w.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

		ws = append(ws, w)
	}
	return ws, rows.Err()
}

// =============================================================================
// PROCESSED EVENTS
// =============================================================================

// GetProcessedEvent returns the idempotency marker, or nil.
func (s *Store) GetProcessedEvent(ctx context.Context, eventID string) (*economy.ProcessedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getProcessedEvent(ctx, s.db, eventID)
}

func getProcessedEvent(ctx context.Context, q queryer, eventID string) (*economy.ProcessedEvent, error) {
	var (
		ev          economy.ProcessedEvent
		entryID     sql.NullString
		processedAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT event_id, event_type, entry_id, processed_at FROM processed_events WHERE event_id = ?`,
		eventID,
	).Scan(&ev.EventID, &ev.EventType, &entryID, &processedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processed event: %w", err)
	}
	ev.EntryID = economy.EntryID(entryID.String)
	ev.ProcessedAt, _ = time.Parse(time.RFC3339Nano, processedAt)
	return &ev, nil
}

// RecordProcessedEvent inserts the marker. The primary key makes a
// duplicate insert fail, which surfaces as ErrDuplicateEvent.
func (s *Store) RecordProcessedEvent(ctx context.Context, ev economy.ProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recordProcessedEvent(ctx, s.db, ev)
}

func recordProcessedEvent(ctx context.Context, q queryer, ev economy.ProcessedEvent) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, event_type, entry_id, processed_at) VALUES (?, ?, ?, ?)`,
		ev.EventID, ev.EventType, nullString(string(ev.EntryID)),
		ev.ProcessedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return economy.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to record processed event: %w", err)
	}
	return nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AppendAudit writes one forensic record.
func (s *Store) AppendAudit(ctx context.Context, rec economy.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, rec)
}

func appendAudit(ctx context.Context, q queryer, rec economy.AuditRecord) error {
	entryIDsJSON, _ := json.Marshal(rec.EntryIDs)
	metadataJSON, _ := json.Marshal(rec.Metadata)

	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (id, trace_id, action, actor, amount, entry_ids_json, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.TraceID, rec.Action, nullString(rec.Actor),
		rec.Amount.String(), string(entryIDsJSON), string(metadataJSON),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// QueryAudit returns records matching the filter, newest first.
func (s *Store) QueryAudit(ctx context.Context, filter economy.AuditFilter) ([]economy.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryAudit(ctx, s.db, filter)
}

func queryAudit(ctx context.Context, q queryer, filter economy.AuditFilter) ([]economy.AuditRecord, error) {
	query := `SELECT id, trace_id, action, actor, amount, entry_ids_json, metadata_json, created_at FROM audit_log`
	var conds []string
	var args []any

	if filter.TraceID != "" {
		conds = append(conds, "trace_id = ?")
		args = append(args, filter.TraceID)
	}
	if filter.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, filter.Actor)
	}
	if len(filter.Actions) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Actions)), ",")
		conds = append(conds, "action IN ("+placeholders+")")
		for _, a := range filter.Actions {
			args = append(args, a)
		}
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339Nano))
	}
	if filter.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339Nano))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var records []economy.AuditRecord
	for rows.Next() {
		var (
			rec          economy.AuditRecord
			actor        sql.NullString
			amount       string
			entryIDsJSON sql.NullString
			metadataJSON sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&rec.ID, &rec.TraceID, &rec.Action, &actor, &amount,
			&entryIDsJSON, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Actor = actor.String
		rec.Amount = economy.ParseMoney(amount)
		if entryIDsJSON.Valid && entryIDsJSON.String != "" {
			json.Unmarshal([]byte(entryIDsJSON.String), &rec.EntryIDs)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (economy.TxStore interface)
// =============================================================================

// WithTx executes fn within one database transaction. The mutex is held
// for the duration, so operations against the store serialize and the
// balance re-check inside fn sees exactly the state the commit will.
func (s *Store) WithTx(ctx context.Context, fn func(economy.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the transactional view handed to WithTx callbacks. All
// reads and writes go through the open *sql.Tx; the parent's mutex is
// already held, so nothing here locks.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) AppendEntries(ctx context.Context, entries []economy.LedgerEntry) error {
	return appendEntries(ctx, ts.tx, entries)
}

func (ts *txStore) GetEntry(ctx context.Context, id economy.EntryID) (*economy.LedgerEntry, error) {
	return getEntry(ctx, ts.tx, id)
}

func (ts *txStore) EntriesByUser(ctx context.Context, userID economy.UserID) ([]economy.LedgerEntry, error) {
	return entriesByUser(ctx, ts.tx, userID)
}

func (ts *txStore) EntriesByReference(ctx context.Context, refID economy.EntryID) ([]economy.LedgerEntry, error) {
	return entriesByReference(ctx, ts.tx, refID)
}

func (ts *txStore) SumCompleted(ctx context.Context, userID economy.UserID) (economy.Money, economy.Money, error) {
	return sumCompleted(ctx, ts.tx, userID)
}

func (ts *txStore) MarkReversed(ctx context.Context, id economy.EntryID) error {
	return markReversed(ctx, ts.tx, id)
}

func (ts *txStore) SaveWithdrawal(ctx context.Context, w economy.Withdrawal) error {
	return saveWithdrawal(ctx, ts.tx, w)
}

func (ts *txStore) GetWithdrawal(ctx context.Context, id economy.WithdrawalID) (*economy.Withdrawal, error) {
	return getWithdrawal(ctx, ts.tx, id)
}

func (ts *txStore) WithdrawalsByUser(ctx context.Context, userID economy.UserID) ([]economy.Withdrawal, error) {
	return withdrawalsByUser(ctx, ts.tx, userID)
}

func (ts *txStore) SumHolds(ctx context.Context, userID economy.UserID) (economy.Money, error) {
	return sumHolds(ctx, ts.tx, userID)
}

func (ts *txStore) GetProcessedEvent(ctx context.Context, eventID string) (*economy.ProcessedEvent, error) {
	return getProcessedEvent(ctx, ts.tx, eventID)
}

func (ts *txStore) RecordProcessedEvent(ctx context.Context, ev economy.ProcessedEvent) error {
	return recordProcessedEvent(ctx, ts.tx, ev)
}

func (ts *txStore) AppendAudit(ctx context.Context, rec economy.AuditRecord) error {
	return appendAudit(ctx, ts.tx, rec)
}

func (ts *txStore) QueryAudit(ctx context.Context, filter economy.AuditFilter) ([]economy.AuditRecord, error) {
	return queryAudit(ctx, ts.tx, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
