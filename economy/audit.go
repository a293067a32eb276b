/*
audit.go - Audit port

PURPOSE:
  Every economic action emits one append-only audit record carrying a
  trace id, actor, amount, and the ledger entries it produced. The sink
  is an injected dependency, not an ambient global, so the engine is
  testable with a fake.

  Audit is best-effort logging, not a consistency gate: a sink failure
  is logged and swallowed, never blocking or rolling back the economic
  operation it describes. The audit log is forensic only and is never
  used to derive balance.
*/
package economy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditSink receives one record per economic action.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// StoreAuditSink persists records through the Store's audit log.
type StoreAuditSink struct {
	Store Store
}

func (s *StoreAuditSink) Record(ctx context.Context, rec AuditRecord) error {
	return s.Store.AppendAudit(ctx, rec)
}

// NopAuditSink discards records. Used by tests that don't assert audit.
type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, AuditRecord) error { return nil }

// audit emits a record to the sink, best-effort. Runs after the
// economic transaction has committed.
func (e *Engine) audit(ctx context.Context, action AuditAction, actor string, amount Money, entryIDs []EntryID, meta map[string]string) {
	rec := AuditRecord{
		ID:        uuid.NewString(),
		TraceID:   traceIDFrom(ctx),
		Action:    action,
		Actor:     actor,
		Amount:    amount,
		EntryIDs:  entryIDs,
		Metadata:  meta,
		CreatedAt: e.now(),
	}
	if err := e.Audit.Record(ctx, rec); err != nil {
		e.log.Warn("audit record dropped",
			zap.String("action", string(action)),
			zap.String("trace_id", rec.TraceID),
			zap.Error(err))
	}
}

// =============================================================================
// TRACE CONTEXT
// =============================================================================

type traceKey struct{}

// WithTraceID attaches a trace id to the context; the HTTP layer seeds
// this from the chi request id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

func traceIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return uuid.NewString()
}

// now is a seam for tests; defaults to time.Now in UTC.
func defaultNow() time.Time { return time.Now().UTC() }
