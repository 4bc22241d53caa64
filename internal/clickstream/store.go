// Package clickstream implements C1, the clickstream store: append/update
// sessions and events, assign a monotonically increasing session number
// within the single open batch, and release batches atomically under a
// client-supplied idempotency key (spec §4.1, §5).
package clickstream

import (
	"context"

	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// BatchSessionsPage is the result shape of get_batch_sessions / the
// Clickstream API's GET /clickstream/batch/sessions (spec §4.1, §6):
// sessions ordered ascending by session number, plus the highest number
// returned (nil if the page is empty).
type BatchSessionsPage struct {
	BatchID    string
	LastNumber *int
	Sessions   []types.SessionWithEvents
}

// Store is the C1 clickstream store contract (spec §4.1).
type Store interface {
	// RegisterSession assigns (batch_id, session_number) to session and
	// persists it. If a session with the same id already exists, the
	// existing record is returned unchanged.
	RegisterSession(ctx context.Context, session types.Session) (types.RegisteredSession, error)

	// UpdateSession replaces an existing session's stored fields without
	// re-assigning session_number (spec §9 Open Question resolution).
	UpdateSession(ctx context.Context, session types.Session) (types.RegisteredSession, error)

	// PushEvents inserts events; duplicates on (session_id, event_id) are
	// silently ignored.
	PushEvents(ctx context.Context, events []types.SessionEvent) error

	// MarkSessionIrrelevant sets is_irrelevant := true without touching
	// the session's events.
	MarkSessionIrrelevant(ctx context.Context, sessionID string) (types.RegisteredSession, error)

	// GetSession joins a session with its events, or returns
	// ferrors.KindNotFound if unknown.
	GetSession(ctx context.Context, sessionID string) (types.SessionWithEvents, error)

	// GetBatchSessions returns sessions with session_number > afterNumber
	// in ascending order, each with up to eventsLimit events. limit <= 0
	// means unbounded; eventsLimit <= 0 means unbounded.
	GetBatchSessions(ctx context.Context, batchID string, afterNumber, limit, eventsLimit int) (BatchSessionsPage, error)

	// ReleaseBatch transactionally promotes the collecting batch to
	// released, recording releaseID; idempotent in releaseID. Returns
	// (nil, nil) when no collecting batch exists and releaseID is
	// unknown (spec §4.1, §9).
	ReleaseBatch(ctx context.Context, releaseID string) (*types.SessionBatch, error)

	// UpdateBatchStatus advances a batch to a later lifecycle state.
	UpdateBatchStatus(ctx context.Context, batchID string, status types.BatchStatus) (*types.SessionBatch, error)
}
