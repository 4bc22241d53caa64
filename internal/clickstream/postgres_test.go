package clickstream

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, zap.NewNop(), nil), mock
}

func sampleSession() types.Session {
	return types.Session{
		SessionID:   "s1",
		SearchQuery: types.NewTextQuery("hat", nil),
		SearchResults: []types.SearchResultItem{
			{ObjectID: "A"}, {ObjectID: "B"}, {ObjectID: "C"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestRegisterSession_CreatesCollectingBatchWhenAbsent(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	// fetchRegisteredSession's initial lookup finds no existing session,
	// i.e. an empty result set (sql.ErrNoRows on Scan).
	mock.ExpectQuery(`SELECT session_id, batch_id, session_number`).
		WithArgs("s1").WillReturnRows(sqlmock.NewRows([]string{
		"session_id", "batch_id", "session_number", "search_query", "search_results",
		"created_at", "user_id", "is_irrelevant", "is_payload_search", "payload_filter", "sort_options",
	}))

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE session_batches SET session_counter = session_counter \+ 1`).
		WillReturnRows(sqlmock.NewRows([]string{"batch_id", "session_counter"}))
	mock.ExpectExec(`INSERT INTO session_batches`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`UPDATE session_batches SET session_counter = session_counter \+ 1`).
		WillReturnRows(sqlmock.NewRows([]string{"batch_id", "session_counter"}).
			AddRow("b1", 1))
	mock.ExpectExec(`INSERT INTO sessions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	reg, err := store.RegisterSession(ctx, sampleSession())
	require.NoError(t, err)
	require.Equal(t, "b1", reg.BatchID)
	require.Equal(t, 1, reg.SessionNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseBatch_Idempotent(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	cols := []string{"batch_id", "session_counter", "created_at", "status", "release_id", "released_at"}
	now := time.Now().UTC()

	// First call: the release_id is unconsumed, so the idempotency lookup
	// misses and the collecting batch is promoted.
	mock.ExpectQuery(`SELECT batch_id, session_counter, created_at, status, release_id, released_at\s+FROM session_batches WHERE release_id`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`UPDATE session_batches SET status = 'released'`).
		WithArgs("r1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("b1", 1, now, "released", "r1", now))

	batch, err := store.ReleaseBatch(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.Equal(t, types.BatchReleased, batch.Status)

	// Second call: the lookup hits and returns the already-released batch,
	// even though a fresh collecting batch may exist by now.
	mock.ExpectQuery(`SELECT batch_id, session_counter, created_at, status, release_id, released_at\s+FROM session_batches WHERE release_id`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("b1", 1, now, "released", "r1", now))

	batch2, err := store.ReleaseBatch(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, batch.BatchID, batch2.BatchID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseBatch_NoCollectingAndUnknownReleaseID(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()
	cols := []string{"batch_id", "session_counter", "created_at", "status", "release_id", "released_at"}

	mock.ExpectQuery(`SELECT batch_id, session_counter, created_at, status, release_id, released_at\s+FROM session_batches WHERE release_id`).
		WithArgs("unknown").
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`UPDATE session_batches SET status = 'released'`).
		WithArgs("unknown", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols))

	batch, err := store.ReleaseBatch(ctx, "unknown")
	require.NoError(t, err)
	require.Nil(t, batch)
	require.NoError(t, mock.ExpectationsWereMet())
}
