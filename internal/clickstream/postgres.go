package clickstream

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/rivermuse/finetune-engine/internal/circuitbreaker"
	"github.com/rivermuse/finetune-engine/internal/finetune/ferrors"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
	"github.com/rivermuse/finetune-engine/internal/metrics"
)

// PostgresStore implements Store over the three tables named in spec §6:
// session_batches, sessions, session_events. The register_session counter
// increment and insert run inside one transaction (§4.1, §5's
// serialization point), guarded first by the partial unique index on
// status='collecting' and second (optionally) by a Redis fast-path lock
// (see Locker in lock.go) to reduce contention before ever touching
// Postgres.
type PostgresStore struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
	locker Locker // optional; nil disables the fast-path lock
}

// NewPostgresStore wraps an already-open *sql.DB with the circuit breaker
// used throughout this codebase (grounded on internal/db.Client's own
// construction of circuitbreaker.NewDatabaseWrapper).
func NewPostgresStore(rawDB *sql.DB, logger *zap.Logger, locker Locker) *PostgresStore {
	return &PostgresStore{
		db:     circuitbreaker.NewDatabaseWrapper(rawDB, logger),
		logger: logger,
		locker: locker,
	}
}

func (s *PostgresStore) RegisterSession(ctx context.Context, session types.Session) (types.RegisteredSession, error) {
	if existing, err := s.fetchRegisteredSession(ctx, session.SessionID); err == nil {
		return existing, nil
	} else if !ferrors.IsNotFound(err) {
		return types.RegisteredSession{}, err
	}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, "collecting-batch")
		if err == nil {
			defer unlock()
		}
		// Lock failures never block correctness; Postgres is the source
		// of truth (spec §5).
	}

	query, err := encodeQuery(session.SearchQuery)
	if err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindValidation, "encode search_query", err)
	}
	results, err := encodeResults(session.SearchResults)
	if err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindValidation, "encode search_results", err)
	}
	payloadFilter, _ := encodeMeta(session.PayloadFilter)
	sortOptions, _ := encodeMeta(session.SortOptions)

	var tx *circuitbreaker.TxWrapper
	var reg types.RegisteredSession
	for attempt := 1; ; attempt++ {
		tx, err = s.db.BeginTx(ctx, nil)
		if err != nil {
			return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindTransient, "begin register_session tx", err)
		}
		reg, err = s.registerWithinTx(ctx, tx, session, query, results, payloadFilter, sortOptions)
		if err == nil {
			break
		}
		_ = tx.Rollback()
		// A concurrent registration created the collecting batch first;
		// retry once so this call increments that batch instead.
		if attempt >= 2 || !isUniqueViolation(err) {
			return types.RegisteredSession{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindTransient, "commit register_session tx", err)
	}

	metrics.SessionsRegistered.Inc()
	return reg, nil
}

// registerWithinTx performs the single atomic unit named in spec §5: it
// increments session_counter on the collecting batch (creating one if
// absent) and inserts the session, all inside tx.
func (s *PostgresStore) registerWithinTx(ctx context.Context, tx *circuitbreaker.TxWrapper, session types.Session, query, results, payloadFilter, sortOptions []byte) (types.RegisteredSession, error) {
	var batchID string
	var counter int
	row, err := tx.QueryRowContext(ctx, `
		UPDATE session_batches SET session_counter = session_counter + 1
		WHERE status = 'collecting'
		RETURNING batch_id, session_counter`)
	if err == nil {
		if scanErr := row.Scan(&batchID, &counter); scanErr == nil {
			return s.insertSession(ctx, tx, session, batchID, counter, query, results, payloadFilter, sortOptions)
		} else if !errors.Is(scanErr, sql.ErrNoRows) {
			return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindTransient, "scan collecting batch", scanErr)
		}
	}

	// No collecting batch exists: create one, then retry the increment.
	// The partial unique index on status='collecting' makes a concurrent
	// create race into a unique-violation, on which RegisterSession rolls
	// back and runs the whole transaction once more.
	batchID = uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_batches (batch_id, session_counter, created_at, status)
		VALUES ($1, 0, $2, 'collecting')`, batchID, time.Now().UTC()); err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindConflict, "create collecting batch", err)
	}

	row, err = tx.QueryRowContext(ctx, `
		UPDATE session_batches SET session_counter = session_counter + 1
		WHERE status = 'collecting'
		RETURNING batch_id, session_counter`)
	if err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindTransient, "increment new collecting batch", err)
	}
	if err := row.Scan(&batchID, &counter); err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindTransient, "scan new collecting batch", err)
	}
	return s.insertSession(ctx, tx, session, batchID, counter, query, results, payloadFilter, sortOptions)
}

func (s *PostgresStore) insertSession(ctx context.Context, tx *circuitbreaker.TxWrapper, session types.Session, batchID string, number int, query, results, payloadFilter, sortOptions []byte) (types.RegisteredSession, error) {
	var userID interface{}
	if session.UserID != nil {
		userID = *session.UserID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, batch_id, session_number, search_query, search_results,
			created_at, user_id, is_irrelevant, is_payload_search, payload_filter, sort_options
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		session.SessionID, batchID, number, query, results,
		session.CreatedAt.UTC(), userID, len(session.SearchResults) == 0 && session.IsIrrelevant,
		session.IsPayloadSearch, payloadFilter, sortOptions); err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindConflict, "insert session", err)
	}
	metrics.CollectingBatchSize.Set(float64(number))
	return types.RegisteredSession{Session: session, BatchID: batchID, SessionNumber: number}, nil
}

// UpdateSession overwrites an existing session's mutable fields without
// touching its assigned session_number (spec §9 Open Question: update must
// not re-number).
func (s *PostgresStore) UpdateSession(ctx context.Context, session types.Session) (types.RegisteredSession, error) {
	existing, err := s.fetchRegisteredSession(ctx, session.SessionID)
	if err != nil {
		return types.RegisteredSession{}, err
	}

	query, err := encodeQuery(session.SearchQuery)
	if err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindValidation, "encode search_query", err)
	}
	results, err := encodeResults(session.SearchResults)
	if err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindValidation, "encode search_results", err)
	}
	payloadFilter, _ := encodeMeta(session.PayloadFilter)
	sortOptions, _ := encodeMeta(session.SortOptions)
	var userID interface{}
	if session.UserID != nil {
		userID = *session.UserID
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			search_query = $2, search_results = $3, user_id = $4,
			is_payload_search = $5, payload_filter = $6, sort_options = $7
		WHERE session_id = $1`,
		session.SessionID, query, results, userID, session.IsPayloadSearch, payloadFilter, sortOptions); err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindTransient, "update session", err)
	}

	metrics.SessionsUpdated.Inc()
	existing.Session = session
	return existing, nil
}

func (s *PostgresStore) PushEvents(ctx context.Context, events []types.SessionEvent) error {
	for _, e := range events {
		meta, err := encodeMeta(e.Metadata)
		if err != nil {
			return ferrors.Wrap(ferrors.KindValidation, "encode event metadata", err)
		}
		eventType := e.EventType
		if eventType == "" {
			eventType = "click"
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO session_events (session_id, event_id, object_id, event_type, created_at, event_metadata)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (session_id, event_id) DO NOTHING`,
			e.SessionID, e.EventID, e.ObjectID, eventType, e.CreatedAt.UTC(), meta)
		if err != nil {
			return ferrors.Wrap(ferrors.KindTransient, "insert session event", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			metrics.EventsPushed.WithLabelValues(eventType, "duplicate").Inc()
		} else {
			metrics.EventsPushed.WithLabelValues(eventType, "inserted").Inc()
		}
	}
	return nil
}

func (s *PostgresStore) MarkSessionIrrelevant(ctx context.Context, sessionID string) (types.RegisteredSession, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_irrelevant = TRUE WHERE session_id = $1`, sessionID)
	if err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindTransient, "mark session irrelevant", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.RegisteredSession{}, ferrors.New(ferrors.KindNotFound, "session not found: "+sessionID)
	}
	return s.fetchRegisteredSession(ctx, sessionID)
}

func (s *PostgresStore) fetchRegisteredSession(ctx context.Context, sessionID string) (types.RegisteredSession, error) {
	row, err := s.db.QueryRowContextCB(ctx, `
		SELECT session_id, batch_id, session_number, search_query, search_results,
		       created_at, user_id, is_irrelevant, is_payload_search, payload_filter, sort_options
		FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindTransient, "query session", err)
	}
	reg, _, err := scanRegisteredSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RegisteredSession{}, ferrors.New(ferrors.KindNotFound, "session not found: "+sessionID)
	}
	if err != nil {
		return types.RegisteredSession{}, ferrors.Wrap(ferrors.KindTransient, "scan session", err)
	}
	return reg, nil
}

func scanRegisteredSession(row *sql.Row) (types.RegisteredSession, []byte, error) {
	var sessionID, batchID string
	var number int
	var rawQuery, rawResults []byte
	var createdAt time.Time
	var userID sql.NullString
	var isIrrelevant, isPayloadSearch bool
	var payloadFilter, sortOptions []byte

	if err := row.Scan(&sessionID, &batchID, &number, &rawQuery, &rawResults,
		&createdAt, &userID, &isIrrelevant, &isPayloadSearch, &payloadFilter, &sortOptions); err != nil {
		return types.RegisteredSession{}, nil, err
	}

	query, err := decodeQuery(rawQuery)
	if err != nil {
		return types.RegisteredSession{}, nil, err
	}
	results, err := decodeResults(rawResults)
	if err != nil {
		return types.RegisteredSession{}, nil, err
	}
	pf, err := decodeMeta(payloadFilter)
	if err != nil {
		return types.RegisteredSession{}, nil, err
	}
	so, err := decodeMeta(sortOptions)
	if err != nil {
		return types.RegisteredSession{}, nil, err
	}

	var userPtr *string
	if userID.Valid {
		u := userID.String
		userPtr = &u
	}

	session := types.Session{
		SessionID:     sessionID,
		SearchQuery:   query,
		SearchResults: results,
		CreatedAt:     createdAt,
		UserID:        userPtr,
		IsIrrelevant:  isIrrelevant,
		IsPayloadSearch: isPayloadSearch,
		PayloadFilter: pf,
		SortOptions:   so,
	}
	return types.RegisteredSession{Session: session, BatchID: batchID, SessionNumber: number}, rawResults, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (types.SessionWithEvents, error) {
	reg, err := s.fetchRegisteredSession(ctx, sessionID)
	if err != nil {
		return types.SessionWithEvents{}, err
	}
	events, err := s.fetchEvents(ctx, sessionID, 0)
	if err != nil {
		return types.SessionWithEvents{}, err
	}
	return types.SessionWithEvents{Session: reg.Session, Events: events}, nil
}

func (s *PostgresStore) fetchEvents(ctx context.Context, sessionID string, limit int) ([]types.SessionEvent, error) {
	q := `SELECT session_id, event_id, object_id, event_type, created_at, event_metadata
	      FROM session_events WHERE session_id = $1 ORDER BY created_at ASC`
	args := []interface{}{sessionID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindTransient, "query session events", err)
	}
	defer rows.Close()

	var out []types.SessionEvent
	for rows.Next() {
		var e types.SessionEvent
		var meta []byte
		if err := rows.Scan(&e.SessionID, &e.EventID, &e.ObjectID, &e.EventType, &e.CreatedAt, &meta); err != nil {
			return nil, ferrors.Wrap(ferrors.KindTransient, "scan session event", err)
		}
		if m, err := decodeMeta(meta); err == nil {
			e.Metadata = m
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetBatchSessions(ctx context.Context, batchID string, afterNumber, limit, eventsLimit int) (BatchSessionsPage, error) {
	q := `SELECT session_id, batch_id, session_number, search_query, search_results,
	             created_at, user_id, is_irrelevant, is_payload_search, payload_filter, sort_options
	      FROM sessions WHERE batch_id = $1 AND session_number > $2
	      ORDER BY session_number ASC`
	args := []interface{}{batchID, afterNumber}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return BatchSessionsPage{}, ferrors.Wrap(ferrors.KindTransient, "query batch sessions", err)
	}
	defer rows.Close()

	page := BatchSessionsPage{BatchID: batchID}
	for rows.Next() {
		var sessionID, bID string
		var number int
		var rawQuery, rawResults []byte
		var createdAt time.Time
		var userID sql.NullString
		var isIrrelevant, isPayloadSearch bool
		var payloadFilter, sortOptions []byte

		if err := rows.Scan(&sessionID, &bID, &number, &rawQuery, &rawResults,
			&createdAt, &userID, &isIrrelevant, &isPayloadSearch, &payloadFilter, &sortOptions); err != nil {
			return BatchSessionsPage{}, ferrors.Wrap(ferrors.KindTransient, "scan batch session", err)
		}
		query, err := decodeQuery(rawQuery)
		if err != nil {
			return BatchSessionsPage{}, err
		}
		results, err := decodeResults(rawResults)
		if err != nil {
			return BatchSessionsPage{}, err
		}
		pf, _ := decodeMeta(payloadFilter)
		so, _ := decodeMeta(sortOptions)
		var userPtr *string
		if userID.Valid {
			u := userID.String
			userPtr = &u
		}

		session := types.Session{
			SessionID: sessionID, SearchQuery: query, SearchResults: results,
			CreatedAt: createdAt, UserID: userPtr, IsIrrelevant: isIrrelevant,
			IsPayloadSearch: isPayloadSearch, PayloadFilter: pf, SortOptions: so,
		}
		events, err := s.fetchEvents(ctx, sessionID, eventsLimit)
		if err != nil {
			return BatchSessionsPage{}, err
		}
		page.Sessions = append(page.Sessions, types.SessionWithEvents{Session: session, Events: events})
		n := number
		if page.LastNumber == nil || n > *page.LastNumber {
			page.LastNumber = &n
		}
	}
	return page, rows.Err()
}

func (s *PostgresStore) ReleaseBatch(ctx context.Context, releaseID string) (*types.SessionBatch, error) {
	start := time.Now()
	defer func() { metrics.BatchReleaseLatency.Observe(time.Since(start).Seconds()) }()

	// Idempotency check first: if this release_id was already consumed,
	// return that batch rather than promoting whatever batch is collecting
	// now (a later collecting batch must not be captured by a replayed
	// release, spec §4.1).
	batch, err := s.lookupBatchByReleaseID(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if batch != nil {
		return batch, nil
	}

	now := time.Now().UTC()
	row, err := s.db.QueryRowContextCB(ctx, `
		UPDATE session_batches SET status = 'released', release_id = $1, released_at = $2
		WHERE status = 'collecting'
		RETURNING batch_id, session_counter, created_at, status, release_id, released_at`,
		releaseID, now)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindTransient, "release batch update", err)
	}
	released, scanErr := scanBatch(row)
	if scanErr == nil {
		metrics.BatchesReleased.Inc()
		return &released, nil
	}
	if errors.Is(scanErr, sql.ErrNoRows) {
		// No collecting batch and the release_id is unknown: null (spec §9).
		return nil, nil
	}
	if isUniqueViolation(scanErr) {
		// Concurrent release with the same release_id won the unique index
		// on release_id; resolve idempotently (spec §7 ConflictError).
		return s.lookupBatchByReleaseID(ctx, releaseID)
	}
	return nil, ferrors.Wrap(ferrors.KindTransient, "scan released batch", scanErr)
}

func (s *PostgresStore) lookupBatchByReleaseID(ctx context.Context, releaseID string) (*types.SessionBatch, error) {
	row, err := s.db.QueryRowContextCB(ctx, `
		SELECT batch_id, session_counter, created_at, status, release_id, released_at
		FROM session_batches WHERE release_id = $1`, releaseID)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindTransient, "lookup batch by release_id", err)
	}
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindTransient, "scan batch by release_id", err)
	}
	return &batch, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func scanBatch(row *sql.Row) (types.SessionBatch, error) {
	var b types.SessionBatch
	var status string
	var releaseID sql.NullString
	var releasedAt sql.NullTime
	if err := row.Scan(&b.BatchID, &b.SessionCounter, &b.CreatedAt, &status, &releaseID, &releasedAt); err != nil {
		return types.SessionBatch{}, err
	}
	b.Status = types.BatchStatus(status)
	if releaseID.Valid {
		r := releaseID.String
		b.ReleaseID = &r
	}
	if releasedAt.Valid {
		t := releasedAt.Time
		b.ReleasedAt = &t
	}
	return b, nil
}

func (s *PostgresStore) UpdateBatchStatus(ctx context.Context, batchID string, status types.BatchStatus) (*types.SessionBatch, error) {
	if !status.Valid() {
		return nil, ferrors.New(ferrors.KindValidation, "invalid batch status: "+string(status))
	}
	row, err := s.db.QueryRowContextCB(ctx, `
		UPDATE session_batches SET status = $2 WHERE batch_id = $1
		RETURNING batch_id, session_counter, created_at, status, release_id, released_at`,
		batchID, string(status))
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindTransient, "update batch status", err)
	}
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ferrors.New(ferrors.KindNotFound, "batch not found: "+batchID)
	}
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindTransient, "scan updated batch", err)
	}
	return &batch, nil
}

var _ Store = (*PostgresStore)(nil)
