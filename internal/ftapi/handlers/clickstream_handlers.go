package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rivermuse/finetune-engine/internal/clickstream"
	"github.com/rivermuse/finetune-engine/internal/finetune/ferrors"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// ClickstreamHandlers serves the Clickstream API (spec §6):
// GET /clickstream/batch/sessions, POST /clickstream/batch/release.
type ClickstreamHandlers struct {
	store  clickstream.Store
	logger *zap.Logger
}

func NewClickstreamHandlers(store clickstream.Store, logger *zap.Logger) *ClickstreamHandlers {
	return &ClickstreamHandlers{store: store, logger: logger}
}

func (h *ClickstreamHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /clickstream/batch/sessions", h.batchSessions)
	mux.HandleFunc("POST /clickstream/batch/release", h.releaseBatch)
}

type batchSessionsResponse struct {
	BatchID    string                  `json:"batch_id"`
	LastNumber *int                    `json:"last_number"`
	Sessions   []clickstreamSessionDTO `json:"sessions"`
}

// Wire shapes for the sessions payload, kept separate from the internal
// types so the API contract doesn't shift when the internal structs grow
// fields.
type clickstreamSessionDTO struct {
	SessionID       string                 `json:"session_id"`
	SearchQuery     queryDTO               `json:"search_query"`
	SearchResults   []searchResultDTO      `json:"search_results"`
	CreatedAt       time.Time              `json:"created_at"`
	UserID          *string                `json:"user_id,omitempty"`
	IsIrrelevant    bool                   `json:"is_irrelevant"`
	IsPayloadSearch bool                   `json:"is_payload_search"`
	PayloadFilter   map[string]interface{} `json:"payload_filter,omitempty"`
	SortOptions     map[string]interface{} `json:"sort_options,omitempty"`
	Events          []sessionEventDTO      `json:"events"`
}

type queryDTO struct {
	Kind   string                 `json:"kind"`
	Text   string                 `json:"text,omitempty"`
	Image  []byte                 `json:"image,omitempty"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

type searchResultDTO struct {
	ObjectID string                 `json:"object_id"`
	Rank     *float64               `json:"rank,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

type sessionEventDTO struct {
	EventID   string                 `json:"event_id"`
	ObjectID  string                 `json:"object_id"`
	EventType string                 `json:"event_type"`
	CreatedAt time.Time              `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func toSessionDTO(sw types.SessionWithEvents) clickstreamSessionDTO {
	s := sw.Session
	dto := clickstreamSessionDTO{
		SessionID: s.SessionID,
		SearchQuery: queryDTO{
			Kind:   s.SearchQuery.Kind.String(),
			Text:   s.SearchQuery.Text,
			Image:  s.SearchQuery.Image,
			Fields: s.SearchQuery.Fields,
		},
		SearchResults:   make([]searchResultDTO, 0, len(s.SearchResults)),
		CreatedAt:       s.CreatedAt,
		UserID:          s.UserID,
		IsIrrelevant:    s.IsIrrelevant,
		IsPayloadSearch: s.IsPayloadSearch,
		PayloadFilter:   s.PayloadFilter,
		SortOptions:     s.SortOptions,
		Events:          make([]sessionEventDTO, 0, len(sw.Events)),
	}
	for _, r := range s.SearchResults {
		dto.SearchResults = append(dto.SearchResults, searchResultDTO{ObjectID: r.ObjectID, Rank: r.Rank, Payload: r.Payload})
	}
	for _, e := range sw.Events {
		dto.Events = append(dto.Events, sessionEventDTO{
			EventID: e.EventID, ObjectID: e.ObjectID, EventType: e.EventType,
			CreatedAt: e.CreatedAt, Metadata: e.Metadata,
		})
	}
	return dto
}

// batchSessions implements GET /clickstream/batch/sessions, spec §4.1's
// get_batch_sessions operation surfaced over HTTP.
func (h *ClickstreamHandlers) batchSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	batchID := q.Get("batch_id")
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "batch_id is required")
		return
	}
	afterNumber, _ := strconv.Atoi(q.Get("after_number"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	eventsLimit, _ := strconv.Atoi(q.Get("events_limit"))

	page, err := h.store.GetBatchSessions(r.Context(), batchID, afterNumber, limit, eventsLimit)
	if err != nil {
		if ferrors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		h.logger.Error("failed to get batch sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get batch sessions")
		return
	}

	sessions := make([]clickstreamSessionDTO, 0, len(page.Sessions))
	for _, s := range page.Sessions {
		sessions = append(sessions, toSessionDTO(s))
	}
	writeJSON(w, http.StatusOK, batchSessionsResponse{
		BatchID:    page.BatchID,
		LastNumber: page.LastNumber,
		Sessions:   sessions,
	})
}

type releaseBatchRequest struct {
	ReleaseID string `json:"release_id"`
}

// releaseBatch implements POST /clickstream/batch/release, spec §4.1's
// release_batch operation: idempotent in release_id, 404 when there is
// no collecting batch and release_id is unrecognized.
func (h *ClickstreamHandlers) releaseBatch(w http.ResponseWriter, r *http.Request) {
	var req releaseBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReleaseID == "" {
		writeError(w, http.StatusBadRequest, "release_id is required")
		return
	}

	batch, err := h.store.ReleaseBatch(r.Context(), req.ReleaseID)
	if err != nil {
		if ferrors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "no collecting batch and unknown release_id")
			return
		}
		h.logger.Error("failed to release batch", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to release batch")
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "no collecting batch and unknown release_id")
		return
	}
	writeJSON(w, http.StatusOK, sessionBatchDTO{
		BatchID:        batch.BatchID,
		SessionCounter: batch.SessionCounter,
		CreatedAt:      batch.CreatedAt,
		Status:         string(batch.Status),
		ReleaseID:      batch.ReleaseID,
		ReleasedAt:     batch.ReleasedAt,
	})
}

type sessionBatchDTO struct {
	BatchID        string     `json:"batch_id"`
	SessionCounter int        `json:"session_counter"`
	CreatedAt      time.Time  `json:"created_at"`
	Status         string     `json:"status"`
	ReleaseID      *string    `json:"release_id,omitempty"`
	ReleasedAt     *time.Time `json:"released_at,omitempty"`
}
