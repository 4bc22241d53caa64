// Package convert implements C2: turning a stored session into a
// FineTuningInput (spec §4.2).
package convert

import (
	"go.uber.org/zap"

	"github.com/rivermuse/finetune-engine/internal/finetune/ferrors"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// EventImportance resolves the training weight for one session event type.
// The default plugin uses a flat 1.0 for clicks; callers needing
// per-event-type weighting supply their own.
type EventImportance func(eventType string) float64

// DefaultEventImportance gives every event a weight of 1.0 (spec §4.2:
// "default 1.0").
func DefaultEventImportance(string) float64 { return 1.0 }

// Converter builds FineTuningInput values from stored sessions.
type Converter struct {
	logger     *zap.Logger
	importance EventImportance
}

func New(logger *zap.Logger, importance EventImportance) *Converter {
	if importance == nil {
		importance = DefaultEventImportance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{logger: logger, importance: importance}
}

// Convert builds one FineTuningInput from a SessionWithEvents (spec §4.2).
//
//   - query := QueryItem(text=session.search_query, **session.search_meta)
//   - results := ordered object ids of session.search_results
//   - events := object ids of session.events that appear in results
//   - ranks := {object_id: rank}; None ranks are permitted
//   - event_types: per-event importance, parallel to events
//   - timestamp := session.created_at
//
// A "text" key collision in session.search_meta fails with a SchemaError.
// An event referencing an object not in results is dropped with a warning.
func (c *Converter) Convert(sw types.SessionWithEvents) (types.FineTuningInput, error) {
	session := sw.Session

	query := session.SearchQuery
	if session.SearchQuery.Kind == types.QueryKindText && len(session.SearchMeta) > 0 {
		if types.HasFieldCollision(session.SearchMeta) {
			return types.FineTuningInput{}, ferrors.New(ferrors.KindSchema,
				`session.search_meta collides with reserved "text" field`)
		}
		query = types.NewTextQuery(session.SearchQuery.Text, session.SearchMeta)
	}

	results := session.ResultIDs()
	ranks := make(map[string]*float64, len(results))
	for _, r := range session.SearchResults {
		ranks[r.ObjectID] = r.Rank
	}

	var events []string
	var eventTypes []float64
	for _, e := range sw.Events {
		if !session.HasResult(e.ObjectID) {
			c.logger.Warn("dropping event referencing object not in session results",
				zap.String("session_id", session.SessionID),
				zap.String("event_id", e.EventID),
				zap.String("object_id", e.ObjectID))
			continue
		}
		events = append(events, e.ObjectID)
		eventTypes = append(eventTypes, c.importance(e.EventType))
	}

	input := types.FineTuningInput{
		Query:        query,
		Results:      results,
		Events:       events,
		Ranks:        ranks,
		EventTypes:   eventTypes,
		Timestamp:    session.CreatedAt,
		IsIrrelevant: len(events) == 0,
	}
	if err := input.Validate(); err != nil {
		return types.FineTuningInput{}, err
	}
	return input, nil
}

// ConvertBatch converts every session in sessions, skipping (with a logged
// warning) any that fail conversion rather than aborting the whole batch.
func (c *Converter) ConvertBatch(sessions []types.SessionWithEvents) []types.FineTuningInput {
	out := make([]types.FineTuningInput, 0, len(sessions))
	for _, s := range sessions {
		input, err := c.Convert(s)
		if err != nil {
			c.logger.Warn("skipping session conversion failure",
				zap.String("session_id", s.Session.SessionID), zap.Error(err))
			continue
		}
		out = append(out, input)
	}
	return out
}
