package types

import (
	"time"

	"github.com/rivermuse/finetune-engine/internal/finetune/ferrors"
)

// FineTuningInput is the training-side representation of one session
// (spec §3): query, ordered results, the subset that received an event,
// per-item rank at display time, per-event importance, and an optional
// part->object mapping for subitem aggregation.
//
// Invariants (spec §3): len(Ranks) == len(Results); every id in Results has
// a key in Ranks; every id in Events appears in Results.
type FineTuningInput struct {
	Query           QueryItem
	Results         []string
	Events          []string
	Ranks           map[string]*float64
	EventTypes      []float64 // parallel to Events
	Timestamp       time.Time
	IsIrrelevant    bool
	PartToObjectDict map[string]string // part id -> parent object id, optional
}

// NotEvents returns results \ events, preserving the order of Results.
func (f FineTuningInput) NotEvents() []string {
	eventSet := make(map[string]struct{}, len(f.Events))
	for _, e := range f.Events {
		eventSet[e] = struct{}{}
	}
	out := make([]string, 0, len(f.Results)-len(f.Events))
	for _, r := range f.Results {
		if _, ok := eventSet[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// GetObjectID resolves id to its parent object id via PartToObjectDict, or
// returns id unchanged when no part mapping exists for it.
func (f FineTuningInput) GetObjectID(id string) string {
	if f.PartToObjectDict == nil {
		return id
	}
	if obj, ok := f.PartToObjectDict[id]; ok {
		return obj
	}
	return id
}

// RemoveResults removes ids from Results (and, transitively, from Events
// and Ranks), recomputing IsIrrelevant. When PartToObjectDict is present,
// removing an object id also removes all of its part ids (spec §3).
func (f *FineTuningInput) RemoveResults(ids []string) {
	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
		if f.PartToObjectDict != nil {
			for part, obj := range f.PartToObjectDict {
				if obj == id {
					remove[part] = struct{}{}
				}
			}
		}
	}

	results := make([]string, 0, len(f.Results))
	for _, r := range f.Results {
		if _, ok := remove[r]; !ok {
			results = append(results, r)
		}
	}
	f.Results = results

	events := make([]string, 0, len(f.Events))
	eventTypes := make([]float64, 0, len(f.EventTypes))
	for i, e := range f.Events {
		if _, ok := remove[e]; ok {
			continue
		}
		events = append(events, e)
		if i < len(f.EventTypes) {
			eventTypes = append(eventTypes, f.EventTypes[i])
		}
	}
	f.Events = events
	f.EventTypes = eventTypes

	for id := range remove {
		delete(f.Ranks, id)
	}

	f.IsIrrelevant = len(f.Events) == 0
}

// Validate checks the FineTuningInput invariants (spec §3, §8), returning a
// ValidationError-kind error on violation. Grounded on the converter's
// SchemaError path (spec §4.2).
func (f FineTuningInput) Validate() error {
	if len(f.Ranks) != len(f.Results) {
		return ferrors.New(ferrors.KindValidation, "ranks length does not match results length")
	}
	resultSet := make(map[string]struct{}, len(f.Results))
	for _, r := range f.Results {
		resultSet[r] = struct{}{}
		if _, ok := f.Ranks[r]; !ok {
			return ferrors.New(ferrors.KindValidation, "missing rank for result id "+r)
		}
	}
	for _, e := range f.Events {
		if _, ok := resultSet[e]; !ok {
			return ferrors.New(ferrors.KindValidation, "event object id not present in results: "+e)
		}
	}
	return nil
}
