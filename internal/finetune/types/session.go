package types

import "time"

// SearchResultItem is one displayed result within a session: an object id,
// its rank at display time (nil if unknown), and an opaque payload.
type SearchResultItem struct {
	ObjectID string
	Rank     *float64
	Payload  map[string]interface{}
}

// Session is the immutable record of one search interaction (spec §3).
type Session struct {
	SessionID       string
	SearchQuery     QueryItem
	SearchMeta      map[string]interface{}
	SearchResults   []SearchResultItem
	CreatedAt       time.Time
	UserID          *string
	IsIrrelevant    bool
	IsPayloadSearch bool
	PayloadFilter   map[string]interface{}
	SortOptions     map[string]interface{}
}

// ResultIDs returns the ordered object ids of the session's results.
func (s Session) ResultIDs() []string {
	ids := make([]string, len(s.SearchResults))
	for i, r := range s.SearchResults {
		ids[i] = r.ObjectID
	}
	return ids
}

// HasResult reports whether objectID appears among the session's displayed
// results.
func (s Session) HasResult(objectID string) bool {
	for _, r := range s.SearchResults {
		if r.ObjectID == objectID {
			return true
		}
	}
	return false
}

// SessionWithEvents joins a session with its (possibly truncated) event
// list, the shape returned by get_session/get_batch_sessions (spec §4.1).
type SessionWithEvents struct {
	Session Session
	Events  []SessionEvent
}

// RegisteredSession is a Session enriched with the batch assignment made by
// the clickstream store. Once assigned, (BatchID, SessionNumber) is
// immutable for the session's lifetime (spec §3).
type RegisteredSession struct {
	Session       Session
	BatchID       string
	SessionNumber int
}
