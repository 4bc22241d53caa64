package types

import "time"

// BatchStatus is the SessionBatch lifecycle state (spec §3): a batch moves
// strictly forward through collecting -> released -> fine_tuning ->
// archiving -> archived and never reverts.
type BatchStatus string

const (
	BatchCollecting BatchStatus = "collecting"
	BatchReleased   BatchStatus = "released"
	BatchFineTuning BatchStatus = "fine_tuning"
	BatchArchiving  BatchStatus = "archiving"
	BatchArchived   BatchStatus = "archived"
)

// Valid reports whether s is one of the five defined statuses.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchCollecting, BatchReleased, BatchFineTuning, BatchArchiving, BatchArchived:
		return true
	default:
		return false
	}
}

// SessionBatch is a contiguous, numbered group of sessions released
// together for training (spec §3). At most one batch is ever in the
// collecting state.
type SessionBatch struct {
	BatchID        string
	SessionCounter int
	CreatedAt      time.Time
	Status         BatchStatus
	ReleaseID      *string
	ReleasedAt     *time.Time
}
