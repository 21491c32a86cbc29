package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Snapshot keys used by the tracker.
const (
	SnapshotDays  = "days"
	SnapshotStats = "stats"
)

// Activity is one recorded progress mutation and the delta it produced.
type Activity struct {
	ID        string
	CreatedAt time.Time
	Kind      string // "toggle_task", "complete_day", "pre_complete_day", "post_complete_day"
	TargetID  int
	XPGained  int
	LeveledUp bool
	NewLevel  *int
}
