package store

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound = errors.New("not found")
)

// DefaultHistoryLimit caps history queries that do not set a limit.
const DefaultHistoryLimit = 200

// HistoryFilter selects messages visible to a viewer.
type HistoryFilter struct {
	CodelabID string
	ViewerID  string    // Identity of the viewer; ignored when All is set
	All       bool      // Admin view: every chat and dm in the room
	Before    time.Time // Only messages created before this instant; zero = now
	Limit     int       // 0 = DefaultHistoryLimit
}

// messageRow is the messages table row.
type messageRow struct {
	ID         [16]byte
	CodelabID  string
	SenderID   string
	SenderName string
	Body       string
	Kind       string
	TargetID   *string
	CreatedAt  time.Time
}
