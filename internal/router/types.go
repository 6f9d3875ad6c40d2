package router

import (
	"context"
	"time"

	"github.com/rickgao/codelab-live/internal/model"
)

// Inbound frame types accepted from clients.
const (
	TypeChat         = "chat"
	TypeDM           = "dm"
	TypeStepProgress = "step_progress"
)

// MaxMessageLength is the longest chat or dm body accepted, in characters.
const MaxMessageLength = 2000

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	PersistTimeout time.Duration // Bound on each persistence call; 0 = none
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		PersistTimeout: 5 * time.Second,
	}
}

// Store is the persistence collaborator used by the router.
type Store interface {
	InsertMessage(ctx context.Context, msg model.Message) error
	UpdateAttendeeStep(ctx context.Context, codelabID, attendeeID string, step int) error
}

// Publisher delivers outbound frames into rooms.
type Publisher interface {
	Publish(room string, event any)
	SendDirect(room, identity string, event any) bool
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	FramesReceived int64
	FramesRouted   int64
	ParseErrors    int64 // Malformed JSON or wrong field types
	UnknownFrames  int64
	Rejected       int64 // Failed validation or not permitted for the role
	PersistErrors  int64
	DirectMissed   int64 // DMs whose target was not connected
}

// Wire types for JSON parsing

// frameEnvelope is used for fast type extraction.
type frameEnvelope struct {
	Type string `json:"type"`
}

// chatWire is the wire format for chat frames. Identity fields sent by the
// client are not part of the struct and are never read. Message is a pointer
// so a missing field fails validation while an explicit "" does not.
type chatWire struct {
	Message *string `json:"message" validate:"required,max=2000"`
}

// dmWire is the wire format for dm frames.
type dmWire struct {
	TargetID string  `json:"target_id" validate:"required"`
	Message  *string `json:"message" validate:"required,max=2000"`
}

// stepProgressWire is the wire format for step_progress frames.
type stepProgressWire struct {
	StepNumber int `json:"step_number" validate:"min=1"`
}
