package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/codelab-live/internal/model"
	"github.com/rickgao/codelab-live/internal/store"
)

// Authenticator resolves the verified session of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (model.Session, error)
}

// Store is the persistence used by the REST handlers.
type Store interface {
	Ping(ctx context.Context) error
	AttendeeName(ctx context.Context, codelabID, attendeeID string) (string, error)
	CreateHelpRequest(ctx context.Context, h model.HelpRequest) error
	ResolveHelpRequest(ctx context.Context, codelabID string, id uuid.UUID) (model.HelpRequest, error)
	InsertComment(ctx context.Context, c model.Comment) error
	ListMessages(ctx context.Context, f store.HistoryFilter) ([]model.Message, error)
}

// HelpRequestBody is the body of a help request.
type HelpRequestBody struct {
	StepNumber int `json:"step_number" validate:"min=1"`
}

// CommentBody is the body of a new comment.
type CommentBody struct {
	Body string `json:"body" validate:"required,max=2000"`
}

// HelpRequestResponse describes a stored help request.
type HelpRequestResponse struct {
	ID           uuid.UUID  `json:"id"`
	CodelabID    string     `json:"codelab_id"`
	AttendeeID   string     `json:"attendee_id"`
	AttendeeName string     `json:"attendee_name"`
	StepNumber   int        `json:"step_number"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

func newHelpRequestResponse(h model.HelpRequest) HelpRequestResponse {
	return HelpRequestResponse{
		ID:           h.ID,
		CodelabID:    h.CodelabID,
		AttendeeID:   h.AttendeeID,
		AttendeeName: h.AttendeeName,
		StepNumber:   h.StepNumber,
		Status:       string(h.Status),
		CreatedAt:    h.CreatedAt,
		ResolvedAt:   h.ResolvedAt,
	}
}

// CommentResponse describes a stored comment.
type CommentResponse struct {
	ID         uuid.UUID `json:"id"`
	ThreadID   string    `json:"thread_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageResponse is one history entry.
type MessageResponse struct {
	ID         uuid.UUID `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	Kind       string    `json:"kind"`
	TargetID   string    `json:"target_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessagesResponse is the history listing.
type MessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status     string         `json:"status"` // healthy, unhealthy
	Components map[string]any `json:"components"`
}
