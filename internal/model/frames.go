package model

import "github.com/google/uuid"

// Outbound frame types written to room streams.
const (
	FrameChat                 = "chat"
	FrameDM                   = "dm"
	FrameStepProgress         = "step_progress"
	FrameHelpRequest          = "help_request"
	FrameHelpResolved         = "help_resolved"
	FrameCommentThreadChanged = "comment_thread_changed"
)

// ChatFrame is a room chat message.
type ChatFrame struct {
	Type    string `json:"type"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// NewChatFrame builds a chat frame.
func NewChatFrame(sender, message string) ChatFrame {
	return ChatFrame{Type: FrameChat, Sender: sender, Message: message}
}

// DMFrame is a direct message delivered to a single participant.
type DMFrame struct {
	Type     string `json:"type"`
	Sender   string `json:"sender"`
	Message  string `json:"message"`
	TargetID string `json:"target_id"`
}

// NewDMFrame builds a direct message frame.
func NewDMFrame(sender, message, targetID string) DMFrame {
	return DMFrame{Type: FrameDM, Sender: sender, Message: message, TargetID: targetID}
}

// StepProgressFrame announces an attendee moving to a step.
type StepProgressFrame struct {
	Type       string `json:"type"`
	AttendeeID string `json:"attendee_id"`
	StepNumber int    `json:"step_number"`
}

// NewStepProgressFrame builds a step progress frame.
func NewStepProgressFrame(attendeeID string, step int) StepProgressFrame {
	return StepProgressFrame{Type: FrameStepProgress, AttendeeID: attendeeID, StepNumber: step}
}

// HelpRequestFrame announces a new help request.
type HelpRequestFrame struct {
	Type         string    `json:"type"`
	ID           uuid.UUID `json:"id"`
	AttendeeID   string    `json:"attendee_id"`
	AttendeeName string    `json:"attendee_name"`
	StepNumber   int       `json:"step_number"`
}

// NewHelpRequestFrame builds a help_request frame from a stored request.
func NewHelpRequestFrame(h HelpRequest) HelpRequestFrame {
	return HelpRequestFrame{
		Type:         FrameHelpRequest,
		ID:           h.ID,
		AttendeeID:   h.AttendeeID,
		AttendeeName: h.AttendeeName,
		StepNumber:   h.StepNumber,
	}
}

// HelpResolvedFrame announces that a help request was handled.
type HelpResolvedFrame struct {
	Type       string    `json:"type"`
	ID         uuid.UUID `json:"id"`
	AttendeeID string    `json:"attendee_id"`
}

// NewHelpResolvedFrame builds a help_resolved frame.
func NewHelpResolvedFrame(h HelpRequest) HelpResolvedFrame {
	return HelpResolvedFrame{Type: FrameHelpResolved, ID: h.ID, AttendeeID: h.AttendeeID}
}

// CommentThreadChangedFrame tells clients to refetch a comment thread.
type CommentThreadChangedFrame struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
}

// NewCommentThreadChangedFrame builds a comment_thread_changed frame.
func NewCommentThreadChangedFrame(threadID string) CommentThreadChangedFrame {
	return CommentThreadChangedFrame{Type: FrameCommentThreadChanged, ThreadID: threadID}
}
