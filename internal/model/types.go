package model

import (
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Sessions and Participants
// -----------------------------------------------------------------------------

// Role is the authenticated role of a session.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleAttendee Role = "attendee"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleAttendee
}

// Canonical identity and display name of the admin role inside any room.
const (
	FacilitatorID   = "facilitator"
	FacilitatorName = "Facilitator"
)

// FallbackAttendeeName is shown when the roster lookup fails.
const FallbackAttendeeName = "Attendee"

// Session is a verified session handed over by the auth collaborator.
type Session struct {
	Role      Role   // admin or attendee
	SubjectID string // Admin username or attendee id
	CodelabID string // Room binding; empty for admin
}

// CanJoin reports whether the session may open the given room.
// Admins have no room binding; attendees are bound to exactly one codelab.
func (s Session) CanJoin(room string) bool {
	if s.Role == RoleAdmin {
		return true
	}
	return s.Role == RoleAttendee && s.CodelabID == room
}

// Identity returns the canonical participant identity for the session.
func (s Session) Identity() string {
	if s.Role == RoleAdmin {
		return FacilitatorID
	}
	return s.SubjectID
}

// Participant is a connection's server-derived view of who is speaking.
type Participant struct {
	Room     string // Codelab id
	Identity string // Registry key, persisted sender id, outbound identity
	Role     Role
	Name     string // Display name used as "sender" in outbound frames
}

// IsAttendee reports whether the participant has the attendee role.
func (p Participant) IsAttendee() bool {
	return p.Role == RoleAttendee
}

// -----------------------------------------------------------------------------
// Persisted Records
// -----------------------------------------------------------------------------

// MessageKind distinguishes room chat from direct messages.
type MessageKind string

const (
	KindChat MessageKind = "chat"
	KindDM   MessageKind = "dm"
)

// Message is a persisted chat or direct message.
type Message struct {
	ID         uuid.UUID
	CodelabID  string
	SenderID   string // Server-derived identity
	SenderName string
	Body       string
	Kind       MessageKind
	TargetID   string // Direct messages only
	CreatedAt  time.Time
}

// HelpStatus is the lifecycle state of a help request.
type HelpStatus string

const (
	HelpPending  HelpStatus = "pending"
	HelpResolved HelpStatus = "resolved"
)

// HelpRequest is an attendee asking the facilitator for help on a step.
type HelpRequest struct {
	ID           uuid.UUID
	CodelabID    string
	AttendeeID   string
	AttendeeName string
	StepNumber   int
	Status       HelpStatus
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// Comment is a single entry in a step comment thread.
type Comment struct {
	ID         uuid.UUID
	CodelabID  string
	ThreadID   string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}
