// Package model defines shared data types used across the codelab live hub.
//
// Conventions:
//   - Rooms are keyed by codelab id (string)
//   - Participant identities are server-derived: "facilitator" for the admin,
//     the attendee id for attendees
//   - Record IDs are uuid.UUID, timestamps are UTC time.Time
package model
