// Package router implements the Message Router for inbound client frames.
//
// Supported frames:
//   - chat:          persisted, published to the whole room
//   - dm:            persisted, delivered to the target's direct queue only
//   - step_progress: attendee only, updates the roster, published to the room
//
// Sender identity always comes from the connection's Participant.
package router
