// Package hub implements the room communication hub.
//
// The Hub owns two registries shared by every connection:
//   - Room Registry: one lossy Fanout per codelab room, created on demand
//   - Connection Registry: (room, identity) → that participant's direct Queue
//
// Publish is the single entry point REST handlers use to push server-generated
// events (help requests, comment thread changes) into a room's live stream.
// Rooms are never torn down; they live as long as the process.
package hub
