// Package api provides the hub's HTTP surface and a client for it.
//
// Routes:
//   - GET  /ws/:codelab_id                                   live room stream
//   - POST /api/codelabs/:codelab_id/help                    attendee asks for help
//   - POST /api/codelabs/:codelab_id/help/:help_id/resolve   facilitator resolves
//   - POST /api/codelabs/:codelab_id/comments/:thread_id     add a step comment
//   - GET  /api/codelabs/:codelab_id/messages                chat and dm history
//   - GET  /health
//
// The REST handlers push their events into the room through the hub's
// Publish; they never touch connections directly.
package api
