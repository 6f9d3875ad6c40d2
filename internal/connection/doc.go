// Package connection implements the Connection Supervisor and a hub client.
//
// For every upgrade request the Supervisor:
//   - Authorizes the session before the upgrade (401 / 403)
//   - Identifies the participant (facilitator or attendee with roster name)
//   - Registers a direct queue and subscribes to the room's fan-out
//   - Streams with an outbound and an inbound loop until either ends
//   - Unregisters exactly once
//
// Client is the dialing side used by developer tools.
package connection
