// Package store is the PostgreSQL persistence and roster collaborator.
//
// It persists chat and direct messages, attendee step progress, help
// requests and comments, and resolves attendee display names for the
// connection supervisor.
package store
