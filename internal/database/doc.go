// Package database provides the PostgreSQL connection pool for the live hub.
//
// The hub persists chat and direct messages, attendee step progress, help
// requests and comment notifications. The schema lives in schema.sql and is
// embedded into the binary so a fresh database can be prepared at startup.
package database
