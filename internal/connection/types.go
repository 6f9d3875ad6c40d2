package connection

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/codelab-live/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrPeerClosed      = errors.New("peer closed connection")
)

// State is a connection's position in the supervisor lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthorizing
	StateIdentifying
	StateRegistered
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateIdentifying:
		return "identifying"
	case StateRegistered:
		return "registered"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Authenticator resolves the verified session of an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (model.Session, error)
}

// Roster looks up attendee display names.
type Roster interface {
	AttendeeName(ctx context.Context, codelabID, attendeeID string) (string, error)
}

// FrameRouter handles inbound frames.
type FrameRouter interface {
	Route(ctx context.Context, p model.Participant, data []byte)
}

// SupervisorConfig configures the Connection Supervisor.
type SupervisorConfig struct {
	WriteTimeout      time.Duration // Deadline for each outbound write
	MaxFrameBytes     int64         // Inbound frame limit; 0 = unlimited
	NameLookupTimeout time.Duration // Bound on the roster lookup
	AllowedOrigins    []string      // Empty allows any origin
}

// DefaultSupervisorConfig returns sensible defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		WriteTimeout:      10 * time.Second,
		MaxFrameBytes:     32 << 10,
		NameLookupTimeout: 2 * time.Second,
	}
}

// SupervisorStats contains runtime statistics.
type SupervisorStats struct {
	Active       int64 // Connections between registration and cleanup
	Accepted     int64
	Unauthorized int64
	Forbidden    int64
	UpgradeFails int64
	Superseded   int64 // Connections ended by a reconnect of the same identity
	Closed       int64
}

// TimestampedMessage wraps raw frame data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a hub client.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., ws://localhost:8080/ws/lab-1)
	Token        string        // Session token sent as a bearer Authorization header
	PingInterval time.Duration // Keepalive ping interval; 0 disables pings
	PongTimeout  time.Duration // Max time without pong before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PongTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   256,
	}
}
