package hub

import "errors"

// Errors
var (
	ErrSuperseded = errors.New("connection superseded by a newer registration")
)

// Config configures the Hub.
type Config struct {
	FanoutCapacity     int // Frames retained per room ring
	DirectQueueInitial int // Initial direct queue ring size
	DirectQueueMax     int // Direct queue bound; 0 = unbounded
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FanoutCapacity:     100,
		DirectQueueInitial: 16,
		DirectQueueMax:     1024,
	}
}

// Stats provides statistics about the hub.
type Stats struct {
	Rooms           int
	Connections     int
	Published       int64 // Frames accepted by a room with subscribers
	Discarded       int64 // Frames published to an absent or empty room
	DirectDelivered int64
	DirectMissed    int64 // Direct frames whose target was not connected
	Superseded      int64 // Registrations replaced by a reconnect
}

// connKey identifies a participant within a room.
type connKey struct {
	room     string
	identity string
}
