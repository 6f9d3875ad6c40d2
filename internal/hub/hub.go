package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Hub holds the room and connection registries. It is created once and
// shared by reference with every connection handler and REST handler.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	rooms sync.Map // room → *Fanout
	conns sync.Map // connKey → *Queue[[]byte]

	published       atomic.Int64
	discarded       atomic.Int64
	directDelivered atomic.Int64
	directMissed    atomic.Int64
	superseded      atomic.Int64
}

// New creates a new Hub.
func New(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:    cfg,
		logger: logger,
	}
}

// Fanout returns the room's fan-out channel, creating it on first use.
func (h *Hub) Fanout(room string) *Fanout {
	if f, ok := h.rooms.Load(room); ok {
		return f.(*Fanout)
	}
	f, loaded := h.rooms.LoadOrStore(room, newFanout(h.cfg.FanoutCapacity))
	if !loaded {
		h.logger.Debug("room created", "room", room)
	}
	return f.(*Fanout)
}

// Publish encodes event as JSON and broadcasts it to the room.
// Events for rooms that have no fan-out channel or no subscribers are
// discarded; that is not an error.
func (h *Hub) Publish(room string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to encode event", "room", room, "error", err)
		return
	}
	h.PublishRaw(room, data)
}

// PublishRaw broadcasts an already encoded frame to the room.
func (h *Hub) PublishRaw(room string, frame []byte) {
	f, ok := h.rooms.Load(room)
	if !ok || !f.(*Fanout).Publish(frame) {
		h.discarded.Add(1)
		return
	}
	h.published.Add(1)
}

// NewQueue creates a direct queue sized from the hub config.
func (h *Hub) NewQueue() *Queue[[]byte] {
	return NewQueue[[]byte](h.cfg.DirectQueueInitial, h.cfg.DirectQueueMax)
}

// Register stores q as the direct queue for identity in room. A queue
// already registered for the same key is replaced and closed, which makes
// the older connection's outbound loop stop and clean up after itself.
func (h *Hub) Register(room, identity string, q *Queue[[]byte]) {
	prev, loaded := h.conns.Swap(connKey{room: room, identity: identity}, q)
	if loaded && prev.(*Queue[[]byte]) != q {
		prev.(*Queue[[]byte]).Close()
		h.superseded.Add(1)
		h.logger.Debug("registration superseded", "room", room, "identity", identity)
	}
}

// Lookup returns the live direct queue for identity in room.
func (h *Hub) Lookup(room, identity string) (*Queue[[]byte], bool) {
	q, ok := h.conns.Load(connKey{room: room, identity: identity})
	if !ok {
		return nil, false
	}
	return q.(*Queue[[]byte]), true
}

// Unregister removes the entry for identity in room if it still points at q
// and closes q. A connection that was superseded therefore never removes its
// successor. Returns true if the entry was removed.
func (h *Hub) Unregister(room, identity string, q *Queue[[]byte]) bool {
	q.Close()
	return h.conns.CompareAndDelete(connKey{room: room, identity: identity}, q)
}

// SendDirect encodes event and queues it for identity in room only.
// Returns false if the target is not connected.
func (h *Hub) SendDirect(room, identity string, event any) bool {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to encode direct event", "room", room, "error", err)
		return false
	}

	q, ok := h.Lookup(room, identity)
	if !ok || !q.Send(data) {
		h.directMissed.Add(1)
		return false
	}
	h.directDelivered.Add(1)
	return true
}

// Stats returns current statistics.
func (h *Hub) Stats() Stats {
	var rooms, conns int
	h.rooms.Range(func(_, _ any) bool {
		rooms++
		return true
	})
	h.conns.Range(func(_, _ any) bool {
		conns++
		return true
	})

	return Stats{
		Rooms:           rooms,
		Connections:     conns,
		Published:       h.published.Load(),
		Discarded:       h.discarded.Load(),
		DirectDelivered: h.directDelivered.Load(),
		DirectMissed:    h.directMissed.Load(),
		Superseded:      h.superseded.Load(),
	}
}
