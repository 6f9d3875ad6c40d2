package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rickgao/codelab-live/internal/model"
)

// Router interprets inbound frames, performs their persistence side effect
// and re-emits a server-authored outbound frame.
//
// The protocol has no error replies: malformed, unknown, invalid and
// unauthorized frames are dropped and the connection stays open.
type Router interface {
	// Route handles one raw inbound frame sent by p.
	Route(ctx context.Context, p model.Participant, data []byte)

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation.
type router struct {
	cfg      RouterConfig
	store    Store
	pub      Publisher
	validate *validator.Validate
	logger   *slog.Logger

	mu            sync.RWMutex
	received      int64
	routed        int64
	parseErrors   int64
	unknownFrames int64
	rejected      int64
	persistErrors int64
	directMissed  int64
}

// NewRouter creates a new Message Router.
func NewRouter(cfg RouterConfig, store Store, pub Publisher, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:      cfg,
		store:    store,
		pub:      pub,
		validate: validator.New(),
		logger:   logger,
	}
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		FramesReceived: r.received,
		FramesRouted:   r.routed,
		ParseErrors:    r.parseErrors,
		UnknownFrames:  r.unknownFrames,
		Rejected:       r.rejected,
		PersistErrors:  r.persistErrors,
		DirectMissed:   r.directMissed,
	}
}

// Route parses and routes a single frame.
func (r *router) Route(ctx context.Context, p model.Participant, data []byte) {
	r.count(&r.received)

	msgType, err := r.extractType(data)
	if err != nil {
		r.logger.Debug("dropping unparseable frame", "room", p.Room, "identity", p.Identity, "error", err)
		r.count(&r.parseErrors)
		return
	}

	var ok bool

	switch msgType {
	case TypeChat:
		var wire chatWire
		if !r.decode(p, msgType, data, &wire) {
			return
		}
		ok = r.routeChat(ctx, p, wire)

	case TypeDM:
		var wire dmWire
		if !r.decode(p, msgType, data, &wire) {
			return
		}
		ok = r.routeDM(ctx, p, wire)

	case TypeStepProgress:
		// Admin progress frames are a no-op.
		if !p.IsAttendee() {
			r.count(&r.rejected)
			return
		}
		var wire stepProgressWire
		if !r.decode(p, msgType, data, &wire) {
			return
		}
		ok = r.routeStepProgress(ctx, p, wire)

	default:
		r.logger.Debug("skipping frame type", "room", p.Room, "type", msgType)
		r.count(&r.unknownFrames)
		return
	}

	if ok {
		r.count(&r.routed)
	}
}

// routeChat persists a chat record and publishes it to the room.
func (r *router) routeChat(ctx context.Context, p model.Participant, wire chatWire) bool {
	r.persistMessage(ctx, p, model.Message{
		ID:         uuid.New(),
		CodelabID:  p.Room,
		SenderID:   p.Identity,
		SenderName: p.Name,
		Body:       *wire.Message,
		Kind:       model.KindChat,
		CreatedAt:  time.Now().UTC(),
	})

	r.pub.Publish(p.Room, model.NewChatFrame(p.Name, *wire.Message))
	return true
}

// routeDM persists a direct message record and delivers it to the target's
// direct queue only. Nothing is delivered live when the target is offline.
func (r *router) routeDM(ctx context.Context, p model.Participant, wire dmWire) bool {
	r.persistMessage(ctx, p, model.Message{
		ID:         uuid.New(),
		CodelabID:  p.Room,
		SenderID:   p.Identity,
		SenderName: p.Name,
		Body:       *wire.Message,
		Kind:       model.KindDM,
		TargetID:   wire.TargetID,
		CreatedAt:  time.Now().UTC(),
	})

	if !r.pub.SendDirect(p.Room, wire.TargetID, model.NewDMFrame(p.Name, *wire.Message, wire.TargetID)) {
		r.logger.Debug("dm target not connected", "room", p.Room, "target_id", wire.TargetID)
		r.count(&r.directMissed)
	}
	return true
}

// routeStepProgress records the attendee's current step and announces it.
func (r *router) routeStepProgress(ctx context.Context, p model.Participant, wire stepProgressWire) bool {
	pctx, cancel := r.persistContext(ctx)
	defer cancel()

	if err := r.store.UpdateAttendeeStep(pctx, p.Room, p.Identity, wire.StepNumber); err != nil {
		r.logger.Warn("failed to update attendee step",
			"room", p.Room,
			"attendee_id", p.Identity,
			"step_number", wire.StepNumber,
			"error", err,
		)
		r.count(&r.persistErrors)
	}

	r.pub.Publish(p.Room, model.NewStepProgressFrame(p.Identity, wire.StepNumber))
	return true
}

// persistMessage stores msg. Failures are logged and swallowed; the live
// event is delivered regardless.
func (r *router) persistMessage(ctx context.Context, p model.Participant, msg model.Message) {
	pctx, cancel := r.persistContext(ctx)
	defer cancel()

	if err := r.store.InsertMessage(pctx, msg); err != nil {
		r.logger.Warn("failed to persist message",
			"room", p.Room,
			"identity", p.Identity,
			"kind", msg.Kind,
			"error", err,
		)
		r.count(&r.persistErrors)
	}
}

func (r *router) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.PersistTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.PersistTimeout)
}

// decode unmarshals and validates a frame body into v.
func (r *router) decode(p model.Participant, msgType string, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		r.logger.Debug("dropping malformed frame", "room", p.Room, "type", msgType, "error", err)
		r.count(&r.parseErrors)
		return false
	}
	if err := r.validate.Struct(v); err != nil {
		r.logger.Debug("dropping invalid frame", "room", p.Room, "type", msgType, "error", err)
		r.count(&r.rejected)
		return false
	}
	return true
}

// extractType extracts the frame type without full JSON parse.
func (r *router) extractType(data []byte) (string, error) {
	var envelope frameEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", err
	}
	return envelope.Type, nil
}

func (r *router) count(n *int64) {
	r.mu.Lock()
	*n++
	r.mu.Unlock()
}
