package connection

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/codelab-live/internal/hub"
	"github.com/rickgao/codelab-live/internal/model"
)

// errClosing ends the closer goroutine once both loops are gone.
var errClosing = errors.New("connection closing")

// Supervisor runs the lifecycle of every live room connection.
type Supervisor struct {
	cfg      SupervisorConfig
	hub      *hub.Hub
	auth     Authenticator
	roster   Roster
	router   FrameRouter
	upgrader websocket.Upgrader
	logger   *slog.Logger

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	mu           sync.RWMutex
	stopped      bool
	active       int64
	accepted     int64
	unauthorized int64
	forbidden    int64
	upgradeFails int64
	superseded   int64
	closed       int64
}

// NewSupervisor creates a Connection Supervisor.
func NewSupervisor(
	cfg SupervisorConfig,
	h *hub.Hub,
	auth Authenticator,
	roster Roster,
	router FrameRouter,
	logger *slog.Logger,
) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:    cfg,
		hub:    h,
		auth:   auth,
		roster: roster,
		router: router,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Stop closes every live connection and waits for their cleanup.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	active := s.active
	s.mu.Unlock()

	s.logger.Info("stopping connection supervisor", "active", active)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("connection supervisor stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("connection supervisor stop timed out")
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (s *Supervisor) Stats() SupervisorStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SupervisorStats{
		Active:       s.active,
		Accepted:     s.accepted,
		Unauthorized: s.unauthorized,
		Forbidden:    s.forbidden,
		UpgradeFails: s.upgradeFails,
		Superseded:   s.superseded,
		Closed:       s.closed,
	}
}

// Serve handles one upgrade request for room and blocks until the
// connection is closed.
func (s *Supervisor) Serve(w http.ResponseWriter, r *http.Request, room string) {
	c := &conn{room: room}
	c.setState(StateConnecting)

	if !s.enter() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	// Authorizing
	c.setState(StateAuthorizing)
	session, err := s.auth.Authenticate(r)
	if err != nil {
		s.logger.Debug("rejecting unauthenticated upgrade", "room", room, "error", err)
		s.count(&s.unauthorized)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if !session.CanJoin(room) {
		s.logger.Debug("rejecting upgrade for another room",
			"room", room,
			"bound_room", session.CodelabID,
			"subject", session.SubjectID,
		)
		s.count(&s.forbidden)
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	if !validHandshake(r) {
		s.count(&s.upgradeFails)
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !s.checkOrigin(r) {
		s.count(&s.forbidden)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Identifying
	c.setState(StateIdentifying)
	c.participant = s.identify(r.Context(), session, room)
	c.logger = s.logger.With("room", room, "identity", c.participant.Identity)

	// Registered. Done before the handshake completes so a client that has
	// finished dialing is already reachable. Every header check has passed by
	// now, so only a transport failure can still abort the upgrade.
	c.queue = s.hub.NewQueue()
	c.sub = s.hub.Fanout(room).Subscribe()
	s.hub.Register(room, c.participant.Identity, c.queue)
	c.setState(StateRegistered)

	s.gauge(1)
	defer s.gauge(-1)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Debug("websocket upgrade failed", "error", err)
		s.count(&s.upgradeFails)
		s.cleanup(c)
		return
	}
	c.ws = ws
	s.count(&s.accepted)

	c.logger.Debug("connection registered", "role", c.participant.Role, "name", c.participant.Name)

	// Streaming
	c.setState(StateStreaming)
	err = s.stream(c)

	// Closing
	c.setState(StateClosing)
	if errors.Is(err, hub.ErrSuperseded) {
		s.count(&s.superseded)
	}
	s.cleanup(c)
	c.logger.Debug("connection closed", "reason", err, "state", c.State(), "lagged", c.sub.Lagged())
}

// identify resolves the canonical participant for a session.
func (s *Supervisor) identify(ctx context.Context, session model.Session, room string) model.Participant {
	p := model.Participant{
		Room:     room,
		Identity: session.Identity(),
		Role:     session.Role,
	}

	if session.Role == model.RoleAdmin {
		p.Name = model.FacilitatorName
		return p
	}

	p.Name = model.FallbackAttendeeName
	if s.roster == nil {
		return p
	}

	lctx, cancel := context.WithTimeout(ctx, s.cfg.NameLookupTimeout)
	defer cancel()

	name, err := s.roster.AttendeeName(lctx, room, p.Identity)
	if err != nil || name == "" {
		s.logger.Debug("attendee name lookup failed",
			"room", room,
			"attendee_id", p.Identity,
			"error", err,
		)
		return p
	}
	p.Name = name
	return p
}

// stream runs the outbound and inbound loops until either ends. The first
// loop to return cancels the group; the closer then closes the socket so a
// reader blocked in ReadMessage wakes up.
func (s *Supervisor) stream(c *conn) error {
	g, gctx := errgroup.WithContext(s.ctx)

	g.Go(func() error { return s.outboundLoop(gctx, c) })
	g.Go(func() error { return s.inboundLoop(gctx, c) })
	g.Go(func() error {
		<-gctx.Done()
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.ws.Close()
		return errClosing
	})

	return g.Wait()
}

// outboundLoop writes whichever of the fan-out subscription or the direct
// queue is ready first. Returns on the first write failure, when the
// direct queue is superseded, or when the connection is closing.
func (s *Supervisor) outboundLoop(ctx context.Context, c *conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.queue.Done():
			return hub.ErrSuperseded

		case <-c.sub.Ready():
			frame, skipped, ok := c.sub.Next()
			if skipped > 0 {
				c.logger.Debug("subscriber lagged, frames skipped", "skipped", skipped)
			}
			if !ok {
				continue
			}
			if err := s.write(c, frame); err != nil {
				return err
			}

		case <-c.queue.Ready():
			frame, ok := c.queue.TryReceive()
			if !ok {
				continue
			}
			if err := s.write(c, frame); err != nil {
				return err
			}
		}
	}
}

// inboundLoop reads frames and hands them to the router.
func (s *Supervisor) inboundLoop(ctx context.Context, c *conn) error {
	if s.cfg.MaxFrameBytes > 0 {
		c.ws.SetReadLimit(s.cfg.MaxFrameBytes)
	}

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.router.Route(ctx, c.participant, data)
	}
}

func (s *Supervisor) write(c *conn, frame []byte) error {
	if s.cfg.WriteTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// cleanup releases the connection's registrations. Called exactly once.
func (s *Supervisor) cleanup(c *conn) {
	c.sub.Close()
	removed := s.hub.Unregister(c.room, c.participant.Identity, c.queue)
	if c.ws != nil {
		c.ws.Close()
	}
	c.setState(StateClosed)
	s.count(&s.closed)

	if !removed {
		c.logger.Debug("registry entry already held by a newer connection")
	}
}

// validHandshake checks the request headers the upgrader requires, so a
// handshake that cannot complete is refused before it reaches the registry.
func validHandshake(r *http.Request) bool {
	if r.Method != http.MethodGet || !websocket.IsWebSocketUpgrade(r) {
		return false
	}
	if r.Header.Get("Sec-Websocket-Version") != "13" {
		return false
	}
	key, err := base64.StdEncoding.DecodeString(r.Header.Get("Sec-Websocket-Key"))
	return err == nil && len(key) == 16
}

// checkOrigin allows requests without an Origin header and any origin when
// no allow list is configured.
func (s *Supervisor) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// enter admits a new request unless Stop was called.
func (s *Supervisor) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Supervisor) count(n *int64) {
	s.mu.Lock()
	*n++
	s.mu.Unlock()
}

func (s *Supervisor) gauge(delta int64) {
	s.mu.Lock()
	s.active += delta
	s.mu.Unlock()
}

// conn is one supervised connection.
type conn struct {
	room        string
	participant model.Participant
	ws          *websocket.Conn
	queue       *hub.Queue[[]byte]
	sub         *hub.Subscription
	logger      *slog.Logger
	state       atomic.Int32
}

func (c *conn) setState(st State) {
	c.state.Store(int32(st))
}

// State returns the connection's lifecycle state.
func (c *conn) State() State {
	return State(c.state.Load())
}
