package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/codelab-live/internal/hub"
	"github.com/rickgao/codelab-live/internal/model"
	"github.com/rickgao/codelab-live/internal/router"
)

// tokenAuth accepts "Bearer role:subject:codelab" tokens.
type tokenAuth struct{}

func (tokenAuth) Authenticate(r *http.Request) (model.Session, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return model.Session{}, errors.New("no session")
	}
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return model.Session{}, errors.New("bad token")
	}
	return model.Session{Role: model.Role(parts[0]), SubjectID: parts[1], CodelabID: parts[2]}, nil
}

type memStore struct {
	mu        sync.Mutex
	names     map[string]string
	nameErr   error
	nameBlock bool
	messages  []model.Message
	steps     []int
}

func (s *memStore) AttendeeName(ctx context.Context, _, attendeeID string) (string, error) {
	if s.nameBlock {
		<-ctx.Done()
		return "", ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameErr != nil {
		return "", s.nameErr
	}
	return s.names[attendeeID], nil
}

func (s *memStore) InsertMessage(_ context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memStore) UpdateAttendeeStep(_ context.Context, _, _ string, step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	return nil
}

func (s *memStore) snapshot() ([]model.Message, []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages...), append([]int(nil), s.steps...)
}

type testEnv struct {
	hub    *hub.Hub
	store  *memStore
	sup    *Supervisor
	server *httptest.Server
}

func newTestEnv(t *testing.T, cfg SupervisorConfig, store *memStore) *testEnv {
	t.Helper()
	if store == nil {
		store = &memStore{names: map[string]string{"att-1": "A", "att-2": "B"}}
	}

	h := hub.New(hub.DefaultConfig(), nil)
	rt := router.NewRouter(router.DefaultRouterConfig(), store, h, nil)
	sup := NewSupervisor(cfg, h, tokenAuth{}, store, rt, nil)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sup.Serve(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sup.Stop(ctx)
		server.Close()
	})

	return &testEnv{hub: h, store: store, sup: sup, server: server}
}

func (e *testEnv) dial(room, token string, header http.Header) (*websocket.Conn, *http.Response, error) {
	if header == nil {
		header = http.Header{}
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DefaultDialer.Dial(wsURL(e.server)+"/ws/"+room, header)
}

func (e *testEnv) mustDial(t *testing.T, room, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := e.dial(room, token, nil)
	if err != nil {
		t.Fatalf("dial %s as %s: %v", room, token, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write %s: %v", frame, err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return string(data)
}

func expectClosed(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err == nil {
			t.Logf("frame before close: %s", data)
			continue
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("connection was not closed by the server")
		}
		return
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

const (
	att1  = "attendee:att-1:lab-1"
	att2  = "attendee:att-2:lab-1"
	admin = "admin:admin:"
)

func TestSupervisor_RejectsBeforeUpgrade(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no session", "", http.StatusUnauthorized},
		{"malformed session", "garbage", http.StatusUnauthorized},
		{"attendee of another room", "attendee:att-1:lab-2", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := env.dial("lab-1", tt.token, nil)
			if !errors.Is(err, websocket.ErrBadHandshake) {
				t.Fatalf("dial error = %v, want ErrBadHandshake", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}

	if stats := env.hub.Stats(); stats.Connections != 0 {
		t.Errorf("Connections = %d, want 0 after rejected upgrades", stats.Connections)
	}
	stats := env.sup.Stats()
	if stats.Unauthorized != 2 || stats.Forbidden != 1 || stats.Accepted != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSupervisor_RequiresUpgrade(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/ws/lab-1", nil)
	req.Header.Set("Authorization", "Bearer "+att1)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if _, ok := env.hub.Lookup("lab-1", "att-1"); ok {
		t.Error("plain request must not register")
	}
}

func TestSupervisor_InvalidHandshakeKeepsLiveConnection(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)
	live := env.mustDial(t, "lab-1", att1)

	tests := []struct {
		name    string
		method  string
		version string
		key     string
	}{
		{"old protocol version", http.MethodGet, "12", "dGhlIHNhbXBsZSBub25jZQ=="},
		{"missing key", http.MethodGet, "13", ""},
		{"short key", http.MethodGet, "13", "c2hvcnQ="},
		{"not a GET", http.MethodPost, "13", "dGhlIHNhbXBsZSBub25jZQ=="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, env.server.URL+"/ws/lab-1", nil)
			req.Header.Set("Authorization", "Bearer "+att1)
			req.Header.Set("Connection", "Upgrade")
			req.Header.Set("Upgrade", "websocket")
			req.Header.Set("Sec-WebSocket-Version", tt.version)
			if tt.key != "" {
				req.Header.Set("Sec-WebSocket-Key", tt.key)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	if _, ok := env.hub.Lookup("lab-1", "att-1"); !ok {
		t.Fatal("rejected handshake removed the live registration")
	}
	if stats := env.hub.Stats(); stats.Superseded != 0 {
		t.Errorf("Superseded = %d, want 0", stats.Superseded)
	}

	send(t, live, `{"type":"chat","message":"still here"}`)
	if got := readFrame(t, live); got != `{"type":"chat","sender":"A","message":"still here"}` {
		t.Errorf("live connection got %s", got)
	}
}

func TestSupervisor_Identities(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)

	env.mustDial(t, "lab-1", admin)
	env.mustDial(t, "lab-1", att1)

	if _, ok := env.hub.Lookup("lab-1", model.FacilitatorID); !ok {
		t.Error("admin should register as facilitator")
	}
	if _, ok := env.hub.Lookup("lab-1", "att-1"); !ok {
		t.Error("attendee should register under their own id")
	}
	if _, ok := env.hub.Lookup("lab-1", "admin"); ok {
		t.Error("admin subject must not be used as identity")
	}

	// Admins have no room binding.
	env.mustDial(t, "lab-7", admin)
	if _, ok := env.hub.Lookup("lab-7", model.FacilitatorID); !ok {
		t.Error("admin should be able to join any room")
	}
}

func TestSupervisor_ChatReachesWholeRoom(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)

	a := env.mustDial(t, "lab-1", att1)
	b := env.mustDial(t, "lab-1", att2)
	other := env.mustDial(t, "lab-2", "attendee:att-3:lab-2")

	send(t, a, `{"type":"chat","message":"hi","sender":"Facilitator"}`)

	want := `{"type":"chat","sender":"A","message":"hi"}`
	if got := readFrame(t, a); got != want {
		t.Errorf("sender got %s, want %s", got, want)
	}
	if got := readFrame(t, b); got != want {
		t.Errorf("peer got %s, want %s", got, want)
	}

	msgs, _ := env.store.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("persisted %d messages, want 1", len(msgs))
	}
	if msgs[0].CodelabID != "lab-1" || msgs[0].SenderName != "A" || msgs[0].Body != "hi" {
		t.Errorf("persisted = %+v", msgs[0])
	}

	// Rooms are isolated.
	env.hub.Publish("lab-2", model.NewCommentThreadChangedFrame("marker"))
	if got := readFrame(t, other); got != `{"type":"comment_thread_changed","thread_id":"marker"}` {
		t.Errorf("other room got %s before its own event", got)
	}
}

func TestSupervisor_DMReachesOnlyTarget(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)

	fac := env.mustDial(t, "lab-1", admin)
	target := env.mustDial(t, "lab-1", att1)
	bystander := env.mustDial(t, "lab-1", att2)

	send(t, fac, `{"type":"dm","target_id":"att-1","message":"ping"}`)
	send(t, fac, `{"type":"chat","message":"after"}`)

	dm := `{"type":"dm","sender":"Facilitator","message":"ping","target_id":"att-1"}`
	chat := `{"type":"chat","sender":"Facilitator","message":"after"}`

	got := map[string]bool{readFrame(t, target): true, readFrame(t, target): true}
	if !got[dm] || !got[chat] {
		t.Errorf("target frames = %v, want dm and chat", got)
	}

	if first := readFrame(t, bystander); first != chat {
		t.Errorf("bystander first frame = %s, want %s", first, chat)
	}
	if first := readFrame(t, fac); first != chat {
		t.Errorf("sender first frame = %s, want %s (no dm echo)", first, chat)
	}

	msgs, _ := env.store.snapshot()
	if len(msgs) != 2 || msgs[0].Kind != model.KindDM || msgs[0].TargetID != "att-1" {
		t.Errorf("persisted = %+v", msgs)
	}
}

func TestSupervisor_DMToOfflineTarget(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)

	fac := env.mustDial(t, "lab-1", admin)
	send(t, fac, `{"type":"dm","target_id":"att-1","message":"ping"}`)
	send(t, fac, `{"type":"chat","message":"after"}`)

	if first := readFrame(t, fac); first != `{"type":"chat","sender":"Facilitator","message":"after"}` {
		t.Errorf("first frame = %s", first)
	}

	msgs, _ := env.store.snapshot()
	if len(msgs) != 2 || msgs[0].Kind != model.KindDM {
		t.Errorf("persisted = %+v, want the dm record kept", msgs)
	}
	if stats := env.hub.Stats(); stats.DirectDelivered != 0 || stats.DirectMissed != 1 {
		t.Errorf("hub stats = %+v", stats)
	}
}

func TestSupervisor_StepProgress(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)

	fac := env.mustDial(t, "lab-1", admin)
	a := env.mustDial(t, "lab-1", att1)
	observer := env.mustDial(t, "lab-1", att2)

	send(t, fac, `{"type":"step_progress","step_number":3}`)
	send(t, fac, `{"type":"chat","message":"m1"}`)
	if got := readFrame(t, observer); got != `{"type":"chat","sender":"Facilitator","message":"m1"}` {
		t.Errorf("admin step_progress leaked: first frame = %s", got)
	}

	send(t, a, `{"type":"step_progress","step_number":0}`)
	send(t, a, `{"type":"step_progress","step_number":2}`)
	if got := readFrame(t, observer); got != `{"type":"step_progress","attendee_id":"att-1","step_number":2}` {
		t.Errorf("frame = %s, want step 2 progress", got)
	}

	_, steps := env.store.snapshot()
	if len(steps) != 1 || steps[0] != 2 {
		t.Errorf("steps = %v, want [2]", steps)
	}
}

func TestSupervisor_MalformedFramesKeepConnection(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)

	a := env.mustDial(t, "lab-1", att1)
	send(t, a, `garbage`)
	send(t, a, `{"type":"nope"}`)
	send(t, a, `{"type":"chat","message":7}`)
	if err := a.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	send(t, a, `{"type":"chat","message":"still here"}`)

	if got := readFrame(t, a); got != `{"type":"chat","sender":"A","message":"still here"}` {
		t.Errorf("frame = %s", got)
	}
}

func TestSupervisor_ReconnectSupersedes(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)

	old := env.mustDial(t, "lab-1", att1)
	fresh := env.mustDial(t, "lab-1", att1)

	expectClosed(t, old)

	waitFor(t, "superseded cleanup", func() bool {
		return env.sup.Stats().Superseded == 1 && env.sup.Stats().Active == 1
	})
	if _, ok := env.hub.Lookup("lab-1", "att-1"); !ok {
		t.Fatal("stale cleanup removed the new registration")
	}

	fac := env.mustDial(t, "lab-1", admin)
	send(t, fac, `{"type":"dm","target_id":"att-1","message":"after reconnect"}`)

	if got := readFrame(t, fresh); got != `{"type":"dm","sender":"Facilitator","message":"after reconnect","target_id":"att-1"}` {
		t.Errorf("new connection got %s", got)
	}
	if stats := env.hub.Stats(); stats.Connections != 2 {
		t.Errorf("Connections = %d, want 2", stats.Connections)
	}
}

func TestSupervisor_DisconnectCleanup(t *testing.T) {
	tests := []struct {
		name  string
		close func(ws *websocket.Conn)
	}{
		{"client close", func(ws *websocket.Conn) {
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			ws.Close()
		}},
		{"transport error", func(ws *websocket.Conn) {
			ws.UnderlyingConn().Close()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, DefaultSupervisorConfig(), nil)

			ws, _, err := env.dial("lab-1", att1, nil)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			if _, ok := env.hub.Lookup("lab-1", "att-1"); !ok {
				t.Fatal("expected registration")
			}

			tt.close(ws)

			waitFor(t, "cleanup", func() bool {
				_, ok := env.hub.Lookup("lab-1", "att-1")
				return !ok && env.sup.Stats().Active == 0
			})

			stats := env.sup.Stats()
			if stats.Closed != 1 {
				t.Errorf("Closed = %d, want exactly 1", stats.Closed)
			}
			if hubStats := env.hub.Stats(); hubStats.Connections != 0 {
				t.Errorf("Connections = %d, want 0", hubStats.Connections)
			}
		})
	}
}

func TestSupervisor_PublishedEventsReachRoom(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)

	a := env.mustDial(t, "lab-1", att1)
	env.hub.Publish("lab-1", model.NewCommentThreadChangedFrame("step-2"))

	if got := readFrame(t, a); got != `{"type":"comment_thread_changed","thread_id":"step-2"}` {
		t.Errorf("frame = %s", got)
	}
}

func TestSupervisor_NameFallback(t *testing.T) {
	tests := []struct {
		name  string
		store *memStore
	}{
		{"lookup error", &memStore{nameErr: errors.New("db down")}},
		{"unknown attendee", &memStore{names: map[string]string{}}},
		{"lookup timeout", &memStore{nameBlock: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSupervisorConfig()
			cfg.NameLookupTimeout = 20 * time.Millisecond
			env := newTestEnv(t, cfg, tt.store)

			a := env.mustDial(t, "lab-1", att1)
			send(t, a, `{"type":"chat","message":"hi"}`)

			var frame model.ChatFrame
			if err := json.Unmarshal([]byte(readFrame(t, a)), &frame); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if frame.Sender != model.FallbackAttendeeName {
				t.Errorf("Sender = %q, want %q", frame.Sender, model.FallbackAttendeeName)
			}
		})
	}
}

func TestSupervisor_OriginCheck(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	cfg.AllowedOrigins = []string{"https://lab.example.com"}
	env := newTestEnv(t, cfg, nil)

	_, resp, err := env.dial("lab-1", att1, http.Header{"Origin": {"https://evil.example.com"}})
	if !errors.Is(err, websocket.ErrBadHandshake) || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("dial from foreign origin: err = %v", err)
	}
	if _, ok := env.hub.Lookup("lab-1", "att-1"); ok {
		t.Error("rejected origin must not register")
	}

	ws, _, err := env.dial("lab-1", att1, http.Header{"Origin": {"https://lab.example.com"}})
	if err != nil {
		t.Fatalf("dial from allowed origin: %v", err)
	}
	ws.Close()
}

func TestSupervisor_AcceptsLongestEscapedChat(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)
	a := env.mustDial(t, "lab-1", att1)

	// Every character escaped as a surrogate pair: the largest valid chat frame.
	frame := `{"type":"chat","message":"` + strings.Repeat(`\ud83d\ude00`, router.MaxMessageLength) + `"}`
	if len(frame) <= 16<<10 {
		t.Fatalf("frame is only %d bytes", len(frame))
	}
	send(t, a, frame)

	want := `{"type":"chat","sender":"A","message":"` + strings.Repeat("\U0001F600", router.MaxMessageLength) + `"}`
	if got := readFrame(t, a); got != want {
		t.Errorf("echoed frame has %d bytes, want %d", len(got), len(want))
	}

	msgs, _ := env.store.snapshot()
	if len(msgs) != 1 {
		t.Errorf("persisted %d messages, want 1", len(msgs))
	}
}

func TestSupervisor_FrameTooLarge(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	cfg.MaxFrameBytes = 64
	env := newTestEnv(t, cfg, nil)

	a := env.mustDial(t, "lab-1", att1)
	send(t, a, `{"type":"chat","message":"`+strings.Repeat("x", 200)+`"}`)

	expectClosed(t, a)
	waitFor(t, "cleanup", func() bool { return env.sup.Stats().Active == 0 })

	msgs, _ := env.store.snapshot()
	if len(msgs) != 0 {
		t.Errorf("oversized frame was persisted: %+v", msgs)
	}
}

func TestSupervisor_Stop(t *testing.T) {
	env := newTestEnv(t, DefaultSupervisorConfig(), nil)

	a := env.mustDial(t, "lab-1", att1)
	b := env.mustDial(t, "lab-1", admin)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.sup.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	expectClosed(t, a)
	expectClosed(t, b)

	if stats := env.sup.Stats(); stats.Active != 0 || stats.Closed != 2 {
		t.Errorf("stats = %+v", stats)
	}

	_, resp, err := env.dial("lab-1", att1, nil)
	if err == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("dial after Stop: err = %v", err)
	}
}
