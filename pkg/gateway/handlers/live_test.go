package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atelierhq/studio/pkg/gateway/apierror"
	"github.com/atelierhq/studio/pkg/gateway/config"
	"github.com/atelierhq/studio/pkg/gateway/lifecycle"
	"github.com/atelierhq/studio/pkg/gateway/live/sessions"
	"github.com/atelierhq/studio/pkg/gateway/upstream"
)

type fakeModelSession struct {
	mu     sync.Mutex
	sent   [][]byte
	events chan upstream.LiveEvent
	errs   chan error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeModelSession() *fakeModelSession {
	return &fakeModelSession{
		events: make(chan upstream.LiveEvent, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeModelSession) SendAudio(pcm []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), pcm...))
	f.mu.Unlock()
	return nil
}

func (f *fakeModelSession) Receive() (upstream.LiveEvent, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case err := <-f.errs:
		return upstream.LiveEvent{}, err
	case <-f.closed:
		return upstream.LiveEvent{}, context.Canceled
	}
}

func (f *fakeModelSession) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

type fakeDialer struct {
	sess upstream.LiveSession
	err  error
}

func (d fakeDialer) DialLive(context.Context) (upstream.LiveSession, error) {
	return d.sess, d.err
}

func liveConfig() config.Config {
	return config.Config{
		LiveMaxAudioFrameBytes:  8192,
		LiveMaxJSONMessageBytes: 64 << 10,
		LiveHandshakeTimeout:    2 * time.Second,
		LiveWSWriteTimeout:      2 * time.Second,
		LiveWSPingInterval:      20 * time.Second,
		LiveMaxSessionDuration:  time.Minute,
	}
}

func dialLive(t *testing.T, h LiveHandler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendLiveHello(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	hello := map[string]any{
		"type":             "hello",
		"protocol_version": "1",
		"audio_in":         map[string]any{"encoding": "pcm_s16le", "sample_rate_hz": 16000, "channels": 1},
		"audio_out":        map[string]any{"encoding": "pcm_s16le", "sample_rate_hz": 24000, "channels": 1},
	}
	if err := ws.WriteJSON(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
}

func readLiveFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("bad frame %q: %v", data, err)
	}
	return frame
}

func TestLiveRejectsWhileDraining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h := LiveHandler{Config: liveConfig(), Lifecycle: lc}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/live", nil))

	env := wantAPIError(t, rec, 529, apierror.TypeOverloaded)
	if env.Error.Code != "draining" {
		t.Fatalf("code = %q", env.Error.Code)
	}
}

func TestLiveRejectsDisallowedOrigin(t *testing.T) {
	cfg := liveConfig()
	cfg.CORSAllowedOrigins = map[string]struct{}{"https://studio.example": {}}
	h := LiveHandler{Config: cfg}

	req := httptest.NewRequest(http.MethodGet, "/v1/live", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	wantAPIError(t, rec, http.StatusForbidden, apierror.TypePermission)
}

func TestLiveHandshakeAndEndSession(t *testing.T) {
	sess := newFakeModelSession()
	h := LiveHandler{
		Config:   liveConfig(),
		Dialer:   fakeDialer{sess: sess},
		Sessions: sessions.NewTracker(4),
	}
	ws := dialLive(t, h)
	sendLiveHello(t, ws)

	ack := readLiveFrame(t, ws)
	if ack["type"] != "hello_ack" {
		t.Fatalf("frame = %v", ack)
	}
	if id, _ := ack["session_id"].(string); !strings.HasPrefix(id, "s_") {
		t.Fatalf("session_id = %v", ack["session_id"])
	}
	limits, _ := ack["limits"].(map[string]any)
	if limits == nil || limits["max_audio_frame_bytes"].(float64) != 8192 {
		t.Fatalf("limits = %v", ack["limits"])
	}

	if err := ws.WriteJSON(map[string]any{"type": "control", "op": "end_session"}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	frame := readLiveFrame(t, ws)
	if frame["type"] != "warning" || frame["code"] != "session_end" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestLiveRejectsBadHelloRate(t *testing.T) {
	h := LiveHandler{
		Config:   liveConfig(),
		Dialer:   fakeDialer{sess: newFakeModelSession()},
		Sessions: sessions.NewTracker(4),
	}
	ws := dialLive(t, h)

	hello := map[string]any{
		"type":             "hello",
		"protocol_version": "1",
		"audio_in":         map[string]any{"encoding": "pcm_s16le", "sample_rate_hz": 44100, "channels": 1},
		"audio_out":        map[string]any{"encoding": "pcm_s16le", "sample_rate_hz": 24000, "channels": 1},
	}
	if err := ws.WriteJSON(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	frame := readLiveFrame(t, ws)
	if frame["type"] != "error" || frame["code"] != "unsupported" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestLiveDialFailure(t *testing.T) {
	h := LiveHandler{
		Config:   liveConfig(),
		Dialer:   fakeDialer{err: context.DeadlineExceeded},
		Sessions: sessions.NewTracker(4),
	}
	ws := dialLive(t, h)
	sendLiveHello(t, ws)

	frame := readLiveFrame(t, ws)
	if frame["type"] != "error" || frame["code"] != "upstream_error" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestLiveSessionCapacity(t *testing.T) {
	tracker := sessions.NewTracker(1)
	if _, err := tracker.Register("s_existing", sessions.Handle{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	h := LiveHandler{
		Config:   liveConfig(),
		Dialer:   fakeDialer{sess: newFakeModelSession()},
		Sessions: tracker,
	}
	ws := dialLive(t, h)
	sendLiveHello(t, ws)

	frame := readLiveFrame(t, ws)
	if frame["type"] != "error" || frame["code"] != "rate_limited" {
		t.Fatalf("frame = %v", frame)
	}
}
