package session

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atelierhq/studio/pkg/gateway/live/protocol"
	"github.com/atelierhq/studio/pkg/gateway/upstream"
)

type fakeUpstream struct {
	mu     sync.Mutex
	sent   [][]byte
	events chan upstream.LiveEvent
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		events: make(chan upstream.LiveEvent, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeUpstream) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeUpstream) Receive() (upstream.LiveEvent, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case err := <-f.errs:
		return upstream.LiveEvent{}, err
	case <-f.closed:
		return upstream.LiveEvent{}, io.EOF
	}
}

func (f *fakeUpstream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeUpstream) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

type bridgeHarness struct {
	client *websocket.Conn
	up     *fakeUpstream
	bridge *Bridge
	runErr chan error
}

func newBridgeHarness(t *testing.T, hello protocol.ClientHello, cfg Config) *bridgeHarness {
	t.Helper()

	up := newFakeUpstream()
	bridgeCh := make(chan *Bridge, 1)
	runErr := make(chan error, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b, err := New(Dependencies{
			Conn:      conn,
			Upstream:  up,
			Hello:     hello,
			SessionID: "s_test",
			Config:    cfg,
		})
		if err != nil {
			t.Errorf("New: %v", err)
			conn.Close()
			return
		}
		bridgeCh <- b
		runErr <- b.Run()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return &bridgeHarness{client: client, up: up, bridge: <-bridgeCh, runErr: runErr}
}

func (h *bridgeHarness) readFrame(t *testing.T) map[string]any {
	t.Helper()
	_ = h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := h.client.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return m
}

func (h *bridgeHarness) waitRun(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
		return nil
	}
}

func TestBridgeForwardsClientAudio(t *testing.T) {
	h := newBridgeHarness(t, protocol.ClientHello{}, Config{})

	pcm := []byte{1, 2, 3, 4}
	frame := protocol.ClientAudioFrame{Type: "audio_frame", Seq: 1, DataB64: base64.StdEncoding.EncodeToString(pcm)}
	if err := h.client.WriteJSON(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.up.sentFrames()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	sent := h.up.sentFrames()
	if len(sent) != 1 || string(sent[0]) != string(pcm) {
		t.Fatalf("upstream got %v", sent)
	}
	if in, _ := h.bridge.AudioBytes(); in != int64(len(pcm)) {
		t.Fatalf("bytes in = %d", in)
	}
}

func TestBridgeRelaysModelAudio(t *testing.T) {
	h := newBridgeHarness(t, protocol.ClientHello{}, Config{})

	pcm := []byte{9, 8, 7}
	h.up.events <- upstream.LiveEvent{Kind: upstream.LiveAudio, PCM: pcm}

	m := h.readFrame(t)
	if m["type"] != "audio_chunk" {
		t.Fatalf("type = %v", m["type"])
	}
	if m["seq"] != float64(1) {
		t.Fatalf("seq = %v", m["seq"])
	}
	got, err := base64.StdEncoding.DecodeString(m["data_b64"].(string))
	if err != nil || string(got) != string(pcm) {
		t.Fatalf("data = %v, err %v", got, err)
	}
}

func TestBridgeTurnNotices(t *testing.T) {
	t.Run("wanted", func(t *testing.T) {
		h := newBridgeHarness(t, protocol.ClientHello{Features: protocol.HelloFeatures{WantTurnNotices: true}}, Config{})
		h.up.events <- upstream.LiveEvent{Kind: upstream.LiveTurnComplete}
		if m := h.readFrame(t); m["type"] != "turn_complete" {
			t.Fatalf("type = %v", m["type"])
		}
	})
	t.Run("suppressed", func(t *testing.T) {
		h := newBridgeHarness(t, protocol.ClientHello{}, Config{})
		h.up.events <- upstream.LiveEvent{Kind: upstream.LiveTurnComplete}
		// The next observable frame must not be a turn notice.
		h.up.events <- upstream.LiveEvent{Kind: upstream.LiveAudio, PCM: []byte{1}}
		if m := h.readFrame(t); m["type"] != "audio_chunk" {
			t.Fatalf("type = %v", m["type"])
		}
	})
}

func TestBridgeInterrupted(t *testing.T) {
	h := newBridgeHarness(t, protocol.ClientHello{}, Config{})
	h.up.events <- upstream.LiveEvent{Kind: upstream.LiveInterrupted}
	if m := h.readFrame(t); m["type"] != "interrupted" {
		t.Fatalf("type = %v", m["type"])
	}
}

func TestBridgeEndSessionControl(t *testing.T) {
	h := newBridgeHarness(t, protocol.ClientHello{}, Config{})

	if err := h.client.WriteJSON(protocol.ClientControl{Type: "control", Op: "end_session"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := h.readFrame(t)
	if m["type"] != "warning" || m["code"] != "session_end" {
		t.Fatalf("frame = %v", m)
	}
	if err := h.waitRun(t); err != nil {
		t.Fatalf("run err = %v", err)
	}
}

func TestBridgeOversizedAudioFrame(t *testing.T) {
	h := newBridgeHarness(t, protocol.ClientHello{}, Config{MaxAudioFrameBytes: 4})

	big := base64.StdEncoding.EncodeToString(make([]byte, 64))
	if err := h.client.WriteJSON(protocol.ClientAudioFrame{Type: "audio_frame", DataB64: big}); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := h.readFrame(t)
	if m["type"] != "error" || m["code"] != "bad_request" {
		t.Fatalf("frame = %v", m)
	}
	if err := h.waitRun(t); err != nil {
		t.Fatalf("run err = %v", err)
	}
}

func TestBridgeModelEndsSession(t *testing.T) {
	h := newBridgeHarness(t, protocol.ClientHello{}, Config{})

	h.up.errs <- io.EOF
	m := h.readFrame(t)
	if m["type"] != "warning" || m["code"] != "session_end" {
		t.Fatalf("frame = %v", m)
	}
	if err := h.waitRun(t); err != nil {
		t.Fatalf("run err = %v", err)
	}
}

func TestBridgeCancelStopsRun(t *testing.T) {
	h := newBridgeHarness(t, protocol.ClientHello{}, Config{})

	h.bridge.Cancel()
	if err := h.waitRun(t); err != nil {
		t.Fatalf("run err = %v", err)
	}
}

func TestBridgeSessionTimeout(t *testing.T) {
	h := newBridgeHarness(t, protocol.ClientHello{}, Config{MaxSessionDuration: 30 * time.Millisecond})

	m := h.readFrame(t)
	if m["type"] != "warning" || m["code"] != "session_timeout" {
		t.Fatalf("frame = %v", m)
	}
	if err := h.waitRun(t); err != nil {
		t.Fatalf("run err = %v", err)
	}
}
