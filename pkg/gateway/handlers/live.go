package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atelierhq/studio/internal/metrics"
	"github.com/atelierhq/studio/pkg/gateway/apierror"
	"github.com/atelierhq/studio/pkg/gateway/config"
	"github.com/atelierhq/studio/pkg/gateway/lifecycle"
	"github.com/atelierhq/studio/pkg/gateway/live/protocol"
	"github.com/atelierhq/studio/pkg/gateway/live/session"
	"github.com/atelierhq/studio/pkg/gateway/live/sessions"
	"github.com/atelierhq/studio/pkg/gateway/mw"
	"github.com/atelierhq/studio/pkg/gateway/upstream"
)

const (
	liveAudioInRateHz  = 16000
	liveAudioOutRateHz = 24000
)

// LiveHandler upgrades /v1/live to a WebSocket and bridges it to a model
// audio session.
type LiveHandler struct {
	Config    config.Config
	Dialer    upstream.LiveDialer
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
	Metrics   *metrics.Metrics
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if h.Lifecycle.IsDraining() {
		writeJSON(w, apierror.StatusFromType(apierror.TypeOverloaded), apierror.Envelope{Error: &apierror.Error{
			Type:      apierror.TypeOverloaded,
			Message:   "gateway is draining",
			Code:      "draining",
			RequestID: reqID,
		}})
		return
	}
	if !h.originAllowed(r) {
		writeJSON(w, http.StatusForbidden, apierror.Envelope{Error: &apierror.Error{
			Type:      apierror.TypePermission,
			Message:   "origin is not allowed",
			Param:     "Origin",
			RequestID: reqID,
		}})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	hello, ok := h.readHello(conn)
	if !ok {
		return
	}

	up, err := h.Dialer.DialLive(r.Context())
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live dial failed", "request_id", reqID, "error", err)
		}
		h.writeWSError(conn, "upstream_error", "failed to open model session")
		return
	}

	sessionID := "s_" + randHex(8)
	bridge, err := session.New(session.Dependencies{
		Conn:      conn,
		Upstream:  up,
		Logger:    h.Logger,
		Hello:     hello,
		SessionID: sessionID,
		RequestID: reqID,
		Config: session.Config{
			MaxAudioFrameBytes:  h.Config.LiveMaxAudioFrameBytes,
			MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
			PingInterval:        h.Config.LiveWSPingInterval,
			WriteTimeout:        h.Config.LiveWSWriteTimeout,
			MaxSessionDuration:  h.Config.LiveMaxSessionDuration,
		},
	})
	if err != nil {
		_ = up.Close()
		h.writeWSError(conn, "internal", "failed to initialize live session")
		return
	}

	unregister, err := h.Sessions.Register(sessionID, sessions.Handle{
		Cancel: bridge.Cancel,
		Warn:   bridge.SendWarning,
	})
	if err != nil {
		_ = up.Close()
		h.writeWSError(conn, "rate_limited", "too many active live sessions")
		return
	}
	defer unregister()

	ack := protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		AudioIn:         hello.AudioIn,
		AudioOut:        hello.AudioOut,
		Limits: &protocol.HelloAckLimits{
			MaxAudioFrameBytes:  h.Config.LiveMaxAudioFrameBytes,
			MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
		},
	}
	if err := conn.WriteJSON(ack); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	start := time.Now()
	h.Metrics.RecordLiveSessionStart()
	runErr := bridge.Run()
	outcome := "ok"
	if runErr != nil {
		outcome = "error"
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error", "session_id", sessionID, "request_id", reqID, "error", runErr)
		}
	}
	in, out := bridge.AudioBytes()
	h.Metrics.RecordLiveAudio("in", int(in))
	h.Metrics.RecordLiveAudio("out", int(out))
	h.Metrics.RecordLiveSessionEnd(outcome, time.Since(start))
}

// readHello enforces the handshake: the first frame must be a valid hello
// with the fixed mic and speaker formats, within the handshake timeout.
func (h LiveHandler) readHello(conn *websocket.Conn) (protocol.ClientHello, bool) {
	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	messageType, frame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello")
		return protocol.ClientHello{}, false
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello")
		return protocol.ClientHello{}, false
	}

	decoded, err := protocol.DecodeClientMessage(frame)
	if err != nil {
		h.writeWSError(conn, "bad_request", err.Error())
		return protocol.ClientHello{}, false
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello")
		return protocol.ClientHello{}, false
	}
	if hello.AudioIn.SampleRateHz != liveAudioInRateHz || hello.AudioIn.Channels != 1 {
		h.writeWSError(conn, "unsupported", "audio_in must be pcm_s16le @16000Hz mono")
		return protocol.ClientHello{}, false
	}
	if hello.AudioOut.SampleRateHz != liveAudioOutRateHz || hello.AudioOut.Channels != 1 {
		h.writeWSError(conn, "unsupported", "audio_out must be pcm_s16le @24000Hz mono")
		return protocol.ClientHello{}, false
	}
	return hello, true
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Close: true})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}
