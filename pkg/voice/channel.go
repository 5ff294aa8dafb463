package voice

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atelierhq/studio/pkg/gateway/live/protocol"
)

var (
	// ErrChannelClosed is returned by Send after Close.
	ErrChannelClosed = errors.New("voice: channel closed")
	// ErrChannelNotOpen is returned by Send before the open callback fired.
	ErrChannelNotOpen = errors.New("voice: channel not open")
)

// MessageKind discriminates inbound channel messages. Only the shapes the
// client actually consumes are represented; unknown frames are skipped at
// the decode layer.
type MessageKind int

const (
	MessageAudio MessageKind = iota + 1
	MessageTurnComplete
	MessageInterrupted
)

// Message is one inbound channel message. At most one audio payload is
// carried per message.
type Message struct {
	Kind     MessageKind
	AudioB64 string
}

// Callbacks receive channel events. All callbacks are invoked from the
// channel's own goroutine, never concurrently with each other.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(Message)
	OnClose   func()
	OnError   func(error)
}

// Channel is a duplex session to the gateway. Send preserves ordering but
// delivery is not acknowledged per frame. Close is idempotent and safe to
// call before the channel finished opening.
type Channel interface {
	Send(Frame) error
	Close() error
}

// DialOptions configure a WSChannel.
type DialOptions struct {
	HandshakeTimeout time.Duration
	Header           http.Header
	AudioIn          Format
	AudioOut         Format
	Logger           *slog.Logger
}

// Dial starts opening a duplex channel to the gateway live endpoint.
// Establishment is asynchronous: Dial returns immediately and OnOpen fires
// once the handshake completes. Dial errors surface via OnError.
func Dial(rawURL string, cb Callbacks, opts DialOptions) *WSChannel {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.AudioIn == (Format{}) {
		opts.AudioIn = InputFormat()
	}
	if opts.AudioOut == (Format{}) {
		opts.AudioOut = OutputFormat()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &WSChannel{cb: cb, opts: opts}
	go c.run(rawURL)
	return c
}

// WSChannel is the gorilla/websocket implementation of Channel.
type WSChannel struct {
	cb   Callbacks
	opts DialOptions

	mu     sync.Mutex
	conn   *websocket.Conn
	open   bool
	closed bool
	seq    int64

	closeOnce sync.Once
}

func (c *WSChannel) run(rawURL string) {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, resp, err := dialer.Dial(rawURL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.fail(fmt.Errorf("dial live endpoint: %w", err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.handshake(conn); err != nil {
		c.fail(err)
		return
	}

	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.open = true
	}
	c.mu.Unlock()
	if closed {
		return
	}
	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}

	c.readLoop(conn)
}

func (c *WSChannel) handshake(conn *websocket.Conn) error {
	hello := protocol.ClientHello{
		Type:            "hello",
		ProtocolVersion: protocol.ProtocolVersion1,
		AudioIn:         c.opts.AudioIn.Protocol(),
		AudioOut:        c.opts.AudioOut.Protocol(),
		Features:        protocol.HelloFeatures{WantTurnNotices: true},
	}

	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello_ack: %w", err)
	}
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		return fmt.Errorf("invalid hello_ack: %w", err)
	}
	switch m := msg.(type) {
	case protocol.ServerHelloAck:
	case protocol.ServerError:
		return fmt.Errorf("gateway rejected session: %s (%s)", m.Message, m.Code)
	default:
		return fmt.Errorf("expected hello_ack, got %T", msg)
	}

	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})
	return nil
}

func (c *WSChannel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if c.cb.OnClose != nil {
					c.cb.OnClose()
				}
				return
			}
			if c.cb.OnError != nil {
				c.cb.OnError(fmt.Errorf("read channel: %w", err))
			}
			return
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			c.opts.Logger.Warn("dropping invalid server frame", "err", err)
			continue
		}
		switch m := msg.(type) {
		case protocol.ServerAudioChunk:
			c.deliver(Message{Kind: MessageAudio, AudioB64: m.DataB64})
		case protocol.ServerTurnComplete:
			c.deliver(Message{Kind: MessageTurnComplete})
		case protocol.ServerInterrupted:
			c.deliver(Message{Kind: MessageInterrupted})
		case protocol.ServerWarning:
			c.opts.Logger.Warn("gateway warning", "code", m.Code, "message", m.Message)
		case protocol.ServerError:
			if c.cb.OnError != nil {
				c.cb.OnError(fmt.Errorf("gateway error: %s (%s)", m.Message, m.Code))
			}
			if m.Close {
				return
			}
		case nil:
			// Unknown frame type; skip.
		}
	}
}

func (c *WSChannel) deliver(msg Message) {
	if c.cb.OnMessage != nil {
		c.cb.OnMessage(msg)
	}
}

func (c *WSChannel) fail(err error) {
	if c.isClosed() {
		return
	}
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}

func (c *WSChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send transmits one captured frame. Ordering of sends is preserved.
func (c *WSChannel) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if !c.open || c.conn == nil {
		return ErrChannelNotOpen
	}
	c.seq++
	return c.conn.WriteJSON(protocol.ClientAudioFrame{
		Type:    "audio_frame",
		Seq:     c.seq,
		DataB64: f.EncodeBase64(),
	})
}

// Close ends the session. It is idempotent: closing an already-closed or
// never-opened channel returns nil.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		open := c.open
		c.conn = nil
		c.open = false
		c.mu.Unlock()

		if conn == nil {
			return
		}
		if open {
			_ = conn.WriteJSON(protocol.ClientControl{Type: "control", Op: "end_session"})
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		}
		_ = conn.Close()
	})
	return nil
}

// LiveURL converts a gateway base URL into the websocket URL of the live
// endpoint, mapping http(s) schemes to ws(s).
func LiveURL(base string) (string, error) {
	raw := strings.TrimSpace(base)
	if raw == "" {
		return "", fmt.Errorf("empty gateway url")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/live"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
