// Package session bridges a client /v1/live WebSocket to a model audio
// session. Client audio_frame messages are forwarded upstream; upstream
// audio and turn events are fanned back out as protocol frames.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atelierhq/studio/pkg/gateway/live/protocol"
	"github.com/atelierhq/studio/pkg/gateway/upstream"
)

const defaultOutboundQueueSize = 128

var errBackpressure = errors.New("live outbound backpressure")

type Config struct {
	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	MaxSessionDuration  time.Duration
	OutboundQueueSize   int
}

type Dependencies struct {
	Conn      *websocket.Conn
	Upstream  upstream.LiveSession
	Logger    *slog.Logger
	Hello     protocol.ClientHello
	SessionID string
	RequestID string
	Config    Config
}

// Bridge relays one live voice session.
type Bridge struct {
	conn      *websocket.Conn
	upstream  upstream.LiveSession
	logger    *slog.Logger
	hello     protocol.ClientHello
	sessionID string
	requestID string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	// Turn notices and warnings preempt queued audio chunks.
	outboundPriority chan []byte
	outboundNormal   chan []byte

	outSeq atomic.Int64

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

func New(deps Dependencies) (*Bridge, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Upstream == nil {
		return nil, fmt.Errorf("upstream session is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = defaultOutboundQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		conn:             deps.Conn,
		upstream:         deps.Upstream,
		logger:           deps.Logger,
		hello:            deps.Hello,
		sessionID:        deps.SessionID,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan []byte, 8),
		outboundNormal:   make(chan []byte, deps.Config.OutboundQueueSize),
	}, nil
}

// Cancel stops the session from outside, e.g. during shutdown.
func (b *Bridge) Cancel() {
	if b == nil {
		return
	}
	b.cancel()
}

// SendWarning queues a warning frame for the client.
func (b *Bridge) SendWarning(code, message string) error {
	if b == nil {
		return nil
	}
	return b.sendPriority(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

// AudioBytes reports relayed PCM byte counts for the session so far.
func (b *Bridge) AudioBytes() (in, out int64) {
	if b == nil {
		return 0, 0
	}
	return b.bytesIn.Load(), b.bytesOut.Load()
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// Run relays frames until the client or the model ends the session. It
// always closes the upstream session before returning.
func (b *Bridge) Run() error {
	defer b.cancel()
	defer b.upstream.Close()

	if b.cfg.MaxJSONMessageBytes > 0 {
		b.conn.SetReadLimit(b.cfg.MaxJSONMessageBytes)
	}

	readCh := make(chan inboundFrame, 64)
	go b.readLoop(readCh)

	upstreamCh := make(chan upstream.LiveEvent, 64)
	upstreamErrCh := make(chan error, 1)
	go b.receiveLoop(upstreamCh, upstreamErrCh)

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:       b.conn,
			ctx:      b.ctx,
			cfg:      b.cfg,
			priority: b.outboundPriority,
			normal:   b.outboundNormal,
		}
		writerErrCh <- w.Run()
	}()

	var sessionTimerCh <-chan time.Time
	if b.cfg.MaxSessionDuration > 0 {
		timer := time.NewTimer(b.cfg.MaxSessionDuration)
		defer timer.Stop()
		sessionTimerCh = timer.C
	}

	for {
		select {
		case <-b.ctx.Done():
			return nil
		case err := <-writerErrCh:
			return err
		case <-sessionTimerCh:
			_ = b.SendWarning("session_timeout", "maximum session duration reached")
			return nil
		case err := <-upstreamErrCh:
			if err == nil || errors.Is(err, io.EOF) {
				_ = b.SendWarning("session_end", "model ended the session")
				return nil
			}
			_ = b.sendPriority(protocol.ServerError{Type: "error", Code: "upstream_error", Message: "model session failed", Close: true})
			return err
		case ev := <-upstreamCh:
			if err := b.handleUpstreamEvent(ev); err != nil {
				if errors.Is(err, errBackpressure) {
					_ = b.sendPriority(protocol.ServerError{Type: "error", Code: "rate_limited", Message: "client cannot keep up with audio playback", Close: true})
					return nil
				}
				return err
			}
		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				return nil
			}
			done, err := b.handleClientFrame(frame)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (b *Bridge) handleClientFrame(frame inboundFrame) (done bool, err error) {
	if frame.messageType != websocket.TextMessage {
		_ = b.sendPriority(protocol.ServerError{Type: "error", Code: "bad_request", Message: "binary frames are not supported", Close: true})
		return true, nil
	}

	msg, decErr := protocol.DecodeClientMessage(frame.data)
	if decErr != nil {
		code := "bad_request"
		var de *protocol.DecodeError
		if errors.As(decErr, &de) {
			code = de.Code
		}
		_ = b.sendPriority(protocol.ServerError{Type: "error", Code: code, Message: decErr.Error(), Close: true})
		return true, nil
	}

	switch m := msg.(type) {
	case protocol.ClientAudioFrame:
		audio, err := base64.StdEncoding.DecodeString(m.DataB64)
		if err != nil {
			_ = b.sendPriority(protocol.ServerError{Type: "error", Code: "bad_request", Message: "invalid audio_frame.data_b64", Close: true})
			return true, nil
		}
		if b.cfg.MaxAudioFrameBytes > 0 && len(audio) > b.cfg.MaxAudioFrameBytes {
			_ = b.sendPriority(protocol.ServerError{Type: "error", Code: "bad_request", Message: "audio frame exceeds max size", Close: true})
			return true, nil
		}
		if err := b.upstream.SendAudio(audio); err != nil {
			b.logger.Warn("forward audio failed", "session_id", b.sessionID, "error", err)
			_ = b.sendPriority(protocol.ServerError{Type: "error", Code: "upstream_error", Message: "failed to forward audio", Close: true})
			return true, nil
		}
		b.bytesIn.Add(int64(len(audio)))
	case protocol.ClientControl:
		if m.Op == "end_session" {
			_ = b.SendWarning("session_end", "session ending by client request")
			return true, nil
		}
	case protocol.ClientHello:
		_ = b.sendPriority(protocol.ServerError{Type: "error", Code: "bad_request", Message: "duplicate hello", Close: true})
		return true, nil
	}
	return false, nil
}

func (b *Bridge) handleUpstreamEvent(ev upstream.LiveEvent) error {
	switch ev.Kind {
	case upstream.LiveAudio:
		b.bytesOut.Add(int64(len(ev.PCM)))
		return b.sendNormal(protocol.ServerAudioChunk{
			Type:    "audio_chunk",
			Seq:     b.outSeq.Add(1),
			DataB64: base64.StdEncoding.EncodeToString(ev.PCM),
		})
	case upstream.LiveTurnComplete:
		if !b.hello.Features.WantTurnNotices {
			return nil
		}
		return b.sendPriority(protocol.ServerTurnComplete{Type: "turn_complete"})
	case upstream.LiveInterrupted:
		// Drop queued audio: the client should stop playback, not drain it.
		b.drainNormal()
		return b.sendPriority(protocol.ServerInterrupted{Type: "interrupted"})
	}
	return nil
}

func (b *Bridge) drainNormal() {
	for {
		select {
		case <-b.outboundNormal:
		default:
			return
		}
	}
}

func (b *Bridge) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-b.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bridge) receiveLoop(out chan<- upstream.LiveEvent, errCh chan<- error) {
	for {
		ev, err := b.upstream.Receive()
		if err != nil {
			select {
			case errCh <- err:
			case <-b.ctx.Done():
			}
			return
		}
		select {
		case out <- ev:
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bridge) sendPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case b.outboundPriority <- payload:
		return nil
	case <-b.ctx.Done():
		return b.ctx.Err()
	}
}

func (b *Bridge) sendNormal(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case b.outboundNormal <- payload:
		return nil
	case <-b.ctx.Done():
		return b.ctx.Err()
	default:
		return errBackpressure
	}
}
