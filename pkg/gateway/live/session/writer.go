package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter owns all writes to the socket. Priority frames (turn
// notices, warnings, errors) preempt queued audio chunks.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan []byte
	normal   <-chan []byte
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.flushPriorityOnShutdown(writeTimeout)
			_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			_ = w.ws.Close()
			return nil
		default:
		}

		// Anything queued on priority goes out before the next audio chunk.
		select {
		case payload := <-w.priority:
			if err := w.write(payload, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-w.ctx.Done():
			continue
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case payload := <-w.priority:
			if err := w.write(payload, writeTimeout); err != nil {
				return err
			}
		case payload := <-w.normal:
			if err := w.write(payload, writeTimeout); err != nil {
				return err
			}
		}
	}
}

// flushPriorityOnShutdown gives already-queued warnings and errors a short
// window to reach the client before the close frame.
func (w *outboundWriter) flushPriorityOnShutdown(writeTimeout time.Duration) {
	flushTimeout := 100 * time.Millisecond
	if writeTimeout > 0 && writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}

	deadline := time.Now().Add(flushTimeout)
	for i := 0; i < 8 && time.Now().Before(deadline); i++ {
		select {
		case payload := <-w.priority:
			_ = w.write(payload, writeTimeout)
		default:
			return
		}
	}
}

func (w *outboundWriter) write(payload []byte, writeTimeout time.Duration) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, payload)
}
