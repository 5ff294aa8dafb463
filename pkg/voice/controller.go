package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrSessionActive is returned by Start when a session is already starting,
// active, or still closing.
var ErrSessionActive = errors.New("voice: session already active")

// ErrStartCanceled is returned by Start when Stop wins the race with resource
// acquisition. Everything acquired before the stop has been released.
var ErrStartCanceled = errors.New("voice: start canceled")

// State is the lifecycle phase of the controller.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultPendingFrameLimit bounds frames buffered between capture start and
// channel open. At 20 ms per frame this is a few seconds of speech.
const DefaultPendingFrameLimit = 256

// ControllerConfig wires the controller to its resources. Capture, OpenOutput
// and Dial are constructors: the controller acquires fresh resources on every
// Start and releases them all on Stop.
type ControllerConfig struct {
	Capture    Capture
	OpenOutput func() (Clock, Sink, error)
	Dial       func(Callbacks) (Channel, error)

	OutputFormat      Format
	PendingFrameLimit int
	Logger            *slog.Logger

	// Optional event hooks, invoked from channel goroutines.
	OnTurnComplete func()
	OnInterrupted  func()
	OnError        func(error)
}

// Controller owns the lifecycle of one live voice session at a time:
// Idle -> Starting -> Active -> Closing -> Idle. All resource release funnels
// through a single idempotent teardown, so a user stop, a remote close, and a
// channel error racing each other release everything exactly once.
type Controller struct {
	cfg ControllerConfig

	mu    sync.Mutex
	state State
	sess  *session
}

type session struct {
	capture Capture
	cancel  context.CancelFunc
	channel Channel
	sink    Sink
	sched   *Scheduler

	open    bool
	stopped bool
	pending []Frame
	dropped int

	teardown sync.Once
	done     chan struct{}
}

// NewController returns an idle controller.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PendingFrameLimit <= 0 {
		cfg.PendingFrameLimit = DefaultPendingFrameLimit
	}
	if cfg.OutputFormat == (Format{}) {
		cfg.OutputFormat = OutputFormat()
	}
	return &Controller{cfg: cfg}
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done returns a channel closed when the current session has fully torn down.
// With no session it returns an already-closed channel.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return c.sess.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Start acquires the output device, the microphone, and the gateway channel,
// in that order. Acquisition failures release whatever was already held and
// leave the controller Idle. Starting while not Idle is rejected, and a Stop
// racing the acquisition makes Start release everything and return
// ErrStartCanceled rather than report a dead session as started.
//
// Start returns once capture is running; the channel opens asynchronously and
// frames captured in the meantime are buffered and flushed on open.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrSessionActive, st)
	}
	c.state = StateStarting
	s := &session{done: make(chan struct{})}
	c.sess = s
	c.mu.Unlock()

	clock, sink, err := c.cfg.OpenOutput()
	if err != nil {
		c.stopSession(s)
		return fmt.Errorf("open audio output: %w", err)
	}
	if !c.attach(s, func() {
		s.sink = sink
		s.sched = NewScheduler(clock, sink, c.cfg.OutputFormat, c.cfg.Logger)
	}) {
		_ = sink.Close()
		return ErrStartCanceled
	}

	captureCtx, cancel := context.WithCancel(ctx)
	capture := c.cfg.Capture
	if err := capture.Start(captureCtx, func(f Frame) { c.onFrame(s, f) }); err != nil {
		cancel()
		c.stopSession(s)
		return fmt.Errorf("start capture: %w", err)
	}
	if !c.attach(s, func() {
		s.capture = capture
		s.cancel = cancel
	}) {
		_ = capture.Close()
		cancel()
		return ErrStartCanceled
	}

	ch, err := c.cfg.Dial(Callbacks{
		OnOpen:    func() { c.onOpen(s) },
		OnMessage: func(m Message) { c.onMessage(s, m) },
		OnClose: func() {
			c.cfg.Logger.Info("channel closed by remote")
			c.stopSession(s)
		},
		OnError: func(err error) {
			c.cfg.Logger.Error("channel error", "err", err)
			if c.cfg.OnError != nil {
				c.cfg.OnError(err)
			}
			c.stopSession(s)
		},
	})
	if err != nil {
		c.stopSession(s)
		return fmt.Errorf("dial channel: %w", err)
	}
	if !c.attach(s, func() { s.channel = ch }) {
		_ = ch.Close()
		return ErrStartCanceled
	}
	// The open callback can win the race with the attach above; flush here
	// as well so buffered frames are never stranded.
	c.flushPending(s)
	return nil
}

// attach records freshly acquired resources on the session so teardown sees
// them. Once teardown has marked the session stopped the attach is refused
// and the caller still owns the resource: it must release it itself.
func (c *Controller) attach(s *session, set func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.stopped {
		return false
	}
	set()
	return true
}

// Stop ends the current session. It is safe to call in any state and from
// any goroutine; redundant calls are no-ops.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.stopSession(s)
}

func (c *Controller) stopSession(s *session) {
	s.teardown.Do(func() {
		// Marking the session stopped under the lock fences Start: any
		// resource attached before this point is visible below, anything
		// acquired after is released by Start itself.
		c.mu.Lock()
		s.stopped = true
		if c.sess == s {
			c.state = StateClosing
		}
		capture := s.capture
		cancel := s.cancel
		channel := s.channel
		sink := s.sink
		sched := s.sched
		c.mu.Unlock()

		// Release capture first so no frame is produced into a closing
		// channel, then the channel, then playback.
		if capture != nil {
			if err := capture.Close(); err != nil {
				c.cfg.Logger.Warn("closing capture", "err", err)
			}
		}
		if cancel != nil {
			cancel()
		}
		if channel != nil {
			if err := channel.Close(); err != nil {
				c.cfg.Logger.Warn("closing channel", "err", err)
			}
		}
		if sink != nil {
			if err := sink.Close(); err != nil {
				c.cfg.Logger.Warn("closing audio output", "err", err)
			}
		}
		if sched != nil {
			sched.Reset()
		}

		c.mu.Lock()
		if c.sess == s {
			c.sess = nil
			c.state = StateIdle
		}
		c.mu.Unlock()
		close(s.done)
	})
	<-s.done
}

func (c *Controller) onFrame(s *session, f Frame) {
	c.mu.Lock()
	if c.sess != s || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	if !s.open {
		// Channel not open yet: buffer, dropping the oldest past the limit.
		if len(s.pending) >= c.cfg.PendingFrameLimit {
			s.pending = s.pending[1:]
			s.dropped++
		}
		s.pending = append(s.pending, f)
		c.mu.Unlock()
		return
	}
	ch := s.channel
	c.mu.Unlock()

	if err := ch.Send(f); err != nil {
		if !errors.Is(err, ErrChannelClosed) {
			c.cfg.Logger.Warn("sending frame", "err", err)
		}
	}
}

func (c *Controller) onOpen(s *session) {
	c.mu.Lock()
	if c.sess != s || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateActive
	s.open = true
	c.mu.Unlock()
	c.flushPending(s)
}

func (c *Controller) flushPending(s *session) {
	c.mu.Lock()
	if !s.open || s.channel == nil || len(s.pending) == 0 {
		c.mu.Unlock()
		return
	}
	pending := s.pending
	dropped := s.dropped
	s.pending = nil
	s.dropped = 0
	ch := s.channel
	c.mu.Unlock()

	if dropped > 0 {
		c.cfg.Logger.Warn("dropped buffered frames before channel open", "count", dropped)
	}
	for _, f := range pending {
		if err := ch.Send(f); err != nil {
			c.cfg.Logger.Warn("flushing buffered frame", "err", err)
			return
		}
	}
}

func (c *Controller) onMessage(s *session, m Message) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	sched := s.sched
	c.mu.Unlock()

	switch m.Kind {
	case MessageAudio:
		sched.Enqueue(m.AudioB64)
	case MessageTurnComplete:
		if c.cfg.OnTurnComplete != nil {
			c.cfg.OnTurnComplete()
		}
	case MessageInterrupted:
		sched.Interrupt()
		if c.cfg.OnInterrupted != nil {
			c.cfg.OnInterrupted()
		}
	}
}
