package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeCapture struct {
	mu       sync.Mutex
	started  bool
	closed   int
	emit     func(Frame)
	startErr error
}

func (c *fakeCapture) Start(ctx context.Context, emit func(Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.started = true
	c.emit = emit
	return nil
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) produce(f Frame) {
	c.mu.Lock()
	emit := c.emit
	c.mu.Unlock()
	if emit != nil {
		emit(f)
	}
}

func (c *fakeCapture) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeChannel struct {
	mu     sync.Mutex
	sent   []Frame
	closed int
	cb     Callbacks
}

func (ch *fakeChannel) Send(f Frame) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed > 0 {
		return ErrChannelClosed
	}
	ch.sent = append(ch.sent, f)
	return nil
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	ch.closed++
	ch.mu.Unlock()
	return nil
}

func (ch *fakeChannel) sentFrames() []Frame {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]Frame, len(ch.sent))
	copy(out, ch.sent)
	return out
}

func (ch *fakeChannel) closeCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

type harness struct {
	capture *fakeCapture
	sink    *fakeSink
	clock   *fakeClock
	channel *fakeChannel
	ctrl    *Controller
}

func newHarness(t *testing.T, mutate func(*ControllerConfig)) *harness {
	t.Helper()
	h := &harness{
		capture: &fakeCapture{},
		sink:    &fakeSink{},
		clock:   &fakeClock{},
		channel: &fakeChannel{},
	}
	cfg := ControllerConfig{
		Capture:    h.capture,
		OpenOutput: func() (Clock, Sink, error) { return h.clock, h.sink, nil },
		Dial: func(cb Callbacks) (Channel, error) {
			h.channel.cb = cb
			return h.channel, nil
		},
		Logger: testLogger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.ctrl = NewController(cfg)
	return h
}

func inputFrame(d time.Duration) Frame {
	f := InputFormat()
	return Frame{PCM: make([]byte, f.FrameBytes(d)), Format: f}
}

func TestControllerLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	if got := h.ctrl.State(); got != StateStarting {
		t.Fatalf("state after Start = %s, want starting", got)
	}

	h.channel.cb.OnOpen()
	if got := h.ctrl.State(); got != StateActive {
		t.Fatalf("state after open = %s, want active", got)
	}

	h.ctrl.Stop()
	if got := h.ctrl.State(); got != StateIdle {
		t.Fatalf("state after Stop = %s, want idle", got)
	}
	select {
	case <-h.ctrl.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestControllerRejectsStartWhileActive(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	err := h.ctrl.Start(context.Background())
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start error = %v, want ErrSessionActive", err)
	}

	h.ctrl.Stop()
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start after Stop error = %v", err)
	}
	h.ctrl.Stop()
}

func TestControllerTeardownReleasesEverythingOnce(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	h.channel.cb.OnOpen()

	h.ctrl.Stop()
	h.ctrl.Stop()
	// A remote close landing after local Stop must not re-run teardown.
	h.channel.cb.OnClose()

	if got := h.capture.closeCount(); got != 1 {
		t.Fatalf("capture closed %d times, want 1", got)
	}
	if got := h.channel.closeCount(); got != 1 {
		t.Fatalf("channel closed %d times, want 1", got)
	}
	if !h.sink.closed {
		t.Fatalf("sink not closed")
	}
}

func TestControllerRemoteCloseTearsDown(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	h.channel.cb.OnOpen()

	h.channel.cb.OnClose()
	if got := h.ctrl.State(); got != StateIdle {
		t.Fatalf("state after remote close = %s, want idle", got)
	}
	if got := h.capture.closeCount(); got != 1 {
		t.Fatalf("capture closed %d times, want 1", got)
	}
}

func TestControllerChannelErrorTearsDown(t *testing.T) {
	var gotErr error
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.OnError = func(err error) { gotErr = err }
	})
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	h.channel.cb.OnOpen()

	h.channel.cb.OnError(errors.New("connection reset"))
	if gotErr == nil {
		t.Fatalf("OnError hook not invoked")
	}
	if got := h.ctrl.State(); got != StateIdle {
		t.Fatalf("state after channel error = %s, want idle", got)
	}
}

func TestControllerStartFailureReleasesPartialResources(t *testing.T) {
	t.Run("output unavailable", func(t *testing.T) {
		h := newHarness(t, func(cfg *ControllerConfig) {
			cfg.OpenOutput = func() (Clock, Sink, error) {
				return nil, nil, errors.New("device busy")
			}
		})
		if err := h.ctrl.Start(context.Background()); err == nil {
			t.Fatalf("expected Start error")
		}
		if h.ctrl.State() != StateIdle {
			t.Fatalf("state = %s, want idle", h.ctrl.State())
		}
		if h.capture.closeCount() != 0 && !h.capture.started {
			t.Fatalf("capture touched despite output failure")
		}
	})

	t.Run("capture unavailable", func(t *testing.T) {
		h := newHarness(t, nil)
		h.capture.startErr = errors.New("mic permission denied")
		if err := h.ctrl.Start(context.Background()); err == nil {
			t.Fatalf("expected Start error")
		}
		if h.ctrl.State() != StateIdle {
			t.Fatalf("state = %s, want idle", h.ctrl.State())
		}
		if !h.sink.closed {
			t.Fatalf("sink leaked after capture failure")
		}
		if h.channel.closeCount() != 0 {
			t.Fatalf("channel dialed despite capture failure")
		}
	})

	t.Run("dial fails", func(t *testing.T) {
		h := newHarness(t, func(cfg *ControllerConfig) {
			cfg.Dial = func(Callbacks) (Channel, error) {
				return nil, errors.New("gateway unreachable")
			}
		})
		if err := h.ctrl.Start(context.Background()); err == nil {
			t.Fatalf("expected Start error")
		}
		if h.ctrl.State() != StateIdle {
			t.Fatalf("state = %s, want idle", h.ctrl.State())
		}
		if h.capture.closeCount() != 1 {
			t.Fatalf("capture closed %d times, want 1", h.capture.closeCount())
		}
		if !h.sink.closed {
			t.Fatalf("sink leaked after dial failure")
		}
	})
}

func TestControllerStopDuringStart(t *testing.T) {
	t.Run("while output opens", func(t *testing.T) {
		opening := make(chan struct{})
		release := make(chan struct{})
		h := newHarness(t, func(cfg *ControllerConfig) {
			inner := cfg.OpenOutput
			cfg.OpenOutput = func() (Clock, Sink, error) {
				close(opening)
				<-release
				return inner()
			}
		})

		errCh := make(chan error, 1)
		go func() { errCh <- h.ctrl.Start(context.Background()) }()

		<-opening
		h.ctrl.Stop()
		close(release)

		if err := <-errCh; !errors.Is(err, ErrStartCanceled) {
			t.Fatalf("Start error = %v, want ErrStartCanceled", err)
		}
		if got := h.ctrl.State(); got != StateIdle {
			t.Fatalf("state = %s, want idle", got)
		}
		if !h.sink.closed {
			t.Fatalf("sink leaked after stop during start")
		}
		if h.capture.started {
			t.Fatalf("capture started after stop")
		}
		if got := h.channel.closeCount(); got != 0 {
			t.Fatalf("channel dialed despite stop, closed %d times", got)
		}
	})

	t.Run("while dialing", func(t *testing.T) {
		dialing := make(chan struct{})
		release := make(chan struct{})
		h := newHarness(t, func(cfg *ControllerConfig) {
			inner := cfg.Dial
			cfg.Dial = func(cb Callbacks) (Channel, error) {
				close(dialing)
				<-release
				return inner(cb)
			}
		})

		errCh := make(chan error, 1)
		go func() { errCh <- h.ctrl.Start(context.Background()) }()

		<-dialing
		h.ctrl.Stop()
		close(release)

		if err := <-errCh; !errors.Is(err, ErrStartCanceled) {
			t.Fatalf("Start error = %v, want ErrStartCanceled", err)
		}
		if got := h.ctrl.State(); got != StateIdle {
			t.Fatalf("state = %s, want idle", got)
		}
		if got := h.capture.closeCount(); got != 1 {
			t.Fatalf("capture closed %d times, want 1", got)
		}
		if !h.sink.closed {
			t.Fatalf("sink leaked after stop during dial")
		}
		if got := h.channel.closeCount(); got != 1 {
			t.Fatalf("dialed channel closed %d times, want 1", got)
		}
	})
}

func TestControllerBuffersFramesUntilOpen(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	early := []Frame{
		inputFrame(20 * time.Millisecond),
		inputFrame(20 * time.Millisecond),
		inputFrame(20 * time.Millisecond),
	}
	for _, f := range early {
		h.capture.produce(f)
	}
	if got := len(h.channel.sentFrames()); got != 0 {
		t.Fatalf("sent %d frames before open, want 0", got)
	}

	h.channel.cb.OnOpen()
	if got := len(h.channel.sentFrames()); got != len(early) {
		t.Fatalf("flushed %d frames, want %d", got, len(early))
	}

	h.capture.produce(inputFrame(20 * time.Millisecond))
	if got := len(h.channel.sentFrames()); got != len(early)+1 {
		t.Fatalf("sent %d frames after open, want %d", got, len(early)+1)
	}
	h.ctrl.Stop()
}

func TestControllerPendingBufferBounded(t *testing.T) {
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.PendingFrameLimit = 4
	})
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	for i := 0; i < 10; i++ {
		h.capture.produce(inputFrame(20 * time.Millisecond))
	}
	h.channel.cb.OnOpen()

	if got := len(h.channel.sentFrames()); got != 4 {
		t.Fatalf("flushed %d frames, want 4 (oldest dropped)", got)
	}
	h.ctrl.Stop()
}

func TestControllerRoutesMessages(t *testing.T) {
	var turns, interrupts int
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.OnTurnComplete = func() { turns++ }
		cfg.OnInterrupted = func() { interrupts++ }
	})
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	h.channel.cb.OnOpen()

	format := OutputFormat()
	h.channel.cb.OnMessage(Message{Kind: MessageAudio, AudioB64: pcmOf(40*time.Millisecond, format)})
	if got := len(h.sink.played()); got != 1 {
		t.Fatalf("played %d blocks, want 1", got)
	}

	h.channel.cb.OnMessage(Message{Kind: MessageTurnComplete})
	if turns != 1 {
		t.Fatalf("turn completions = %d, want 1", turns)
	}

	h.channel.cb.OnMessage(Message{Kind: MessageInterrupted})
	if interrupts != 1 {
		t.Fatalf("interrupts = %d, want 1", interrupts)
	}
	if h.sink.flushes != 1 {
		t.Fatalf("sink flushes = %d, want 1", h.sink.flushes)
	}
	h.ctrl.Stop()
}

func TestControllerDropsFramesWhileClosing(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	h.channel.cb.OnOpen()
	h.ctrl.Stop()

	h.capture.produce(inputFrame(20 * time.Millisecond))
	if got := len(h.channel.sentFrames()); got != 0 {
		t.Fatalf("sent %d frames after Stop, want 0", got)
	}
}
