package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/atelierhq/studio/pkg/voice"
)

// micCapture is the malgo-backed microphone: 16 kHz mono PCM16 in 20 ms
// periods, delivered from the device callback.
type micCapture struct {
	malgoCtx *malgo.AllocatedContext

	mu     sync.Mutex
	device *malgo.Device
}

func newMicCapture() (*micCapture, error) {
	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, ctxCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &micCapture{malgoCtx: malgoCtx}, nil
}

func (m *micCapture) Start(ctx context.Context, emit func(voice.Frame)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return fmt.Errorf("microphone already started")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(voice.InputSampleRateHz)
	cfg.PeriodSizeInMilliseconds = 20

	format := voice.InputFormat()
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			select {
			case <-ctx.Done():
				return
			default:
			}
			emit(voice.Frame{Format: format, PCM: append([]byte(nil), in...)})
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start microphone: %w", err)
	}
	m.device = device
	return nil
}

func (m *micCapture) Close() error {
	m.mu.Lock()
	device := m.device
	m.device = nil
	m.mu.Unlock()
	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	return nil
}

func (m *micCapture) Shutdown() {
	_ = m.Close()
	_ = m.malgoCtx.Uninit()
	m.malgoCtx.Free()
}

// wallClock measures the playback timeline from output open. oto exposes no
// device clock, so scheduling runs against the monotonic wall clock.
type wallClock struct {
	start time.Time
}

func (c *wallClock) Now() time.Duration { return time.Since(c.start) }

// otoSink plays scheduled PCM16 blocks through an oto player that pulls from
// an internal buffer. A flush bumps the generation so blocks already timed in
// flight are dropped instead of played late.
type otoSink struct {
	otoCtx *oto.Context
	clock  *wallClock
	format voice.Format

	mu     sync.Mutex
	buf    []byte
	player *oto.Player
	gen    int64
	closed bool
}

func newOutput(format voice.Format) (func() (voice.Clock, voice.Sink, error), error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRateHz,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100 ms of 24 kHz mono PCM16; small enough to keep latency low.
		BufferSize: 4800,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	return func() (voice.Clock, voice.Sink, error) {
		clock := &wallClock{start: time.Now()}
		s := &otoSink{otoCtx: otoCtx, clock: clock, format: format}
		return clock, s, nil
	}, nil
}

func (s *otoSink) PlayAt(start time.Duration, pcm []byte, done func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("speaker closed")
	}
	gen := s.gen
	s.mu.Unlock()

	delay := start - s.clock.Now()
	if delay < 0 {
		delay = 0
	}
	duration := s.format.Duration(len(pcm))

	time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.closed || gen != s.gen {
			s.mu.Unlock()
			done()
			return
		}
		s.buf = append(s.buf, pcm...)
		if s.player == nil {
			s.player = s.otoCtx.NewPlayer(s)
			s.player.Play()
		}
		s.mu.Unlock()
		time.AfterFunc(duration, done)
	})
	return nil
}

// Read feeds the oto player. Silence is returned while the buffer is empty so
// the player never starves mid-session.
func (s *otoSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *otoSink) Flush() {
	s.mu.Lock()
	s.gen++
	s.buf = nil
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		_ = player.Close()
	}
}

func (s *otoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = nil
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		_ = player.Close()
	}
	return nil
}
