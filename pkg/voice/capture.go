package voice

import "context"

// Capture acquires an exclusive input device and produces a lazy, infinite
// sequence of fixed-size PCM16 frames until closed.
//
// Start must return an error without holding any resource when the device is
// unavailable or permission is denied; the session controller aborts startup
// in that case. After a successful Start, emit is invoked from the capture
// goroutine for every frame until Close.
type Capture interface {
	Start(ctx context.Context, emit func(Frame)) error
	Close() error
}

// CaptureFunc adapts a start function into a Capture with a no-op Close.
// It is mainly useful for tests and for captures whose lifetime is managed
// by the context alone.
type CaptureFunc func(ctx context.Context, emit func(Frame)) error

func (f CaptureFunc) Start(ctx context.Context, emit func(Frame)) error { return f(ctx, emit) }

func (f CaptureFunc) Close() error { return nil }
