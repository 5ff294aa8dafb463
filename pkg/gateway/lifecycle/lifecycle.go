// Package lifecycle tracks the gateway's shutdown phase so handlers can
// react without plumbing a shutdown context through every request path.
package lifecycle

import "sync/atomic"

// Lifecycle flips the gateway between serving and draining. While draining,
// readiness fails so the load balancer stops routing here, and new live voice
// sessions are refused; in-flight requests and already-registered sessions
// run out under the shutdown grace period.
//
// The zero value is a serving lifecycle. A nil receiver also reads as
// serving, so handlers constructed without one behave normally in tests.
type Lifecycle struct {
	draining atomic.Bool
}

// SetDraining marks the start (or, for false, the end) of shutdown draining.
func (l *Lifecycle) SetDraining(v bool) {
	if l == nil {
		return
	}
	l.draining.Store(v)
}

// IsDraining reports whether shutdown has begun.
func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
