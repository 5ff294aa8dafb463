// Package voice implements the client side of a live voice session: capturing
// microphone audio, streaming it over a duplex channel to the gateway, and
// scheduling returned audio blocks for gapless playback.
//
// The pieces compose as
//
//	Capture --> Controller --> Channel --> gateway
//	gateway --> Channel --> Controller --> Scheduler --> Sink
//
// Controller owns all lifecycle state; Capture, Channel, Scheduler and Sink
// are single-purpose and hold no session state of their own.
package voice
