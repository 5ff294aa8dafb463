// Package upstream isolates the Gemini API behind small interfaces so
// handlers and the live bridge can be tested against fakes. No other package
// imports the genai SDK.
package upstream

import (
	"context"
)

// Turn is one prior conversation turn.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// TextRequest is one streamed text generation call.
type TextRequest struct {
	History     []Turn
	Message     string
	UseSearch   bool
	UseThinking bool
}

// Citation is one grounding source attached to generated text.
type Citation struct {
	URI   string
	Title string
}

// TextChunk is one streamed piece of a reply. Either field may be empty.
type TextChunk struct {
	Text      string
	Citations []Citation
}

// TextStreamer streams a text reply chunk by chunk. emit is called in
// arrival order; an emit error aborts the stream and is returned.
type TextStreamer interface {
	StreamText(ctx context.Context, req TextRequest, emit func(TextChunk) error) error
}

// LiveEvent kinds.
type LiveEventKind int

const (
	LiveAudio LiveEventKind = iota + 1
	LiveTurnComplete
	LiveInterrupted
)

// LiveEvent is one inbound event from a live audio session.
type LiveEvent struct {
	Kind LiveEventKind
	PCM  []byte
}

// LiveSession is a bidirectional audio session with the model.
type LiveSession interface {
	// SendAudio forwards one block of PCM16 microphone audio.
	SendAudio(pcm []byte) error
	// Receive blocks for the next event. It returns io.EOF when the model
	// ends the session.
	Receive() (LiveEvent, error)
	Close() error
}

// LiveDialer opens live audio sessions.
type LiveDialer interface {
	DialLive(ctx context.Context) (LiveSession, error)
}
