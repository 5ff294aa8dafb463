// Package ndjson writes newline-delimited JSON streams to HTTP responses.
package ndjson

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// New prepares w for an NDJSON stream and sets the content type. It fails
// when the ResponseWriter cannot flush, since a buffered stream defeats the
// point of streaming.
func New(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	return &Writer{w: w, flusher: f}, nil
}

// Send writes one JSON object followed by a newline and flushes.
func (nw *Writer) Send(data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	nw.mu.Lock()
	defer nw.mu.Unlock()

	if _, err := nw.w.Write(append(b, '\n')); err != nil {
		return err
	}
	nw.flusher.Flush()
	return nil
}
