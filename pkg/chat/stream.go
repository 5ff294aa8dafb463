package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxLineBytes = 1 << 20

// StatusError is a non-2xx response from the chat endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat endpoint returned %d: %s", e.Code, e.Body)
}

// Client streams chat replies from the gateway.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// NewClient returns a chat client for the gateway at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithLogger replaces the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// Send posts one user message with its history and consumes the streamed
// reply. onChunk, when non-nil, is invoked for every parsed chunk as it
// arrives so callers can render incrementally. The returned message is the
// reduction of all chunks: concatenated text plus the last non-empty
// grounding set.
func (c *Client) Send(ctx context.Context, history []Message, text string, opts Options, onChunk func(Chunk)) (Message, error) {
	body, err := json.Marshal(Request{History: history, Message: text, Options: opts})
	if err != nil {
		return Message{}, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.http.Do(req)
	if err != nil {
		return Message{}, fmt.Errorf("post chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Message{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	reply := Message{Role: RoleModel}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk Chunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.log.Warn("skipping malformed chat chunk", "err", err)
			continue
		}
		reply.Text += chunk.Text
		if len(chunk.GroundingChunks) > 0 {
			reply.GroundingChunks = chunk.GroundingChunks
		}
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	if err := sc.Err(); err != nil {
		// A mid-stream failure still yields the text received so far; the
		// caller decides whether a partial reply is worth keeping.
		return reply, fmt.Errorf("read chat stream: %w", err)
	}
	return reply, nil
}
