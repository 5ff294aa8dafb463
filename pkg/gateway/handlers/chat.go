package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/atelierhq/studio/internal/metrics"
	"github.com/atelierhq/studio/pkg/chat"
	"github.com/atelierhq/studio/pkg/gateway/apierror"
	"github.com/atelierhq/studio/pkg/gateway/config"
	"github.com/atelierhq/studio/pkg/gateway/ndjson"
	"github.com/atelierhq/studio/pkg/gateway/upstream"
)

// ChatHandler streams model replies for POST /v1/chat as newline-delimited
// JSON chunks.
type ChatHandler struct {
	Config   config.Config
	Streamer upstream.TextStreamer
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeBody(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate(req); err != nil {
		writeError(w, r, err)
		return
	}

	upReq := upstream.TextRequest{
		Message:     req.Message,
		UseSearch:   req.Options.UseSearch,
		UseThinking: req.Options.UseThinking,
	}
	for _, m := range req.History {
		upReq.History = append(upReq.History, upstream.Turn{Role: m.Role, Text: m.Text})
	}

	ctx := r.Context()
	if h.Config.ChatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.ChatTimeout)
		defer cancel()
	}

	nw, err := ndjson.New(w)
	if err != nil {
		writeError(w, r, err)
		return
	}

	chunks := 0
	streamErr := h.Streamer.StreamText(ctx, upReq, func(c upstream.TextChunk) error {
		out := chat.Chunk{Text: c.Text}
		for _, cit := range c.Citations {
			out.GroundingChunks = append(out.GroundingChunks, chat.GroundingChunk{
				Web: &chat.GroundingWeb{URI: cit.URI, Title: cit.Title},
			})
		}
		if err := nw.Send(out); err != nil {
			return err
		}
		chunks++
		return nil
	})

	if streamErr != nil {
		if h.Logger != nil {
			h.Logger.Warn("chat stream failed", "chunks", chunks, "error", streamErr)
		}
		if chunks == 0 {
			// Nothing streamed yet; the client still gets a proper error
			// envelope and can substitute its fallback message.
			writeError(w, r, apierror.Upstream("model stream failed", "upstream_error"))
		}
		h.Metrics.RecordChatStream("error", chunks)
		return
	}
	h.Metrics.RecordChatStream("ok", chunks)
}

func (h ChatHandler) validate(req chat.Request) error {
	if strings.TrimSpace(req.Message) == "" {
		return apierror.InvalidRequest("message is required", "message")
	}
	if h.Config.ChatMaxMessageBytes > 0 && int64(len(req.Message)) > h.Config.ChatMaxMessageBytes {
		return apierror.InvalidRequest("message is too long", "message")
	}
	if h.Config.ChatMaxHistoryMessages > 0 && len(req.History) > h.Config.ChatMaxHistoryMessages {
		return apierror.InvalidRequest("history has too many messages", "history")
	}
	for i, m := range req.History {
		if m.Role != chat.RoleUser && m.Role != chat.RoleModel {
			return apierror.InvalidRequest("history role must be user or model", fmt.Sprintf("history[%d].role", i))
		}
	}
	return nil
}
