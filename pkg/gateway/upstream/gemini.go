package upstream

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/genai"
)

const liveInputMIMEType = "audio/pcm;rate=16000"

// Gemini implements TextStreamer and LiveDialer against the Gemini API.
type Gemini struct {
	client    *genai.Client
	chatModel string
	liveModel string
}

// NewGemini builds the shared Gemini client.
func NewGemini(ctx context.Context, apiKey, chatModel, liveModel string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("upstream: create gemini client: %w", err)
	}
	return &Gemini{client: client, chatModel: chatModel, liveModel: liveModel}, nil
}

// StreamText implements TextStreamer. UseSearch enables the GoogleSearch
// tool, which is where citations come from; UseThinking grants the model a
// thinking budget.
func (g *Gemini) StreamText(ctx context.Context, req TextRequest, emit func(TextChunk) error) error {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		var role genai.Role = genai.RoleUser
		if turn.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{}
	if req.UseSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	if !req.UseThinking {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)}
	}

	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.chatModel, contents, cfg) {
		if err != nil {
			return fmt.Errorf("upstream: generate: %w", err)
		}
		chunk := TextChunk{Text: resp.Text()}
		if len(resp.Candidates) > 0 && resp.Candidates[0].GroundingMetadata != nil {
			for _, gc := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
				if gc == nil || gc.Web == nil {
					continue
				}
				chunk.Citations = append(chunk.Citations, Citation{
					URI:   gc.Web.URI,
					Title: gc.Web.Title,
				})
			}
		}
		if chunk.Text == "" && len(chunk.Citations) == 0 {
			continue
		}
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return nil
}

// DialLive implements LiveDialer.
func (g *Gemini) DialLive(ctx context.Context) (LiveSession, error) {
	session, err := g.client.Live.Connect(ctx, g.liveModel, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	})
	if err != nil {
		return nil, fmt.Errorf("upstream: connect live: %w", err)
	}
	return &geminiLiveSession{session: session}, nil
}

type geminiLiveSession struct {
	session *genai.Session
}

func (s *geminiLiveSession) SendAudio(pcm []byte) error {
	err := s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{MIMEType: liveInputMIMEType, Data: pcm},
	})
	if err != nil {
		return fmt.Errorf("upstream: send audio: %w", err)
	}
	return nil
}

// Receive maps one live server message into zero or more events; messages
// with nothing the bridge cares about are skipped by looping here rather
// than surfacing empty events.
func (s *geminiLiveSession) Receive() (LiveEvent, error) {
	for {
		msg, err := s.session.Receive()
		if err != nil {
			if err == io.EOF {
				return LiveEvent{}, io.EOF
			}
			return LiveEvent{}, fmt.Errorf("upstream: receive: %w", err)
		}
		sc := msg.ServerContent
		if sc == nil {
			continue
		}
		if sc.Interrupted {
			return LiveEvent{Kind: LiveInterrupted}, nil
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
					return LiveEvent{Kind: LiveAudio, PCM: part.InlineData.Data}, nil
				}
			}
		}
		if sc.TurnComplete {
			return LiveEvent{Kind: LiveTurnComplete}, nil
		}
	}
}

func (s *geminiLiveSession) Close() error {
	return s.session.Close()
}
