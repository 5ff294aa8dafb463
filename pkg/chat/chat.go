// Package chat implements the text chat consumer: sending a message with its
// history to the gateway, reconstructing the streamed reply from
// newline-delimited JSON chunks, and persisting the transcript.
package chat

// Roles of transcript turns.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// GroundingChunk is one citation attached to a model answer.
type GroundingChunk struct {
	Web *GroundingWeb `json:"web,omitempty"`
}

// GroundingWeb points at the cited page.
type GroundingWeb struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// Message is one transcript turn.
type Message struct {
	Role            string           `json:"role"`
	Text            string           `json:"text"`
	GroundingChunks []GroundingChunk `json:"groundingChunks,omitempty"`
}

// Options select per-request model behavior.
type Options struct {
	UseSearch   bool `json:"useSearch,omitempty"`
	UseThinking bool `json:"useThinking,omitempty"`
}

// Request is the body of POST /v1/chat.
type Request struct {
	History []Message `json:"history"`
	Message string    `json:"message"`
	Options Options   `json:"options"`
}

// Chunk is one newline-delimited JSON object of the streamed reply. Both
// fields are optional on any given line.
type Chunk struct {
	Text            string           `json:"text,omitempty"`
	GroundingChunks []GroundingChunk `json:"groundingChunks,omitempty"`
}

// Reduce folds streamed chunks into the final reply: text concatenates in
// arrival order, and the most recent non-empty grounding set wins.
func Reduce(chunks []Chunk) Message {
	msg := Message{Role: RoleModel}
	for _, c := range chunks {
		msg.Text += c.Text
		if len(c.GroundingChunks) > 0 {
			msg.GroundingChunks = c.GroundingChunks
		}
	}
	return msg
}
