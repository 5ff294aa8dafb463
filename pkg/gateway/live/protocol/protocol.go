// Package protocol defines the JSON frames exchanged over the /v1/live
// WebSocket between a voice client and the gateway.
//
// The client opens the socket, sends a hello frame, and waits for hello_ack
// before streaming base64-encoded PCM16 audio frames. The gateway replies
// with an asynchronous stream of audio_chunk frames plus turn notices.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	EncodingPCM16LE = "pcm_s16le"
)

// DecodeError describes a malformed or unsupported client frame.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// AudioFormat describes negotiated live audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

type HelloFeatures struct {
	WantTurnNotices bool `json:"want_turn_notices,omitempty"`
}

type ClientHello struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	AudioIn         AudioFormat   `json:"audio_in"`
	AudioOut        AudioFormat   `json:"audio_out"`
	Features        HelloFeatures `json:"features,omitempty"`
}

type ClientAudioFrame struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	DataB64 string `json:"data_b64"`
}

type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// DecodeClientMessage parses one client JSON frame into its typed form.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "audio_frame":
		var msg ClientAudioFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_frame", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio_frame.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case "end_session":
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ValidateHello checks the handshake frame for required fields.
func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if msg.ProtocolVersion != ProtocolVersion1 {
		return unsupported("unsupported protocol version", "protocol_version")
	}
	if err := validateFormat(msg.AudioIn, "audio_in"); err != nil {
		return err
	}
	return validateFormat(msg.AudioOut, "audio_out")
}

func validateFormat(f AudioFormat, param string) error {
	if strings.TrimSpace(f.Encoding) == "" {
		return badRequest("hello."+param+".encoding is required", param+".encoding")
	}
	if f.Encoding != EncodingPCM16LE {
		return unsupported("unsupported audio encoding", param+".encoding")
	}
	if f.SampleRateHz <= 0 {
		return badRequest("hello."+param+".sample_rate_hz must be > 0", param+".sample_rate_hz")
	}
	if f.Channels <= 0 {
		return badRequest("hello."+param+".channels must be > 0", param+".channels")
	}
	return nil
}

type HelloAckLimits struct {
	MaxAudioFrameBytes  int   `json:"max_audio_frame_bytes"`
	MaxJSONMessageBytes int64 `json:"max_json_message_bytes"`
}

type ServerHelloAck struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	AudioIn         AudioFormat     `json:"audio_in"`
	AudioOut        AudioFormat     `json:"audio_out"`
	Limits          *HelloAckLimits `json:"limits,omitempty"`
}

type ServerAudioChunk struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq"`
	DataB64 string `json:"data_b64"`
}

type ServerTurnComplete struct {
	Type string `json:"type"`
}

type ServerInterrupted struct {
	Type string `json:"type"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

// DecodeServerMessage parses one server JSON frame into its typed form.
// Unknown frame types return (nil, nil) so clients can skip them.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}

	switch strings.TrimSpace(envelope.Type) {
	case "hello_ack":
		var msg ServerHelloAck
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello_ack", "")
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, badRequest("hello_ack.session_id is required", "session_id")
		}
		return msg, nil
	case "audio_chunk":
		var msg ServerAudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_chunk", "")
		}
		return msg, nil
	case "turn_complete":
		var msg ServerTurnComplete
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid turn_complete", "")
		}
		return msg, nil
	case "interrupted":
		var msg ServerInterrupted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid interrupted", "")
		}
		return msg, nil
	case "warning":
		var msg ServerWarning
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid warning", "")
		}
		return msg, nil
	case "error":
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, nil
	}
}
