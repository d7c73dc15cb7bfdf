package wsbridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

const ProtocolVersion1 = "1"

// Frame types.
const (
	TypeHello         = "hello"
	TypeHelloAck      = "hello_ack"
	TypeAudioFrame    = "audio_frame"
	TypeToolResponse  = "tool_response"
	TypeServerContent = "server_content"
	TypeToolCall      = "tool_call"
	TypeError         = "error"
)

// DecodeError reports a frame the bridge sent that this client cannot use.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

// Error implements error.
func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// AudioFormat describes one direction of negotiated audio.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// Hello opens a session. It is the first frame the client sends.
type Hello struct {
	Type            string                 `json:"type"`
	ProtocolVersion string                 `json:"protocol_version"`
	SessionID       string                 `json:"session_id"`
	Model           string                 `json:"model,omitempty"`
	Instruction     string                 `json:"instruction,omitempty"`
	Voice           string                 `json:"voice,omitempty"`
	Tools           []live.ToolDeclaration `json:"tools,omitempty"`
	AudioIn         AudioFormat            `json:"audio_in"`
	AudioOut        AudioFormat            `json:"audio_out"`
	Transcribe      bool                   `json:"transcribe,omitempty"`
}

// AudioFrame carries one captured block, base64 encoded.
type AudioFrame struct {
	Type     string `json:"type"`
	Seq      int64  `json:"seq"`
	MIMEType string `json:"mime_type"`
	DataB64  string `json:"data_b64"`
}

// FunctionResponse answers one FunctionCall by id.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ToolResponse answers every call of one tool_call frame.
type ToolResponse struct {
	Type      string             `json:"type"`
	Responses []FunctionResponse `json:"responses"`
}

// HelloAck accepts a Hello and names the output audio format.
type HelloAck struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	AudioOut        AudioFormat `json:"audio_out"`
}

// ServerContent carries model audio, transcripts and turn markers.
type ServerContent struct {
	Type             string `json:"type"`
	AudioB64         string `json:"audio_b64,omitempty"`
	SampleRateHz     int    `json:"sample_rate_hz,omitempty"`
	InputTranscript  string `json:"input_transcript,omitempty"`
	OutputTranscript string `json:"output_transcript,omitempty"`
	TurnComplete     bool   `json:"turn_complete,omitempty"`
	Interrupted      bool   `json:"interrupted,omitempty"`
}

// FunctionCall is one tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolCall is a batch of calls that must be answered together.
type ToolCall struct {
	Type  string         `json:"type"`
	Calls []FunctionCall `json:"calls"`
}

// ServerError reports a bridge-side failure. Close means the bridge will
// drop the connection.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

// DecodeServerMessage parses one text frame sent by the bridge.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("missing type", "type")
	}

	switch typ {
	case TypeHelloAck:
		var msg HelloAck
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid hello_ack", "")
		}
		if strings.TrimSpace(msg.ProtocolVersion) != ProtocolVersion1 {
			return nil, &DecodeError{Code: "unsupported", Message: "unsupported protocol version", Param: "protocol_version"}
		}
		return msg, nil
	case TypeServerContent:
		var msg ServerContent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid server_content", "")
		}
		if msg.SampleRateHz < 0 {
			return nil, badFrame("server_content.sample_rate_hz must be >= 0", "sample_rate_hz")
		}
		return msg, nil
	case TypeToolCall:
		var msg ToolCall
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid tool_call", "")
		}
		// Calls with a blank name still need an answer; the router
		// reports them as unknown.
		return msg, nil
	case TypeError:
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, badFrame("unsupported message type", "type")
	}
}

// inbound converts a decoded server frame to a controller event.
// Call ids are echoed back verbatim, even when empty.
func inbound(msg any, outputRate int) (live.InboundEvent, bool) {
	var ev live.InboundEvent
	switch m := msg.(type) {
	case ServerContent:
		if m.AudioB64 != "" {
			rate := m.SampleRateHz
			if rate == 0 {
				rate = outputRate
			}
			ev.Audio = &live.SpeechFragment{Base64: m.AudioB64, SampleRate: rate, Channels: 1}
		}
		ev.InputTranscriptDelta = m.InputTranscript
		ev.OutputTranscriptDelta = m.OutputTranscript
		ev.TurnComplete = m.TurnComplete
		ev.Interrupted = m.Interrupted
		return ev, true
	case ToolCall:
		for _, c := range m.Calls {
			ev.ToolCalls = append(ev.ToolCalls, live.ToolInvocation{ID: c.ID, Name: c.Name, Args: c.Args})
		}
		return ev, len(ev.ToolCalls) > 0
	default:
		return ev, false
	}
}
