package live

import (
	"context"
	"time"
)

// Transport opens sessions with a remote speech model.
type Transport interface {
	Open(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Session is one open bidirectional channel to the remote model.
//
// Send must be safe for concurrent use. Events is closed when the session
// ends, after which Err reports why (nil for a clean close).
type Session interface {
	Send(ctx context.Context, ev OutboundEvent) error
	Events() <-chan InboundEvent
	Err() error
	Close() error
}

// SessionConfig is what the controller asks a transport to open.
type SessionConfig struct {
	// Instruction is the system prompt of the conversation profile.
	Instruction string
	// Voice is the prebuilt voice used for model replies.
	Voice string
	// Tools are the declarations the model may invoke.
	Tools []ToolDeclaration
	// InputSampleRate is the rate of outbound audio.
	InputSampleRate int
	// OutputSampleRate is the rate the client plays back at.
	OutputSampleRate int
	// Transcribe asks the remote side for input and output transcripts.
	Transcribe bool
}

// OutboundEvent is one client->model message. Exactly one field is set.
type OutboundEvent struct {
	Audio         *Blob
	ToolResponses []ToolResult
}

// InboundEvent is one model->client message. Any combination of fields may
// be set; the controller processes them in the order they are declared here.
type InboundEvent struct {
	Audio                 *SpeechFragment
	InputTranscriptDelta  string
	OutputTranscriptDelta string
	TurnComplete          bool
	ToolCalls             []ToolInvocation
	Interrupted           bool
}

// Sender is the narrow part of a Session the capture path needs.
type Sender interface {
	Send(ctx context.Context, ev OutboundEvent) error
}

// Synthesizer turns greeting text into a speech fragment.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, text, voice string) (SpeechFragment, error)
}

// Defaults for bounded waits.
const (
	DefaultOpenTimeout     = 15 * time.Second
	DefaultToolTimeout     = 60 * time.Second
	DefaultGreetingTimeout = 20 * time.Second
	DefaultSendTimeout     = 5 * time.Second
)
