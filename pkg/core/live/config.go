package live

import (
	"fmt"
	"strings"
	"time"
)

// ControllerState is the lifecycle state of a Controller.
type ControllerState int

const (
	// StateIdle is the ready state: no session, no capture.
	StateIdle ControllerState = iota
	// StateConnecting is waiting for the transport to open a session.
	StateConnecting
	// StateActive has an open session and dispatches inbound events.
	StateActive
	// StateEnding is tearing the conversation down.
	StateEnding
	// StateFailed follows a fatal transport error. End or Start leaves it.
	StateFailed
)

// String returns a human-readable state name.
func (s ControllerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateEnding:
		return "ENDING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Profile is one kind of conversation: what the model is told, what it says
// first and which tools it may call. Each profile keeps its own transcript.
type Profile struct {
	Name        string   `json:"name" yaml:"name"`
	Instruction string   `json:"instruction" yaml:"instruction"`
	Greeting    string   `json:"greeting,omitempty" yaml:"greeting,omitempty"`
	Voice       string   `json:"voice,omitempty" yaml:"voice,omitempty"`
	Tools       []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// ControllerConfig holds the tunables of a Controller.
type ControllerConfig struct {
	// Profiles maps profile name to profile.
	Profiles map[string]Profile
	// DefaultProfile is used when Start is given an empty name.
	DefaultProfile string
	// Voice is used when a profile does not name one.
	Voice string

	InputSampleRate  int
	OutputSampleRate int
	BlockSize        int
	SendQueueDepth   int

	// OpenTimeout bounds session open.
	OpenTimeout time.Duration
	// ToolTimeout bounds each tool handler.
	ToolTimeout time.Duration
	// GreetingTimeout bounds greeting synthesis.
	GreetingTimeout time.Duration
	// SendTimeout bounds each outbound send.
	SendTimeout time.Duration

	// DisableTranscripts stops the model from sending input and output
	// transcripts. The zero value keeps them on.
	DisableTranscripts bool
	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
}

// DefaultControllerConfig returns the reference audio settings with a single
// plain assistant profile.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Profiles: map[string]Profile{
			"assistant": {Name: "assistant", Instruction: "You are a helpful voice assistant."},
		},
		DefaultProfile:   "assistant",
		Voice:            "Zephyr",
		InputSampleRate:  DefaultInputSampleRate,
		OutputSampleRate: DefaultOutputSampleRate,
		BlockSize:        DefaultBlockSize,
		SendQueueDepth:   32,
		OpenTimeout:      DefaultOpenTimeout,
		ToolTimeout:      DefaultToolTimeout,
		GreetingTimeout:  DefaultGreetingTimeout,
		SendTimeout:      DefaultSendTimeout,
		EventBuffer:      256,
	}
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	d := DefaultControllerConfig()
	if len(c.Profiles) == 0 {
		c.Profiles = d.Profiles
		if c.DefaultProfile == "" {
			c.DefaultProfile = d.DefaultProfile
		}
	}
	if c.Voice == "" {
		c.Voice = d.Voice
	}
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = d.InputSampleRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = d.OutputSampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = d.BlockSize
	}
	if c.SendQueueDepth <= 0 {
		c.SendQueueDepth = d.SendQueueDepth
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = d.ToolTimeout
	}
	if c.GreetingTimeout <= 0 {
		c.GreetingTimeout = d.GreetingTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

// profile resolves name, falling back to the default profile when empty.
func (c ControllerConfig) profile(name string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.DefaultProfile
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", errUnknownProfile, name)
	}
	if p.Name == "" {
		p.Name = name
	}
	if p.Voice == "" {
		p.Voice = c.Voice
	}
	return p, nil
}
