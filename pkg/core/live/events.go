package live

// Event is the interface for all controller events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent is emitted on every controller state transition.
type StateChangedEvent struct {
	From ControllerState `json:"from"`
	To   ControllerState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// TranscriptDeltaEvent carries one incremental transcript fragment.
type TranscriptDeltaEvent struct {
	Profile string `json:"profile"`
	Role    Role   `json:"role"`
	Delta   string `json:"delta"`
}

func (e *TranscriptDeltaEvent) EventType() string { return "transcript.delta" }

// TurnLoggedEvent is emitted for each entry appended to a conversation log.
type TurnLoggedEvent struct {
	Profile string    `json:"profile"`
	Entry   TurnEntry `json:"entry"`
}

func (e *TurnLoggedEvent) EventType() string { return "turn.logged" }

// ToolCalledEvent is emitted once a tool result has been sent back.
type ToolCalledEvent struct {
	Invocation ToolInvocation `json:"invocation"`
	Result     ToolResult     `json:"result"`
}

func (e *ToolCalledEvent) EventType() string { return "tool.called" }

// InterruptedEvent is emitted when playback is cut off.
type InterruptedEvent struct {
	Stopped int  `json:"stopped"`
	Remote  bool `json:"remote"`
}

func (e *InterruptedEvent) EventType() string { return "playback.interrupted" }

// ErrorEvent carries a surfaced error and its user-facing text.
type ErrorEvent struct {
	Err     error  `json:"-"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

func (e *ErrorEvent) EventType() string { return "error" }

func newErrorEvent(err error, fatal bool) *ErrorEvent {
	return &ErrorEvent{Err: err, Message: UserMessage(err), Fatal: fatal}
}
