// Package live implements the client side of a real-time voice conversation
// with a remote speech model.
//
// A human speaks, microphone audio is streamed to the model over one
// bidirectional session, and the model answers with synthesized speech,
// transcripts and tool calls. This package owns the parts of that loop that
// have to be right in real time; the session itself, the audio devices and
// the tool implementations are plugged in through small interfaces.
//
// # Architecture
//
//   - SampleClock: frame-counted time for one audio timeline
//   - CaptureSink: re-frames microphone audio into SampleBlocks and sends them in order
//   - PlaybackScheduler: places speech fragments back-to-back on the output timeline
//   - Mixer: the output timeline, rendered on demand by a speaker device
//   - TurnAggregator: transcript accumulation and the conversation log
//   - ToolCallRouter: runs a batch of tool invocations and collects every result
//   - Controller: session lifecycle and inbound event dispatch
//
// # Data Flow
//
//	Mic → CaptureSink → Session.Send ─→ [model]
//	                                       │
//	Speaker ← Mixer ← PlaybackScheduler ←──┤ audio
//	          TurnAggregator ←─────────────┤ transcripts, turn complete
//	          ToolCallRouter ──────────────┘ tool calls → one tool response
//
// # State Machine
//
//	IDLE → CONNECTING → ACTIVE → ENDING → IDLE
//	            │          │
//	            └──────────┴──→ FAILED (fatal transport error)
//
// Start is a no-op unless the controller is IDLE or FAILED. End is a no-op
// when IDLE, and always releases the microphone.
//
// # Usage
//
//	mixer := live.NewMixer(live.DefaultOutputSampleRate)
//	ctrl := live.NewController(live.ControllerOptions{
//		Config:    cfg,
//		Transport: gemini.NewTransport(client, model),
//		Input:     mic,
//		Output:    mixer,
//	})
//	defer ctrl.Close()
//
//	if err := ctrl.Start(ctx, "assistant"); err != nil {
//		fmt.Println(live.UserMessage(err))
//	}
//	for ev := range ctrl.Events() {
//		// render transcript, levels, errors
//	}
package live
