package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ControllerOptions wires a Controller to its collaborators.
type ControllerOptions struct {
	Config    ControllerConfig
	Transport Transport
	Input     InputDevice
	// Output is the speaker timeline; usually a *Mixer driven by a device.
	Output Timeline
	// Synthesizer voices profile greetings. Nil skips the greeting audio.
	Synthesizer Synthesizer
	// Router answers tool calls. Nil means a router with no tools.
	Router  *ToolCallRouter
	Logger  *slog.Logger
	Metrics *Metrics
}

// Controller runs one conversation at a time against a remote speech model.
type Controller struct {
	cfg       ControllerConfig
	transport Transport
	synth     Synthesizer
	router    *ToolCallRouter
	output    Timeline
	capture   *CaptureSink
	playback  *PlaybackScheduler
	logger    *slog.Logger
	metrics   *Metrics

	evMu     sync.RWMutex
	events   chan Event
	evClosed bool

	mu          sync.Mutex
	state       ControllerState
	lastErr     error
	attempt     uint64
	cancelStart context.CancelFunc
	conv        *conversation
	contexts    map[string]*TurnAggregator
	closed      bool
}

// conversation is the state owned by one Active period.
type conversation struct {
	profile Profile
	session Session
	turns   *TurnAggregator
	inbox   chan func()

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (cv *conversation) shutdown() {
	cv.stopOnce.Do(func() {
		cv.cancel()
		close(cv.stop)
	})
	<-cv.done
}

// post hands fn to the conversation loop. It gives up once the
// conversation is over.
func (cv *conversation) post(fn func()) {
	select {
	case cv.inbox <- fn:
	case <-cv.ctx.Done():
	}
}

// NewController returns an Idle controller.
func NewController(opts ControllerOptions) *Controller {
	cfg := opts.Config.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router := opts.Router
	if router == nil {
		router = NewToolCallRouter(cfg.ToolTimeout, logger, opts.Metrics)
	}
	output := opts.Output
	if output == nil {
		output = NewMixer(cfg.OutputSampleRate)
	}
	return &Controller{
		cfg:       cfg,
		transport: opts.Transport,
		synth:     opts.Synthesizer,
		router:    router,
		output:    output,
		capture: NewCaptureSink(opts.Input, CaptureOptions{
			SampleRate:  cfg.InputSampleRate,
			BlockSize:   cfg.BlockSize,
			QueueDepth:  cfg.SendQueueDepth,
			SendTimeout: cfg.SendTimeout,
			Logger:      logger,
			Metrics:     opts.Metrics,
		}),
		playback: NewPlaybackScheduler(output, PlaybackOptions{Logger: logger, Metrics: opts.Metrics}),
		logger:   logger,
		metrics:  opts.Metrics,
		events:   make(chan Event, cfg.EventBuffer),
		contexts: make(map[string]*TurnAggregator),
	}
}

// Events returns the controller's event feed. Events are dropped rather
// than block when the reader falls behind. The channel is closed by Close.
func (c *Controller) Events() <-chan Event { return c.events }

// State returns the current lifecycle state.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent surfaced failure, or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Profiles returns the configured profiles.
func (c *Controller) Profiles() map[string]Profile {
	out := make(map[string]Profile, len(c.cfg.Profiles))
	for k, v := range c.cfg.Profiles {
		out[k] = v
	}
	return out
}

// Transcript returns the conversation log of profile. An empty name means
// the default profile.
func (c *Controller) Transcript(profile string) []TurnEntry {
	return c.turnsFor(profile).Log()
}

// Pending returns the in-progress user and model text of profile.
func (c *Controller) Pending(profile string) (input, output string) {
	return c.turnsFor(profile).Pending()
}

// Levels returns the current input and output energy.
func (c *Controller) Levels() Levels {
	levels := Levels{Input: c.capture.Level()}
	if m, ok := c.output.(interface{ Level() Level }); ok {
		levels.Output = m.Level()
	}
	return levels
}

// Speaking reports whether any model audio is scheduled or playing.
func (c *Controller) Speaking() bool {
	return c.playback.Active() > 0
}

// Capturing reports whether the microphone is open.
func (c *Controller) Capturing() bool {
	return c.capture.Active()
}

// Start opens a session for profile and, once it is open, plays the
// greeting and then opens the microphone. Start while a conversation is
// connecting or active is a no-op.
func (c *Controller) Start(ctx context.Context, profile string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("controller is closed")
	}
	if c.state != StateIdle && c.state != StateFailed {
		c.mu.Unlock()
		c.logger.Debug("start ignored, conversation in progress", "state", c.state)
		return nil
	}
	p, err := c.cfg.profile(profile)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if c.transport == nil {
		c.mu.Unlock()
		return TransportFailure("open", errNoTransport)
	}
	c.attempt++
	attempt := c.attempt
	c.lastErr = nil
	openCtx, cancel := context.WithTimeout(ctx, c.cfg.OpenTimeout)
	c.cancelStart = cancel
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	var tools []ToolDeclaration
	if len(p.Tools) > 0 {
		tools = c.router.Declarations(p.Tools...)
	}
	c.logger.Info("opening session", "profile", p.Name, "tools", len(tools))
	sess, err := c.transport.Open(openCtx, SessionConfig{
		Instruction:      p.Instruction,
		Voice:            p.Voice,
		Tools:            tools,
		InputSampleRate:  c.cfg.InputSampleRate,
		OutputSampleRate: c.cfg.OutputSampleRate,
		Transcribe:       !c.cfg.DisableTranscripts,
	})
	if err != nil && errors.Is(openCtx.Err(), context.DeadlineExceeded) {
		err = TimeoutError("session open", err)
	}
	cancel()

	c.mu.Lock()
	if c.attempt != attempt || c.state != StateConnecting {
		// End ran while the session was opening.
		c.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		return nil
	}
	c.cancelStart = nil
	if err != nil {
		openErr := classifyWait("open", err, KindTransport)
		c.lastErr = openErr
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		c.logger.Error("session open failed", "profile", p.Name, "error", openErr)
		c.emit(newErrorEvent(openErr, true))
		return openErr
	}

	turns := c.turnsForLocked(p.Name)
	turns.Reset()
	convCtx, convCancel := context.WithCancel(context.Background())
	conv := &conversation{
		profile: p,
		session: sess,
		turns:   turns,
		inbox:   make(chan func(), 8),
		ctx:     convCtx,
		cancel:  convCancel,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.conv = conv
	c.setStateLocked(StateActive)
	c.metrics.sessionOpened()
	c.capture.Attach(sess)
	c.mu.Unlock()

	c.logger.Info("session open", "profile", p.Name)
	go c.run(conv)
	c.greet(conv)
	return nil
}

// greet seeds the greeting into the log and plays it; capture starts once
// the greeting handle finishes or is stopped. Without a greeting, capture
// starts at once.
func (c *Controller) greet(conv *conversation) {
	text := conv.profile.Greeting
	if text == "" || c.synth == nil {
		if text != "" {
			c.seedGreeting(conv, text)
		}
		conv.post(func() { c.startCapture(conv) })
		return
	}
	c.seedGreeting(conv, text)

	go func() {
		ctx, cancel := context.WithTimeout(conv.ctx, c.cfg.GreetingTimeout)
		frag, err := c.synth.SynthesizeSpeech(ctx, text, conv.profile.Voice)
		cancel()
		if err != nil {
			if conv.ctx.Err() != nil {
				return
			}
			synthErr := classifyWait("greeting synthesis", err, KindTransport)
			c.logger.Warn("greeting synthesis failed", "error", synthErr)
			c.emit(newErrorEvent(synthErr, false))
			conv.post(func() { c.startCapture(conv) })
			return
		}
		h, err := c.playback.Enqueue(frag)
		if err != nil || h == nil {
			if err != nil {
				c.emit(newErrorEvent(err, false))
			}
			conv.post(func() { c.startCapture(conv) })
			return
		}
		select {
		case <-h.Done():
			conv.post(func() { c.startCapture(conv) })
		case <-conv.ctx.Done():
		}
	}()
}

func (c *Controller) seedGreeting(conv *conversation, text string) {
	entry := TurnEntry{Role: RoleModel, Text: text}
	conv.turns.Seed(entry)
	c.emit(&TurnLoggedEvent{Profile: conv.profile.Name, Entry: entry})
}

// startCapture runs on the conversation loop.
func (c *Controller) startCapture(conv *conversation) {
	if err := c.capture.Start(conv.ctx); err != nil {
		c.logger.Error("microphone unavailable", "error", err)
		c.teardownFromLoop(conv, StateIdle, err)
		return
	}
	c.logger.Info("listening", "profile", conv.profile.Name)
}

// run is the conversation's single event loop. Inbound messages and
// internal notifications are handled one at a time in arrival order.
func (c *Controller) run(conv *conversation) {
	defer close(conv.done)
	inbound := conv.session.Events()
	for {
		select {
		case <-conv.stop:
			return
		case fn := <-conv.inbox:
			fn()
			if conv.ctx.Err() != nil {
				return
			}
		case ev, ok := <-inbound:
			if !ok {
				c.sessionEnded(conv)
				return
			}
			c.dispatch(conv, ev)
		}
	}
}

func (c *Controller) dispatch(conv *conversation, ev InboundEvent) {
	if ev.Audio != nil {
		if _, err := c.playback.Enqueue(*ev.Audio); err != nil {
			c.emit(newErrorEvent(err, false))
		}
	}
	if ev.OutputTranscriptDelta != "" {
		conv.turns.OnOutputDelta(ev.OutputTranscriptDelta)
		c.emit(&TranscriptDeltaEvent{Profile: conv.profile.Name, Role: RoleModel, Delta: ev.OutputTranscriptDelta})
	}
	if ev.InputTranscriptDelta != "" {
		conv.turns.OnInputDelta(ev.InputTranscriptDelta)
		c.emit(&TranscriptDeltaEvent{Profile: conv.profile.Name, Role: RoleUser, Delta: ev.InputTranscriptDelta})
	}
	if ev.TurnComplete {
		for _, entry := range conv.turns.OnTurnComplete() {
			c.emit(&TurnLoggedEvent{Profile: conv.profile.Name, Entry: entry})
		}
	}
	if len(ev.ToolCalls) > 0 {
		c.handleToolCalls(conv, ev.ToolCalls)
	}
	if ev.Interrupted {
		n := c.playback.Interrupt()
		c.logger.Debug("playback interrupted by model", "stopped", n)
		c.emit(&InterruptedEvent{Stopped: n, Remote: true})
	}
}

// handleToolCalls answers a batch off the loop so a slow handler never
// stalls audio, then sends every result in one message.
func (c *Controller) handleToolCalls(conv *conversation, calls []ToolInvocation) {
	batch := append([]ToolInvocation(nil), calls...)
	go func() {
		results := c.router.Dispatch(conv.ctx, batch)
		if conv.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(conv.ctx, c.cfg.SendTimeout)
		err := conv.session.Send(ctx, OutboundEvent{ToolResponses: results})
		cancel()
		if err != nil {
			sendErr := classifyWait("send tool response", err, KindTransport)
			c.logger.Error("sending tool responses failed", "count", len(results), "error", sendErr)
			c.emit(newErrorEvent(sendErr, false))
			return
		}
		for i, r := range results {
			c.emit(&ToolCalledEvent{Invocation: batch[i], Result: r})
		}
	}()
}

// sessionEnded handles the inbound stream closing underneath an active
// conversation.
func (c *Controller) sessionEnded(conv *conversation) {
	if err := conv.session.Err(); err != nil {
		transportErr := classifyWait("receive", err, KindTransport)
		c.logger.Error("session failed", "profile", conv.profile.Name, "error", transportErr)
		c.teardownFromLoop(conv, StateFailed, transportErr)
		return
	}
	c.logger.Info("session closed by remote", "profile", conv.profile.Name)
	c.teardownFromLoop(conv, StateIdle, nil)
}

// teardownFromLoop ends conv from inside its own loop. The microphone is
// always released.
func (c *Controller) teardownFromLoop(conv *conversation, next ControllerState, cause error) {
	c.mu.Lock()
	if c.conv != conv {
		c.mu.Unlock()
		return
	}
	c.conv = nil
	if cause != nil {
		c.lastErr = cause
	}
	c.setStateLocked(StateEnding)
	c.mu.Unlock()

	conv.cancel()
	c.release(conv)

	c.mu.Lock()
	c.setStateLocked(next)
	c.mu.Unlock()
	if cause != nil {
		c.emit(newErrorEvent(cause, next == StateFailed))
	}
}

// release frees everything a conversation holds and returns the close error.
func (c *Controller) release(conv *conversation) error {
	c.capture.Detach()
	if err := c.capture.Stop(); err != nil {
		c.logger.Warn("releasing microphone failed", "error", err)
	}
	c.playback.Interrupt()
	conv.turns.ClearPending()
	c.metrics.sessionClosed()
	if err := conv.session.Close(); err != nil {
		return TransportFailure("close", err)
	}
	return nil
}

// End stops capture, closes the session and clears the in-progress turn.
// Calling End when nothing is running is a no-op. A close failure is
// reported once and the controller still returns to Idle.
func (c *Controller) End() error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateEnding:
		c.mu.Unlock()
		return nil
	case StateFailed:
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		return nil
	}
	conv := c.conv
	c.conv = nil
	cancelStart := c.cancelStart
	c.cancelStart = nil
	c.setStateLocked(StateEnding)
	c.mu.Unlock()

	if cancelStart != nil {
		cancelStart()
	}

	var closeErr error
	if conv != nil {
		conv.shutdown()
		closeErr = c.release(conv)
	} else {
		c.capture.Detach()
		_ = c.capture.Stop()
	}

	c.mu.Lock()
	if closeErr != nil {
		c.lastErr = closeErr
	}
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if closeErr != nil {
		c.logger.Warn("session close failed", "error", closeErr)
		c.emit(newErrorEvent(closeErr, false))
		return closeErr
	}
	c.logger.Info("conversation ended")
	return nil
}

// Interrupt cuts off model playback locally and returns the number of
// handles stopped.
func (c *Controller) Interrupt() int {
	n := c.playback.Interrupt()
	c.emit(&InterruptedEvent{Stopped: n})
	return n
}

// Close ends any conversation and closes the event feed.
func (c *Controller) Close() error {
	err := c.End()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.evMu.Lock()
	if !c.evClosed {
		c.evClosed = true
		close(c.events)
	}
	c.evMu.Unlock()
	return err
}

func (c *Controller) turnsFor(profile string) *TurnAggregator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnsForLocked(profile)
}

func (c *Controller) turnsForLocked(profile string) *TurnAggregator {
	if profile == "" {
		profile = c.cfg.DefaultProfile
	}
	t, ok := c.contexts[profile]
	if !ok {
		t = NewTurnAggregator(c.metrics)
		c.contexts[profile] = t
	}
	return t
}

func (c *Controller) setStateLocked(to ControllerState) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.metrics.stateChanged(to)
	c.logger.Debug("controller state", "from", from, "to", to)
	c.emit(&StateChangedEvent{From: from, To: to})
}

func (c *Controller) emit(ev Event) {
	c.evMu.RLock()
	defer c.evMu.RUnlock()
	if c.evClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("event feed full, dropping event", "type", ev.EventType())
	}
}
