// Package gemini connects the live controller to the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

// DefaultModel is the native-audio live model.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// conn is the subset of *genai.Session the transport drives.
type conn interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type dialFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (conn, error)

// Transport opens Gemini Live sessions.
type Transport struct {
	model  string
	dial   dialFunc
	logger *slog.Logger
}

// NewTransport returns a transport on client. An empty model selects DefaultModel.
func NewTransport(client *genai.Client, model string, logger *slog.Logger) *Transport {
	return newTransport(func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (conn, error) {
		return client.Live.Connect(ctx, model, cfg)
	}, model, logger)
}

func newTransport(dial dialFunc, model string, logger *slog.Logger) *Transport {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{model: model, dial: dial, logger: logger}
}

// Open implements live.Transport.
func (t *Transport) Open(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	c, err := t.dial(ctx, t.model, ConnectConfig(cfg))
	if err != nil {
		return nil, live.TransportFailure("open", err)
	}
	outputRate := cfg.OutputSampleRate
	if outputRate <= 0 {
		outputRate = live.DefaultOutputSampleRate
	}
	s := &Session{
		conn:       c,
		outputRate: outputRate,
		events:     make(chan live.InboundEvent, 64),
		done:       make(chan struct{}),
		logger:     t.logger.With("transport", "gemini", "model", t.model),
	}
	go s.readLoop()
	return s, nil
}

// Session is one Gemini Live connection.
type Session struct {
	conn       conn
	outputRate int
	logger     *slog.Logger

	writeMu   sync.Mutex
	events    chan live.InboundEvent
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	errMu sync.Mutex
	err   error
}

// Send implements live.Session. A write still blocked when ctx ends closes
// the session, since the socket cannot be trusted after a stalled frame.
func (s *Session) Send(ctx context.Context, ev live.OutboundEvent) error {
	if s.closed.Load() {
		return live.TransportFailure("send", errors.New("session closed"))
	}
	if err := ctx.Err(); err != nil {
		return live.TransportFailure("send", err)
	}

	var op string
	var write func() error
	switch {
	case ev.Audio != nil:
		op = "send audio"
		write = func() error {
			return s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
				Audio: &genai.Blob{Data: ev.Audio.Data, MIMEType: ev.Audio.MIMEType},
			})
		}
	case ev.ToolResponses != nil:
		op = "send tool response"
		write = func() error {
			return s.conn.SendToolResponse(genai.LiveToolResponseInput{
				FunctionResponses: FunctionResponses(ev.ToolResponses),
			})
		}
	default:
		return nil
	}

	result := make(chan error, 1)
	go func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		result <- write()
	}()

	select {
	case err := <-result:
		if err != nil {
			return live.TransportFailure(op, err)
		}
		return nil
	case <-ctx.Done():
		var err error = live.TransportFailure(op, ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = live.TimeoutError(op, ctx.Err())
		}
		s.logger.Error("send stalled, closing session", "op", op, "error", ctx.Err())
		s.errMu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.errMu.Unlock()
		_ = s.Close()
		return err
	}
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.InboundEvent { return s.events }

// Err implements live.Session.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close implements live.Session.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		// Not under writeMu: closing is what unblocks a stalled write.
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Session) readLoop() {
	defer close(s.events)
	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if !s.closed.Load() {
				s.errMu.Lock()
				s.err = live.TransportFailure("receive", err)
				s.errMu.Unlock()
				s.logger.Error("live receive failed", "error", err)
			}
			return
		}
		if msg.GoAway != nil {
			s.logger.Warn("server will close the session soon")
		}
		ev, ok := Translate(msg, s.outputRate)
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// ConnectConfig maps a session request onto Gemini's connect config.
func ConnectConfig(cfg live.SessionConfig) *genai.LiveConnectConfig {
	cc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Voice != "" {
		cc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if strings.TrimSpace(cfg.Instruction) != "" {
		cc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.Instruction}}}
	}
	if tools := Tools(cfg.Tools); tools != nil {
		cc.Tools = tools
	}
	if cfg.Transcribe {
		cc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		cc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return cc
}

var schemaTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

// Tools converts declarations into a single Gemini tool.
func Tools(decls []live.ToolDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		fn := &genai.FunctionDeclaration{Name: d.Name, Description: d.Description}
		if len(d.Parameters) > 0 {
			schema := &genai.Schema{
				Type:       genai.TypeObject,
				Properties: make(map[string]*genai.Schema, len(d.Parameters)),
			}
			for _, p := range d.Parameters {
				typ, ok := schemaTypes[strings.ToLower(p.Type)]
				if !ok {
					typ = genai.TypeString
				}
				schema.Properties[p.Name] = &genai.Schema{Type: typ, Description: p.Description}
				if p.Required {
					schema.Required = append(schema.Required, p.Name)
				}
			}
			fn.Parameters = schema
		}
		fns = append(fns, fn)
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}

// FunctionResponses converts tool results to Gemini function responses.
func FunctionResponses(results []live.ToolResult) []*genai.FunctionResponse {
	out := make([]*genai.FunctionResponse, 0, len(results))
	for _, r := range results {
		out = append(out, &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Response})
	}
	return out
}

// Translate maps one server message to an inbound event. ok is false for
// messages that carry nothing the controller acts on.
func Translate(msg *genai.LiveServerMessage, outputRate int) (ev live.InboundEvent, ok bool) {
	if msg == nil {
		return ev, false
	}
	if sc := msg.ServerContent; sc != nil {
		if frag := audioFragment(sc.ModelTurn, outputRate); frag != nil {
			ev.Audio = frag
		}
		if sc.OutputTranscription != nil {
			ev.OutputTranscriptDelta = sc.OutputTranscription.Text
		}
		if sc.InputTranscription != nil {
			ev.InputTranscriptDelta = sc.InputTranscription.Text
		}
		ev.TurnComplete = sc.TurnComplete
		ev.Interrupted = sc.Interrupted
	}
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			ev.ToolCalls = append(ev.ToolCalls, live.ToolInvocation{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	ok = ev.Audio != nil || ev.OutputTranscriptDelta != "" || ev.InputTranscriptDelta != "" ||
		ev.TurnComplete || ev.Interrupted || len(ev.ToolCalls) > 0
	return ev, ok
}

// audioFragment joins the inline audio parts of a model turn.
func audioFragment(turn *genai.Content, outputRate int) *live.SpeechFragment {
	if turn == nil {
		return nil
	}
	var (
		data []byte
		rate int
	)
	for _, part := range turn.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		r, isPCM := live.ParseAudioMIME(part.InlineData.MIMEType)
		if !isPCM && part.InlineData.MIMEType != "" {
			continue
		}
		if rate == 0 {
			rate = r
		}
		data = append(data, part.InlineData.Data...)
	}
	if len(data) == 0 {
		return nil
	}
	if rate == 0 {
		rate = outputRate
	}
	return &live.SpeechFragment{Data: data, SampleRate: rate, Channels: 1}
}

// String describes the transport for logs.
func (t *Transport) String() string {
	return fmt.Sprintf("gemini(%s)", t.model)
}
