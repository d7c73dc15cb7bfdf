// Package wsbridge speaks to a live gateway over a websocket. The gateway
// relays audio, transcripts and tool calls to whichever model it fronts.
package wsbridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

const defaultHandshakeTimeout = 10 * time.Second

// Options configures a Transport.
type Options struct {
	// URL is the ws:// or wss:// endpoint of the gateway.
	URL    string
	APIKey string
	Model  string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Transport dials the gateway once per conversation.
type Transport struct {
	opts Options
}

// NewTransport returns a transport for opts.URL. Nothing is dialed until Open.
func NewTransport(opts Options) *Transport {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Transport{opts: opts}
}

// Open dials, sends hello and waits for hello_ack.
func (t *Transport) Open(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	if strings.TrimSpace(t.opts.URL) == "" {
		return nil, live.TransportFailure("open", errors.New("bridge url is empty"))
	}
	inRate := cfg.InputSampleRate
	if inRate <= 0 {
		inRate = live.DefaultInputSampleRate
	}
	outRate := cfg.OutputSampleRate
	if outRate <= 0 {
		outRate = live.DefaultOutputSampleRate
	}

	headers := make(http.Header)
	if t.opts.APIKey != "" {
		headers.Set("Authorization", "Bearer "+t.opts.APIKey)
	}
	conn, resp, err := t.opts.Dialer.DialContext(ctx, t.opts.URL, headers)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, live.TransportFailure("open", err)
	}

	hello := Hello{
		Type:            TypeHello,
		ProtocolVersion: ProtocolVersion1,
		SessionID:       uuid.NewString(),
		Model:           t.opts.Model,
		Instruction:     cfg.Instruction,
		Voice:           cfg.Voice,
		Tools:           cfg.Tools,
		AudioIn:         AudioFormat{Encoding: "pcm_s16le", SampleRateHz: inRate, Channels: 1},
		AudioOut:        AudioFormat{Encoding: "pcm_s16le", SampleRateHz: outRate, Channels: 1},
		Transcribe:      cfg.Transcribe,
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, live.TransportFailure("send hello", err)
	}

	deadline := time.Now().Add(defaultHandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, live.TimeoutError("hello_ack", ctx.Err())
		}
		return nil, live.TransportFailure("read hello_ack", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage {
		_ = conn.Close()
		return nil, live.TransportFailure("read hello_ack", fmt.Errorf("unexpected first frame type %d", messageType))
	}

	first, err := DecodeServerMessage(payload)
	if err != nil {
		_ = conn.Close()
		return nil, live.TransportFailure("read hello_ack", err)
	}
	switch m := first.(type) {
	case HelloAck:
		if m.AudioOut.SampleRateHz > 0 {
			outRate = m.AudioOut.SampleRateHz
		}
		s := &Session{
			id:         m.SessionID,
			conn:       conn,
			outputRate: outRate,
			events:     make(chan live.InboundEvent, 64),
			done:       make(chan struct{}),
			logger:     t.opts.Logger.With("transport", "wsbridge", "session_id", m.SessionID),
		}
		go s.readLoop()
		return s, nil
	case ServerError:
		_ = conn.Close()
		return nil, live.TransportFailure("open", fmt.Errorf("%s: %s", m.Code, m.Message))
	default:
		_ = conn.Close()
		return nil, live.TransportFailure("read hello_ack", fmt.Errorf("unexpected first frame %T", first))
	}
}

// Session is one bridged conversation.
type Session struct {
	id         string
	conn       *websocket.Conn
	outputRate int
	logger     *slog.Logger
	seq        atomic.Int64

	events chan live.InboundEvent
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// ID is the session id the gateway acknowledged.
func (s *Session) ID() string { return s.id }

// Send implements live.Session.
func (s *Session) Send(ctx context.Context, ev live.OutboundEvent) error {
	if err := ctx.Err(); err != nil {
		return live.TransportFailure("send", err)
	}
	switch {
	case ev.Audio != nil:
		return s.writeJSON(ctx, AudioFrame{
			Type:     TypeAudioFrame,
			Seq:      s.seq.Add(1),
			MIMEType: ev.Audio.MIMEType,
			DataB64:  base64.StdEncoding.EncodeToString(ev.Audio.Data),
		})
	case ev.ToolResponses != nil:
		msg := ToolResponse{Type: TypeToolResponse, Responses: make([]FunctionResponse, 0, len(ev.ToolResponses))}
		for _, r := range ev.ToolResponses {
			msg.Responses = append(msg.Responses, FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Response})
		}
		return s.writeJSON(ctx, msg)
	}
	return nil
}

func (s *Session) writeJSON(ctx context.Context, v any) error {
	if s.closed.Load() {
		return live.TransportFailure("send", errors.New("live session is closed"))
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if d, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(d)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	if err := s.conn.WriteJSON(v); err != nil {
		return live.TransportFailure("send", err)
	}
	return nil
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.InboundEvent { return s.events }

// Err implements live.Session.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close sends a normal close frame and drops the connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = live.TransportFailure("close", cerr)
		}
	})
	return err
}

func (s *Session) readLoop() {
	defer close(s.events)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.logger.Error("bridge read failed", "error", err)
			s.setErr(live.TransportFailure("receive", err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := DecodeServerMessage(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if e, ok := msg.(ServerError); ok {
			if e.Close {
				s.setErr(live.TransportFailure("receive", fmt.Errorf("%s: %s", e.Code, e.Message)))
				return
			}
			s.logger.Warn("bridge reported error", "code", e.Code, "message", e.Message)
			continue
		}
		ev, ok := inbound(msg, s.outputRate)
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
