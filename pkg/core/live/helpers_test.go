package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// silentFragment returns a mono PCM16 fragment of the given length.
func silentFragment(d time.Duration, rate int) SpeechFragment {
	frames := DurationToFrames(d, rate)
	return SpeechFragment{Data: make([]byte, frames*2), SampleRate: rate, Channels: 1}
}

type fakeInput struct {
	mu        sync.Mutex
	rate      int
	startErr  error
	onSamples func([]float32)
	starts    int
	stops     int
}

func (d *fakeInput) Start(_ context.Context, fn func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.onSamples = fn
	d.starts++
	return nil
}

func (d *fakeInput) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSamples = nil
	d.stops++
	return nil
}

func (d *fakeInput) SampleRate() int { return d.rate }

func (d *fakeInput) push(samples []float32) {
	d.mu.Lock()
	fn := d.onSamples
	d.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

func (d *fakeInput) running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onSamples != nil
}

type recordingSender struct {
	mu      sync.Mutex
	sent    []OutboundEvent
	sendErr error
}

func (s *recordingSender) Send(_ context.Context, ev OutboundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, ev)
	return nil
}

func (s *recordingSender) outbound() []OutboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OutboundEvent(nil), s.sent...)
}

func (s *recordingSender) toolResponses() [][]ToolResult {
	var out [][]ToolResult
	for _, ev := range s.outbound() {
		if ev.ToolResponses != nil {
			out = append(out, ev.ToolResponses)
		}
	}
	return out
}

type fakeSession struct {
	recordingSender
	events   chan InboundEvent
	closeErr error

	mu        sync.Mutex
	err       error
	closes    int
	closeOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan InboundEvent, 16)}
}

func (s *fakeSession) Events() <-chan InboundEvent { return s.events }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return s.closeErr
}

// fail ends the inbound stream with err.
func (s *fakeSession) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeTransport struct {
	mu       sync.Mutex
	sessions []*fakeSession
	configs  []SessionConfig
	openErr  error
	block    bool
}

func (tr *fakeTransport) Open(ctx context.Context, cfg SessionConfig) (Session, error) {
	tr.mu.Lock()
	tr.configs = append(tr.configs, cfg)
	block, openErr := tr.block, tr.openErr
	tr.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if openErr != nil {
		return nil, openErr
	}
	s := newFakeSession()
	tr.mu.Lock()
	tr.sessions = append(tr.sessions, s)
	tr.mu.Unlock()
	return s, nil
}

func (tr *fakeTransport) opens() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.configs)
}

func (tr *fakeTransport) last() *fakeSession {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.sessions) == 0 {
		return nil
	}
	return tr.sessions[len(tr.sessions)-1]
}

type fakeSynth struct {
	frag SpeechFragment
	err  error
}

func (s *fakeSynth) SynthesizeSpeech(context.Context, string, string) (SpeechFragment, error) {
	return s.frag, s.err
}

var errBoom = errors.New("boom")
