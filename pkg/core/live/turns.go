package live

import (
	"strings"
	"sync"
)

// Role identifies who spoke a TurnEntry.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// TurnEntry is one line of a conversation log. Entries are never modified
// after they are appended.
type TurnEntry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// TurnAggregator accumulates transcript deltas for the current utterance on
// each side and flushes them into a conversation log at turn boundaries.
type TurnAggregator struct {
	metrics *Metrics

	mu              sync.Mutex
	input           strings.Builder
	output          strings.Builder
	outputFinalized bool
	log             []TurnEntry
}

// NewTurnAggregator returns an empty aggregator.
func NewTurnAggregator(metrics *Metrics) *TurnAggregator {
	return &TurnAggregator{metrics: metrics}
}

// OnInputDelta appends text to the user accumulator.
func (a *TurnAggregator) OnInputDelta(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.WriteString(text)
}

// OnOutputDelta appends text to the model accumulator. The first delta after
// a turn boundary replaces the accumulator instead of appending to it.
func (a *TurnAggregator) OnOutputDelta(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outputFinalized {
		a.output.Reset()
		a.outputFinalized = false
	}
	a.output.WriteString(text)
}

// OnTurnComplete flushes non-empty accumulators to the log, user first, and
// returns the entries it appended.
func (a *TurnAggregator) OnTurnComplete() []TurnEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var flushed []TurnEntry
	if in := a.input.String(); strings.TrimSpace(in) != "" {
		flushed = append(flushed, TurnEntry{Role: RoleUser, Text: in})
	}
	if out := a.output.String(); strings.TrimSpace(out) != "" {
		flushed = append(flushed, TurnEntry{Role: RoleModel, Text: out})
	}
	a.log = append(a.log, flushed...)
	for _, e := range flushed {
		a.metrics.turnEntry(e.Role)
	}

	a.input.Reset()
	a.output.Reset()
	a.outputFinalized = true
	return flushed
}

// Seed appends an entry directly, e.g. a spoken greeting.
func (a *TurnAggregator) Seed(entry TurnEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log = append(a.log, entry)
	a.metrics.turnEntry(entry.Role)
}

// ClearPending drops both accumulators without touching the log.
func (a *TurnAggregator) ClearPending() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.Reset()
	a.output.Reset()
	a.outputFinalized = false
}

// Reset drops the accumulators and the log.
func (a *TurnAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.Reset()
	a.output.Reset()
	a.outputFinalized = false
	a.log = nil
}

// Log returns a copy of the conversation log.
func (a *TurnAggregator) Log() []TurnEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]TurnEntry(nil), a.log...)
}

// Pending returns the in-progress user and model text.
func (a *TurnAggregator) Pending() (input, output string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.input.String(), a.output.String()
}
