// Package tts provides request/response text-to-speech for spoken greetings.
package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice      string // Voice identifier
	Format     string // Output format: "pcm" or "wav"
	SampleRate int    // Requested sample rate
}

// Synthesis is the result of synthesis.
type Synthesis struct {
	Audio      []byte // Audio data
	Format     string // Audio format
	SampleRate int    // Sample rate of Audio, 0 if unknown
}

// ErrEmptyAudio is returned when a provider answers without audio.
var ErrEmptyAudio = errors.New("tts returned no audio")

// Greeter adapts a Provider to the live controller's greeting synthesizer.
// It always asks for raw mono PCM16.
type Greeter struct {
	provider   Provider
	sampleRate int
}

// NewGreeter returns a Greeter producing audio at sampleRate.
func NewGreeter(p Provider, sampleRate int) *Greeter {
	if sampleRate <= 0 {
		sampleRate = live.DefaultOutputSampleRate
	}
	return &Greeter{provider: p, sampleRate: sampleRate}
}

// SynthesizeSpeech implements live.Synthesizer.
func (g *Greeter) SynthesizeSpeech(ctx context.Context, text, voice string) (live.SpeechFragment, error) {
	syn, err := g.provider.Synthesize(ctx, text, SynthesizeOptions{
		Voice:      voice,
		Format:     "pcm",
		SampleRate: g.sampleRate,
	})
	if err != nil {
		return live.SpeechFragment{}, fmt.Errorf("%s synthesize: %w", g.provider.Name(), err)
	}
	if syn == nil || len(syn.Audio) == 0 {
		return live.SpeechFragment{}, fmt.Errorf("%s synthesize: %w", g.provider.Name(), ErrEmptyAudio)
	}
	rate := syn.SampleRate
	if rate <= 0 {
		rate = g.sampleRate
	}
	return live.SpeechFragment{Data: syn.Audio, SampleRate: rate, Channels: 1}, nil
}
