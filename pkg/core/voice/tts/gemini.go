package tts

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

// DefaultGeminiModel is the speech generation model used for greetings.
const DefaultGeminiModel = "gemini-2.5-flash-preview-tts"

// DefaultGeminiVoice is the prebuilt voice used when none is given.
const DefaultGeminiVoice = "Zephyr"

// contentGenerator is the part of genai.Models the provider uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider implements Provider with Gemini's speech generation models.
type GeminiProvider struct {
	models contentGenerator
	model  string
}

// NewGemini creates a Gemini TTS provider on an existing client.
func NewGemini(client *genai.Client, model string) *GeminiProvider {
	return newGemini(client.Models, model)
}

func newGemini(models contentGenerator, model string) *GeminiProvider {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiProvider{models: models, model: model}
}

// Name returns the provider identifier.
func (g *GeminiProvider) Name() string {
	return "gemini"
}

// Synthesize converts text to PCM audio. Gemini always answers with raw
// 16-bit PCM; Format is reported as "pcm".
func (g *GeminiProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	voice := opts.Voice
	if voice == "" {
		voice = DefaultGeminiVoice
	}
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini tts request: %w", err)
	}
	blob := firstAudioBlob(resp)
	if blob == nil {
		return nil, ErrEmptyAudio
	}
	rate, ok := live.ParseAudioMIME(blob.MIMEType)
	if !ok && blob.MIMEType != "" {
		return nil, fmt.Errorf("gemini tts: unsupported audio type %q", blob.MIMEType)
	}
	if rate == 0 {
		rate = live.DefaultOutputSampleRate
	}
	return &Synthesis{Audio: blob.Data, Format: "pcm", SampleRate: rate}, nil
}

func firstAudioBlob(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			if mt := part.InlineData.MIMEType; mt == "" || strings.HasPrefix(strings.ToLower(mt), "audio/") {
				return part.InlineData
			}
		}
	}
	return nil
}
