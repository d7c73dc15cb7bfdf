package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	cartesiaURL     = "https://api.cartesia.ai/tts/bytes"
	cartesiaVersion = "2025-04-16"
	cartesiaModel   = "sonic-3"

	// Used when neither the config nor the profile names a Cartesia voice.
	cartesiaDefaultVoice = "a0e99841-438c-4a64-b679-ae501e7d6091"
)

// Cartesia synthesizes greetings with Cartesia's one-shot bytes endpoint.
// Audio always comes back as mono little-endian PCM16.
type Cartesia struct {
	apiKey string
	url    string
	client *http.Client
}

// NewCartesia returns a Cartesia provider. A nil client uses
// http.DefaultClient.
func NewCartesia(apiKey string, client *http.Client) *Cartesia {
	if client == nil {
		client = http.DefaultClient
	}
	return &Cartesia{apiKey: apiKey, url: cartesiaURL, client: client}
}

// Name implements Provider.
func (c *Cartesia) Name() string { return "cartesia" }

type cartesiaRequest struct {
	ModelID    string `json:"model_id"`
	Transcript string `json:"transcript"`
	Voice      struct {
		Mode string `json:"mode"`
		ID   string `json:"id"`
	} `json:"voice"`
	OutputFormat cartesiaFormat `json:"output_format"`
}

type cartesiaFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// Synthesize implements Provider. Format "wav" asks for a WAV container;
// anything else returns raw samples.
func (c *Cartesia) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	req := cartesiaRequest{
		ModelID:      cartesiaModel,
		Transcript:   text,
		OutputFormat: cartesiaOutput(opts),
	}
	req.Voice.Mode = "id"
	req.Voice.ID = strings.TrimSpace(opts.Voice)
	if req.Voice.ID == "" {
		req.Voice.ID = cartesiaDefaultVoice
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode cartesia request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Cartesia-Version", cartesiaVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read cartesia audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cartesia status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	format := "pcm"
	if req.OutputFormat.Container == "wav" {
		format = "wav"
	}
	return &Synthesis{Audio: data, Format: format, SampleRate: req.OutputFormat.SampleRate}, nil
}

func cartesiaOutput(opts SynthesizeOptions) cartesiaFormat {
	f := cartesiaFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: opts.SampleRate}
	if f.SampleRate <= 0 {
		f.SampleRate = 24000
	}
	if opts.Format == "wav" {
		f.Container = "wav"
	}
	return f
}
