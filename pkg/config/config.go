// Package config loads vai-voice settings from a file and the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v2"

	"github.com/vango-go/vai-voice/pkg/core/live"
	"github.com/vango-go/vai-voice/pkg/core/live/device/backend"
	"github.com/vango-go/vai-voice/pkg/core/live/transport/gemini"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
	"github.com/vango-go/vai-voice/pkg/tools"
)

// Transports.
const (
	TransportGemini   = "gemini"
	TransportWSBridge = "wsbridge"
)

// Greeting speech providers.
const (
	GreetingGemini   = "gemini"
	GreetingCartesia = "cartesia"
	GreetingNone     = "none"
)

// Config holds all vai-voice settings.
type Config struct {
	Transport string `json:"transport" yaml:"transport"` // gemini, wsbridge
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Models
	LiveModel  string `json:"live_model" yaml:"live_model"`
	TTSModel   string `json:"tts_model" yaml:"tts_model"`
	ImageModel string `json:"image_model" yaml:"image_model"`
	Voice      string `json:"voice" yaml:"voice"`

	Bridge   BridgeConfig   `json:"bridge" yaml:"bridge"`
	Audio    AudioConfig    `json:"audio" yaml:"audio"`
	Greeting GreetingConfig `json:"greeting" yaml:"greeting"`

	// Timeouts
	OpenTimeout     time.Duration `json:"open_timeout" yaml:"open_timeout"`
	ToolTimeout     time.Duration `json:"tool_timeout" yaml:"tool_timeout"`
	GreetingTimeout time.Duration `json:"greeting_timeout" yaml:"greeting_timeout"`
	SendTimeout     time.Duration `json:"send_timeout" yaml:"send_timeout"`

	Observability ObservabilityConfig `json:"observability" yaml:"observability"`

	// Tool data
	OutputDir   string `json:"output_dir" yaml:"output_dir"`
	SourceImage string `json:"source_image" yaml:"source_image"`
	// Analysis is the prior image analysis the troubleshoot profile discusses.
	Analysis  string `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	AgentName string `json:"agent_name" yaml:"agent_name"`

	DefaultProfile string                  `json:"default_profile" yaml:"default_profile"`
	Profiles       map[string]live.Profile `json:"profiles" yaml:"profiles"`
}

// BridgeConfig configures the websocket bridge transport.
type BridgeConfig struct {
	URL    string `json:"url" yaml:"url"`
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// AudioConfig configures devices and framing.
type AudioConfig struct {
	Backend          string `json:"backend" yaml:"backend"` // native, ffmpeg, portaudio, null
	InputSampleRate  int    `json:"input_sample_rate" yaml:"input_sample_rate"`
	OutputSampleRate int    `json:"output_sample_rate" yaml:"output_sample_rate"`
	BlockSize        int    `json:"block_size" yaml:"block_size"`
	SendQueueDepth   int    `json:"send_queue_depth" yaml:"send_queue_depth"`
}

// GreetingConfig selects the speech provider for profile greetings.
type GreetingConfig struct {
	Provider       string `json:"provider" yaml:"provider"` // gemini, cartesia, none
	CartesiaAPIKey string `json:"cartesia_api_key,omitempty" yaml:"cartesia_api_key,omitempty"`
	CartesiaVoice  string `json:"cartesia_voice,omitempty" yaml:"cartesia_voice,omitempty"`
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogFormat   string `json:"log_format" yaml:"log_format"` // "json" or "text"
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
}

// DefaultConfig returns a Config with the reference settings and the
// built-in profiles.
func DefaultConfig() *Config {
	return &Config{
		Transport:  TransportGemini,
		LiveModel:  gemini.DefaultModel,
		TTSModel:   tts.DefaultGeminiModel,
		ImageModel: tools.DefaultImageModel,
		Voice:      tts.DefaultGeminiVoice,

		Audio: AudioConfig{
			Backend:          backend.Native,
			InputSampleRate:  live.DefaultInputSampleRate,
			OutputSampleRate: live.DefaultOutputSampleRate,
			BlockSize:        live.DefaultBlockSize,
			SendQueueDepth:   32,
		},
		Greeting: GreetingConfig{Provider: GreetingGemini},

		OpenTimeout:     live.DefaultOpenTimeout,
		ToolTimeout:     live.DefaultToolTimeout,
		GreetingTimeout: live.DefaultGreetingTimeout,
		SendTimeout:     live.DefaultSendTimeout,

		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},

		OutputDir:      "designs",
		AgentName:      "Virtual Assistant",
		DefaultProfile: ProfileAssistant,
		Profiles:       BuiltinProfiles("", ""),
	}
}

// LoadConfig loads configuration from a YAML or JSON file and then applies
// environment overrides. If path is empty, VAI_VOICE_CONFIG is consulted; if
// that is empty too, defaults are used.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("VAI_VOICE_CONFIG")
	}
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.finishProfiles()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json config: %w", err)
		}
		return nil
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml config: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, cfg); err == nil {
		return nil
	}
	return fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
}

func (c *Config) applyEnv() {
	c.APIKey = envOr("GEMINI_API_KEY", envOr("GOOGLE_API_KEY", c.APIKey))
	c.Transport = envOr("VAI_VOICE_TRANSPORT", c.Transport)
	c.LiveModel = envOr("VAI_VOICE_LIVE_MODEL", c.LiveModel)
	c.TTSModel = envOr("VAI_VOICE_TTS_MODEL", c.TTSModel)
	c.ImageModel = envOr("VAI_VOICE_IMAGE_MODEL", c.ImageModel)
	c.Voice = envOr("VAI_VOICE_VOICE", c.Voice)

	c.Bridge.URL = envOr("VAI_VOICE_BRIDGE_URL", c.Bridge.URL)
	c.Bridge.APIKey = envOr("VAI_GATEWAY_API_KEY", c.Bridge.APIKey)

	c.Audio.Backend = envOr("VAI_VOICE_AUDIO_BACKEND", c.Audio.Backend)
	c.Audio.InputSampleRate = envIntOr("VAI_VOICE_INPUT_RATE", c.Audio.InputSampleRate)
	c.Audio.OutputSampleRate = envIntOr("VAI_VOICE_OUTPUT_RATE", c.Audio.OutputSampleRate)
	c.Audio.BlockSize = envIntOr("VAI_VOICE_BLOCK_SIZE", c.Audio.BlockSize)
	c.Audio.SendQueueDepth = envIntOr("VAI_VOICE_SEND_QUEUE", c.Audio.SendQueueDepth)

	c.Greeting.Provider = envOr("VAI_VOICE_GREETING_PROVIDER", c.Greeting.Provider)
	c.Greeting.CartesiaAPIKey = envOr("CARTESIA_API_KEY", c.Greeting.CartesiaAPIKey)

	c.OpenTimeout = envDurationOr("VAI_VOICE_OPEN_TIMEOUT", c.OpenTimeout)
	c.ToolTimeout = envDurationOr("VAI_VOICE_TOOL_TIMEOUT", c.ToolTimeout)
	c.GreetingTimeout = envDurationOr("VAI_VOICE_GREETING_TIMEOUT", c.GreetingTimeout)
	c.SendTimeout = envDurationOr("VAI_VOICE_SEND_TIMEOUT", c.SendTimeout)

	c.Observability.LogLevel = envOr("VAI_VOICE_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOr("VAI_VOICE_LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsAddr = envOr("VAI_VOICE_METRICS_ADDR", c.Observability.MetricsAddr)

	c.OutputDir = envOr("VAI_VOICE_OUTPUT_DIR", c.OutputDir)
	c.SourceImage = envOr("VAI_VOICE_SOURCE_IMAGE", c.SourceImage)
	c.DefaultProfile = envOr("VAI_VOICE_PROFILE", c.DefaultProfile)
	c.AgentName = envOr("VAI_VOICE_AGENT_NAME", c.AgentName)
}

// finishProfiles refreshes the built-ins that depend on other settings
// unless the file replaced them, and fills in missing names.
func (c *Config) finishProfiles() {
	if c.Profiles == nil {
		c.Profiles = map[string]live.Profile{}
	}
	builtin := BuiltinProfiles(c.AgentName, c.Analysis)
	stock := BuiltinProfiles("", "")
	for _, name := range []string{ProfileAssistant, ProfileTroubleshoot} {
		if p, ok := c.Profiles[name]; ok && p.Instruction == stock[name].Instruction && p.Greeting == stock[name].Greeting {
			c.Profiles[name] = builtin[name]
		}
	}
	for name, p := range c.Profiles {
		if p.Name == "" {
			p.Name = name
			c.Profiles[name] = p
		}
	}
}

// SetAnalysis replaces the analysis the troubleshoot profile discusses.
func (c *Config) SetAnalysis(text string) {
	c.Analysis = text
	if c.Profiles == nil {
		c.Profiles = map[string]live.Profile{}
	}
	c.Profiles[ProfileTroubleshoot] = BuiltinProfiles(c.AgentName, text)[ProfileTroubleshoot]
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportGemini:
		if strings.TrimSpace(c.APIKey) == "" {
			return errors.New("GEMINI_API_KEY (or GOOGLE_API_KEY) is required for the gemini transport")
		}
	case TransportWSBridge:
		if strings.TrimSpace(c.Bridge.URL) == "" {
			return errors.New("bridge.url is required for the wsbridge transport")
		}
	default:
		return fmt.Errorf("unknown transport %q (want gemini or wsbridge)", c.Transport)
	}

	if !backend.Known(c.Audio.Backend) {
		return fmt.Errorf("unknown audio backend %q", c.Audio.Backend)
	}
	if c.Audio.InputSampleRate <= 0 || c.Audio.OutputSampleRate <= 0 {
		return errors.New("audio sample rates must be > 0")
	}
	if c.Audio.BlockSize <= 0 {
		return errors.New("audio.block_size must be > 0")
	}

	switch c.Greeting.Provider {
	case GreetingGemini:
		if strings.TrimSpace(c.APIKey) == "" {
			return errors.New("GEMINI_API_KEY is required for gemini greetings (or set greeting.provider: none)")
		}
	case GreetingCartesia:
		if strings.TrimSpace(c.Greeting.CartesiaAPIKey) == "" {
			return errors.New("CARTESIA_API_KEY is required for cartesia greetings")
		}
	case GreetingNone, "":
	default:
		return fmt.Errorf("unknown greeting provider %q", c.Greeting.Provider)
	}

	switch c.Observability.LogFormat {
	case "text", "json", "":
	default:
		return fmt.Errorf("unknown log format %q", c.Observability.LogFormat)
	}

	if _, ok := c.Profiles[c.DefaultProfile]; !ok {
		return fmt.Errorf("default profile %q is not defined", c.DefaultProfile)
	}
	return nil
}

// ControllerConfig converts the settings the live controller uses.
func (c *Config) ControllerConfig() live.ControllerConfig {
	profiles := make(map[string]live.Profile, len(c.Profiles))
	for name, p := range c.Profiles {
		profiles[name] = p
	}
	return live.ControllerConfig{
		Profiles:         profiles,
		DefaultProfile:   c.DefaultProfile,
		Voice:            c.Voice,
		InputSampleRate:  c.Audio.InputSampleRate,
		OutputSampleRate: c.Audio.OutputSampleRate,
		BlockSize:        c.Audio.BlockSize,
		SendQueueDepth:   c.Audio.SendQueueDepth,
		OpenTimeout:      c.OpenTimeout,
		ToolTimeout:      c.ToolTimeout,
		GreetingTimeout:  c.GreetingTimeout,
		SendTimeout:      c.SendTimeout,
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
