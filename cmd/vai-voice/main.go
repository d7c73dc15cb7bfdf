// Command vai-voice runs a spoken conversation with a Gemini native-audio
// model from the terminal.
//
// Usage:
//
//	go run ./cmd/vai-voice -profile kitchen -image ./kitchen.jpg
//
// Environment variables (a .env file is loaded when present):
//
//	GEMINI_API_KEY   - Required for the gemini transport and greetings
//	CARTESIA_API_KEY - Required when greeting.provider is cartesia
//	VAI_VOICE_CONFIG - Optional YAML or JSON config file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/genai"

	"github.com/vango-go/vai-voice/pkg/config"
	"github.com/vango-go/vai-voice/pkg/core/live"
	"github.com/vango-go/vai-voice/pkg/core/live/device"
	"github.com/vango-go/vai-voice/pkg/core/live/transport/gemini"
	"github.com/vango-go/vai-voice/pkg/core/live/transport/wsbridge"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
	"github.com/vango-go/vai-voice/pkg/tools"
)

type cliOptions struct {
	ConfigPath   string
	Profile      string
	Backend      string
	Transport    string
	Image        string
	AnalysisFile string
	LogLevel     string
	MetricsAddr  string
}

func parseFlags(args []string) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("vai-voice", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.ConfigPath, "config", "", "YAML or JSON config file (or VAI_VOICE_CONFIG)")
	fs.StringVar(&opts.Profile, "profile", "", "conversation profile to start with")
	fs.StringVar(&opts.Backend, "backend", "", "audio backend: native, ffmpeg, portaudio, null")
	fs.StringVar(&opts.Transport, "transport", "", "session transport: gemini or wsbridge")
	fs.StringVar(&opts.Image, "image", "", "photo the design tools start from")
	fs.StringVar(&opts.AnalysisFile, "analysis", "", "file holding the analysis the troubleshoot profile discusses")
	fs.StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

func applyFlags(cfg *config.Config, opts cliOptions) error {
	if opts.Profile != "" {
		cfg.DefaultProfile = opts.Profile
	}
	if opts.Backend != "" {
		cfg.Audio.Backend = opts.Backend
	}
	if opts.Transport != "" {
		cfg.Transport = opts.Transport
	}
	if opts.Image != "" {
		cfg.SourceImage = opts.Image
	}
	if opts.LogLevel != "" {
		cfg.Observability.LogLevel = opts.LogLevel
	}
	if opts.MetricsAddr != "" {
		cfg.Observability.MetricsAddr = opts.MetricsAddr
	}
	if opts.AnalysisFile != "" {
		data, err := os.ReadFile(opts.AnalysisFile)
		if err != nil {
			return fmt.Errorf("read analysis: %w", err)
		}
		cfg.SetAnalysis(string(data))
	}
	return nil
}

func newLogger(w io.Writer, obs config.ObservabilityConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(obs.LogLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if obs.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// app is everything the REPL drives.
type app struct {
	controller *live.Controller
	devices    *device.Devices
	metricsSrv *http.Server
	logger     *slog.Logger
}

func (a *app) Close() error {
	var errs []error
	if err := a.controller.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.devices.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	metrics := live.NewMetrics("vai_voice")

	var client *genai.Client
	if cfg.APIKey != "" {
		var err error
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
	}

	transport, err := buildTransport(cfg, client, logger)
	if err != nil {
		return nil, err
	}

	router := live.NewToolCallRouter(cfg.ToolTimeout, logger, metrics)
	if err := registerTools(cfg, client, router, logger); err != nil {
		return nil, err
	}

	mixer := live.NewMixer(cfg.Audio.OutputSampleRate)
	devs, err := device.Open(cfg.Audio.Backend, device.Options{
		InputRate: cfg.Audio.InputSampleRate,
		Renderer:  mixer,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	if devs.Output != nil {
		if err := devs.Output.Start(ctx); err != nil {
			_ = devs.Close()
			return nil, live.DeviceError("start speaker", err)
		}
	}

	a := &app{
		controller: live.NewController(live.ControllerOptions{
			Config:      cfg.ControllerConfig(),
			Transport:   transport,
			Input:       devs.Input,
			Output:      mixer,
			Synthesizer: buildGreeter(cfg, client),
			Router:      router,
			Logger:      logger,
			Metrics:     metrics,
		}),
		devices: devs,
		logger:  logger,
	}
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		a.metricsSrv = serveMetrics(addr, metrics, logger)
	}
	return a, nil
}

func buildTransport(cfg *config.Config, client *genai.Client, logger *slog.Logger) (live.Transport, error) {
	switch cfg.Transport {
	case config.TransportGemini:
		if client == nil {
			return nil, errors.New("gemini transport needs GEMINI_API_KEY")
		}
		return gemini.NewTransport(client, cfg.LiveModel, logger), nil
	case config.TransportWSBridge:
		return wsbridge.NewTransport(wsbridge.Options{
			URL:    cfg.Bridge.URL,
			APIKey: cfg.Bridge.APIKey,
			Model:  cfg.LiveModel,
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// registerTools adds the lead tools and one designer for every photo tool a
// profile names.
func registerTools(cfg *config.Config, client *genai.Client, router *live.ToolCallRouter, logger *slog.Logger) error {
	if err := tools.NewLeadBook(logger).Register(router); err != nil {
		return err
	}

	var source *tools.Image
	if cfg.SourceImage != "" {
		img, err := tools.LoadImage(cfg.SourceImage)
		if err != nil {
			return err
		}
		source = img
	}

	kinds := map[string]tools.DesignKind{}
	for _, p := range cfg.Profiles {
		if kind, ok := config.DesignKindFor(p); ok {
			kinds[kind.Tool] = kind
		}
	}
	if len(kinds) > 0 && client == nil {
		logger.Warn("design tools disabled: no GEMINI_API_KEY")
		return nil
	}
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := tools.NewDesigner(client, tools.DesignerOptions{
			Kind:      kinds[name],
			Model:     cfg.ImageModel,
			Source:    source,
			OutputDir: cfg.OutputDir,
			Logger:    logger,
		})
		if err := d.Register(router); err != nil {
			return err
		}
	}
	return nil
}

// fixedVoice ignores the profile voice; Cartesia voices are IDs, not
// Gemini voice names.
type fixedVoice struct {
	live.Synthesizer
	voice string
}

func (f fixedVoice) SynthesizeSpeech(ctx context.Context, text, _ string) (live.SpeechFragment, error) {
	return f.Synthesizer.SynthesizeSpeech(ctx, text, f.voice)
}

func buildGreeter(cfg *config.Config, client *genai.Client) live.Synthesizer {
	rate := cfg.Audio.OutputSampleRate
	switch cfg.Greeting.Provider {
	case config.GreetingCartesia:
		return fixedVoice{
			Synthesizer: tts.NewGreeter(tts.NewCartesia(cfg.Greeting.CartesiaAPIKey, nil), rate),
			voice:       cfg.Greeting.CartesiaVoice,
		}
	case config.GreetingGemini, "":
		if client == nil {
			return nil
		}
		return tts.NewGreeter(tts.NewGemini(client, cfg.TTSModel), rate)
	default:
		return nil
	}
}

func serveMetrics(addr string, metrics *live.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func runMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(stderr, "vai-voice: %v\n", err)
		return 2
	}

	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "vai-voice: %v\n", err)
		return 1
	}
	if err := applyFlags(cfg, opts); err != nil {
		fmt.Fprintf(stderr, "vai-voice: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "vai-voice: invalid config: %v\n", err)
		return 1
	}

	logger := newLogger(stderr, cfg.Observability)
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	go printEvents(stdout, a.controller.Events())

	r := &repl{ctl: a.controller, out: stdout, profile: cfg.DefaultProfile}
	if err := r.run(ctx, stdin); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("input loop failed", "error", err)
		return 1
	}
	return 0
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
