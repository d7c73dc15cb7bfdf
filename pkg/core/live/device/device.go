// Package device binds the live core to real microphones and speakers.
//
// Every backend exposes the microphone as a live.InputDevice and drives the
// speaker by pulling frames from a Renderer (normally *live.Mixer), so the
// mixer's sample clock advances exactly as fast as the hardware consumes
// audio.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/live"
	"github.com/vango-go/vai-voice/pkg/core/live/device/backend"
)

// Backend names, re-exported from package backend.
const (
	BackendNative    = backend.Native
	BackendFFmpeg    = backend.FFmpeg
	BackendPortAudio = backend.PortAudio
	BackendNull      = backend.Null
)

const defaultPeriod = 20 * time.Millisecond

// ErrUnknownBackend is returned by Open for unregistered backend names.
var ErrUnknownBackend = errors.New("unknown audio backend")

// Renderer produces the next frames of speaker output.
type Renderer interface {
	Render(out []float32)
	SampleRate() int
}

// Output is a speaker that pulls from a Renderer once started.
type Output interface {
	Start(ctx context.Context) error
	Close() error
}

// Options configures a backend.
type Options struct {
	InputRate int
	// Renderer feeds the speaker. Its SampleRate is the output rate.
	Renderer Renderer
	// Period is the push interval for backends that write to the speaker.
	Period time.Duration
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.InputRate <= 0 {
		o.InputRate = live.DefaultInputSampleRate
	}
	if o.Period <= 0 {
		o.Period = defaultPeriod
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) outputRate() int {
	if o.Renderer == nil || o.Renderer.SampleRate() <= 0 {
		return live.DefaultOutputSampleRate
	}
	return o.Renderer.SampleRate()
}

// Devices is an opened microphone/speaker pair.
type Devices struct {
	Backend string
	Input   live.InputDevice
	Output  Output
}

// Close releases both devices.
func (d *Devices) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.Input != nil {
		errs = append(errs, d.Input.Stop())
	}
	if d.Output != nil {
		errs = append(errs, d.Output.Close())
	}
	return errors.Join(errs...)
}

type opener func(opts Options) (*Devices, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]opener{}
)

func register(name string, open opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = open
}

func init() {
	register(BackendNull, openNull)
	register(BackendFFmpeg, openFFmpeg)
	register(BackendNative, openNative)
}

// Backends lists the backends compiled into this binary.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the named backend. Output is nil when opts.Renderer is nil.
func Open(backend string, opts Options) (*Devices, error) {
	name := strings.ToLower(strings.TrimSpace(backend))
	if name == "" {
		name = BackendNative
	}
	registryMu.RLock()
	open, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		if name == BackendPortAudio {
			return nil, live.DeviceError("open", fmt.Errorf("%w: %q (build with -tags portaudio)", ErrUnknownBackend, name))
		}
		return nil, live.DeviceError("open", fmt.Errorf("%w: %q", ErrUnknownBackend, name))
	}
	devs, err := open(opts.withDefaults())
	if err != nil {
		return nil, live.DeviceError("open "+name, err)
	}
	devs.Backend = name
	return devs, nil
}

// pushLoop renders one period of output per tick and hands it to write
// until ctx ends or write fails.
func pushLoop(ctx context.Context, r Renderer, period time.Duration, write func([]float32) error) error {
	frames := live.DurationToFrames(period, r.SampleRate())
	if frames <= 0 {
		frames = 1
	}
	buf := make([]float32, frames)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Render(buf)
			if err := write(buf); err != nil {
				return err
			}
		}
	}
}
