//go:build portaudio

package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

func init() {
	register(BackendPortAudio, openPortAudio)
}

var (
	paMu   sync.Mutex
	paRefs int
)

func paAcquire() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("initialize PortAudio: %w", err)
		}
	}
	paRefs++
	return nil
}

func paRelease() {
	paMu.Lock()
	defer paMu.Unlock()
	paRefs--
	if paRefs == 0 {
		_ = portaudio.Terminate()
	}
}

func openPortAudio(opts Options) (*Devices, error) {
	d := &Devices{Input: &paInput{rate: opts.InputRate, frames: opts.InputRate / 10}}
	if opts.Renderer != nil {
		d.Output = &paOutput{opts: opts}
	}
	return d, nil
}

// paInput reads blocking int16 buffers of 100ms.
type paInput struct {
	rate   int
	frames int

	mu     sync.Mutex
	stream *portaudio.Stream
	done   chan struct{}
	stop   chan struct{}
}

func (p *paInput) SampleRate() int { return p.rate }

func (p *paInput) Start(_ context.Context, onSamples func([]float32)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return nil
	}
	if err := paAcquire(); err != nil {
		return err
	}
	in := make([]float32, p.frames)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(p.rate), p.frames, in)
	if err != nil {
		paRelease()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		paRelease()
		return fmt.Errorf("start input stream: %w", err)
	}
	p.stream = stream
	p.done = make(chan struct{})
	p.stop = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := stream.Read(); err != nil {
				continue
			}
			onSamples(append([]float32(nil), in...))
		}
	}(p.stop, p.done)
	return nil
}

func (p *paInput) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	close(p.stop)
	err := p.stream.Stop()
	<-p.done
	_ = p.stream.Close()
	p.stream = nil
	paRelease()
	return err
}

// paOutput writes rendered frames; Write blocks at the hardware rate.
type paOutput struct {
	opts Options

	mu     sync.Mutex
	stream *portaudio.Stream
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *paOutput) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return nil
	}
	if err := paAcquire(); err != nil {
		return err
	}
	rate := p.opts.outputRate()
	out := make([]float32, rate/25)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), len(out), out)
	if err != nil {
		paRelease()
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		paRelease()
		return fmt.Errorf("start output stream: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			p.opts.Renderer.Render(out)
			if err := stream.Write(); err != nil {
				p.opts.Logger.Warn("portaudio playback ended", "error", err)
				return
			}
		}
	}()
	p.stream, p.cancel, p.done = stream, cancel, done
	return nil
}

func (p *paOutput) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	p.cancel()
	<-p.done
	err := p.stream.Stop()
	_ = p.stream.Close()
	p.stream = nil
	paRelease()
	return err
}
