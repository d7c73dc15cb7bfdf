package device

import (
	"context"
	"sync"
)

// nullInput is a microphone that never produces samples.
type nullInput struct{ rate int }

func (n nullInput) Start(context.Context, func([]float32)) error { return nil }
func (n nullInput) Stop() error                                  { return nil }
func (n nullInput) SampleRate() int                              { return n.rate }

// nullOutput renders in real time and discards the audio.
type nullOutput struct {
	opts   Options
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (o *nullOutput) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return nil
	}
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})
	go func() {
		defer close(o.done)
		_ = pushLoop(ctx, o.opts.Renderer, o.opts.Period, func([]float32) error { return nil })
	}()
	return nil
}

func (o *nullOutput) Close() error {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func openNull(opts Options) (*Devices, error) {
	d := &Devices{Input: nullInput{rate: opts.InputRate}}
	if opts.Renderer != nil {
		d.Output = &nullOutput{opts: opts}
	}
	return d, nil
}
