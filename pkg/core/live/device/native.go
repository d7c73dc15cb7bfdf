package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

const nativeBufferLatency = 50 * time.Millisecond

func openNative(opts Options) (*Devices, error) {
	d := &Devices{Input: &malgoInput{rate: opts.InputRate}}
	if opts.Renderer != nil {
		d.Output = &otoOutput{opts: opts}
	}
	return d, nil
}

// malgoInput is a miniaudio capture device.
type malgoInput struct {
	rate int

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func (m *malgoInput) SampleRate() int { return m.rate }

func (m *malgoInput) Start(_ context.Context, onSamples func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return nil
	}

	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.rate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) >= 2 {
				onSamples(live.PCM16ToFloat32(input))
			}
		},
	}
	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("start microphone: %w", err)
	}
	m.ctx, m.device = mctx, device
	return nil
}

// Stop returns after the capture thread has delivered its last callback.
func (m *malgoInput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil
	}
	err := m.device.Stop()
	m.device.Uninit()
	_ = m.ctx.Uninit()
	m.ctx.Free()
	m.ctx, m.device = nil, nil
	return err
}

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

func sharedOtoContext(rate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   nativeBufferLatency,
		})
		if otoErr == nil {
			<-ready
			otoRate = rate
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("init speaker: %w", otoErr)
	}
	if otoRate != rate {
		return nil, fmt.Errorf("speaker already opened at %d Hz, cannot reopen at %d Hz", otoRate, rate)
	}
	return otoCtx, nil
}

// otoOutput lets oto pull PCM straight out of the Renderer.
type otoOutput struct {
	opts Options

	mu     sync.Mutex
	player *oto.Player
}

func (o *otoOutput) Start(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		return nil
	}
	rate := o.opts.outputRate()
	ctx, err := sharedOtoContext(rate)
	if err != nil {
		return err
	}
	player := ctx.NewPlayer(newRenderReader(o.opts.Renderer))
	player.SetBufferSize(int(live.DurationToFrames(nativeBufferLatency, rate)) * 2)
	player.Play()
	o.player = player
	return nil
}

func (o *otoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil {
		return nil
	}
	o.player.Pause()
	err := o.player.Close()
	o.player = nil
	return err
}
