package live

import (
	"context"
	"errors"
	"math"
	"testing"
)

func rampSamples(n int, offset float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = offset
	}
	return s
}

func TestCaptureSendsBlocksInOrder(t *testing.T) {
	dev := &fakeInput{rate: 16000}
	sink := NewCaptureSink(dev, CaptureOptions{Logger: quietLogger()})
	sender := &recordingSender{}
	sink.Attach(sender)

	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sink.Stop()

	levels := []float32{0.1, 0.2, 0.3}
	for _, lvl := range levels {
		dev.push(rampSamples(DefaultBlockSize, lvl))
	}

	waitFor(t, "3 sends", func() bool { return len(sender.outbound()) == 3 })
	for i, ev := range sender.outbound() {
		if ev.Audio == nil {
			t.Fatalf("send %d has no audio", i)
		}
		if ev.Audio.MIMEType != "audio/pcm;rate=16000" {
			t.Fatalf("send %d MIME = %q", i, ev.Audio.MIMEType)
		}
		if len(ev.Audio.Data) != DefaultBlockSize*2 {
			t.Fatalf("send %d has %d bytes", i, len(ev.Audio.Data))
		}
		got := PCM16ToFloat32(ev.Audio.Data[:2])[0]
		if d := got - levels[i]; d > 0.001 || d < -0.001 {
			t.Fatalf("send %d carries level %v, want %v", i, got, levels[i])
		}
	}
}

func TestCaptureReframesOddCallbacks(t *testing.T) {
	dev := &fakeInput{rate: 16000}
	sink := NewCaptureSink(dev, CaptureOptions{BlockSize: 100, Logger: quietLogger()})
	sender := &recordingSender{}
	sink.Attach(sender)
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sink.Stop()

	for range 7 {
		dev.push(make([]float32, 45))
	}
	// 315 samples make three whole blocks.
	waitFor(t, "3 blocks", func() bool { return len(sender.outbound()) == 3 })
}

func TestCaptureResamplesDeviceRate(t *testing.T) {
	dev := &fakeInput{rate: 48000}
	sink := NewCaptureSink(dev, CaptureOptions{BlockSize: 160, Logger: quietLogger()})
	sender := &recordingSender{}
	sink.Attach(sender)
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sink.Stop()

	dev.push(make([]float32, 480))
	waitFor(t, "one 16 kHz block", func() bool { return len(sender.outbound()) == 1 })
}

func TestCaptureResamplesAcrossCallbacks(t *testing.T) {
	const deviceRate = 44100
	tone := make([]float32, 7*441)
	for i := range tone {
		tone[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/deviceRate))
	}
	want := NewResampler(deviceRate, 16000).Process(tone)

	dev := &fakeInput{rate: deviceRate}
	sink := NewCaptureSink(dev, CaptureOptions{BlockSize: 160, Logger: quietLogger()})
	sender := &recordingSender{}
	sink.Attach(sender)
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sink.Stop()

	for i := 0; i < len(tone); i += 441 {
		dev.push(tone[i : i+441])
	}
	waitFor(t, "7 blocks", func() bool { return len(sender.outbound()) == 7 })

	var got []float32
	for _, ev := range sender.outbound() {
		got = append(got, PCM16ToFloat32(ev.Audio.Data)...)
	}
	if len(got) != len(want) {
		t.Fatalf("captured %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if d := math.Abs(float64(got[i] - want[i])); d > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCaptureDropsWithoutSession(t *testing.T) {
	dev := &fakeInput{rate: 16000}
	metrics := NewMetrics("test")
	sink := NewCaptureSink(dev, CaptureOptions{Logger: quietLogger(), Metrics: metrics})
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sink.Stop()

	dev.push(make([]float32, DefaultBlockSize))

	sender := &recordingSender{}
	sink.Attach(sender)
	dev.push(make([]float32, DefaultBlockSize))
	waitFor(t, "one send", func() bool { return len(sender.outbound()) == 1 })

	sink.Detach()
	dev.push(make([]float32, DefaultBlockSize))
	if got := len(sender.outbound()); got != 1 {
		t.Fatalf("sends after detach = %d, want 1", got)
	}
	if lvl := sink.Level(); lvl.At.IsZero() {
		t.Fatalf("level not updated")
	}
}

func TestCaptureStopIsIdempotent(t *testing.T) {
	dev := &fakeInput{rate: 16000}
	sink := NewCaptureSink(dev, CaptureOptions{Logger: quietLogger()})

	if err := sink.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if dev.starts != 1 {
		t.Fatalf("device started %d times", dev.starts)
	}
	if err := sink.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := sink.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if dev.stops != 1 || dev.running() || sink.Active() {
		t.Fatalf("device stops = %d running = %v active = %v", dev.stops, dev.running(), sink.Active())
	}
}

func TestCaptureDeviceUnavailable(t *testing.T) {
	dev := &fakeInput{rate: 16000, startErr: errors.New("permission denied")}
	sink := NewCaptureSink(dev, CaptureOptions{Logger: quietLogger()})

	err := sink.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want device unavailable", err)
	}
	if sink.Active() {
		t.Fatalf("sink active after failed start")
	}
	if got := UserMessage(err); got != "Error starting recording: permission denied" {
		t.Fatalf("UserMessage = %q", got)
	}

	nilDev := NewCaptureSink(nil, CaptureOptions{})
	if err := nilDev.Start(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("nil device err = %v", err)
	}
}
