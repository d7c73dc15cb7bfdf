package live

import (
	"testing"
	"time"
)

func constSamples(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestMixerRendersAtScheduledTime(t *testing.T) {
	m := NewMixer(1000)
	ended := 0
	m.Play(constSamples(4, 0.5), 2*time.Millisecond, func() { ended++ })

	out := make([]float32, 8)
	m.Render(out)
	want := []float32{0, 0, 0.5, 0.5, 0.5, 0.5, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
	if ended != 1 {
		t.Fatalf("onEnded calls = %d, want 1", ended)
	}
	if got := m.Now(); got != 8*time.Millisecond {
		t.Fatalf("Now() = %v, want 8ms", got)
	}
	if m.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", m.Pending())
	}
}

func TestMixerSpansRenderCalls(t *testing.T) {
	m := NewMixer(1000)
	ended := 0
	m.Play(constSamples(6, 0.25), 0, func() { ended++ })

	out := make([]float32, 4)
	m.Render(out)
	if ended != 0 {
		t.Fatalf("ended early")
	}
	m.Render(out)
	if out[0] != 0.25 || out[1] != 0.25 || out[2] != 0 {
		t.Fatalf("second window = %v", out)
	}
	if ended != 1 {
		t.Fatalf("onEnded calls = %d, want 1", ended)
	}
}

func TestMixerPastStartClampsToNow(t *testing.T) {
	m := NewMixer(1000)
	m.Render(make([]float32, 10))
	m.Play(constSamples(2, 0.5), 0, nil)

	out := make([]float32, 2)
	m.Render(out)
	if out[0] != 0.5 || out[1] != 0.5 {
		t.Fatalf("out = %v", out)
	}
}

func TestMixerSumsAndClamps(t *testing.T) {
	m := NewMixer(1000)
	m.Play(constSamples(2, 0.75), 0, nil)
	m.Play(constSamples(2, 0.75), 0, nil)

	out := make([]float32, 2)
	m.Render(out)
	if out[0] != 1 || out[1] != 1 {
		t.Fatalf("out = %v, want clamped to 1", out)
	}
	if lvl := m.Level(); lvl.Peak != 1 {
		t.Fatalf("Level().Peak = %v", lvl.Peak)
	}
}

func TestMixerVoiceStop(t *testing.T) {
	m := NewMixer(1000)
	ended := false
	v := m.Play(constSamples(4, 0.5), 0, func() { ended = true })
	v.Stop()
	v.Stop()

	out := make([]float32, 4)
	m.Render(out)
	for _, s := range out {
		if s != 0 {
			t.Fatalf("stopped voice rendered: %v", out)
		}
	}
	if ended {
		t.Fatalf("onEnded ran for a stopped voice")
	}
}
