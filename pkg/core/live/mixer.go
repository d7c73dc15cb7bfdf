package live

import (
	"sort"
	"sync"
	"time"
)

// Timeline is the output side of the audio graph: a clock plus the ability to
// start a buffer of samples at a chosen time on that clock.
type Timeline interface {
	// Now returns the current output-clock time.
	Now() time.Duration
	// SampleRate is the rate samples passed to Play must be at.
	SampleRate() int
	// Play schedules samples to start at at. onEnded runs once, off any
	// internal lock, when the voice has been fully rendered. It does not run
	// for voices that are stopped.
	Play(samples []float32, at time.Duration, onEnded func()) Voice
}

// Voice is one scheduled buffer on a Timeline.
type Voice interface {
	// Stop silences the voice immediately. Safe to call more than once.
	Stop()
}

// Mixer is a Timeline rendered by pulling: an output device asks it for the
// next N frames and the mixer sums every voice that overlaps them. The
// mixer's SampleClock only advances as frames are rendered, so Now always
// equals what the speaker has been given.
type Mixer struct {
	clock *SampleClock
	meter *LevelMeter

	mu     sync.Mutex
	voices []*mixerVoice
}

type mixerVoice struct {
	mixer   *Mixer
	start   int64
	samples []float32
	onEnded func()
	stopped bool
}

// NewMixer returns a mixer running at rate.
func NewMixer(rate int) *Mixer {
	return &Mixer{
		clock: NewSampleClock(rate),
		meter: NewLevelMeter(),
	}
}

// Now implements Timeline.
func (m *Mixer) Now() time.Duration { return m.clock.Now() }

// SampleRate implements Timeline.
func (m *Mixer) SampleRate() int { return m.clock.Rate() }

// Clock exposes the mixer's sample clock.
func (m *Mixer) Clock() *SampleClock { return m.clock }

// Level returns the energy of the most recently rendered buffer.
func (m *Mixer) Level() Level { return m.meter.Snapshot() }

// Play implements Timeline.
func (m *Mixer) Play(samples []float32, at time.Duration, onEnded func()) Voice {
	start := DurationToFrames(at, m.clock.Rate())
	v := &mixerVoice{mixer: m, start: start, samples: samples, onEnded: onEnded}

	m.mu.Lock()
	if now := m.clock.Frames(); v.start < now {
		v.start = now
	}
	m.voices = append(m.voices, v)
	sort.SliceStable(m.voices, func(i, j int) bool { return m.voices[i].start < m.voices[j].start })
	m.mu.Unlock()
	return v
}

// Render fills out with the next len(out) frames and advances the clock.
// Voices that finish inside this window have their onEnded callbacks run
// after the mixer lock is released.
func (m *Mixer) Render(out []float32) {
	clear(out)

	m.mu.Lock()
	from := m.clock.Frames()
	to := from + int64(len(out))
	var ended []func()
	kept := m.voices[:0]
	for _, v := range m.voices {
		end := v.start + int64(len(v.samples))
		if v.start < to && end > from {
			lo := max(v.start, from)
			hi := min(end, to)
			for f := lo; f < hi; f++ {
				out[f-from] += v.samples[f-v.start]
			}
		}
		if end <= to {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(m.voices[len(kept):])
	m.voices = kept
	m.clock.Advance(len(out))
	m.mu.Unlock()

	for i := range out {
		if out[i] > 1 {
			out[i] = 1
		} else if out[i] < -1 {
			out[i] = -1
		}
	}
	m.meter.Observe(out)

	for _, fn := range ended {
		fn()
	}
}

// Pending returns the number of voices not yet fully rendered.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

func (v *mixerVoice) Stop() {
	m := v.mixer
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.stopped {
		return
	}
	v.stopped = true
	for i, other := range m.voices {
		if other == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			break
		}
	}
}
