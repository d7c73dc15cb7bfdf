package live

import (
	"sync"
	"time"
)

// Level is a snapshot of one timeline's recent energy, for visualizers.
type Level struct {
	RMS  float64
	Peak float64
	At   time.Time
}

// Levels pairs the input and output snapshots.
type Levels struct {
	Input  Level
	Output Level
}

// LevelMeter holds the energy of the most recent buffer seen on a timeline.
// Writers call Observe; readers pull Snapshot whenever they redraw.
type LevelMeter struct {
	mu    sync.Mutex
	level Level
	now   func() time.Time
}

// NewLevelMeter returns an empty meter.
func NewLevelMeter() *LevelMeter {
	return &LevelMeter{now: time.Now}
}

// Observe records the energy of samples.
func (m *LevelMeter) Observe(samples []float32) {
	if m == nil {
		return
	}
	rms := RMSEnergy(samples)
	peak := PeakAmplitude(samples)
	m.mu.Lock()
	m.level = Level{RMS: rms, Peak: peak, At: m.now()}
	m.mu.Unlock()
}

// Reset zeroes the meter, e.g. after the device stops.
func (m *LevelMeter) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.level = Level{At: m.now()}
	m.mu.Unlock()
}

// Snapshot returns the last observed level.
func (m *LevelMeter) Snapshot() Level {
	if m == nil {
		return Level{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}
