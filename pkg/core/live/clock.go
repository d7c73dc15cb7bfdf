package live

import (
	"sync/atomic"
	"time"
)

// SampleClock counts frames that have passed through one audio timeline.
// It only moves forward; the current time is derived from the frame count so
// it never drifts from the audio that was actually rendered or captured.
type SampleClock struct {
	rate   int
	frames atomic.Int64
}

// NewSampleClock returns a clock for a timeline running at rate frames per second.
func NewSampleClock(rate int) *SampleClock {
	if rate <= 0 {
		rate = DefaultOutputSampleRate
	}
	return &SampleClock{rate: rate}
}

// Advance moves the clock forward by n frames and returns the new frame count.
// Negative values are ignored.
func (c *SampleClock) Advance(n int) int64 {
	if n <= 0 {
		return c.frames.Load()
	}
	return c.frames.Add(int64(n))
}

// Frames returns the number of frames elapsed.
func (c *SampleClock) Frames() int64 {
	return c.frames.Load()
}

// Now returns the elapsed timeline time.
func (c *SampleClock) Now() time.Duration {
	return FramesToDuration(c.frames.Load(), c.rate)
}

// Rate returns the clock's frame rate.
func (c *SampleClock) Rate() int {
	return c.rate
}

// FramesToDuration converts a frame count at rate into a duration.
func FramesToDuration(frames int64, rate int) time.Duration {
	if rate <= 0 || frames <= 0 {
		return 0
	}
	sec := frames / int64(rate)
	rem := frames % int64(rate)
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(rate)
}

// DurationToFrames converts d into the nearest frame index at rate.
func DurationToFrames(d time.Duration, rate int) int64 {
	if rate <= 0 || d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	rem := int64(d % time.Second)
	return sec*int64(rate) + (rem*int64(rate)+int64(time.Second)/2)/int64(time.Second)
}
