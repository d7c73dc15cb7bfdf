package live

import (
	"log/slog"
	"sync"
	"time"
)

// PlaybackHandle is one scheduled, independently cancellable unit of output
// audio on the shared output timeline.
type PlaybackHandle struct {
	id       uint64
	startAt  time.Duration
	duration time.Duration
	voice    Voice

	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	stopped bool
}

// ID returns the handle's scheduler-local identifier.
func (h *PlaybackHandle) ID() uint64 { return h.id }

// StartAt returns the scheduled start time on the output timeline.
func (h *PlaybackHandle) StartAt() time.Duration { return h.startAt }

// Duration returns the decoded length of the audio.
func (h *PlaybackHandle) Duration() time.Duration { return h.duration }

// End returns StartAt + Duration.
func (h *PlaybackHandle) End() time.Duration { return h.startAt + h.duration }

// Done is closed when the handle completes naturally or is stopped.
func (h *PlaybackHandle) Done() <-chan struct{} { return h.done }

// Stopped reports whether the handle was force-stopped.
func (h *PlaybackHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *PlaybackHandle) finish(stopped bool) {
	h.once.Do(func() {
		h.mu.Lock()
		h.stopped = stopped
		h.mu.Unlock()
		close(h.done)
	})
}

// Decoder turns a fragment into mono samples at the given output rate.
type Decoder func(f SpeechFragment, outputRate int) ([]float32, error)

// PlaybackOptions configures a PlaybackScheduler.
type PlaybackOptions struct {
	// Decoder overrides DecodeFragment.
	Decoder Decoder
	Logger  *slog.Logger
	Metrics *Metrics
}

// PlaybackScheduler places incoming speech fragments back-to-back on the
// output timeline. The cursor (nextAvailable) and the active-handle set are
// one unit: every read-modify-write of the cursor and every insertion into
// the set happens under mu, and Interrupt takes the same lock.
type PlaybackScheduler struct {
	timeline Timeline
	decode   Decoder
	logger   *slog.Logger
	metrics  *Metrics

	mu            sync.Mutex
	nextAvailable time.Duration
	generation    uint64
	nextID        uint64
	active        map[uint64]*PlaybackHandle
}

// NewPlaybackScheduler returns a scheduler bound to timeline. The cursor
// starts at the timeline's current time.
func NewPlaybackScheduler(timeline Timeline, opts PlaybackOptions) *PlaybackScheduler {
	s := &PlaybackScheduler{
		timeline: timeline,
		decode:   opts.Decoder,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		active:   make(map[uint64]*PlaybackHandle),
	}
	if s.decode == nil {
		s.decode = DecodeFragment
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.nextAvailable = timeline.Now()
	return s
}

// Enqueue decodes f and schedules it at max(nextAvailable, now).
//
// A decode failure returns a DecodeError and leaves existing playback alone.
// If Interrupt runs while f is being decoded, f is dropped and Enqueue
// returns (nil, nil).
func (s *PlaybackScheduler) Enqueue(f SpeechFragment) (*PlaybackHandle, error) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	samples, err := s.decode(f, s.timeline.SampleRate())
	if err != nil {
		s.metrics.decodeError()
		s.logger.Warn("dropping undecodable speech fragment", "error", err)
		return nil, classifyWait("decode", err, KindDecode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.logger.Debug("dropping fragment decoded across an interruption", "generation", gen)
		return nil, nil
	}

	startAt := max(s.nextAvailable, s.timeline.Now())
	duration := FramesToDuration(int64(len(samples)), s.timeline.SampleRate())
	s.nextID++
	h := &PlaybackHandle{
		id:       s.nextID,
		startAt:  startAt,
		duration: duration,
		done:     make(chan struct{}),
	}
	h.voice = s.timeline.Play(samples, startAt, func() { s.complete(h) })
	s.nextAvailable = startAt + duration
	s.active[h.id] = h
	s.metrics.fragmentScheduled()
	return h, nil
}

func (s *PlaybackScheduler) complete(h *PlaybackHandle) {
	s.mu.Lock()
	delete(s.active, h.id)
	s.mu.Unlock()
	h.finish(false)
}

// Interrupt stops every active handle, empties the active set and moves the
// cursor back to the current output-clock time. It returns the number of
// handles stopped.
func (s *PlaybackScheduler) Interrupt() int {
	s.mu.Lock()
	stopped := make([]*PlaybackHandle, 0, len(s.active))
	for id, h := range s.active {
		h.voice.Stop()
		stopped = append(stopped, h)
		delete(s.active, id)
	}
	s.generation++
	s.nextAvailable = s.timeline.Now()
	s.mu.Unlock()

	for _, h := range stopped {
		h.finish(true)
	}
	s.metrics.interrupted()
	return len(stopped)
}

// Active returns the number of handles scheduled or playing.
func (s *PlaybackScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextAvailable returns the output-timeline cursor.
func (s *PlaybackScheduler) NextAvailable() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAvailable
}

// Generation returns the interrupt generation counter.
func (s *PlaybackScheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}
