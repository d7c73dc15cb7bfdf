package live

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// InputDevice is a microphone. Start begins delivering mono float samples in
// [-1, 1] to onSamples from the device's own goroutine; Stop releases the
// device and returns only after the last callback has finished.
type InputDevice interface {
	Start(ctx context.Context, onSamples func([]float32)) error
	Stop() error
	SampleRate() int
}

// CaptureOptions configures a CaptureSink.
type CaptureOptions struct {
	// SampleRate is the wire rate. Device audio at another rate is resampled.
	SampleRate int
	// BlockSize is the number of samples per SampleBlock.
	BlockSize int
	// QueueDepth bounds blocks waiting to be sent.
	QueueDepth int
	// SendTimeout bounds a single transport send.
	SendTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *Metrics
}

type pendingSend struct {
	sender Sender
	block  SampleBlock
	blob   Blob
}

type senderRef struct{ Sender }

// CaptureSink turns microphone callbacks into fixed SampleBlocks and forwards
// them to the attached session in capture order.
type CaptureSink struct {
	device InputDevice
	opts   CaptureOptions
	logger *slog.Logger
	meter  *LevelMeter

	sender atomic.Pointer[senderRef]

	mu      sync.Mutex
	active  bool
	queue   chan pendingSend
	done    chan struct{}
	drained chan struct{}

	frameMu   sync.Mutex
	resampler *Resampler
	pending   []float32
	seq       int64
}

// NewCaptureSink returns a stopped sink reading from device.
func NewCaptureSink(device InputDevice, opts CaptureOptions) *CaptureSink {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultInputSampleRate
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 32
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureSink{
		device: device,
		opts:   opts,
		logger: logger,
		meter:  NewLevelMeter(),
	}
}

// Attach routes subsequent blocks to s. Blocks captured while nothing is
// attached are dropped.
func (c *CaptureSink) Attach(s Sender) {
	if s == nil {
		c.sender.Store(nil)
		return
	}
	c.sender.Store(&senderRef{s})
}

// Detach stops routing blocks to the current session.
func (c *CaptureSink) Detach() {
	c.sender.Store(nil)
}

// Active reports whether the device is open.
func (c *CaptureSink) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Level returns the energy of the most recent captured block.
func (c *CaptureSink) Level() Level {
	return c.meter.Snapshot()
}

// Start acquires the microphone. Calling Start on an active sink is a no-op.
func (c *CaptureSink) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil
	}
	if c.device == nil {
		return DeviceError("start", errNoDevice)
	}

	c.frameMu.Lock()
	c.pending = c.pending[:0]
	c.resampler = nil
	if rate := c.device.SampleRate(); rate > 0 && rate != c.opts.SampleRate {
		c.resampler = NewResampler(rate, c.opts.SampleRate)
	}
	c.queue = make(chan pendingSend, c.opts.QueueDepth)
	c.frameMu.Unlock()

	c.done = make(chan struct{})
	c.drained = make(chan struct{})
	go c.sendLoop(c.queue, c.done, c.drained)

	if err := c.device.Start(ctx, c.onSamples); err != nil {
		close(c.done)
		<-c.drained
		return DeviceError("start", err)
	}
	c.active = true
	c.logger.Debug("capture started", "device_rate", c.device.SampleRate(), "wire_rate", c.opts.SampleRate)
	return nil
}

// Stop releases the microphone. It is safe to call when not started and
// more than once.
func (c *CaptureSink) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	c.active = false

	err := c.device.Stop()
	close(c.done)
	<-c.drained

	c.frameMu.Lock()
	c.pending = c.pending[:0]
	c.resampler = nil
	c.frameMu.Unlock()
	c.meter.Reset()
	c.logger.Debug("capture stopped")
	if err != nil {
		return DeviceError("stop", err)
	}
	return nil
}

// onSamples runs on the device goroutine.
func (c *CaptureSink) onSamples(samples []float32) {
	if len(samples) == 0 {
		return
	}

	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if c.resampler != nil {
		samples = c.resampler.Process(samples)
	}
	c.pending = append(c.pending, samples...)
	for len(c.pending) >= c.opts.BlockSize {
		block := SampleBlock{
			Seq:        c.seq,
			SampleRate: c.opts.SampleRate,
			Samples:    append([]float32(nil), c.pending[:c.opts.BlockSize]...),
		}
		c.seq++
		n := copy(c.pending, c.pending[c.opts.BlockSize:])
		c.pending = c.pending[:n]
		c.emit(block)
	}
}

// emit encodes synchronously and hands the block to the send loop without
// blocking. Called with frameMu held, so queue order is capture order.
func (c *CaptureSink) emit(block SampleBlock) {
	c.meter.Observe(block.Samples)

	ref := c.sender.Load()
	if ref == nil {
		c.opts.Metrics.blockDropped("no_session")
		c.logger.Debug("dropping block, no session", "seq", block.Seq)
		return
	}

	item := pendingSend{sender: ref.Sender, block: block, blob: EncodeBlock(block)}
	select {
	case c.queue <- item:
	default:
		c.opts.Metrics.blockDropped("queue_full")
		c.logger.Warn("dropping block, send queue full", "seq", block.Seq, "depth", cap(c.queue))
	}
}

func (c *CaptureSink) sendLoop(queue <-chan pendingSend, done <-chan struct{}, drained chan<- struct{}) {
	defer close(drained)
	for {
		select {
		case <-done:
			return
		case item := <-queue:
			c.send(item)
		}
	}
}

func (c *CaptureSink) send(item pendingSend) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.SendTimeout)
	defer cancel()
	blob := item.blob
	if err := item.sender.Send(ctx, OutboundEvent{Audio: &blob}); err != nil {
		c.opts.Metrics.blockDropped("send_error")
		c.logger.Warn("sending audio block failed", "seq", item.block.Seq, "error", err)
		return
	}
	c.opts.Metrics.blockSent()
}
