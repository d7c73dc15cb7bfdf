package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

func openFFmpeg(opts Options) (*Devices, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for microphone capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := micArgs(runtime.GOOS, opts.InputRate)
	if err != nil {
		return nil, err
	}
	d := &Devices{Input: &ffmpegInput{args: args, rate: opts.InputRate, logger: opts.Logger}}
	if opts.Renderer != nil {
		if _, err := exec.LookPath("ffplay"); err != nil {
			return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
		}
		d.Output = &ffplayOutput{opts: opts}
	}
	return d, nil
}

func micArgs(goos string, rate int) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", ":0"}
	case "linux":
		input = []string{"-f", "pulse", "-i", "default"}
	default:
		return nil, fmt.Errorf("microphone capture via ffmpeg is not implemented for %s; supported platforms: darwin, linux", goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args, "-ac", "1", "-ar", strconv.Itoa(rate), "-f", "s16le", "-"), nil
}

func playArgs(rate int) []string {
	return []string{
		"-nodisp",
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-f", "s16le",
		"-ar", strconv.Itoa(rate),
		"-ac", "1",
		"-i", "pipe:0",
	}
}

// ffmpegInput reads mono PCM16 from an ffmpeg subprocess.
type ffmpegInput struct {
	args   []string
	rate   int
	logger *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

func (m *ffmpegInput) SampleRate() int { return m.rate }

func (m *ffmpegInput) Start(_ context.Context, onSamples func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil {
		return nil
	}
	cmd := exec.Command("ffmpeg", m.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg mic capture: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		// 20ms of audio per read.
		if err := readPCM(stdout, m.rate/50*2, onSamples); err != nil {
			m.logger.Warn("ffmpeg capture ended", "error", err)
		}
	}()
	m.cmd, m.done = cmd, done
	return nil
}

func (m *ffmpegInput) Stop() error {
	m.mu.Lock()
	cmd, done := m.cmd, m.done
	m.cmd, m.done = nil, nil
	m.mu.Unlock()
	if cmd == nil {
		return nil
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-done
	_ = cmd.Wait()
	return nil
}

// ffplayOutput pushes rendered PCM16 into an ffplay subprocess.
type ffplayOutput struct {
	opts Options

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *ffplayOutput) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return nil
	}
	cmd := exec.Command("ffplay", playArgs(p.opts.outputRate())...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := pushLoop(ctx, p.opts.Renderer, p.opts.Period, func(buf []float32) error {
			_, err := stdin.Write(live.Float32ToPCM16(buf))
			return err
		})
		if err != nil {
			p.opts.Logger.Warn("ffplay playback ended", "error", err)
		}
	}()
	p.cmd, p.stdin, p.cancel, p.done = cmd, stdin, cancel, done
	return nil
}

func (p *ffplayOutput) Close() error {
	p.mu.Lock()
	cmd, stdin, cancel, done := p.cmd, p.stdin, p.cancel, p.done
	p.cmd = nil
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}
	cancel()
	<-done
	_ = stdin.Close()
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()
	return nil
}
