package live

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultInputSampleRate is the microphone rate the remote model expects.
	DefaultInputSampleRate = 16000
	// DefaultOutputSampleRate is the rate of synthesized speech.
	DefaultOutputSampleRate = 24000
	// DefaultBlockSize is the number of samples per captured block.
	DefaultBlockSize = 4096

	pcmBytesPerSample = 2
	pcmMIMEPrefix     = "audio/pcm"
)

// SampleBlock is one fixed-size block of mono microphone samples in [-1, 1].
// A block is never modified after capture.
type SampleBlock struct {
	Seq        int64
	SampleRate int
	Samples    []float32
}

// Duration returns the block's length in time.
func (b SampleBlock) Duration() time.Duration {
	return FramesToDuration(int64(len(b.Samples)), b.SampleRate)
}

// Blob is a transport-ready audio payload.
type Blob struct {
	Data     []byte
	MIMEType string
}

// SpeechFragment is one inbound chunk of synthesized speech.
// Either Data holds raw little-endian PCM16, or Base64 holds the same bytes
// still in their wire encoding.
type SpeechFragment struct {
	Data       []byte
	Base64     string
	SampleRate int
	Channels   int
}

// EncodeBlock converts a captured block to little-endian PCM16 and labels it
// with the PCM MIME type. Samples outside [-1, 1] are clamped.
func EncodeBlock(block SampleBlock) Blob {
	rate := block.SampleRate
	if rate <= 0 {
		rate = DefaultInputSampleRate
	}
	return Blob{
		Data:     Float32ToPCM16(block.Samples),
		MIMEType: PCMMIMEType(rate),
	}
}

// PCMMIMEType returns the MIME type used for raw PCM at rate.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("%s;rate=%d", pcmMIMEPrefix, rate)
}

// ParseAudioMIME extracts the sample rate from a type like "audio/pcm;rate=24000".
// ok is false for non-PCM types; rate is 0 when the parameter is absent.
func ParseAudioMIME(mimeType string) (rate int, ok bool) {
	parts := strings.Split(mimeType, ";")
	base := strings.ToLower(strings.TrimSpace(parts[0]))
	if base != pcmMIMEPrefix && base != "audio/l16" {
		return 0, false
	}
	for _, p := range parts[1:] {
		key, val, found := strings.Cut(strings.TrimSpace(p), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "rate") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err == nil && n > 0 {
			rate = n
		}
	}
	return rate, true
}

// Float32ToPCM16 converts normalized samples to little-endian 16-bit PCM.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*pcmBytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * math.MaxInt16))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloat32 converts little-endian 16-bit PCM to normalized samples.
// A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / pcmBytesPerSample
	out := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// DecodeFragment turns a speech fragment into mono samples at outputRate.
// Multi-channel fragments are downmixed by averaging.
func DecodeFragment(f SpeechFragment, outputRate int) ([]float32, error) {
	raw := f.Data
	if len(raw) == 0 && f.Base64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(f.Base64)
		if err != nil {
			return nil, DecodeFailure("invalid base64 audio payload")
		}
		raw = decoded
	}
	if len(raw) == 0 {
		return nil, DecodeFailure("empty audio payload")
	}
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	frameBytes := channels * pcmBytesPerSample
	if len(raw)%frameBytes != 0 {
		return nil, DecodeFailure(fmt.Sprintf("payload of %d bytes is not a whole number of %d-channel PCM16 frames", len(raw), channels))
	}
	interleaved := PCM16ToFloat32(raw)
	samples := interleaved
	if channels > 1 {
		frames := len(interleaved) / channels
		samples = make([]float32, frames)
		for i := range frames {
			var sum float32
			for ch := range channels {
				sum += interleaved[i*channels+ch]
			}
			samples[i] = sum / float32(channels)
		}
	}
	rate := f.SampleRate
	if rate <= 0 {
		rate = DefaultOutputSampleRate
	}
	if outputRate > 0 && rate != outputRate {
		samples = Resample(samples, rate, outputRate)
	}
	return samples, nil
}

// RMSEnergy computes the root-mean-square level of samples, in [0, 1].
func RMSEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PeakAmplitude returns the largest absolute sample value, in [0, 1].
func PeakAmplitude(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if abs := math.Abs(float64(s)); abs > peak {
			peak = abs
		}
	}
	return peak
}

// Resample converts a complete buffer from srcRate to dstRate. The result
// holds at least len(samples)*dstRate/srcRate samples, rounded down. Streams
// delivered in pieces should use a Resampler instead.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(samples) == 0 {
		return samples
	}
	r := NewResampler(srcRate, dstRate)
	out := r.Process(samples)
	return append(out, r.Flush()...)
}

// resampleTaps is the length of the anti-aliasing filter used when
// downsampling.
const resampleTaps = 31

// Resampler converts a continuous mono stream between two sample rates by
// linear interpolation, low-pass filtering first when downsampling. The
// filter history and the fractional read position carry over between
// Process calls, so a stream fed in pieces produces exactly the samples the
// whole stream would. A Resampler is not safe for concurrent use.
type Resampler struct {
	srcRate, dstRate int
	step             float64   // source samples per output sample; 0 passes through
	kernel           []float32 // nil when upsampling
	history          []float32 // last len(kernel)-1 unfiltered inputs
	buf              []float32 // filtered input starting at sample int(pos)
	pos              float64
	consumed         int64
	produced         int64
}

// NewResampler returns a Resampler from srcRate to dstRate. Equal or
// non-positive rates give a pass-through Resampler.
func NewResampler(srcRate, dstRate int) *Resampler {
	r := &Resampler{srcRate: srcRate, dstRate: dstRate}
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return r
	}
	r.step = float64(srcRate) / float64(dstRate)
	if srcRate > dstRate {
		r.kernel = lowPassKernel(float64(dstRate)/2/float64(srcRate), resampleTaps)
		r.history = make([]float32, resampleTaps-1)
	}
	return r
}

// Process consumes the next piece of the stream and returns every output
// sample it completes. Up to one output sample may be held back until more
// input arrives.
func (r *Resampler) Process(samples []float32) []float32 {
	if r.step == 0 || len(samples) == 0 {
		return samples
	}
	r.consumed += int64(len(samples))
	r.buf = append(r.buf, r.filter(samples)...)

	out := make([]float32, 0, int(float64(len(samples))/r.step)+1)
	for r.pos+1 < float64(len(r.buf)) {
		out = append(out, r.sampleAt(r.pos))
		r.pos += r.step
	}
	r.produced += int64(len(out))

	// Keep the sample under pos and everything after it.
	drop := min(int(r.pos), len(r.buf)-1)
	n := copy(r.buf, r.buf[drop:])
	r.buf = r.buf[:n]
	r.pos -= float64(drop)
	return out
}

// Flush returns the samples still owed for the input seen so far, holding
// the last input sample, and resets the stream.
func (r *Resampler) Flush() []float32 {
	defer r.Reset()
	if r.step == 0 || len(r.buf) == 0 {
		return nil
	}
	want := r.consumed * int64(r.dstRate) / int64(r.srcRate)
	var out []float32
	for ; r.produced < want; r.produced++ {
		out = append(out, r.sampleAt(r.pos))
		r.pos += r.step
	}
	return out
}

// Reset discards buffered input so the next Process starts a new stream.
func (r *Resampler) Reset() {
	clear(r.history)
	r.buf = r.buf[:0]
	r.pos = 0
	r.consumed, r.produced = 0, 0
}

// filter runs the anti-aliasing FIR over samples, continuing from the
// previous call's history. It returns samples unchanged when upsampling.
func (r *Resampler) filter(samples []float32) []float32 {
	if r.kernel == nil {
		return samples
	}
	x := make([]float32, len(r.history)+len(samples))
	copy(x, r.history)
	copy(x[len(r.history):], samples)

	out := make([]float32, len(samples))
	for n := range out {
		var acc float32
		for k, w := range r.kernel {
			acc += w * x[n+k]
		}
		out[n] = acc
	}
	copy(r.history, x[len(samples):])
	return out
}

func (r *Resampler) sampleAt(pos float64) float32 {
	i := int(pos)
	if i >= len(r.buf)-1 {
		return r.buf[len(r.buf)-1]
	}
	frac := float32(pos - float64(i))
	return r.buf[i] + (r.buf[i+1]-r.buf[i])*frac
}

// lowPassKernel returns a Blackman-windowed sinc with the given cutoff, as a
// fraction of the sample rate, scaled to unity gain at DC.
func lowPassKernel(cutoff float64, taps int) []float32 {
	coeffs := make([]float64, taps)
	center := float64(taps-1) / 2
	var total float64
	for i := range coeffs {
		t := float64(i) - center
		h := 2 * cutoff
		if t != 0 {
			h = math.Sin(2*math.Pi*cutoff*t) / (math.Pi * t)
		}
		phase := 2 * math.Pi * float64(i) / float64(taps-1)
		h *= 0.42 - 0.5*math.Cos(phase) + 0.08*math.Cos(2*phase)
		coeffs[i] = h
		total += h
	}
	kernel := make([]float32, taps)
	for i, h := range coeffs {
		kernel[i] = float32(h / total)
	}
	return kernel
}
