package live

import (
	"encoding/base64"
	"errors"
	"math"
	"testing"
)

func TestEncodeBlock(t *testing.T) {
	block := SampleBlock{SampleRate: 16000, Samples: []float32{0, 1, -1, 2, -2, 0.5}}
	blob := EncodeBlock(block)
	if blob.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("MIMEType = %q", blob.MIMEType)
	}
	if len(blob.Data) != 12 {
		t.Fatalf("len(Data) = %d, want 12", len(blob.Data))
	}
	back := PCM16ToFloat32(blob.Data)
	want := []float32{0, 32767.0 / 32768, -32767.0 / 32768, 32767.0 / 32768, -32767.0 / 32768, 16384.0 / 32768}
	for i := range want {
		if math.Abs(float64(back[i]-want[i])) > 1e-4 {
			t.Fatalf("sample %d = %v, want %v", i, back[i], want[i])
		}
	}
}

func TestParseAudioMIME(t *testing.T) {
	tests := []struct {
		in     string
		rate   int
		wantOK bool
	}{
		{in: "audio/pcm;rate=24000", rate: 24000, wantOK: true},
		{in: "audio/PCM; rate=16000", rate: 16000, wantOK: true},
		{in: "audio/l16;codec=pcm;rate=8000", rate: 8000, wantOK: true},
		{in: "audio/pcm", rate: 0, wantOK: true},
		{in: "audio/mpeg", rate: 0, wantOK: false},
	}
	for _, tt := range tests {
		rate, ok := ParseAudioMIME(tt.in)
		if rate != tt.rate || ok != tt.wantOK {
			t.Fatalf("ParseAudioMIME(%q) = (%d, %v), want (%d, %v)", tt.in, rate, ok, tt.rate, tt.wantOK)
		}
	}
}

func TestDecodeFragment(t *testing.T) {
	raw := Float32ToPCM16([]float32{0.5, -0.5, 0.25, 0.25})

	t.Run("raw bytes", func(t *testing.T) {
		samples, err := DecodeFragment(SpeechFragment{Data: raw, SampleRate: 24000, Channels: 1}, 24000)
		if err != nil {
			t.Fatalf("DecodeFragment: %v", err)
		}
		if len(samples) != 4 {
			t.Fatalf("len = %d, want 4", len(samples))
		}
	})

	t.Run("base64", func(t *testing.T) {
		f := SpeechFragment{Base64: base64.StdEncoding.EncodeToString(raw), SampleRate: 24000}
		samples, err := DecodeFragment(f, 24000)
		if err != nil {
			t.Fatalf("DecodeFragment: %v", err)
		}
		if len(samples) != 4 {
			t.Fatalf("len = %d, want 4", len(samples))
		}
	})

	t.Run("stereo downmix", func(t *testing.T) {
		samples, err := DecodeFragment(SpeechFragment{Data: raw, SampleRate: 24000, Channels: 2}, 24000)
		if err != nil {
			t.Fatalf("DecodeFragment: %v", err)
		}
		if len(samples) != 2 {
			t.Fatalf("len = %d, want 2", len(samples))
		}
		if math.Abs(float64(samples[0])) > 1e-3 || math.Abs(float64(samples[1]-0.25)) > 1e-3 {
			t.Fatalf("downmix = %v", samples)
		}
	})

	t.Run("resample", func(t *testing.T) {
		f := SpeechFragment{Data: make([]byte, 16000*2), SampleRate: 16000}
		samples, err := DecodeFragment(f, 24000)
		if err != nil {
			t.Fatalf("DecodeFragment: %v", err)
		}
		if len(samples) != 24000 {
			t.Fatalf("len = %d, want 24000", len(samples))
		}
	})

	bad := []struct {
		name string
		f    SpeechFragment
	}{
		{name: "empty", f: SpeechFragment{}},
		{name: "bad base64", f: SpeechFragment{Base64: "%%%"}},
		{name: "odd bytes", f: SpeechFragment{Data: []byte{1, 2, 3}}},
		{name: "partial stereo frame", f: SpeechFragment{Data: []byte{1, 2, 3, 4, 5, 6}, Channels: 2}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFragment(tt.f, 24000)
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("err = %v, want decode error", err)
			}
		})
	}
}

func TestEnergy(t *testing.T) {
	if got := RMSEnergy(nil); got != 0 {
		t.Fatalf("RMSEnergy(nil) = %v", got)
	}
	if got := RMSEnergy([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-6 {
		t.Fatalf("RMSEnergy = %v, want 0.5", got)
	}
	if got := PeakAmplitude([]float32{0.1, -0.8, 0.3}); math.Abs(got-0.8) > 1e-6 {
		t.Fatalf("PeakAmplitude = %v, want 0.8", got)
	}
}

func TestResampleLength(t *testing.T) {
	in := make([]float32, 4800)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 48000))
	}
	if got := len(Resample(in, 48000, 16000)); got != 1600 {
		t.Fatalf("downsample len = %d, want 1600", got)
	}
	if got := len(Resample(in, 16000, 16000)); got != len(in) {
		t.Fatalf("same-rate len = %d", got)
	}
}

func TestResamplerChunkedMatchesWhole(t *testing.T) {
	tests := []struct {
		name     string
		src, dst int
		n, chunk int
	}{
		{"down 48k to 16k", 48000, 16000, 4800, 333},
		{"down 44.1k to 16k", 44100, 16000, 4410, 441},
		{"up 16k to 24k", 16000, 24000, 3200, 170},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]float32, tt.n)
			for i := range in {
				in[i] = float32(0.8 * math.Sin(2*math.Pi*300*float64(i)/float64(tt.src)))
			}
			whole := NewResampler(tt.src, tt.dst)
			want := append(whole.Process(in), whole.Flush()...)

			r := NewResampler(tt.src, tt.dst)
			var got []float32
			for i := 0; i < len(in); i += tt.chunk {
				got = append(got, r.Process(in[i:min(i+tt.chunk, len(in))])...)
			}
			got = append(got, r.Flush()...)

			if len(got) != len(want) {
				t.Fatalf("chunked len = %d, whole len = %d", len(got), len(want))
			}
			if minLen := tt.n * tt.dst / tt.src; len(got) < minLen {
				t.Fatalf("len = %d, want at least %d", len(got), minLen)
			}
			for i := range want {
				if d := math.Abs(float64(got[i] - want[i])); d > 1e-5 {
					t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestResamplerResetStartsNewStream(t *testing.T) {
	in := make([]float32, 960)
	for i := range in {
		in[i] = 0.5
	}
	r := NewResampler(48000, 16000)
	first := r.Process(in)
	r.Reset()
	second := r.Process(in)
	if len(first) != len(second) {
		t.Fatalf("len after reset = %d, want %d", len(second), len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sample %d after reset = %v, want %v", i, second[i], first[i])
		}
	}
	// DC passes the filter at unity gain once its history is full.
	if got := first[len(first)-1]; math.Abs(float64(got-0.5)) > 1e-4 {
		t.Fatalf("settled level = %v, want 0.5", got)
	}
}

func TestLevelMeter(t *testing.T) {
	m := NewLevelMeter()
	m.Observe([]float32{1, -1})
	if got := m.Snapshot(); got.Peak != 1 || got.RMS != 1 {
		t.Fatalf("Snapshot = %+v", got)
	}
	m.Reset()
	if got := m.Snapshot(); got.Peak != 0 || got.RMS != 0 {
		t.Fatalf("after Reset = %+v", got)
	}

	var nilMeter *LevelMeter
	nilMeter.Observe([]float32{1})
	if got := nilMeter.Snapshot(); got.Peak != 0 {
		t.Fatalf("nil meter Snapshot = %+v", got)
	}
}
