package device

import (
	"errors"
	"io"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

// renderReader is an io.Reader of PCM16 produced on demand from a Renderer.
// Each Read renders exactly len(p)/2 frames.
type renderReader struct {
	r   Renderer
	buf []float32
}

func newRenderReader(r Renderer) *renderReader {
	return &renderReader{r: r}
}

func (rr *renderReader) Read(p []byte) (int, error) {
	frames := len(p) / 2
	if frames == 0 {
		return 0, nil
	}
	if cap(rr.buf) < frames {
		rr.buf = make([]float32, frames)
	}
	buf := rr.buf[:frames]
	rr.r.Render(buf)
	return copy(p, live.Float32ToPCM16(buf)), nil
}

// readPCM reads little-endian PCM16 from r in chunks and delivers samples
// until r fails. An odd trailing byte is held for the next chunk.
func readPCM(r io.Reader, chunkBytes int, onSamples func([]float32)) error {
	if chunkBytes < 2 {
		chunkBytes = 2
	}
	buf := make([]byte, chunkBytes+1)
	carry := 0
	for {
		n, err := r.Read(buf[carry:])
		total := carry + n
		even := total &^ 1
		if even > 0 {
			onSamples(live.PCM16ToFloat32(buf[:even]))
		}
		carry = total - even
		if carry == 1 {
			buf[0] = buf[even]
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
