// Package wav renders raw PCM capture buffers as RIFF/WAVE payloads for the
// transcription backends. Encoding happens fully in memory; recordings are
// short-lived and never touch disk on the capture path.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	gwav "github.com/go-audio/wav"
)

const (
	bitDepth = 16
	// PCM format tag in the fmt chunk.
	formatPCM = 1
)

// Encode wraps little-endian 16-bit PCM in a canonical 44-byte WAV header.
// The payload must be aligned to whole samples.
func Encode(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned to 16-bit samples")
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}

	var sink memWriteSeeker
	enc := gwav.NewEncoder(&sink, sampleRate, bitDepth, channels, formatPCM)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return sink.Bytes(), nil
}

// DurationMS reports the play time of a PCM payload in milliseconds. Used as
// a fallback when a backend does not report audio duration itself.
func DurationMS(pcmBytes, sampleRate, channels int) int64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := pcmBytes / (2 * channels)
	return int64(frames) * 1000 / int64(sampleRate)
}

// memWriteSeeker satisfies io.WriteSeeker over a byte slice. The wav encoder
// seeks back into the header on Close to patch chunk sizes, which rules out
// bytes.Buffer.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (w *memWriteSeeker) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.buf) {
		if need > cap(w.buf) {
			grown := make([]byte, len(w.buf), need*2)
			copy(grown, w.buf)
			w.buf = grown
		}
		w.buf = w.buf[:need]
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(w.pos) + offset
	case io.SeekEnd:
		next = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid seek whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	w.pos = int(next)
	return next, nil
}

func (w *memWriteSeeker) Bytes() []byte {
	return w.buf
}
