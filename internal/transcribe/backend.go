// Package transcribe turns recorded audio into text. Backends wrap external
// speech services behind one interface; the registry tracks which are
// configured and which one is primary.
package transcribe

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnconfiguredBackend is returned when an operation names a backend
	// that has not been configured.
	ErrUnconfiguredBackend = errors.New("backend not configured")
	// ErrNoPrimaryBackend is returned when a transcription is requested
	// before any backend has been configured.
	ErrNoPrimaryBackend = errors.New("no transcription backend configured")
)

// BackendError reports a failure surfaced by the transcription service
// itself, as opposed to a transport or local failure. Message carries the
// service's own wording so it can be shown to the user verbatim.
type BackendError struct {
	Service string
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// Audio is one finished recording, already encoded as WAV.
type Audio struct {
	WAV        []byte
	SampleRate int
	Channels   int
}

// Options tune a single transcription request. A Language of "auto" or ""
// lets the backend detect the spoken language.
type Options struct {
	Language       string
	Prompt         string
	Temperature    float64
	WordTimestamps bool
}

// Segment is a contiguous span of transcribed speech.
type Segment struct {
	StartMS int64
	EndMS   int64
	Text    string
}

// Word is a single word with timing, present when the backend supports word
// timestamps and they were requested.
type Word struct {
	StartMS int64
	EndMS   int64
	Word    string
}

// Result is a completed transcription. DurationMS may be zero when the
// backend does not report audio duration; callers derive it from the PCM
// length in that case.
type Result struct {
	Text       string
	Language   string
	DurationMS int64
	Segments   []Segment
	Words      []Word
}

// Backend transcribes one recording at a time.
type Backend interface {
	Name() string
	Kind() string
	Transcribe(ctx context.Context, audio Audio, opts Options) (Result, error)
}
