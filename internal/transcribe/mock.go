package transcribe

import (
	"context"
	"fmt"
)

// MockBackend returns a synthetic transcript so the full pipeline can run
// without any speech service.
type MockBackend struct {
	name string
}

func NewMockBackend(name string) *MockBackend {
	if name == "" {
		name = "mock"
	}
	return &MockBackend{name: name}
}

func (b *MockBackend) Name() string { return b.name }
func (b *MockBackend) Kind() string { return "mock" }

func (b *MockBackend) Transcribe(_ context.Context, audio Audio, _ Options) (Result, error) {
	return Result{
		Text: fmt.Sprintf("[transcript length=%d]", len(audio.WAV)),
	}, nil
}
