package transform

import (
	"context"
	"strings"
	"time"
)

type mockPolisher struct{}

// NewMockPolisher returns a polisher that tags its output so tests and dev
// setups can see the pass ran.
func NewMockPolisher() Polisher { return &mockPolisher{} }

func (m *mockPolisher) Name() string { return "mock" }

func (m *mockPolisher) Polish(ctx context.Context, text string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return "[polished] " + strings.TrimSpace(text), nil
}
