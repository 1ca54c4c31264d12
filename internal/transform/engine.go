// Package transform rewrites finished transcripts before they are persisted
// and delivered: ordered find/replace steps first, then an optional language
// model polish pass.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

const defaultPolishPrompt = "Clean up this dictated text. Fix punctuation and casing, remove filler words, and keep the meaning unchanged. Reply with only the corrected text."

// Polisher is a pluggable rewrite backend for the polish pass.
type Polisher interface {
	Name() string
	Polish(ctx context.Context, text string) (string, error)
}

// Engine applies the configured transcript transforms.
type Engine struct {
	cfg      config.TransformConfig
	polisher Polisher
	log      *slog.Logger
}

func NewEngine(cfg config.TransformConfig, log *slog.Logger) (*Engine, error) {
	e := &Engine{cfg: cfg, log: log.With(slog.String("component", "transform"))}
	if !cfg.Enabled {
		return e, nil
	}
	polisher, err := newPolisher(cfg.Polish)
	if err != nil {
		return nil, err
	}
	e.polisher = polisher
	return e, nil
}

func newPolisher(cfg config.PolishConfig) (Polisher, error) {
	switch cfg.Mode {
	case "", "none":
		return nil, nil
	case "mock":
		return NewMockPolisher(), nil
	case "ollama":
		return NewOllamaPolisher(cfg), nil
	case "exec":
		return NewExecPolisher(cfg)
	default:
		return nil, fmt.Errorf("unknown polish mode %q", cfg.Mode)
	}
}

// Apply runs the replacement steps in order, then the polish pass. When
// polishing fails the stepped text is returned alongside the error so the
// caller can fall back to it.
func (e *Engine) Apply(ctx context.Context, text string) (string, error) {
	if !e.cfg.Enabled {
		return text, nil
	}
	out := text
	for _, step := range e.cfg.Steps {
		if step.Find == "" {
			continue
		}
		out = strings.ReplaceAll(out, step.Find, step.Replace)
	}
	if e.polisher == nil {
		return out, nil
	}
	polished, err := e.polisher.Polish(ctx, out)
	if err != nil {
		return out, fmt.Errorf("polish (%s): %w", e.polisher.Name(), err)
	}
	polished = strings.TrimSpace(polished)
	if polished == "" {
		e.log.Warn("polish returned empty text, keeping stepped transcript")
		return out, nil
	}
	return polished, nil
}
