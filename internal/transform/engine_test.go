package transform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

type fakePolisher struct {
	result string
	err    error
	calls  int
	last   string
}

func (f *fakePolisher) Name() string { return "fake" }

func (f *fakePolisher) Polish(_ context.Context, text string) (string, error) {
	f.calls++
	f.last = text
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApplyDisabledPassesThrough(t *testing.T) {
	engine, err := NewEngine(config.TransformConfig{
		Enabled: false,
		Steps:   []config.ReplaceStep{{Find: "a", Replace: "b"}},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	out, err := engine.Apply(context.Background(), "a raw transcript")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != "a raw transcript" {
		t.Fatalf("out = %q, want input unchanged", out)
	}
}

func TestApplyRunsStepsInOrder(t *testing.T) {
	engine, err := NewEngine(config.TransformConfig{
		Enabled: true,
		Steps: []config.ReplaceStep{
			{Find: "teh", Replace: "the"},
			{Find: "the", Replace: "THE"},
		},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	out, err := engine.Apply(context.Background(), "teh cat sat")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != "THE cat sat" {
		t.Fatalf("out = %q, want steps applied in order", out)
	}
}

func TestApplySkipsEmptyFind(t *testing.T) {
	engine, err := NewEngine(config.TransformConfig{
		Enabled: true,
		Steps:   []config.ReplaceStep{{Find: "", Replace: "x"}},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	out, err := engine.Apply(context.Background(), "plain")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != "plain" {
		t.Fatalf("out = %q, want empty find ignored", out)
	}
}

func TestApplyPolishRewrites(t *testing.T) {
	engine, err := NewEngine(config.TransformConfig{
		Enabled: true,
		Steps:   []config.ReplaceStep{{Find: "umm ", Replace: ""}},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	fake := &fakePolisher{result: "Hello there."}
	engine.polisher = fake

	out, err := engine.Apply(context.Background(), "umm hello there")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != "Hello there." {
		t.Fatalf("out = %q, want polished text", out)
	}
	if fake.last != "hello there" {
		t.Fatalf("polisher saw %q, want stepped text", fake.last)
	}
}

func TestApplyPolishFailureKeepsSteppedText(t *testing.T) {
	engine, err := NewEngine(config.TransformConfig{
		Enabled: true,
		Steps:   []config.ReplaceStep{{Find: "colour", Replace: "color"}},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	polishErr := errors.New("model offline")
	engine.polisher = &fakePolisher{err: polishErr}

	out, err := engine.Apply(context.Background(), "new colour scheme")
	if err == nil {
		t.Fatal("expected polish error")
	}
	if !errors.Is(err, polishErr) {
		t.Fatalf("error = %v, want wrapped polish error", err)
	}
	if out != "new color scheme" {
		t.Fatalf("out = %q, want stepped text preserved on failure", out)
	}
}

func TestApplyPolishEmptyResultKeepsSteppedText(t *testing.T) {
	engine, err := NewEngine(config.TransformConfig{Enabled: true}, testLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	engine.polisher = &fakePolisher{result: "   "}

	out, err := engine.Apply(context.Background(), "keep me")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != "keep me" {
		t.Fatalf("out = %q, want original kept when polish returns nothing", out)
	}
}

func TestNewEnginePolishModes(t *testing.T) {
	engine, err := NewEngine(config.TransformConfig{
		Enabled: true,
		Polish:  config.PolishConfig{Mode: "mock"},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewEngine mock: %v", err)
	}
	if engine.polisher == nil {
		t.Fatal("mock mode should configure a polisher")
	}

	engine, err = NewEngine(config.TransformConfig{
		Enabled: true,
		Polish:  config.PolishConfig{Mode: "none"},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewEngine none: %v", err)
	}
	if engine.polisher != nil {
		t.Fatal("none mode should not configure a polisher")
	}

	if _, err := NewEngine(config.TransformConfig{
		Enabled: true,
		Polish:  config.PolishConfig{Mode: "carrier-pigeon"},
	}, testLogger()); err == nil {
		t.Fatal("expected error for unknown polish mode")
	}
}

func TestMockPolisherTagsOutput(t *testing.T) {
	out, err := NewMockPolisher().Polish(context.Background(), "  raw words  ")
	if err != nil {
		t.Fatalf("Polish: %v", err)
	}
	if out != "[polished] raw words" {
		t.Fatalf("out = %q", out)
	}
}

func TestOllamaPolisherRequestShape(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"response": "Tidy text.", "done": true})
	}))
	defer srv.Close()

	polisher := NewOllamaPolisher(config.PolishConfig{
		Endpoint:    srv.URL,
		Model:       "llama3.2:latest",
		Prompt:      "fix it",
		MaxTokens:   128,
		Temperature: 0.3,
	})
	out, err := polisher.Polish(context.Background(), "messy text")
	if err != nil {
		t.Fatalf("Polish: %v", err)
	}
	if out != "Tidy text." {
		t.Fatalf("out = %q", out)
	}
	if got.Model != "llama3.2:latest" || got.Prompt != "messy text" || got.System != "fix it" {
		t.Fatalf("request = %+v", got)
	}
	if got.Stream {
		t.Fatal("polish requests should not stream")
	}
	if got.Options.NumPredict != 128 || got.Options.Temperature != 0.3 {
		t.Fatalf("options = %+v", got.Options)
	}
}

func TestOllamaPolisherServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	polisher := NewOllamaPolisher(config.PolishConfig{Endpoint: srv.URL})
	if _, err := polisher.Polish(context.Background(), "text"); err == nil {
		t.Fatal("expected error from non-2xx status")
	}
}

func TestExecPolisherRoundTrip(t *testing.T) {
	// cat echoes the JSON request, whose text field doubles as the response.
	polisher, err := NewExecPolisher(config.PolishConfig{Mode: "exec", Command: "cat"})
	if err != nil {
		t.Fatalf("NewExecPolisher: %v", err)
	}
	out, err := polisher.Polish(context.Background(), "pass through")
	if err != nil {
		t.Fatalf("Polish: %v", err)
	}
	if out != "pass through" {
		t.Fatalf("out = %q", out)
	}
}

func TestExecPolisherRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecPolisher(config.PolishConfig{Mode: "exec"}); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := NewExecPolisher(config.PolishConfig{Mode: "exec", Command: "cmd \"unterminated"}); err == nil || !strings.Contains(err.Error(), "parse polish command") {
		t.Fatalf("err = %v, want parse failure", err)
	}
}
