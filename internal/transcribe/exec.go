package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/mattn/go-shellwords"
)

// ExecBackend shells out to a local transcriber such as a whisper.cpp
// wrapper. The command receives --audio <wav path> plus --language when one
// is pinned, and must print a JSON result on stdout.
type ExecBackend struct {
	name string
	cmd  []string
	mu   sync.Mutex
}

type execSegment struct {
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

type execWord struct {
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Word    string `json:"word"`
}

type execResult struct {
	Text       string        `json:"text"`
	Language   string        `json:"language"`
	DurationMS int64         `json:"duration_ms"`
	Segments   []execSegment `json:"segments"`
	Words      []execWord    `json:"words"`
}

func NewExecBackend(cfg config.BackendConfig) (*ExecBackend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcriber command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcriber command is empty")
	}
	return &ExecBackend{name: cfg.Name, cmd: args}, nil
}

func (b *ExecBackend) Name() string { return b.name }
func (b *ExecBackend) Kind() string { return "exec" }

// Transcribe runs one invocation at a time; local models rarely tolerate
// concurrent use.
func (b *ExecBackend) Transcribe(ctx context.Context, audio Audio, opts Options) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "scribe_stt_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if _, err := file.Write(audio.WAV); err != nil {
		return Result{}, fmt.Errorf("write temp wav: %w", err)
	}
	if err := file.Sync(); err != nil {
		return Result{}, fmt.Errorf("sync temp wav: %w", err)
	}

	base := b.cmd[0]
	args := append([]string{}, b.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if opts.Language != "" && opts.Language != "auto" {
		args = append(args, "--language", opts.Language)
	}

	command := exec.CommandContext(ctx, base, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return Result{}, &BackendError{Service: b.name, Message: msg}
	}

	var decoded execResult
	if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
		return Result{}, fmt.Errorf("decode transcriber response: %w", err)
	}

	result := Result{
		Text:       strings.TrimSpace(decoded.Text),
		Language:   decoded.Language,
		DurationMS: decoded.DurationMS,
	}
	for _, s := range decoded.Segments {
		result.Segments = append(result.Segments, Segment{StartMS: s.StartMS, EndMS: s.EndMS, Text: s.Text})
	}
	for _, w := range decoded.Words {
		result.Words = append(result.Words, Word{StartMS: w.StartMS, EndMS: w.EndMS, Word: w.Word})
	}
	return result, nil
}
