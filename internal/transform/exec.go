package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

type execPolisher struct {
	cmd         []string
	system      string
	maxTokens   int
	temperature float64
	mu          sync.Mutex
}

type execPolishInput struct {
	Text        string  `json:"text"`
	Prompt      string  `json:"prompt,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type execPolishOutput struct {
	Text string `json:"text"`
}

// NewExecPolisher wraps an external command that reads a JSON request on
// stdin and writes the rewritten text as JSON on stdout.
func NewExecPolisher(cfg config.PolishConfig) (Polisher, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse polish command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("polish command empty")
	}
	system := cfg.Prompt
	if system == "" {
		system = defaultPolishPrompt
	}
	return &execPolisher{
		cmd:         args,
		system:      system,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (p *execPolisher) Name() string { return "exec" }

func (p *execPolisher) Polish(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	input, err := json.Marshal(execPolishInput{
		Text:        text,
		Prompt:      p.system,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return "", err
	}

	base := p.cmd[0]
	args := append([]string{}, p.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("polish exec command failed: %w", err)
	}

	var resp execPolishOutput
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("decode polish exec response: %w", err)
	}
	return resp.Text, nil
}
