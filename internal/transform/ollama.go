package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

type ollamaPolisher struct {
	endpoint    string
	model       string
	system      string
	maxTokens   int
	temperature float64
}

// NewOllamaPolisher polishes transcripts with a local Ollama model.
func NewOllamaPolisher(cfg config.PolishConfig) Polisher {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.2:latest"
	}
	system := cfg.Prompt
	if system == "" {
		system = defaultPolishPrompt
	}
	return &ollamaPolisher{
		endpoint:    endpoint,
		model:       model,
		system:      system,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (p *ollamaPolisher) Name() string { return "ollama" }

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (p *ollamaPolisher) Polish(ctx context.Context, text string) (string, error) {
	payload := ollamaRequest{
		Model:  p.model,
		Prompt: text,
		System: p.system,
		Stream: false,
		Options: ollamaOptions{
			Temperature: p.temperature,
			NumPredict:  p.maxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %s", resp.Status)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return out.Response, nil
}
