package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

// OpenAIBackend talks to the OpenAI audio transcription API, or any service
// exposing the same /v1/audio/transcriptions surface.
type OpenAIBackend struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	log     *slog.Logger
}

func NewOpenAIBackend(cfg config.BackendConfig, log *slog.Logger) *OpenAIBackend {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAIBackend{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
		log:     log.With(slog.String("component", "openai-backend"), slog.String("backend", cfg.Name)),
	}
}

func (b *OpenAIBackend) Name() string { return b.name }
func (b *OpenAIBackend) Kind() string { return "openai" }

type openAISegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type openAIWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type openAIResponse struct {
	Language string          `json:"language"`
	Duration float64         `json:"duration"`
	Text     string          `json:"text"`
	Segments []openAISegment `json:"segments"`
	Words    []openAIWord    `json:"words"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *OpenAIBackend) Transcribe(ctx context.Context, audio Audio, opts Options) (Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Result{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio.WAV); err != nil {
		return Result{}, fmt.Errorf("write form file: %w", err)
	}

	fields := map[string]string{
		"model":           b.model,
		"response_format": "verbose_json",
	}
	if opts.Language != "" && opts.Language != "auto" {
		fields["language"] = opts.Language
	}
	if opts.Prompt != "" {
		fields["prompt"] = opts.Prompt
	}
	if opts.Temperature > 0 {
		fields["temperature"] = fmt.Sprintf("%g", opts.Temperature)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return Result{}, fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	if opts.WordTimestamps {
		for _, g := range []string{"segment", "word"} {
			if err := writer.WriteField("timestamp_granularities[]", g); err != nil {
				return Result{}, fmt.Errorf("write form field: %w", err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/audio/transcriptions", body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	b.log.Debug("transcription request finished",
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return Result{}, &BackendError{Service: b.name, Message: openAIErrorMessage(respBody, resp.Status)}
	}

	var decoded openAIResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode transcription response: %w", err)
	}

	result := Result{
		Text:       strings.TrimSpace(decoded.Text),
		Language:   decoded.Language,
		DurationMS: secondsToMS(decoded.Duration),
	}
	for _, s := range decoded.Segments {
		result.Segments = append(result.Segments, Segment{
			StartMS: secondsToMS(s.Start),
			EndMS:   secondsToMS(s.End),
			Text:    strings.TrimSpace(s.Text),
		})
	}
	for _, w := range decoded.Words {
		result.Words = append(result.Words, Word{
			StartMS: secondsToMS(w.Start),
			EndMS:   secondsToMS(w.End),
			Word:    w.Word,
		})
	}
	return result, nil
}

// openAIErrorMessage digs the service's own message out of an error body,
// falling back to the raw body or HTTP status.
func openAIErrorMessage(body []byte, status string) string {
	var decoded openAIErrorResponse
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error.Message != "" {
		return decoded.Error.Message
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return status
}

func secondsToMS(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}
