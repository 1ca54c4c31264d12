package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Capture     CaptureConfig   `yaml:"capture"`
	Transcribe  TranscribeConfig `yaml:"transcribe"`
	History     HistoryConfig   `yaml:"history"`
	Output      OutputConfig    `yaml:"output"`
	Transform   TransformConfig `yaml:"transform"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CaptureConfig struct {
	Driver      string `yaml:"driver"`
	DeviceID    int    `yaml:"device_id"`
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	ChunkFrames int    `yaml:"chunk_frames"`
}

type BackendConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Command string `yaml:"command"`
}

type TranscribeConfig struct {
	Primary        string          `yaml:"primary"`
	Language       string          `yaml:"language"`
	Prompt         string          `yaml:"prompt"`
	Temperature    float64         `yaml:"temperature"`
	WordTimestamps bool            `yaml:"word_timestamps"`
	Backends       []BackendConfig `yaml:"backends"`
}

type HistoryConfig struct {
	Path         string `yaml:"path"`
	DefaultLimit int    `yaml:"default_limit"`
}

type OutputConfig struct {
	AutoCopy     bool `yaml:"auto_copy"`
	AutoPaste    bool `yaml:"auto_paste"`
	PasteDelayMS int  `yaml:"paste_delay_ms"`
	Notify       bool `yaml:"notify"`
}

type ReplaceStep struct {
	Find    string `yaml:"find"`
	Replace string `yaml:"replace"`
}

type PolishConfig struct {
	Mode        string  `yaml:"mode"` // none, mock, ollama, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	Prompt      string  `yaml:"prompt"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type TransformConfig struct {
	Enabled bool          `yaml:"enabled"`
	Steps   []ReplaceStep `yaml:"steps"`
	Polish  PolishConfig  `yaml:"polish"`
}

func Default() Config {
	return Config{
		RuntimeName: "scribe-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			Driver:      "portaudio",
			DeviceID:    -1,
			SampleRate:  16000,
			Channels:    1,
			ChunkFrames: 320,
		},
		Transcribe: TranscribeConfig{
			Primary:     "",
			Language:    "auto",
			Temperature: 0,
		},
		History: HistoryConfig{
			Path:         "./data/scribe-history.db",
			DefaultLimit: 50,
		},
		Output: OutputConfig{
			AutoCopy:     true,
			AutoPaste:    false,
			PasteDelayMS: 100,
			Notify:       true,
		},
		Transform: TransformConfig{
			Enabled: false,
			Polish: PolishConfig{
				Mode:        "none",
				Endpoint:    "http://localhost:11434",
				Model:       "llama3.2:latest",
				MaxTokens:   256,
				Temperature: 0.2,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Capture.Driver, "SCRIBE_CAPTURE_DRIVER")
	overrideInt(&cfg.Capture.DeviceID, "SCRIBE_CAPTURE_DEVICE_ID")
	overrideInt(&cfg.Capture.SampleRate, "SCRIBE_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "SCRIBE_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.ChunkFrames, "SCRIBE_CAPTURE_CHUNK_FRAMES")
	overrideString(&cfg.Transcribe.Primary, "SCRIBE_TRANSCRIBE_PRIMARY")
	overrideString(&cfg.Transcribe.Language, "SCRIBE_TRANSCRIBE_LANGUAGE")
	overrideString(&cfg.Transcribe.Prompt, "SCRIBE_TRANSCRIBE_PROMPT")
	overrideFloat(&cfg.Transcribe.Temperature, "SCRIBE_TRANSCRIBE_TEMPERATURE")
	overrideBool(&cfg.Transcribe.WordTimestamps, "SCRIBE_TRANSCRIBE_WORD_TIMESTAMPS")
	overrideString(&cfg.History.Path, "SCRIBE_HISTORY_PATH")
	overrideInt(&cfg.History.DefaultLimit, "SCRIBE_HISTORY_DEFAULT_LIMIT")
	overrideBool(&cfg.Output.AutoCopy, "SCRIBE_OUTPUT_AUTO_COPY")
	overrideBool(&cfg.Output.AutoPaste, "SCRIBE_OUTPUT_AUTO_PASTE")
	overrideInt(&cfg.Output.PasteDelayMS, "SCRIBE_OUTPUT_PASTE_DELAY_MS")
	overrideBool(&cfg.Output.Notify, "SCRIBE_OUTPUT_NOTIFY")
	overrideBool(&cfg.Transform.Enabled, "SCRIBE_TRANSFORM_ENABLED")
	overrideString(&cfg.Transform.Polish.Mode, "SCRIBE_TRANSFORM_POLISH_MODE")
	overrideString(&cfg.Transform.Polish.Endpoint, "SCRIBE_TRANSFORM_POLISH_ENDPOINT")
	overrideString(&cfg.Transform.Polish.Command, "SCRIBE_TRANSFORM_POLISH_COMMAND")
	overrideString(&cfg.Transform.Polish.Model, "SCRIBE_TRANSFORM_POLISH_MODEL")

	// API keys are usually kept out of the config file.
	for i := range cfg.Transcribe.Backends {
		b := &cfg.Transcribe.Backends[i]
		if b.APIKey != "" {
			continue
		}
		if b.Kind == "openai" {
			overrideString(&b.APIKey, "OPENAI_API_KEY")
		}
		overrideString(&b.APIKey, "SCRIBE_BACKEND_API_KEY")
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Capture.Driver {
	case "portaudio", "mock":
	default:
		return errors.New("capture.driver must be one of portaudio|mock")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.ChunkFrames <= 0 {
		return errors.New("capture.chunk_frames must be positive")
	}
	if cfg.Transcribe.Temperature < 0 || cfg.Transcribe.Temperature > 1 {
		return errors.New("transcribe.temperature must be within [0, 1]")
	}
	names := make(map[string]bool, len(cfg.Transcribe.Backends))
	for _, b := range cfg.Transcribe.Backends {
		if b.Name == "" {
			return errors.New("transcribe.backends entries must have a name")
		}
		if names[b.Name] {
			return fmt.Errorf("transcribe.backends name %q is duplicated", b.Name)
		}
		names[b.Name] = true
		switch b.Kind {
		case "openai", "google", "exec", "mock":
		default:
			return fmt.Errorf("transcribe.backends kind must be one of openai|google|exec|mock, got %q", b.Kind)
		}
		if b.Kind == "exec" && b.Command == "" {
			return fmt.Errorf("transcribe backend %q: command must be set when kind=exec", b.Name)
		}
	}
	if cfg.Transcribe.Primary != "" && !names[cfg.Transcribe.Primary] {
		return fmt.Errorf("transcribe.primary %q has no matching backend entry", cfg.Transcribe.Primary)
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	if cfg.History.DefaultLimit <= 0 {
		return errors.New("history.default_limit must be >= 1")
	}
	if cfg.Output.PasteDelayMS < 0 {
		return errors.New("output.paste_delay_ms must be >= 0")
	}
	if cfg.Transform.Enabled {
		switch cfg.Transform.Polish.Mode {
		case "none", "mock", "ollama", "exec":
		default:
			return errors.New("transform.polish.mode must be one of none|mock|ollama|exec")
		}
		if cfg.Transform.Polish.Mode == "ollama" && cfg.Transform.Polish.Endpoint == "" {
			return errors.New("transform.polish.endpoint must be set when mode=ollama")
		}
		if cfg.Transform.Polish.Mode == "exec" && cfg.Transform.Polish.Command == "" {
			return errors.New("transform.polish.command must be set when mode=exec")
		}
	}
	return nil
}
