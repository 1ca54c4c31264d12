package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Capture.SampleRate != 16000 || cfg.Capture.Channels != 1 {
		t.Fatalf("expected 16kHz mono capture defaults, got %d/%d", cfg.Capture.SampleRate, cfg.Capture.Channels)
	}
	if cfg.Capture.DeviceID != -1 {
		t.Fatalf("expected host-default device sentinel, got %d", cfg.Capture.DeviceID)
	}
	if !cfg.Output.AutoCopy || cfg.Output.AutoPaste {
		t.Fatalf("expected auto_copy on and auto_paste off by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCRIBE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SCRIBE_BUS_USERNAME", "alice")
	t.Setenv("SCRIBE_BUS_PASSWORD", "secret")
	t.Setenv("SCRIBE_BUS_TLS_INSECURE", "true")
	t.Setenv("SCRIBE_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("SCRIBE_CAPTURE_DRIVER", "mock")
	t.Setenv("SCRIBE_CAPTURE_DEVICE_ID", "2")
	t.Setenv("SCRIBE_TRANSCRIBE_LANGUAGE", "en")
	t.Setenv("SCRIBE_HISTORY_PATH", "./tmp.db")
	t.Setenv("SCRIBE_HISTORY_DEFAULT_LIMIT", "25")
	t.Setenv("SCRIBE_OUTPUT_AUTO_PASTE", "true")
	t.Setenv("SCRIBE_OUTPUT_PASTE_DELAY_MS", "250")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Capture.Driver != "mock" {
		t.Fatalf("expected capture driver override")
	}
	if cfg.Capture.DeviceID != 2 {
		t.Fatalf("expected device id override, got %d", cfg.Capture.DeviceID)
	}
	if cfg.Transcribe.Language != "en" {
		t.Fatalf("expected language override")
	}
	if cfg.History.Path != "./tmp.db" {
		t.Fatalf("expected history path override")
	}
	if cfg.History.DefaultLimit != 25 {
		t.Fatalf("expected history limit override")
	}
	if !cfg.Output.AutoPaste {
		t.Fatalf("expected auto paste override true")
	}
	if cfg.Output.PasteDelayMS != 250 {
		t.Fatalf("expected paste delay override, got %d", cfg.Output.PasteDelayMS)
	}
}

func TestLoadFileAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scribe.yaml")
	body := `
transcribe:
  primary: cloud
  backends:
    - name: cloud
      kind: openai
      api_key: sk-test
      model: whisper-1
    - name: local
      kind: exec
      command: "whisper-cli --json"
history:
  path: ` + filepath.Join(dir, "history.db") + `
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transcribe.Primary != "cloud" {
		t.Fatalf("expected primary cloud, got %q", cfg.Transcribe.Primary)
	}
	if len(cfg.Transcribe.Backends) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(cfg.Transcribe.Backends))
	}
}

func TestValidateRejectsUnknownBackendKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scribe.yaml")
	body := `
transcribe:
  backends:
    - name: bogus
      kind: telepathy
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown backend kind")
	}
}

func TestValidateRejectsPrimaryWithoutBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scribe.yaml")
	body := `
transcribe:
  primary: ghost
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for primary without backend entry")
	}
}
