// Package runtime assembles and runs the scribe daemon: telemetry, the bus,
// the history store, transcription backends, output effects, the capture
// engine and the pipeline, plus the operational HTTP surface.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/history"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/output"
	"github.com/loqalabs/loqa-scribe/internal/pipeline"
	"github.com/loqalabs/loqa-scribe/internal/transcribe"
	"github.com/loqalabs/loqa-scribe/internal/transform"
)

type Runtime struct {
	cfg        config.Config
	log        *slog.Logger
	httpServer *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, log *slog.Logger) *Runtime {
	return &Runtime{
		cfg: cfg,
		log: log,
	}
}

// Start brings every component up, runs until ctx is cancelled, then shuts
// the stack down in reverse order. Assembly failures return immediately; the
// process is expected to exit on them.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.log)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	embedded, err := natsserver.Start(r.cfg.Bus, r.log)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	busClient, err := bus.Connect(busCfg, r.log)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	store, err := history.Open(ctx, r.cfg.History, r.log)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}

	registry := transcribe.NewRegistry(r.log)
	if err := registry.Bootstrap(r.cfg.Transcribe, r.log); err != nil {
		return fmt.Errorf("failed to configure transcription backends: %w", err)
	}

	out := output.NewCoordinator(r.cfg.Output, output.SystemClipboard{}, output.NewKeybdPaster(), output.BeeepNotifier{}, r.log)

	transformer, err := transform.NewEngine(r.cfg.Transform, r.log)
	if err != nil {
		return fmt.Errorf("failed to build transform engine: %w", err)
	}

	var driver capture.Driver
	if r.cfg.Capture.Driver == "mock" {
		driver = &capture.MockDriver{}
	} else {
		driver = capture.NewPortAudioDriver()
	}
	engine := capture.NewEngine(r.cfg.Capture, driver, r.log)
	if r.cfg.Capture.DeviceID >= 0 {
		if err := engine.SelectDevice(r.cfg.Capture.DeviceID); err != nil {
			r.log.Warn("configured capture device unavailable, using host default",
				slog.Int("device_id", r.cfg.Capture.DeviceID),
				slogError(err))
			_ = engine.SelectDevice(-1)
		}
	}

	pipe := pipeline.NewService(ctx, r.cfg, busClient, engine, registry, store, out, transformer, r.log)
	if err := pipe.Start(); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady(busClient, pipe))
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.log.Error("http server failed", slogError(err))
		}
	}()

	r.ready.Store(true)
	r.log.Info("scribe runtime started",
		slog.String("addr", addr),
		slog.String("capture_driver", r.cfg.Capture.Driver),
		slog.String("backend", registry.PrimaryName()))

	<-ctx.Done()
	r.log.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	pipe.Close()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.log.Error("http shutdown error", slogError(err))
	}
	r.wg.Wait()

	busClient.Close()
	embedded.Shutdown()
	if err := store.Close(); err != nil {
		r.log.Error("history store close error", slogError(err))
	}
	if err := driver.Close(); err != nil {
		r.log.Error("capture driver close error", slogError(err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.log.Error("telemetry shutdown error", slogError(err))
	}
	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(busClient *bus.Client, pipe *pipeline.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if r.ready.Load() && busClient.Healthy() && pipe.Healthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
