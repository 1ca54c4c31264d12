package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Info describes one configured backend for listing.
type Info struct {
	Name    string
	Kind    string
	Primary bool
}

// Registry holds the configured backends and routes transcriptions to the
// primary one. The first backend configured becomes primary until an explicit
// choice is made.
type Registry struct {
	log   *slog.Logger
	meter metric.Meter
	gauge metric.Int64ObservableGauge

	mu       sync.RWMutex
	backends map[string]Backend
	primary  string
}

func NewRegistry(log *slog.Logger) *Registry {
	r := &Registry{
		log:      log.With(slog.String("component", "transcribe-registry")),
		meter:    otel.Meter("github.com/loqalabs/loqa-scribe/runtime"),
		backends: make(map[string]Backend),
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r
}

// Bootstrap configures every backend named in the config. It is called once
// at startup; later reconfiguration arrives through Configure.
func (r *Registry) Bootstrap(cfg config.TranscribeConfig, log *slog.Logger) error {
	for _, bc := range cfg.Backends {
		backend, err := NewBackend(bc, log)
		if err != nil {
			return fmt.Errorf("backend %q: %w", bc.Name, err)
		}
		r.Configure(backend, false)
	}
	if cfg.Primary != "" {
		if err := r.SetPrimary(cfg.Primary); err != nil {
			return err
		}
	}
	return nil
}

// NewBackend builds a backend from its configuration.
func NewBackend(cfg config.BackendConfig, log *slog.Logger) (Backend, error) {
	switch cfg.Kind {
	case "openai":
		return NewOpenAIBackend(cfg, log), nil
	case "google":
		return NewGoogleBackend(cfg, log), nil
	case "exec":
		return NewExecBackend(cfg)
	case "mock":
		return NewMockBackend(cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}

// Configure registers or replaces a backend. The first backend registered
// becomes primary; makePrimary promotes this one explicitly.
func (r *Registry) Configure(backend Backend, makePrimary bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := backend.Name()
	r.backends[name] = backend
	if makePrimary || r.primary == "" {
		r.primary = name
	}
	r.log.Info("backend configured",
		slog.String("backend", name),
		slog.String("kind", backend.Kind()),
		slog.Bool("primary", r.primary == name))
}

// SetPrimary selects the backend used for transcriptions.
func (r *Registry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnconfiguredBackend, name)
	}
	r.primary = name
	return nil
}

// Primary returns the backend transcriptions are routed to.
func (r *Registry) Primary() (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.primary == "" {
		return nil, ErrNoPrimaryBackend
	}
	backend, ok := r.backends[r.primary]
	if !ok {
		return nil, ErrNoPrimaryBackend
	}
	return backend, nil
}

// IsConfigured reports whether at least one backend can take transcriptions.
func (r *Registry) IsConfigured() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary != "" && len(r.backends) > 0
}

// Available lists the configured backends sorted by name.
func (r *Registry) Available() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.backends))
	for name, backend := range r.backends {
		out = append(out, Info{
			Name:    name,
			Kind:    backend.Kind(),
			Primary: name == r.primary,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PrimaryName returns the primary backend's name, or "" when unconfigured.
func (r *Registry) PrimaryName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary
}

// Transcribe dispatches audio to the primary backend.
func (r *Registry) Transcribe(ctx context.Context, audio Audio, opts Options) (Result, error) {
	backend, err := r.Primary()
	if err != nil {
		return Result{}, err
	}
	return backend.Transcribe(ctx, audio, opts)
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	gauge, err := r.meter.Int64ObservableGauge("scribe.backends.configured",
		metric.WithDescription("Number of configured transcription backends"))
	if err != nil {
		return err
	}
	r.gauge = gauge
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		r.mu.RLock()
		n := int64(len(r.backends))
		r.mu.RUnlock()
		obs.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	return err
}
