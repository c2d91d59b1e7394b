package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrUnavailable is returned by Require when no provider covers a kind and tier.
var ErrUnavailable = errors.New("capability unavailable")

type Kind string

const (
	KindSTT     Kind = "stt"
	KindGrammar Kind = "grammar"
)

const defaultProbeTimeout = 5 * time.Second

// ProbeFunc checks that a provider can serve requests.
type ProbeFunc func(ctx context.Context) error

// Provider describes one configured backend.
type Provider struct {
	Name  string
	Kind  Kind
	Tier  string
	Probe ProbeFunc
}

// Status is a provider plus the outcome of its last probe.
type Status struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Tier      string    `json:"tier,omitempty"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

type entry struct {
	provider Provider
	status   Status
}

// Registry tracks the providers available to this process.
type Registry struct {
	log          *slog.Logger
	probeTimeout time.Duration
	mu           sync.RWMutex
	entries      []*entry
	meter        metric.Meter
}

func NewRegistry(log *slog.Logger) *Registry {
	r := &Registry{
		log:          log.With(slog.String("component", "capability-registry")),
		probeTimeout: defaultProbeTimeout,
		meter:        otel.Meter("github.com/loqalabs/loqa-grammar/capability"),
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r
}

// Register adds p. Providers start healthy until probed.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &entry{
		provider: p,
		status:   Status{Name: p.Name, Kind: p.Kind, Tier: p.Tier, Healthy: true},
	})
}

// Probe runs every provider probe. Failures only mark the provider unhealthy
// and are logged; the pipeline absorbs per-file failures later.
func (r *Registry) Probe(ctx context.Context) {
	r.mu.RLock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.RUnlock()

	for _, e := range entries {
		var err error
		if e.provider.Probe != nil {
			probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
			err = e.provider.Probe(probeCtx)
			cancel()
		}

		r.mu.Lock()
		e.status.CheckedAt = time.Now().UTC()
		e.status.Healthy = err == nil
		e.status.Error = ""
		if err != nil {
			e.status.Error = err.Error()
		}
		r.mu.Unlock()

		if err != nil {
			r.log.Warn("provider probe failed",
				slog.String("name", e.provider.Name),
				slog.String("kind", string(e.provider.Kind)),
				slog.String("tier", e.provider.Tier),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.log.Debug("provider healthy", slog.String("name", e.provider.Name), slog.String("kind", string(e.provider.Kind)))
	}
}

// Require fails unless a provider of kind is registered for tier. An empty
// tier matches any provider of that kind.
func (r *Registry) Require(kind Kind, tier string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.provider.Kind == kind && (tier == "" || e.provider.Tier == tier) {
			return nil
		}
	}
	if tier == "" {
		return fmt.Errorf("%s: %w", kind, ErrUnavailable)
	}
	return fmt.Errorf("%s %s: %w", kind, tier, ErrUnavailable)
}

// Statuses returns a snapshot sorted by kind, tier, then name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Healthy reports whether every registered provider passed its last probe.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if !e.status.Healthy {
			return false
		}
	}
	return true
}

// ProbeFor derives a probe from what impl can report about itself: HTTP
// backends answer IsAvailable, command backends expose their Executable.
// Anything else is assumed healthy.
func ProbeFor(impl any) ProbeFunc {
	switch v := impl.(type) {
	case interface{ IsAvailable(context.Context) bool }:
		return func(ctx context.Context) error {
			if !v.IsAvailable(ctx) {
				return errors.New("health check failed")
			}
			return nil
		}
	case interface{ Executable() string }:
		return func(context.Context) error {
			_, err := exec.LookPath(v.Executable())
			return err
		}
	default:
		return nil
	}
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	total, err := r.meter.Int64ObservableGauge("loqa.grammar.providers", metric.WithDescription("Registered providers"))
	if err != nil {
		return err
	}
	healthy, err := r.meter.Int64ObservableGauge("loqa.grammar.providers.healthy", metric.WithDescription("Providers passing their last probe"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		for kind, counts := range r.snapshotCounts() {
			attrs := metric.WithAttributes(attribute.String("kind", string(kind)))
			obs.ObserveInt64(total, counts[0], attrs)
			obs.ObserveInt64(healthy, counts[1], attrs)
		}
		return nil
	}, total, healthy)
	return err
}

func (r *Registry) snapshotCounts() map[Kind][2]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Kind][2]int64)
	for _, e := range r.entries {
		c := counts[e.provider.Kind]
		c[0]++
		if e.status.Healthy {
			c[1]++
		}
		counts[e.provider.Kind] = c
	}
	return counts
}
