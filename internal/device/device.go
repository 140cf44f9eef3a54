// Package device is the adapter's entry point. A Device owns one backend
// configuration and orchestrates translation, dispatch, shaping, and
// gradients for each execution request. Devices are stateless across
// calls except for the optional analytic result cache.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qadapt/qadapt/internal/backend"
	"github.com/qadapt/qadapt/internal/capability"
	"github.com/qadapt/qadapt/internal/circuit"
	"github.com/qadapt/qadapt/internal/dispatch"
	"github.com/qadapt/qadapt/internal/eventbus"
	"github.com/qadapt/qadapt/internal/events"
	"github.com/qadapt/qadapt/internal/execid"
	"github.com/qadapt/qadapt/internal/gradient"
	"github.com/qadapt/qadapt/internal/shape"
	"github.com/qadapt/qadapt/internal/translate"
)

// FallbackPolicy selects what happens when a gradient request hits a
// gate without a shift rule.
type FallbackPolicy string

const (
	// FallbackNone propagates the unsupported-gradient error.
	FallbackNone FallbackPolicy = "none"
	// FallbackFiniteDiff signals the host to use finite differences by
	// returning an error wrapping ErrFiniteDifferenceRequired. The adapter
	// never substitutes finite differences silently.
	FallbackFiniteDiff FallbackPolicy = "finite-diff"
)

// ErrFiniteDifferenceRequired marks a gradient the host must compute by
// finite differences.
var ErrFiniteDifferenceRequired = errors.New("gradient requires finite-difference fallback")

// Config is the construction-time device configuration.
type Config struct {
	// Backend is the execution target identifier, e.g. "sv1".
	Backend string
	// Endpoint is the service base URL. Unused when a backend is injected
	// or Backend is "local".
	Endpoint string
	// Shots per circuit evaluation; 0 requests analytic execution.
	Shots int
	// MaxBatch bounds circuits per dispatcher submission; 0 means 100.
	MaxBatch int
	// MaxParallel bounds in-flight tasks; 0 means the dispatcher default.
	MaxParallel int
	// PollInitial, PollMax, and PollTimeout tune result polling.
	PollInitial time.Duration
	PollMax     time.Duration
	PollTimeout time.Duration
	// CancelOnTimeout requests remote cancellation of timed-out tasks.
	CancelOnTimeout bool
	// EnableAnalyticCache reuses results of structurally identical
	// analytic circuits across calls. Never on by default: sampled
	// results are stochastic and must not be coalesced.
	EnableAnalyticCache bool
	// GradientFallback selects the unsupported-gradient policy.
	GradientFallback FallbackPolicy
}

// ConfigurationError reports an invalid device configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// Tape is the host framework's recorded operation sequence for one
// circuit execution, converted to the adapter's fixed data model.
type Tape struct {
	Wires        int                   `json:"wires"`
	Operations   []circuit.Operation   `json:"operations"`
	Measurements []circuit.Measurement `json:"measurements"`
}

// Device executes tapes against one configured backend.
type Device struct {
	cfg  Config
	dev  *capability.Descriptor
	back backend.Backend
	disp *dispatch.Dispatcher
	grad *gradient.Engine

	mu    sync.Mutex
	cache map[string]*backend.ResultSet
}

// Option customizes a Device.
type Option func(*Device)

// WithBackend injects the backend implementation, replacing the HTTP
// client built from Config.Endpoint.
func WithBackend(b backend.Backend) Option {
	return func(d *Device) { d.back = b }
}

// New validates cfg and builds a Device. Validation fails fast: a
// misconfigured device is never constructed.
func New(cfg Config, opts ...Option) (*Device, error) {
	dev, ok := capability.Lookup(cfg.Backend)
	if !ok {
		return nil, &ConfigurationError{Field: "backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
	if cfg.Shots < 0 {
		return nil, &ConfigurationError{Field: "shots", Reason: fmt.Sprintf("must be >= 0, got %d", cfg.Shots)}
	}
	if cfg.Shots == 0 && !dev.Analytic {
		return nil, &ConfigurationError{Field: "shots", Reason: fmt.Sprintf("backend %q does not support analytic execution", cfg.Backend)}
	}
	if cfg.MaxBatch < 0 {
		return nil, &ConfigurationError{Field: "max batch", Reason: fmt.Sprintf("must be >= 0, got %d", cfg.MaxBatch)}
	}
	if cfg.MaxBatch == 0 {
		cfg.MaxBatch = 100
	}
	switch cfg.GradientFallback {
	case "", FallbackNone:
		cfg.GradientFallback = FallbackNone
	case FallbackFiniteDiff:
	default:
		return nil, &ConfigurationError{Field: "gradient fallback", Reason: fmt.Sprintf("unknown policy %q", cfg.GradientFallback)}
	}

	d := &Device{cfg: cfg, dev: dev}
	for _, opt := range opts {
		opt(d)
	}
	if d.back == nil {
		switch {
		case cfg.Backend == "local":
			d.back = backend.NewMockBackend("local")
		case cfg.Endpoint != "":
			d.back = backend.NewClient(cfg.Backend, cfg.Endpoint)
		default:
			return nil, &ConfigurationError{Field: "endpoint", Reason: "required for remote backends"}
		}
	}
	d.disp = dispatch.New(d.back, dispatch.Config{
		MaxParallel:     cfg.MaxParallel,
		PollInitial:     cfg.PollInitial,
		PollMax:         cfg.PollMax,
		Timeout:         cfg.PollTimeout,
		CancelOnTimeout: cfg.CancelOnTimeout,
	})
	d.grad = gradient.New(d.disp, dev, cfg.MaxBatch)
	if cfg.EnableAnalyticCache {
		d.cache = make(map[string]*backend.ResultSet)
	}
	return d, nil
}

// Capabilities returns the device's capability descriptor.
func (d *Device) Capabilities() *capability.Descriptor { return d.dev }

// Execute runs one tape and returns one tensor per measurement.
func (d *Device) Execute(ctx context.Context, tape Tape) ([]shape.Tensor, error) {
	ctx, _ = execid.NewContext(ctx)
	c, err := d.build(tape)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	eventbus.Publish(ctx, events.ExecuteStart{
		Backend:      d.cfg.Backend,
		Shots:        c.Shots,
		Operations:   len(c.Operations),
		Measurements: len(c.Measurements),
	})
	tensors, err := d.execute(ctx, c)
	eventbus.Publish(ctx, events.ExecuteFinish{Backend: d.cfg.Backend, Err: err, Duration: time.Since(start)})
	return tensors, err
}

// ExecuteAndGradient runs one tape and computes the Jacobian of its
// expectation values with respect to the listed parameters (all
// parameters when params is nil).
func (d *Device) ExecuteAndGradient(ctx context.Context, tape Tape, params []int) ([]shape.Tensor, [][]float64, error) {
	ctx, _ = execid.NewContext(ctx)
	c, err := d.build(tape)
	if err != nil {
		return nil, nil, err
	}
	start := time.Now()
	eventbus.Publish(ctx, events.ExecuteStart{
		Backend:      d.cfg.Backend,
		Shots:        c.Shots,
		Operations:   len(c.Operations),
		Measurements: len(c.Measurements),
	})
	tensors, err := d.execute(ctx, c)
	if err != nil {
		eventbus.Publish(ctx, events.ExecuteFinish{Backend: d.cfg.Backend, Err: err, Duration: time.Since(start)})
		return nil, nil, err
	}
	jac, err := d.grad.Jacobian(ctx, c, params)
	if err != nil {
		var unsupported *gradient.UnsupportedGradientError
		if errors.As(err, &unsupported) && d.cfg.GradientFallback == FallbackFiniteDiff {
			err = fmt.Errorf("%w: %v", ErrFiniteDifferenceRequired, unsupported)
		}
	}
	eventbus.Publish(ctx, events.ExecuteFinish{Backend: d.cfg.Backend, Err: err, Duration: time.Since(start)})
	return tensors, jac, err
}

func (d *Device) build(tape Tape) (*circuit.Circuit, error) {
	return circuit.Build(tape.Operations, tape.Measurements, tape.Wires, d.cfg.Shots, d.dev)
}

func (d *Device) execute(ctx context.Context, c *circuit.Circuit) ([]shape.Tensor, error) {
	if rs, ok := d.cached(c); ok {
		return shape.Shape(rs, c)
	}
	prog, err := translate.BuildProgram(c, d.dev)
	if err != nil {
		return nil, err
	}
	tasks, err := d.disp.Submit(ctx, []backend.Spec{{Program: prog, Shots: c.Shots}})
	if err != nil {
		return nil, err
	}
	results := d.disp.Await(ctx, tasks)
	r := results[0]
	if r.Err != nil {
		return nil, r.Err
	}
	d.store(c, r.Result)
	return shape.Shape(r.Result, c)
}

// cached returns a previously stored analytic result for a structurally
// identical circuit. Sampled circuits are never cached.
func (d *Device) cached(c *circuit.Circuit) (*backend.ResultSet, bool) {
	if d.cache == nil || c.Shots != 0 {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	rs, ok := d.cache[c.Hash()]
	return rs, ok
}

func (d *Device) store(c *circuit.Circuit, rs *backend.ResultSet) {
	if d.cache == nil || c.Shots != 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cache[c.Hash()]; !ok {
		d.cache[c.Hash()] = rs
	}
}
