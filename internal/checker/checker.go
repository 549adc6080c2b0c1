package checker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/connectivity-sentinel/internal/metrics"
	"github.com/nholik/connectivity-sentinel/internal/probe"
	"github.com/nholik/connectivity-sentinel/internal/secrets"
	"github.com/nholik/connectivity-sentinel/internal/vendor"
)

const defaultTimeout = 8 * time.Second

// ErrUnknownService is returned when no definition is registered under a name.
var ErrUnknownService = errors.New("unknown service")

// Report is the outcome of checking one registered service.
type Report struct {
	Definition vendor.Definition
	Result     probe.Result
	// Guidance holds hints for required keys reported missing.
	Guidance []string
}

// Checker resolves vendor definitions and runs probes against them.
type Checker struct {
	registry       *vendor.Registry
	prober         *probe.Prober
	resolver       secrets.Resolver
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	defaultTimeout time.Duration
	client         probe.Doer
}

// Option customizes a Checker.
type Option func(*Checker)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// WithDefaultTimeout sets the per-attempt timeout for definitions without one.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *Checker) {
		if timeout > 0 {
			c.defaultTimeout = timeout
		}
	}
}

// WithHTTPClient overrides the probe transport.
func WithHTTPClient(client probe.Doer) Option {
	return func(c *Checker) {
		c.client = client
	}
}

// New constructs a Checker. resolver supplies both credentials and the
// presence report.
func New(registry *vendor.Registry, resolver secrets.Resolver, opts ...Option) *Checker {
	c := &Checker{
		registry:       registry,
		resolver:       resolver,
		logger:         zerolog.Nop(),
		defaultTimeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	probeOpts := []probe.Option{
		probe.WithEnv(resolver),
		probe.WithLogger(c.logger),
	}
	if c.client != nil {
		probeOpts = append(probeOpts, probe.WithClient(c.client))
	}
	c.prober = probe.New(probeOpts...)
	return c
}

// Services returns the registered definitions in order.
func (c *Checker) Services() []vendor.Definition {
	return c.registry.Definitions()
}

// Check probes the service registered under name.
func (c *Checker) Check(ctx context.Context, name string) (Report, error) {
	def, ok := c.registry.Get(name)
	if !ok {
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}

	cfg, problems := vendor.Build(def, c.resolver, c.defaultTimeout)
	if len(problems) > 0 {
		c.logger.Warn().
			Str("service", def.Name).
			Strs("problems", cfg.Problems).
			Msg("service configuration has problems")
	}

	res, err := c.prober.Probe(ctx, cfg)
	if err != nil {
		return Report{}, err
	}

	c.record(def.Name, res)
	return Report{
		Definition: def,
		Result:     res,
		Guidance:   vendor.Guidance(def, res.EnvPresence, problems),
	}, nil
}

func (c *Checker) record(service string, res probe.Result) {
	c.metrics.ObserveProbe(service, time.Duration(res.DurationMS)*time.Millisecond, res.OK)
	for _, endpoint := range res.TriedEndpoints {
		c.metrics.IncProbeAttempt(service, outcomeLabel(res.StatusCodes[endpoint]))
	}
	if res.RateLimit != nil {
		c.metrics.SetRateLimitRemaining(service, res.RateLimit.Remaining)
	}

	event := c.logger.Info()
	if !res.OK {
		event = c.logger.Warn()
	}
	if res.HTTPStatus != nil {
		event = event.Int("http_status", *res.HTTPStatus)
	}
	event.
		Str("service", service).
		Str("request_id", res.RequestID).
		Bool("ok", res.OK).
		Int64("duration_ms", res.DurationMS).
		Str("endpoint", res.Endpoint).
		Int("attempts", len(res.TriedEndpoints)).
		Strs("errors", res.Errors).
		Msg("connectivity probe finished")
}

// outcomeLabel collapses a status into a low-cardinality metric label.
func outcomeLabel(status probe.AttemptStatus) string {
	if !status.HasResponse() {
		if status.Marker == "" {
			return "unknown"
		}
		return status.Marker
	}
	return strconv.Itoa(status.Code/100) + "xx"
}
