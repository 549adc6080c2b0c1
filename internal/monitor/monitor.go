package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/connectivity-sentinel/internal/checker"
	"github.com/nholik/connectivity-sentinel/internal/healthcheck"
	"github.com/nholik/connectivity-sentinel/internal/metrics"
	"github.com/nholik/connectivity-sentinel/internal/notify"
	"github.com/nholik/connectivity-sentinel/internal/state"
	"github.com/nholik/connectivity-sentinel/internal/transition"
	"github.com/nholik/connectivity-sentinel/internal/vendor"
)

// Ticker is the minimal interface needed for driving the monitor loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Checks probes configured services.
type Checks interface {
	Check(ctx context.Context, name string) (checker.Report, error)
	Services() []vendor.Definition
}

// Monitor probes every configured service on an interval and alerts on
// status changes.
type Monitor struct {
	logger        zerolog.Logger
	interval      time.Duration
	tickerFactory func(time.Duration) Ticker
	runOnce       func(context.Context) error
	now           func() time.Time

	checks   Checks
	store    state.Store
	stateMu  *sync.Mutex
	notifier notify.Notifier
	instance string
	metrics  *metrics.Metrics
	tracker  *healthcheck.Tracker
}

// Option customizes monitor behavior.
type Option func(*Monitor)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(m *Monitor) {
		m.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(m *Monitor) {
		m.runOnce = runOnce
	}
}

// WithStateStore persists snapshots between cycles and restarts. The lock
// guards the load-modify-save sequence when the store is shared.
func WithStateStore(store state.Store, lock *sync.Mutex) Option {
	return func(m *Monitor) {
		m.store = store
		m.stateMu = lock
	}
}

// WithNotifier sets where transitions are delivered.
func WithNotifier(notifier notify.Notifier) Option {
	return func(m *Monitor) {
		m.notifier = notifier
	}
}

// WithInstanceName labels alerts with the sentinel instance.
func WithInstanceName(name string) Option {
	return func(m *Monitor) {
		m.instance = name
	}
}

// WithMetrics records cycle and alert metrics.
func WithMetrics(collector *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = collector
	}
}

// WithTracker reports cycles to the health endpoints.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(m *Monitor) {
		m.tracker = tracker
	}
}

// WithClock overrides the snapshot timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// New constructs a Monitor that probes through checks every interval.
func New(logger zerolog.Logger, interval time.Duration, checks Checks, opts ...Option) *Monitor {
	m := &Monitor{
		logger:   logger,
		interval: interval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		now:    time.Now,
		checks: checks,
	}
	m.runOnce = m.defaultRunOnce

	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = state.NewMemoryStore()
	}
	if m.stateMu == nil {
		m.stateMu = &sync.Mutex{}
	}

	return m
}

// Run starts the main loop and blocks until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		return errors.New("monitor interval must be greater than zero")
	}

	// Run immediately on startup
	if err := m.RunOnce(ctx); err != nil {
		m.logger.Error().Err(err).Msg("initial monitor cycle failed")
	}

	ticker := m.tickerFactory(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("monitor stopped")
			return nil
		case <-ticker.C():
			if err := m.RunOnce(ctx); err != nil {
				m.logger.Error().Err(err).Msg("monitor cycle failed")
			}
		}
	}
}

// RunOnce executes a single monitor cycle.
func (m *Monitor) RunOnce(ctx context.Context) error {
	return m.runOnce(ctx)
}

func (m *Monitor) defaultRunOnce(ctx context.Context) error {
	if m.checks == nil {
		return nil
	}
	started := time.Now()

	defs := m.checks.Services()
	titles := make(map[string]string, len(defs))
	current := make(map[string]state.ServiceSnapshot, len(defs))
	down := 0

	for _, def := range defs {
		titles[def.Name] = def.Title()

		report, err := m.checks.Check(ctx, def.Name)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var snap state.ServiceSnapshot
		if err != nil {
			m.logger.Error().Err(err).Str("service", def.Name).Msg("connectivity check could not run")
			snap = state.ServiceSnapshot{
				Status:    state.StatusDown,
				Errors:    []string{err.Error()},
				CheckedAt: m.now().UTC(),
			}
		} else {
			snap = state.SnapshotFromResult(report.Result, m.now())
		}
		if snap.Status == state.StatusDown {
			down++
		}
		current[def.Name] = snap
	}

	err := m.evaluateAndPersist(ctx, current, titles)

	duration := time.Since(started)
	m.metrics.ObserveCycleDuration(duration)
	m.tracker.RecordCycle(duration, len(defs), down)
	if err == nil {
		m.metrics.SetLastSuccessfulCycleTimestamp(m.now())
	}

	m.logger.Debug().
		Int("services", len(defs)).
		Int("down", down).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("monitor cycle finished")

	return err
}

func (m *Monitor) evaluateAndPersist(ctx context.Context, current map[string]state.ServiceSnapshot, titles map[string]string) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	previous, err := m.store.Load(ctx)
	if err != nil {
		return wrapRuntime("load state", err)
	}

	transitions := transition.DetectServiceTransitions(previous.Services, current)
	for i := range transitions {
		transitions[i].DisplayName = titles[transitions[i].Name]
		m.logTransition(transitions[i])
	}

	// Untouched services keep whatever was last delivered.
	for name, snap := range current {
		if prev, ok := previous.Services[name]; ok {
			snap.LastNotifiedStatus = prev.LastNotifiedStatus
			current[name] = snap
		}
	}

	var notifyErr error
	if len(transitions) > 0 && m.notifier != nil {
		notifyErr = m.notifier.Notify(ctx, m.instance, transitions)
	}

	for _, change := range transitions {
		snap := current[change.Name]
		switch {
		case notifyErr == nil:
			snap.LastNotifiedStatus = change.CurrentStatus
			m.metrics.IncAlertsTotal(change.Name, string(change.CurrentStatus))
		case change.PreviousStatus == "":
			// Never delivered: forget the service so the next cycle reports it again.
			delete(current, change.Name)
			continue
		default:
			snap.LastNotifiedStatus = change.PreviousStatus
		}
		current[change.Name] = snap
	}

	next := state.State{Services: current}
	if err := m.store.Save(ctx, next); err != nil {
		return errors.Join(wrapRuntime("notify", notifyErr), wrapRuntime("save state", err))
	}
	return wrapRuntime("notify", notifyErr)
}

func (m *Monitor) logTransition(change transition.ServiceTransition) {
	var event *zerolog.Event
	switch change.CurrentStatus {
	case state.StatusDown:
		event = m.logger.Error()
	case state.StatusDegraded:
		event = m.logger.Warn()
	default:
		event = m.logger.Info()
	}

	event = event.
		Str("service", change.Name).
		Str("previous_status", string(change.PreviousStatus)).
		Str("current_status", string(change.CurrentStatus)).
		Str("request_id", change.RequestID).
		Strs("errors", change.Errors)
	if change.HTTPStatus != nil {
		event = event.Int("http_status", *change.HTTPStatus)
	}
	event.Msg("service transition detected")
}
