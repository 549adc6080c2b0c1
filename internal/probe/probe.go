package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const (
	// bodyReadLimit bounds how much of a response is read for SuccessField checks.
	bodyReadLimit = 64 << 10
	userAgent     = "connectivity-sentinel/1.0"
)

// Doer issues a single HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// EnvLookup resolves configuration keys for presence reporting.
type EnvLookup interface {
	Lookup(key string) (string, bool)
}

// Env is a fixed snapshot of configuration values.
type Env map[string]string

// Lookup implements EnvLookup.
func (e Env) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

// Prober runs connectivity probes. It holds no per-invocation state and is
// safe for concurrent use.
type Prober struct {
	client Doer
	env    EnvLookup
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// Option customizes a Prober.
type Option func(*Prober)

// WithClient overrides the HTTP transport.
func WithClient(client Doer) Option {
	return func(p *Prober) {
		p.client = client
	}
}

// WithEnv sets the configuration snapshot used for presence reporting.
func WithEnv(env EnvLookup) Option {
	return func(p *Prober) {
		p.env = env
	}
}

// WithLogger sets the logger used for per-attempt debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Prober) {
		p.logger = logger
	}
}

// WithClock overrides the time source (primarily for testing).
func WithClock(now func() time.Time) Option {
	return func(p *Prober) {
		p.now = now
	}
}

// WithRequestIDs overrides correlation ID generation (primarily for testing).
func WithRequestIDs(newID func() string) Option {
	return func(p *Prober) {
		p.newID = newID
	}
}

// New constructs a Prober. Without WithClient it uses NewHTTPClient.
func New(opts ...Option) *Prober {
	p := &Prober{
		logger: zerolog.Nop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = NewHTTPClient()
	}
	return p
}

// NewHTTPClient returns a client that never retries and relies on request
// contexts for deadlines. A probe is a single diagnostic snapshot.
func NewHTTPClient() *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	client.HTTPClient = &http.Client{}
	return client.StandardClient()
}

type attempt struct {
	endpoint  string
	status    AttemptStatus
	ok        bool
	reachable bool
	canceled  bool
	rateLimit *RateLimit
	err       string
}

// Probe runs cfg and returns a normalized Result. The only error returned is
// a *ConfigError for malformed input; every network or upstream failure is
// captured in Result.Errors.
func (p *Prober) Probe(ctx context.Context, cfg Config) (Result, error) {
	start := p.now()
	res := Result{
		RequestID:      p.newID(),
		TriedEndpoints: []string{},
		StatusCodes:    map[string]AttemptStatus{},
		Errors:         []string{},
		EnvPresence:    p.envPresence(cfg.RequiredEnv),
	}

	if err := Validate(cfg); err != nil {
		return Result{}, err
	}
	for _, problem := range cfg.Problems {
		res.Errors = append(res.Errors, "configuration incomplete: "+problem)
	}

	if len(cfg.Endpoints) == 0 {
		res.Errors = append(res.Errors, "configuration incomplete: no endpoints configured")
		return p.finish(res, start), nil
	}

	auth, ok := selectAuth(cfg.Auth)
	if !ok {
		res.Errors = append(res.Errors, "configuration incomplete: missing auth material for "+authKinds(cfg.Auth))
		return p.finish(res, start), nil
	}
	res.AuthModeTried = auth.kind()

	if cfg.Strategy == StrategyConcurrent {
		p.runConcurrent(ctx, cfg, auth, &res)
	} else {
		p.runSequential(ctx, cfg, auth, &res)
	}

	return p.finish(res, start), nil
}

func (p *Prober) finish(res Result, start time.Time) Result {
	elapsed := p.now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	res.DurationMS = elapsed.Milliseconds()
	return res
}

func (p *Prober) envPresence(keys []string) map[string]EnvState {
	presence := make(map[string]EnvState, len(keys))
	for _, key := range keys {
		presence[key] = EnvMissing
		if p.env == nil {
			continue
		}
		if value, ok := p.env.Lookup(key); ok && strings.TrimSpace(value) != "" {
			presence[key] = EnvPresent
		}
	}
	return presence
}

// runSequential tries endpoints in order under an outer deadline of
// timeout × len(endpoints). The first success stops the walk.
func (p *Prober) runSequential(ctx context.Context, cfg Config, auth AuthMode, res *Result) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout*time.Duration(len(cfg.Endpoints)))
	defer cancel()

	for _, endpoint := range cfg.Endpoints {
		a := p.attempt(ctx, cfg, auth, endpoint)
		record(res, a)
		if a.ok {
			res.OK = true
			res.RateLimit = a.rateLimit
			return
		}
	}
}

// runConcurrent starts every endpoint at once under an outer deadline of
// timeout. The first success cancels the others; those are recorded with the
// canceled marker and no error entry.
func (p *Prober) runConcurrent(ctx context.Context, cfg Config, auth AuthMode, res *Result) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	attempts := make([]attempt, len(cfg.Endpoints))
	winner := -1
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, endpoint := range cfg.Endpoints {
		wg.Add(1)
		go func(i int, endpoint string) {
			defer wg.Done()
			a := p.attempt(ctx, cfg, auth, endpoint)
			attempts[i] = a
			if a.ok {
				mu.Lock()
				if winner < 0 {
					winner = i
					cancel()
				}
				mu.Unlock()
			}
		}(i, endpoint)
	}
	wg.Wait()

	for i := range attempts {
		if winner >= 0 && i != winner && attempts[i].canceled {
			attempts[i].err = ""
		}
		record(res, attempts[i])
	}

	if winner >= 0 {
		won := attempts[winner]
		code := won.status.Code
		res.OK = true
		res.HTTPStatus = &code
		res.Endpoint = won.endpoint
		res.RateLimit = won.rateLimit
	}
}

func record(res *Result, a attempt) {
	res.TriedEndpoints = append(res.TriedEndpoints, a.endpoint)
	res.StatusCodes[a.endpoint] = a.status
	res.Endpoint = a.endpoint
	if a.status.HasResponse() {
		code := a.status.Code
		res.HTTPStatus = &code
	} else {
		res.HTTPStatus = nil
	}
	if a.reachable {
		res.Reachable = true
	}
	if a.err != "" {
		res.Errors = append(res.Errors, a.err)
	}
}

func (p *Prober) attempt(ctx context.Context, cfg Config, auth AuthMode, endpoint string) attempt {
	reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	out := attempt{endpoint: endpoint}
	started := p.now()

	req, err := newRequest(reqCtx, cfg, auth, endpoint)
	if err != nil {
		out.status = MarkerOf(MarkerTransportError)
		out.err = fmt.Sprintf("%s: %s request failed: %v", cfg.ServiceName, endpoint, err)
		return out
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.classifyTransport(ctx, reqCtx, cfg, err, &out)
		p.logAttempt(cfg, out, started)
		return out
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, bodyReadLimit))
		_ = resp.Body.Close()
	}()

	out.status = StatusOf(resp.StatusCode)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	out.reachable = success || slices.Contains(cfg.ReachableStatuses, resp.StatusCode)

	if success && cfg.SuccessField != "" {
		detail, ok := checkSuccessField(resp.Body, cfg.SuccessField)
		if !ok && reqCtx.Err() != nil {
			// The deadline hit mid-body; the attempt never produced a verdict.
			out.reachable = false
			p.classifyTransport(ctx, reqCtx, cfg, reqCtx.Err(), &out)
			p.logAttempt(cfg, out, started)
			return out
		}
		if !ok {
			success = false
			out.err = fmt.Sprintf("%s: %s returned %d with %s", cfg.ServiceName, endpoint, resp.StatusCode, detail)
		}
	}

	if success {
		out.ok = true
		out.rateLimit = ParseRateLimit(resp.Header, rateLimitAliases(cfg.RateLimitHeaders), p.now())
	} else if out.err == "" {
		out.err = fmt.Sprintf("%s: %s returned %d", cfg.ServiceName, endpoint, resp.StatusCode)
	}

	p.logAttempt(cfg, out, started)
	return out
}

func (p *Prober) classifyTransport(parent, reqCtx context.Context, cfg Config, err error, out *attempt) {
	cause := scrubURLError(err)

	switch {
	case errors.Is(parent.Err(), context.Canceled):
		out.status = MarkerOf(MarkerCanceled)
		out.canceled = true
		out.err = fmt.Sprintf("%s: %s request canceled", cfg.ServiceName, out.endpoint)
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded), isNetTimeout(err):
		out.status = MarkerOf(MarkerTimeout)
		out.err = fmt.Sprintf("%s: %s timed out after %dms", cfg.ServiceName, out.endpoint, cfg.Timeout.Milliseconds())
	default:
		out.status = MarkerOf(MarkerTransportError)
		out.err = fmt.Sprintf("%s: %s request failed: %v", cfg.ServiceName, out.endpoint, cause)
	}
}

func (p *Prober) logAttempt(cfg Config, a attempt, started time.Time) {
	p.logger.Debug().
		Str("service", cfg.ServiceName).
		Str("endpoint", a.endpoint).
		Str("status", a.status.String()).
		Bool("ok", a.ok).
		Int64("latency_ms", p.now().Sub(started).Milliseconds()).
		Msg("probe attempt finished")
}

func newRequest(ctx context.Context, cfg Config, auth AuthMode, endpoint string) (*http.Request, error) {
	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if auth.kind() == AuthQueryParamSecret {
		query := target.Query()
		query.Set(auth.ParamName, auth.ParamValue)
		target.RawQuery = query.Encode()
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader = http.NoBody
	if len(cfg.Body) > 0 {
		body = bytes.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	for key, values := range cfg.Headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if len(cfg.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	switch auth.kind() {
	case AuthBearerToken:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case AuthBasic:
		req.Header.Set("Authorization", "Basic "+auth.Credentials)
	}
	return req, nil
}

func selectAuth(modes []AuthMode) (AuthMode, bool) {
	if len(modes) == 0 {
		return AuthMode{Kind: AuthNone}, true
	}
	for _, mode := range modes {
		if mode.Complete() {
			return mode, true
		}
	}
	return AuthMode{}, false
}

func authKinds(modes []AuthMode) string {
	kinds := make([]string, 0, len(modes))
	for _, mode := range modes {
		kinds = append(kinds, string(mode.kind()))
	}
	return strings.Join(kinds, ", ")
}

func rateLimitAliases(h RateLimitHeaders) RateLimitHeaders {
	if len(h.Limit) == 0 {
		h.Limit = DefaultRateLimitHeaders.Limit
	}
	if len(h.Remaining) == 0 {
		h.Remaining = DefaultRateLimitHeaders.Remaining
	}
	if len(h.Reset) == 0 {
		h.Reset = DefaultRateLimitHeaders.Reset
	}
	return h
}

// checkSuccessField decodes a JSON object and reports whether field is true.
// On failure the returned detail describes what was found.
func checkSuccessField(body io.Reader, field string) (string, bool) {
	var payload map[string]any
	if err := json.NewDecoder(io.LimitReader(body, bodyReadLimit)).Decode(&payload); err != nil {
		return "unparseable body", false
	}
	value, ok := payload[field].(bool)
	if !ok {
		return field + " missing", false
	}
	if value {
		return "", true
	}
	detail := field + "=false"
	if reason, ok := payload["error"].(string); ok && reason != "" {
		detail += " (" + reason + ")"
	}
	return detail, false
}

// scrubURLError drops *url.Error wrappers, whose text repeats the request URL
// and with it any query-parameter secret.
func scrubURLError(err error) error {
	for {
		var urlErr *url.Error
		if !errors.As(err, &urlErr) {
			return err
		}
		err = urlErr.Err
	}
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
