package checker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nholik/connectivity-sentinel/internal/metrics"
	"github.com/nholik/connectivity-sentinel/internal/probe"
	"github.com/nholik/connectivity-sentinel/internal/secrets"
	"github.com/nholik/connectivity-sentinel/internal/vendor"
)

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int, headers map[string]string, body string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader(body))}
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestCheckUnknownService(t *testing.T) {
	c := New(vendor.DefaultRegistry(), secrets.EnvSource{})

	_, err := c.Check(context.Background(), "mailchimp")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownService))
}

func TestCheckSendGrid(t *testing.T) {
	var gotAuth string
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get("Authorization")
		return respond(http.StatusOK, map[string]string{
			"X-RateLimit-Limit":     "600",
			"X-RateLimit-Remaining": "599",
		}, `{"scopes":[]}`), nil
	})
	m := metrics.New()
	c := New(vendor.DefaultRegistry(), secrets.EnvSource{"SENDGRID_API_KEY": "SG.key"},
		WithHTTPClient(client), WithMetrics(m))

	report, err := c.Check(context.Background(), "sendgrid")
	require.NoError(t, err)

	assert.True(t, report.Result.OK)
	assert.Equal(t, "Bearer SG.key", gotAuth)
	assert.Equal(t, "SendGrid", report.Definition.Title())
	assert.Empty(t, report.Guidance)
	assert.Equal(t, map[string]probe.EnvState{"SENDGRID_API_KEY": probe.EnvPresent}, report.Result.EnvPresence)

	body := scrape(t, m)
	assert.Contains(t, body, `connectivity_probe_up{service="sendgrid"} 1`)
	assert.Contains(t, body, `connectivity_probe_attempts_total{outcome="2xx",service="sendgrid"} 1`)
	assert.Contains(t, body, `connectivity_probe_rate_limit_remaining{service="sendgrid"} 599`)
}

func TestCheckMissingConfigurationSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	client := doerFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return respond(http.StatusOK, nil, ""), nil
	})
	c := New(vendor.DefaultRegistry(), secrets.EnvSource{"FLUENTCRM_API_USERNAME": "api"}, WithHTTPClient(client))

	report, err := c.Check(context.Background(), "fluentcrm")
	require.NoError(t, err)

	assert.Zero(t, calls.Load())
	assert.False(t, report.Result.OK)
	assert.Equal(t, []string{"configuration incomplete: no endpoints configured"}, report.Result.Errors)
	assert.Equal(t, probe.EnvPresent, report.Result.EnvPresence["FLUENTCRM_API_USERNAME"])
	assert.Equal(t, probe.EnvMissing, report.Result.EnvPresence["FLUENTCRM_BASE_URL"])
	require.Len(t, report.Guidance, 2)
	assert.True(t, strings.HasPrefix(report.Guidance[0], "FLUENTCRM_BASE_URL: "))
	assert.True(t, strings.HasPrefix(report.Guidance[1], "FLUENTCRM_API_PASSWORD: "))
}

func TestCheckSlackBodyFailure(t *testing.T) {
	client := doerFunc(func(*http.Request) (*http.Response, error) {
		return respond(http.StatusOK, nil, `{"ok":false,"error":"token_revoked"}`), nil
	})
	c := New(vendor.DefaultRegistry(), secrets.EnvSource{"SLACK_BOT_TOKEN": "xoxb-1"}, WithHTTPClient(client))

	report, err := c.Check(context.Background(), "slack")
	require.NoError(t, err)

	assert.False(t, report.Result.OK)
	assert.Equal(t, []string{"slack: https://slack.com/api/auth.test returned 200 with ok=false (token_revoked)"}, report.Result.Errors)
}

func TestCheckMisconfiguredEnvIsReported(t *testing.T) {
	var calls atomic.Int32
	client := doerFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return respond(http.StatusOK, nil, ""), nil
	})
	c := New(vendor.DefaultRegistry(), secrets.EnvSource{
		"FLUENTCRM_BASE_URL":     "crm.example.com",
		"FLUENTCRM_API_USERNAME": "api",
		"FLUENTCRM_API_PASSWORD": "secret",
		"FLUENTCRM_TIMEOUT_MS":   "-5",
	}, WithHTTPClient(client))

	report, err := c.Check(context.Background(), "fluentcrm")
	require.NoError(t, err)

	assert.Zero(t, calls.Load())
	assert.False(t, report.Result.OK)
	assert.Equal(t, []string{
		"configuration incomplete: FLUENTCRM_TIMEOUT_MS must be a positive number of milliseconds, using 8s",
		"configuration incomplete: FLUENTCRM_BASE_URL is not an http(s) URL",
		"configuration incomplete: no endpoints configured",
	}, report.Result.Errors)
	require.Len(t, report.Guidance, 2)
	assert.True(t, strings.HasPrefix(report.Guidance[0], "FLUENTCRM_TIMEOUT_MS: value must be"))
	assert.True(t, strings.HasPrefix(report.Guidance[1], "FLUENTCRM_BASE_URL: value is not an http(s) URL"))
}

func TestCheckInvalidTimeoutStillProbes(t *testing.T) {
	c := New(vendor.DefaultRegistry(), secrets.EnvSource{
		"FLUENTCRM_BASE_URL":     "https://crm.example.com",
		"FLUENTCRM_API_USERNAME": "api",
		"FLUENTCRM_API_PASSWORD": "secret",
		"FLUENTCRM_TIMEOUT_MS":   "soon",
	}, WithHTTPClient(doerFunc(func(*http.Request) (*http.Response, error) {
		return respond(http.StatusOK, nil, "[]"), nil
	})))

	report, err := c.Check(context.Background(), "fluentcrm")
	require.NoError(t, err)

	assert.True(t, report.Result.OK)
	assert.Equal(t, []string{"configuration incomplete: FLUENTCRM_TIMEOUT_MS must be a positive number of milliseconds, using 8s"}, report.Result.Errors)
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "2xx", outcomeLabel(probe.StatusOf(204)))
	assert.Equal(t, "4xx", outcomeLabel(probe.StatusOf(404)))
	assert.Equal(t, "timeout", outcomeLabel(probe.MarkerOf(probe.MarkerTimeout)))
	assert.Equal(t, "unknown", outcomeLabel(probe.AttemptStatus{}))
}
