package probe

import (
	"net/http"
	"time"
)

// AuthKind identifies how credentials are attached to a probe request.
type AuthKind string

const (
	AuthNone             AuthKind = "none"
	AuthBearerToken      AuthKind = "bearer_token"
	AuthBasic            AuthKind = "basic_auth"
	AuthQueryParamSecret AuthKind = "query_param_secret"
)

// AuthMode is a tagged variant; only the fields relevant to Kind are read.
type AuthMode struct {
	Kind AuthKind
	// Token is the bearer token for AuthBearerToken.
	Token string
	// Credentials is the base64 "user:password" blob for AuthBasic.
	Credentials string
	// ParamName and ParamValue are used for AuthQueryParamSecret.
	ParamName  string
	ParamValue string
}

// Complete reports whether the mode carries all the material it needs.
func (m AuthMode) Complete() bool {
	switch m.Kind {
	case AuthNone, "":
		return true
	case AuthBearerToken:
		return m.Token != ""
	case AuthBasic:
		return m.Credentials != ""
	case AuthQueryParamSecret:
		return m.ParamName != "" && m.ParamValue != ""
	default:
		return false
	}
}

func (m AuthMode) kind() AuthKind {
	if m.Kind == "" {
		return AuthNone
	}
	return m.Kind
}

// Strategy controls how endpoints are attempted.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyConcurrent Strategy = "concurrent"
)

// RateLimitHeaders lists header aliases checked in order for each field.
type RateLimitHeaders struct {
	Limit     []string
	Remaining []string
	Reset     []string
}

// DefaultRateLimitHeaders covers the common X-RateLimit-* convention.
var DefaultRateLimitHeaders = RateLimitHeaders{
	Limit:     []string{"X-RateLimit-Limit"},
	Remaining: []string{"X-RateLimit-Remaining"},
	Reset:     []string{"X-RateLimit-Reset"},
}

// Config is the per-invocation input of a probe.
type Config struct {
	ServiceName string
	Endpoints   []string
	// Auth lists the auth modes on offer, most preferred first.
	Auth        []AuthMode
	Timeout     time.Duration
	RequiredEnv []string

	Method  string
	Body    []byte
	Headers http.Header

	RateLimitHeaders RateLimitHeaders
	// SuccessField names a top-level JSON boolean that must be true in a 2xx body.
	SuccessField string
	// ReachableStatuses prove the endpoint answered even though the probe is not ok.
	ReachableStatuses []int
	Strategy          Strategy

	// Problems are operator configuration faults found while assembling the
	// config. Each is reported as incomplete configuration, not rejected.
	Problems []string
}

// RateLimit is quota metadata advertised by the upstream.
type RateLimit struct {
	Limit     int        `json:"limit"`
	Remaining int        `json:"remaining"`
	ResetAt   *time.Time `json:"resetAt"`
}

// EnvState is the presence of a required configuration key.
type EnvState string

const (
	EnvPresent EnvState = "present"
	EnvMissing EnvState = "missing"
)

// Result is the normalized outcome of one probe invocation.
type Result struct {
	OK             bool                     `json:"ok"`
	HTTPStatus     *int                     `json:"httpStatus"`
	DurationMS     int64                    `json:"durationMs"`
	RequestID      string                   `json:"requestId"`
	Endpoint       string                   `json:"endpoint,omitempty"`
	TriedEndpoints []string                 `json:"triedEndpoints"`
	StatusCodes    map[string]AttemptStatus `json:"statusCodes"`
	AuthModeTried  AuthKind                 `json:"authModeTried,omitempty"`
	RateLimit      *RateLimit               `json:"rateLimit"`
	Errors         []string                 `json:"errors"`
	EnvPresence    map[string]EnvState      `json:"envPresence"`
	Reachable      bool                     `json:"reachable"`
}
