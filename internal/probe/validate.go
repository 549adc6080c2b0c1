package probe

import (
	"net/http"
	"net/url"
	"strings"
)

// Validate checks the shape of cfg. An empty endpoint list is valid; the
// probe reports it as incomplete configuration instead.
func Validate(cfg Config) error {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		return configErr("", "serviceName", "must not be empty")
	}
	if cfg.Timeout <= 0 {
		return configErr(name, "timeout", "must be greater than zero")
	}

	seen := make(map[string]bool, len(cfg.Endpoints))
	for i, endpoint := range cfg.Endpoints {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return configErr(name, "endpoints", "endpoint %d: %v", i, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return configErr(name, "endpoints", "endpoint %d: scheme must be http or https", i)
		}
		if parsed.Host == "" {
			return configErr(name, "endpoints", "endpoint %d: missing host", i)
		}
		if seen[endpoint] {
			return configErr(name, "endpoints", "duplicate endpoint %q", endpoint)
		}
		seen[endpoint] = true
	}

	for i, mode := range cfg.Auth {
		switch mode.kind() {
		case AuthNone, AuthBearerToken, AuthBasic, AuthQueryParamSecret:
		default:
			return configErr(name, "auth", "mode %d: unknown kind %q", i, mode.Kind)
		}
	}

	switch cfg.Strategy {
	case "", StrategySequential, StrategyConcurrent:
	default:
		return configErr(name, "strategy", "unknown strategy %q", cfg.Strategy)
	}

	if cfg.Method != "" && !validMethod(cfg.Method) {
		return configErr(name, "method", "unsupported method %q", cfg.Method)
	}

	for _, status := range cfg.ReachableStatuses {
		if status < 100 || status > 599 {
			return configErr(name, "reachableStatuses", "invalid status %d", status)
		}
	}

	return nil
}

func validMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions:
		return true
	}
	return false
}
