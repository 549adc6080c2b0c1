package probe

import "fmt"

// ConfigError reports a malformed Config. It is a contract violation by the
// caller, not a runtime condition, and is never folded into a Result.
type ConfigError struct {
	Service string
	Field   string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("invalid probe config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid probe config for %s: %s: %s", e.Service, e.Field, e.Reason)
}

func configErr(service, field, format string, args ...any) *ConfigError {
	return &ConfigError{Service: service, Field: field, Reason: fmt.Sprintf(format, args...)}
}
