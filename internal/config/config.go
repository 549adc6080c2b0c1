package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envListenAddr        = "CS_LISTEN_ADDR"
	envLogLevel          = "CS_LOG_LEVEL"
	envLogFile           = "CS_LOG_FILE"
	envInstanceName      = "CS_INSTANCE_NAME"
	envServicesFile      = "CS_SERVICES_FILE"
	envSecretsFile       = "CS_SECRETS_FILE"
	envSecretsTTL        = "CS_SECRETS_TTL"
	envMonitorInterval   = "CS_MONITOR_INTERVAL"
	envStatePath         = "CS_STATE_PATH"
	envSlackWebhookURL   = "CS_SLACK_WEBHOOK_URL"
	envWebhookURL        = "CS_WEBHOOK_URL"
	envWebhookTemplate   = "CS_WEBHOOK_TEMPLATE"
	envDryRun            = "CS_DRY_RUN"
	envHealthPort        = "CS_HEALTH_PORT"
	envMetricsPort       = "CS_METRICS_PORT"
	envAllowedOrigins    = "CS_ALLOWED_ORIGINS"
	envCheckRateInterval = "CS_CHECK_RATE_INTERVAL"
	envCheckRateBurst    = "CS_CHECK_RATE_BURST"
	envDefaultTimeout    = "CS_DEFAULT_TIMEOUT"
)

const (
	defaultListenAddr        = ":8080"
	defaultLogLevel          = "info"
	defaultInstanceName      = "default"
	defaultSecretsTTL        = 5 * time.Minute
	defaultStatePath         = "data/state.json"
	defaultCheckRateInterval = time.Second
	defaultCheckRateBurst    = 5
	defaultTimeout           = 8 * time.Second
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	ListenAddr   string
	LogLevel     string
	LogFile      string
	InstanceName string

	ServicesFile string
	SecretsFile  string
	SecretsTTL   time.Duration

	// MonitorInterval of zero disables background monitoring.
	MonitorInterval time.Duration
	StatePath       string

	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	DryRun          bool

	HealthPort  int
	MetricsPort int

	AllowedOrigins    []string
	CheckRateInterval time.Duration
	CheckRateBurst    int
	DefaultTimeout    time.Duration
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:        defaultListenAddr,
		LogLevel:          defaultLogLevel,
		InstanceName:      defaultInstanceName,
		SecretsTTL:        defaultSecretsTTL,
		StatePath:         defaultStatePath,
		CheckRateInterval: defaultCheckRateInterval,
		CheckRateBurst:    defaultCheckRateBurst,
		DefaultTimeout:    defaultTimeout,
	}

	if value, ok := lookupTrimmed(envListenAddr); ok && value != "" {
		cfg.ListenAddr = value
	}
	if value, ok := lookupTrimmed(envLogLevel); ok && value != "" {
		cfg.LogLevel = strings.ToLower(value)
	}
	if value, ok := lookupTrimmed(envLogFile); ok {
		cfg.LogFile = value
	}
	if value, ok := lookupTrimmed(envInstanceName); ok && value != "" {
		cfg.InstanceName = value
	}
	if value, ok := lookupTrimmed(envServicesFile); ok {
		cfg.ServicesFile = value
	}
	if value, ok := lookupTrimmed(envSecretsFile); ok {
		cfg.SecretsFile = value
	}
	if value, ok := lookupTrimmed(envStatePath); ok && value != "" {
		cfg.StatePath = value
	}
	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}
	if value, ok := lookupTrimmed(envWebhookURL); ok {
		cfg.WebhookURL = value
	}
	if value, ok := lookupTrimmed(envWebhookTemplate); ok {
		cfg.WebhookTemplate = value
	}
	if value, ok := lookupTrimmed(envAllowedOrigins); ok {
		cfg.AllowedOrigins = splitList(value)
	}

	var err error
	if cfg.SecretsTTL, err = durationEnv(envSecretsTTL, cfg.SecretsTTL, false); err != nil {
		return Config{}, err
	}
	if cfg.MonitorInterval, err = durationEnv(envMonitorInterval, 0, true); err != nil {
		return Config{}, err
	}
	if cfg.CheckRateInterval, err = durationEnv(envCheckRateInterval, cfg.CheckRateInterval, true); err != nil {
		return Config{}, err
	}
	if cfg.DefaultTimeout, err = durationEnv(envDefaultTimeout, cfg.DefaultTimeout, false); err != nil {
		return Config{}, err
	}
	if cfg.CheckRateBurst, err = intEnv(envCheckRateBurst, cfg.CheckRateBurst, 1, 1000); err != nil {
		return Config{}, err
	}
	if cfg.HealthPort, err = intEnv(envHealthPort, 0, 0, 65535); err != nil {
		return Config{}, err
	}
	if cfg.MetricsPort, err = intEnv(envMetricsPort, 0, 0, 65535); err != nil {
		return Config{}, err
	}

	if value, ok := lookupTrimmed(envDryRun); ok && value != "" {
		dryRun, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envDryRun, err)
		}
		cfg.DryRun = dryRun
	}

	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("invalid %s: %q", envLogLevel, cfg.LogLevel)
	}

	if cfg.SlackWebhookURL != "" {
		if err := validateURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateURL(cfg.WebhookURL, envWebhookURL); err != nil {
			return Config{}, err
		}
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if err := validateURL(origin, envAllowedOrigins); err != nil {
			return Config{}, err
		}
	}

	if cfg.HealthPort != 0 && cfg.HealthPort == cfg.MetricsPort {
		return Config{}, errors.New("CS_HEALTH_PORT and CS_METRICS_PORT must differ")
	}

	return cfg, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func durationEnv(key string, fallback time.Duration, allowZero bool) (time.Duration, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < 0 || (parsed == 0 && !allowZero) {
		return 0, fmt.Errorf("%s must be greater than zero", key)
	}
	return parsed, nil
}

func intEnv(key string, fallback, lo, hi int) (int, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < lo || parsed > hi {
		return 0, fmt.Errorf("%s must be between %d and %d", key, lo, hi)
	}
	return parsed, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
