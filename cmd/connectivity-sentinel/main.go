package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/nholik/connectivity-sentinel/internal/checker"
	"github.com/nholik/connectivity-sentinel/internal/config"
	"github.com/nholik/connectivity-sentinel/internal/healthcheck"
	"github.com/nholik/connectivity-sentinel/internal/httpapi"
	"github.com/nholik/connectivity-sentinel/internal/logging"
	"github.com/nholik/connectivity-sentinel/internal/metrics"
	"github.com/nholik/connectivity-sentinel/internal/monitor"
	"github.com/nholik/connectivity-sentinel/internal/notify"
	"github.com/nholik/connectivity-sentinel/internal/probe"
	"github.com/nholik/connectivity-sentinel/internal/secrets"
	"github.com/nholik/connectivity-sentinel/internal/server"
	"github.com/nholik/connectivity-sentinel/internal/state"
	"github.com/nholik/connectivity-sentinel/internal/vendor"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	checkList := flag.String("check", "", "comma-separated services to probe once, or \"all\"; prints JSON and exits")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger, closer, err := logging.NewWithFile(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		return 1
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *checkList != "" {
		ok, err := runChecks(ctx, logger, cfg, *checkList, os.Stdout)
		if err != nil {
			logger.Error().Err(err).Msg("connectivity check failed")
			return 2
		}
		if !ok {
			return 1
		}
		return 0
	}

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error().Err(err).Msg("connectivity-sentinel exited with error")
		return 1
	}
	return 0
}

func buildChecker(ctx context.Context, logger zerolog.Logger, cfg config.Config, collector *metrics.Metrics) (*checker.Checker, *secrets.Cache, error) {
	source, err := config.LoadServices(ctx, cfg.ServicesFile, cfg.DefaultTimeout)
	if err != nil {
		return nil, nil, err
	}
	registry, err := vendor.DefaultRegistry().WithOverrides(source.Definitions)
	if err != nil {
		return nil, nil, fmt.Errorf("apply services file: %w", err)
	}
	if len(source.Definitions) > 0 {
		logger.Info().
			Int("overrides", len(source.Definitions)).
			Str("fingerprint", source.Fingerprint).
			Strs("services", registry.Names()).
			Msg("services file loaded")
	}

	resolver := secrets.Chain{secrets.SnapshotEnv()}
	var cache *secrets.Cache
	if cfg.SecretsFile != "" {
		cache = secrets.NewCache(
			secrets.NewFileSource(cfg.SecretsFile),
			cfg.SecretsTTL,
			secrets.WithLogger(logger.With().Str("component", "secrets").Logger()),
		)
		resolver = append(resolver, cache)
	}

	checks := checker.New(registry, resolver,
		checker.WithLogger(logger),
		checker.WithMetrics(collector),
		checker.WithDefaultTimeout(cfg.DefaultTimeout),
	)
	return checks, cache, nil
}

func run(parent context.Context, logger zerolog.Logger, cfg config.Config) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	logger.Info().
		Str("instance", cfg.InstanceName).
		Str("listen_addr", cfg.ListenAddr).
		Dur("monitor_interval", cfg.MonitorInterval).
		Bool("dry_run", cfg.DryRun).
		Msg("connectivity-sentinel starting")

	collector := metrics.New()
	checks, secretsCache, err := buildChecker(ctx, logger, cfg, collector)
	if err != nil {
		return err
	}

	api := httpapi.NewServer(checks,
		httpapi.WithLogger(logger.With().Str("component", "api").Logger()),
		httpapi.WithAllowedOrigins(cfg.AllowedOrigins),
		httpapi.WithCheckRate(cfg.CheckRateInterval, cfg.CheckRateBurst),
	)

	tracker := healthcheck.NewAPIOnlyTracker()
	var notifier notify.Notifier
	if cfg.MonitorInterval > 0 {
		tracker = healthcheck.NewTracker()
		if notifier, err = buildNotifier(logger, cfg); err != nil {
			return err
		}
	}

	servers := server.Start(ctx, logger, server.Config{
		ListenAddr:      cfg.ListenAddr,
		API:             api.Router(),
		Tracker:         tracker,
		MonitorInterval: cfg.MonitorInterval,
		Metrics:         collector,
		HealthPort:      cfg.HealthPort,
		MetricsPort:     cfg.MetricsPort,
	})

	var wg sync.WaitGroup
	if secretsCache != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := secrets.Watch(ctx, cfg.SecretsFile, secretsCache, logger); err != nil {
				logger.Warn().Err(err).Msg("secrets file watch disabled, relying on TTL refresh")
			}
		}()
	}
	if cfg.MonitorInterval > 0 {
		mon := monitor.New(logger.With().Str("component", "monitor").Logger(), cfg.MonitorInterval, checks,
			monitor.WithStateStore(state.NewFileStore(cfg.StatePath, logger), nil),
			monitor.WithNotifier(notifier),
			monitor.WithInstanceName(cfg.InstanceName),
			monitor.WithMetrics(collector),
			monitor.WithTracker(tracker),
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mon.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("monitor exited with error")
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-servers.Errors():
		cancel()
	}

	servers.Wait()
	wg.Wait()
	logger.Info().Msg("connectivity-sentinel stopped")
	return runErr
}

func buildNotifier(logger zerolog.Logger, cfg config.Config) (notify.Notifier, error) {
	webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, cfg.WebhookTemplate)
	if err != nil {
		return nil, err
	}

	var slack notify.Notifier
	if cfg.SlackWebhookURL != "" {
		slack = notify.NewSlackNotifier(logger, cfg.SlackWebhookURL)
	}

	multi := notify.NewMultiNotifier(slack, webhook)
	if multi.Len() == 0 {
		return notify.NewNoop(logger, "no alert destinations configured; transitions are only logged"), nil
	}
	if cfg.DryRun {
		return notify.NewDryRunNotifier(logger, multi), nil
	}
	return multi, nil
}

type checkOutput struct {
	Service  string       `json:"service"`
	Result   probe.Result `json:"result"`
	Guidance []string     `json:"guidance,omitempty"`
}

func runChecks(ctx context.Context, logger zerolog.Logger, cfg config.Config, list string, out io.Writer) (bool, error) {
	checks, _, err := buildChecker(ctx, logger, cfg, nil)
	if err != nil {
		return false, err
	}

	var names []string
	if strings.EqualFold(strings.TrimSpace(list), "all") {
		for _, def := range checks.Services() {
			names = append(names, def.Name)
		}
	} else {
		for _, name := range strings.Split(list, ",") {
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				names = append(names, name)
			}
		}
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	allOK := true
	for _, name := range names {
		report, err := checks.Check(ctx, name)
		if err != nil {
			return false, fmt.Errorf("%s: %w", name, err)
		}
		allOK = allOK && report.Result.OK
		if err := encoder.Encode(checkOutput{Service: name, Result: report.Result, Guidance: report.Guidance}); err != nil {
			return false, err
		}
	}
	return allOK, nil
}
