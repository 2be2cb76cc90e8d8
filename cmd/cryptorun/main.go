package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptorun/internal/activitylog"
	"github.com/sawpanic/cryptorun/internal/adapter"
	"github.com/sawpanic/cryptorun/internal/archiver"
	"github.com/sawpanic/cryptorun/internal/breaker"
	"github.com/sawpanic/cryptorun/internal/config"
	"github.com/sawpanic/cryptorun/internal/durable"
	"github.com/sawpanic/cryptorun/internal/extract"
	httpserver "github.com/sawpanic/cryptorun/internal/interfaces/http"
	"github.com/sawpanic/cryptorun/internal/orchestrator"

	cachepkg "github.com/sawpanic/cryptorun/data/cache"
)

const (
	appName = "CryptoRun"
	version = "v3.2.1"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "cryptorun",
		Short:   "CryptoRun sentiment ingestion pipeline",
		Version: version,
		Long:    "CryptoRun ingests crypto-related social and news activity, extracts ticker mentions, scores sentiment, and raises cross-platform pump signals.",
	}

	rootCmd.PersistentFlags().String("sources", "config/sources.yaml", "path to the sources config file")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "Control the live ingestion pipeline",
	}

	liveStartCmd := &cobra.Command{
		Use:   "start",
		Short: "Start ingestion and serve the egress HTTP API until interrupted",
		RunE:  runLiveStart,
	}
	liveStartCmd.Flags().String("host", "127.0.0.1", "HTTP bind host")
	liveStartCmd.Flags().Int("port", 0, "HTTP bind port (0 = use HTTP_PORT env or default 8080)")
	liveStartCmd.Flags().Duration("archive-window", archiver.DefaultWindow, "archive aggregation window")
	liveStartCmd.Flags().String("postgres-dsn", "", "Postgres DSN for the archiver's durable store (optional)")
	liveStartCmd.Flags().String("redis-addr", "", "Redis address for the archiver's durable store fallback (optional)")
	liveStartCmd.Flags().String("providers", "", "path to a providers config overriding per-source poll interval and HTTP timeout (optional)")

	liveStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print ingestion status (reads from a running instance's HTTP API)",
		RunE:  runLiveStatus,
	}
	liveStatusCmd.Flags().String("addr", "http://127.0.0.1:8080", "address of a running cryptorun live instance")

	liveCmd.AddCommand(liveStartCmd, liveStatusCmd)

	breakerCmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect or control the trading circuit breaker of a running instance",
	}
	breakerCmd.PersistentFlags().String("addr", "http://127.0.0.1:8080", "address of a running cryptorun live instance")

	breakerStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print circuit breaker status",
		RunE:  runBreakerStatus,
	}
	breakerForceOpenCmd := &cobra.Command{
		Use:   "force-open",
		Short: "Force the circuit breaker open",
		RunE:  runBreakerAction("force_open"),
	}
	breakerForceCloseCmd := &cobra.Command{
		Use:   "force-close",
		Short: "Force the circuit breaker closed",
		RunE:  runBreakerAction("force_close"),
	}
	breakerEmergencyStopCmd := &cobra.Command{
		Use:   "emergency-stop",
		Short: "Trip the circuit breaker and latch it open until manually cleared",
		RunE:  runBreakerAction("emergency_stop"),
	}
	for _, c := range []*cobra.Command{breakerForceOpenCmd, breakerForceCloseCmd, breakerEmergencyStopCmd} {
		c.Flags().String("reason", "manual CLI action", "reason recorded on the transition")
	}
	breakerCmd.AddCommand(breakerStatusCmd, breakerForceOpenCmd, breakerForceCloseCmd, breakerEmergencyStopCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Alias for 'live start'",
		RunE:  runLiveStart,
	}
	serveCmd.Flags().AddFlagSet(liveStartCmd.Flags())

	rootCmd.AddCommand(liveCmd, breakerCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// runLiveStart builds the full ingestion pipeline (adapters, Activity
// Log, Correlator, Archiver, Circuit Breaker) and serves the egress
// HTTP API until SIGINT/SIGTERM.
func runLiveStart(cmd *cobra.Command, args []string) error {
	sourcesPath, _ := cmd.Flags().GetString("sources")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	archiveWindow, _ := cmd.Flags().GetDuration("archive-window")
	postgresDSN, _ := cmd.Flags().GetString("postgres-dsn")
	redisAddr, _ := cmd.Flags().GetString("redis-addr")
	providersPath, _ := cmd.Flags().GetString("providers")

	sourcesCfg, err := config.LoadSourcesConfig(sourcesPath)
	if err != nil {
		log.Warn().Err(err).Str("path", sourcesPath).Msg("no usable sources config, starting with zero adapters")
		sourcesCfg = &config.SourcesConfig{}
	}

	var providersCfg *config.ProvidersConfig
	if providersPath != "" {
		providersCfg, err = config.LoadProvidersConfig(providersPath)
		if err != nil {
			log.Warn().Err(err).Str("path", providersPath).Msg("could not load providers config, using source defaults")
			providersCfg = nil
		}
	}

	o := orchestrator.New(log.Logger)
	if err := o.Initialize(orchestrator.Config{}); err != nil {
		return fmt.Errorf("initialize orchestrator: %w", err)
	}

	adapters := buildAdapters(sourcesCfg, providersCfg, o.Log(), o.Registry())
	if err := o.SetAdapters(adapters); err != nil {
		return fmt.Errorf("attach adapters: %w", err)
	}
	log.Info().Int("adapter_count", len(adapters)).Msg("adapters configured")

	b := breaker.New(breaker.DefaultConfig())

	arch := archiver.New(archiver.Config{
		Window: archiveWindow,
		TopN:   10,
		Writer: buildArchiveWriter(postgresDSN, redisAddr),
	}, o.Log(), log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := o.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	go runArchiveLoop(ctx, arch, archiveWindow)

	serverCfg := httpserver.DefaultServerConfig()
	if host != "" {
		serverCfg.Host = host
	}
	if port > 0 {
		serverCfg.Port = port
	}

	server, err := httpserver.NewServer(serverCfg, o, o.Log(), b, log.Logger)
	if err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	log.Info().Str("addr", server.GetAddress()).Msg("cryptorun live: ingestion running")
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown error")
	}

	if err := o.Stop(); err != nil {
		log.Warn().Err(err).Msg("orchestrator stop error")
	}
	return nil
}

// runArchiveLoop periodically snapshots the Activity Log window into
// durable storage until ctx is cancelled.
func runArchiveLoop(ctx context.Context, arch *archiver.Archiver, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := arch.Run(ctx); err != nil {
				log.Error().Err(err).Msg("archive run failed")
			}
		}
	}
}

// buildArchiveWriter assembles the Postgres-primary/Redis-secondary/
// in-memory-fallback chain, skipping stages whose backing store was not
// configured.
func buildArchiveWriter(postgresDSN, redisAddr string) durable.Writer {
	var writers []durable.Writer
	var configs []archiver.FallbackConfig

	if postgresDSN != "" {
		db, err := sqlx.Connect("postgres", postgresDSN)
		if err != nil {
			log.Warn().Err(err).Msg("could not connect to postgres, skipping as archive primary")
		} else {
			writers = append(writers, archiver.NewPostgresWriter(db, 5*time.Second))
			configs = append(configs, archiver.DefaultFallbackConfig("archive-postgres"))
		}
	}

	if redisAddr != "" {
		writers = append(writers, cachepkg.NewRedisWriter(redisAddr))
		configs = append(configs, archiver.DefaultFallbackConfig("archive-redis"))
	}

	writers = append(writers, archiver.NoopWriter{})
	configs = append(configs, archiver.DefaultFallbackConfig("archive-noop"))

	return archiver.NewFallbackWriter(writers, configs, log.Logger)
}

// buildAdapters constructs one adapter per enabled source in cfg. When
// providers is non-nil, a matching entry (keyed by source kind) overrides
// the poll interval (derived from its rps) and the HTTP request timeout
// (its circuit timeout_ms); a provider explicitly disabled there takes precedence and
// skips the source even if cfg marks it enabled.
func buildAdapters(cfg *config.SourcesConfig, providers *config.ProvidersConfig, alog *activitylog.Log, registry *extract.Registry) []adapter.Adapter {
	var out []adapter.Adapter
	for kind, spec := range cfg.Sources {
		if !spec.Enabled {
			continue
		}
		if providers != nil && !providers.IsProviderEnabled(string(kind)) {
			if _, ok := providers.GetProvider(string(kind)); ok {
				log.Info().Str("kind", string(kind)).Msg("provider disabled via providers config, skipping")
				continue
			}
		}

		pollMs, httpClient := tuneFromProvider(providers, string(kind))
		pollInterval := spec.PollInterval(0)
		if pollMs > 0 {
			pollInterval = time.Duration(pollMs) * time.Millisecond
		}

		switch kind {
		case config.SourceKindRSS:
			if spec.RSS == nil {
				continue
			}
			out = append(out, adapter.NewRSSAdapter(adapter.RSSConfig{
				FeedURL:      spec.RSS.FeedURL,
				PollInterval: pollInterval,
				HTTPClient:   httpClient,
			}, alog, registry))
		case config.SourceKindTwitter:
			if spec.Twitter == nil {
				continue
			}
			rules := make([]adapter.TwitterRule, 0, len(spec.Twitter.Rules))
			for _, r := range spec.Twitter.Rules {
				rules = append(rules, adapter.TwitterRule{Value: r.Value, Tag: r.Tag})
			}
			out = append(out, adapter.NewTwitterAdapter(adapter.TwitterConfig{
				Bearer:     spec.ResolveCredential(spec.Twitter.BearerEnvVar, config.EnvTwitterBearerToken),
				Rules:      rules,
				StreamURL:  spec.Twitter.StreamURL,
				TestWSURL:  spec.Twitter.TestWSURL,
				HTTPClient: httpClient,
			}, alog, registry))
		case config.SourceKindCryptoPanic:
			if spec.CryptoPanic == nil {
				continue
			}
			out = append(out, adapter.NewCryptoPanicAdapter(adapter.CryptoPanicConfig{
				APIKey:       spec.ResolveCredential(spec.CryptoPanic.APIKeyEnvVar, config.EnvCryptoPanicAPIKey),
				BaseURL:      spec.CryptoPanic.BaseURL,
				PollInterval: pollInterval,
				HTTPClient:   httpClient,
			}, alog, registry))
		case config.SourceKindLunarCrush:
			if spec.LunarCrush == nil {
				continue
			}
			out = append(out, adapter.NewLunarCrushAdapter(adapter.LunarCrushConfig{
				APIKey:       spec.ResolveCredential(spec.LunarCrush.APIKeyEnvVar, config.EnvLunarCrushAPIKey),
				BaseURL:      spec.LunarCrush.BaseURL,
				PollInterval: pollInterval,
				HTTPClient:   httpClient,
			}, alog, registry))
		case config.SourceKindPushshift:
			if spec.Pushshift == nil {
				continue
			}
			out = append(out, adapter.NewPushshiftAdapter(adapter.PushshiftConfig{
				BaseURL:      spec.Pushshift.BaseURL,
				Subreddits:   spec.Pushshift.Subreddits,
				PollInterval: pollInterval,
				HTTPClient:   httpClient,
			}, alog, registry))
		default:
			log.Warn().Str("kind", string(kind)).Msg("unknown source kind, skipping")
		}
	}
	return out
}

// tuneFromProvider looks up a providers-config entry matching kind and
// returns the poll interval (in ms, 0 meaning "use the source's own
// default") and an HTTP client sized to its request timeout. Falls back
// to a bare default client when no matching provider entry exists.
func tuneFromProvider(providers *config.ProvidersConfig, kind string) (int, *http.Client) {
	if providers == nil {
		return 0, &http.Client{Timeout: 30 * time.Second}
	}
	p, ok := providers.GetProvider(kind)
	if !ok {
		return 0, &http.Client{Timeout: 30 * time.Second}
	}

	pollMs := 0
	if p.RPS > 0 {
		pollMs = int(time.Second / time.Duration(p.RPS) / time.Millisecond)
	}
	return pollMs, &http.Client{Timeout: p.GetRequestTimeout()}
}
