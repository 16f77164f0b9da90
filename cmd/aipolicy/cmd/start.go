package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/Sentinel-Gate/aipolicy/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/aipolicy/internal/adapter/inbound/rpc"
	"github.com/Sentinel-Gate/aipolicy/internal/adapter/inbound/stdio"
	"github.com/Sentinel-Gate/aipolicy/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/aipolicy/internal/adapter/outbound/memory"
	notifysink "github.com/Sentinel-Gate/aipolicy/internal/adapter/outbound/notify"
	"github.com/Sentinel-Gate/aipolicy/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/aipolicy/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/aipolicy/internal/config"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/audit"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/notify"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/aipolicy/internal/service"
	"github.com/Sentinel-Gate/aipolicy/internal/telemetry"
)

var (
	devMode   bool
	stdioMode bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the aipolicy server",
	Long: `Start the policy engine and serve JSON-RPC over HTTP.

On first start the configured policy.owner becomes the owner and
policy.oracle the AI oracle. Later starts restore roles and parameters
from state.json.

With --stdio the engine reads newline-delimited JSON-RPC from stdin and
writes replies to stdout, attributing every message to stdio.caller.

Example:
  aipolicy start
  aipolicy start --dev
  aipolicy --config /etc/aipolicy/aipolicy.yaml start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode (dev identities, debug logging)")
	startCmd.Flags().BoolVar(&stdioMode, "stdio", false, "serve JSON-RPC on stdin/stdout instead of HTTP")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}
	if cfg.DevMode {
		cfg.SetDevDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer cancel()

	logger := newLogger(os.Stderr, cfg.Server.LogFormat, parseLogLevel(cfg.Server.LogLevel))

	if cfg.DevMode {
		logger.Warn("development mode enabled, dev API keys are active",
			"owner_key", "dev-api-key", "oracle_key", "dev-oracle-key")
	}
	if used := config.ConfigFileUsed(); used != "" {
		logger.Info("loaded config", "file", used)
	}

	if !stdioMode {
		pidPath := pidFilePath()
		if err := writePIDFile(pidPath); err != nil {
			logger.Warn("failed to write PID file", "path", pidPath, "error", err)
		} else {
			defer os.Remove(pidPath)
		}
	}

	return run(ctx, cfg, resolveStatePath(cfg), logger)
}

func run(ctx context.Context, cfg *config.Config, statePath string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		Version:        Version,
		Output:         os.Stderr,
		MetricInterval: parseDurationOr(cfg.Telemetry.MetricInterval, 60*time.Second),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := httptransport.NewMetrics(reg)

	trail, err := openAuditLog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := trail.Close(); err != nil {
			logger.Warn("audit trail close failed", "error", err)
		}
	}()

	roles := memory.NewRoleStore()
	params := memory.NewParameterStore()
	recent := memory.NewNotificationBuffer(cfg.Notifications.BufferSize)

	sinks, closers, err := buildSinks(cfg.Notifications, recent, reg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("notification sink close failed", "error", err)
			}
		}
	}()

	notifications := service.NewNotificationService(logger, sinks,
		service.WithChannelSize(cfg.Notifications.ChannelSize),
		service.WithSendTimeout(parseDurationOr(cfg.Notifications.SendTimeout, 100*time.Millisecond)),
		service.WithWarningThreshold(cfg.Notifications.WarningThreshold),
		service.WithDropObserver(func(k notify.Kind) {
			metrics.NotificationDrops.WithLabelValues(string(k)).Inc()
		}),
	)
	notifications.Start(ctx)
	defer notifications.Stop()

	syncer := service.NewStateSync(state.NewFileStateStore(statePath, logger), roles, params, logger)

	countOp, err := telemetry.OperationCounter(telemetry.Meter("github.com/Sentinel-Gate/aipolicy"))
	if err != nil {
		return fmt.Errorf("init operation counter: %w", err)
	}

	engine := service.NewPolicyEngine(roles, params, trail, notifications, logger,
		service.WithCommitHook(syncer.Save),
		service.WithOperationObserver(func(op, outcome string) {
			metrics.PolicyDecisions.WithLabelValues(op, outcome).Inc()
			countOp(op, outcome)
		}),
	)

	promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: "aipolicy",
		Name:      "state_save_failures_total",
		Help:      "Total failed state snapshot saves after committed operations",
	}, func() float64 {
		n, _ := engine.CommitStatus()
		return float64(n)
	})

	if err := bootstrap(ctx, engine, syncer, cfg, logger); err != nil {
		return err
	}

	dispatcher := rpc.NewDispatcher(engine, recent, logger,
		rpc.WithMethodObserver(func(method, outcome string) {
			metrics.RPCCalls.WithLabelValues(method, outcome).Inc()
		}),
	)

	g, gctx := errgroup.WithContext(ctx)

	if stdioMode {
		transport := stdio.NewStdioTransport(dispatcher, auth.Identity(cfg.Stdio.Caller), stdio.WithLogger(logger))
		g.Go(func() error {
			return transport.Start(gctx)
		})
		logger.Info("aipolicy serving on stdio", "caller", cfg.Stdio.Caller)
		return waitGroup(g, logger)
	}

	authenticator, err := buildAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}

	limiter := memory.NewRateLimiterWithConfig(logger,
		parseDurationOr(cfg.Server.RateLimit.CleanupInterval, 5*time.Minute),
		parseDurationOr(cfg.Server.RateLimit.MaxTTL, time.Hour))
	limiter.StartCleanup(gctx)
	defer limiter.Stop()

	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.RateLimitKeys.Set(float64(limiter.Size()))
			}
		}
	})

	opts := []httptransport.Option{
		httptransport.WithAddr(cfg.Server.HTTPAddr),
		httptransport.WithLogger(logger),
		httptransport.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		httptransport.WithAuthenticator(authenticator),
		httptransport.WithMetrics(reg, metrics),
		httptransport.WithHealthChecker(httptransport.NewHealthChecker(engine, limiter, notifications, Version)),
		httptransport.WithRateLimit(limiter, rateLimitConfig(cfg.Server.RateLimit)),
	}
	if cfg.Server.CertFile != "" {
		opts = append(opts, httptransport.WithTLS(cfg.Server.CertFile, cfg.Server.KeyFile))
	}
	transport := httptransport.NewHTTPTransport(dispatcher, opts...)

	g.Go(func() error {
		return transport.Start(gctx)
	})

	logger.Info("aipolicy ready",
		"addr", cfg.Server.HTTPAddr,
		"owner", engine.GetParameters(ctx).Owner,
		"audit", cfg.Audit.Backend,
		"state", statePath,
	)
	return waitGroup(g, logger)
}

func waitGroup(g *errgroup.Group, logger *slog.Logger) error {
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("aipolicy stopped")
	return nil
}

// bootstrap restores state.json, or initializes a fresh engine with the
// configured owner and oracle.
func bootstrap(ctx context.Context, engine *service.PolicyEngine, syncer *service.StateSync, cfg *config.Config, logger *slog.Logger) error {
	restored, err := syncer.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	if restored && engine.GetParameters(ctx).Owner != "" {
		logger.Info("state restored", "owner", engine.GetParameters(ctx).Owner)
		return nil
	}
	owner := auth.Identity(cfg.Policy.Owner)
	if err := engine.Init(ctx, owner, auth.Identity(cfg.Policy.Oracle)); err != nil {
		return fmt.Errorf("initialize policy: %w", err)
	}
	logger.Info("policy initialized", "owner", cfg.Policy.Owner, "oracle", cfg.Policy.Oracle)
	return nil
}

func openAuditLog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.AuditLog, error) {
	path := cfg.SQLitePath()
	if path == "" {
		return memory.NewAuditLog(), nil
	}
	trail, err := sqlite.Open(ctx, path, logger)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	if err := trail.Verify(ctx); err != nil {
		_ = trail.Close()
		return nil, fmt.Errorf("audit trail %s failed verification: %w", path, err)
	}
	return trail, nil
}

// buildSinks returns the notification fan-out: the recent buffer, the
// per-kind counter, and every configured output. File outputs warm the
// recent buffer from disk.
func buildSinks(cfg config.NotificationsConfig, recent *memory.NotificationBuffer, reg prometheus.Registerer, logger *slog.Logger) ([]notify.Sink, []io.Closer, error) {
	sinks := []notify.Sink{recent, notifysink.NewMetricsSink(reg)}
	var closers []io.Closer

	var eval *cel.Evaluator
	for i, out := range cfg.Outputs {
		var sink notify.Sink
		switch out.Type {
		case "log":
			sink = notifysink.NewLogSink(logger, slog.LevelInfo)
		case "file":
			fs, err := notifysink.NewFileSink(notifysink.FileConfig{
				Dir:           out.Dir,
				RetentionDays: out.RetentionDays,
				MaxFileSizeMB: out.MaxFileSizeMB,
			}, logger)
			if err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("notification output %d: %w", i, err)
			}
			closers = append(closers, fs)
			warm, err := fs.LoadRecent(cfg.BufferSize)
			if err != nil {
				logger.Warn("failed to load recent notifications", "dir", out.Dir, "error", err)
			}
			for _, n := range warm {
				_ = recent.Emit(context.Background(), n)
			}
			sink = fs
		case "redis":
			rs := notifysink.NewRedisSink(out.Addr, out.Password, out.DB, out.Channel)
			closers = append(closers, rs)
			sink = rs
		default:
			closeAll(closers)
			return nil, nil, fmt.Errorf("notification output %d: unknown type %q", i, out.Type)
		}

		if out.Filter != "" {
			if eval == nil {
				var err error
				if eval, err = cel.NewEvaluator(); err != nil {
					closeAll(closers)
					return nil, nil, fmt.Errorf("notification filter: %w", err)
				}
			}
			filtered, err := notifysink.NewFilteredSink(eval, out.Filter, sink)
			if err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("notification output %d filter: %w", i, err)
			}
			sink = filtered
		}
		sinks = append(sinks, sink)
	}
	return sinks, closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

// buildAuthenticator loads identities and key hashes into an in-memory
// store. Bearer JWTs are accepted when a secret is configured.
func buildAuthenticator(cfg config.AuthConfig) (*auth.Authenticator, error) {
	store := loadAuthStore(cfg)

	var tokens *auth.TokenVerifier
	if cfg.JWT.Secret != "" {
		var err error
		if tokens, err = auth.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer); err != nil {
			return nil, fmt.Errorf("jwt: %w", err)
		}
	}
	return auth.NewAuthenticator(store, tokens), nil
}

func loadAuthStore(cfg config.AuthConfig) *memory.AuthStore {
	store := memory.NewAuthStore()
	for _, id := range cfg.Identities {
		store.AddPrincipal(&auth.Principal{ID: auth.Identity(id.ID), Name: id.Name})
	}
	for i, k := range cfg.APIKeys {
		store.AddKey(&auth.APIKey{
			Key:        normalizeKeyHash(k.KeyHash),
			IdentityID: auth.Identity(k.IdentityID),
			Name:       fmt.Sprintf("config-key-%d", i),
			CreatedAt:  time.Now().UTC(),
		})
	}
	return store
}

// normalizeKeyHash strips the sha256: prefix so direct lookups by
// auth.HashKey match. Argon2id strings are kept as-is.
func normalizeKeyHash(h string) string {
	if rest, ok := strings.CutPrefix(h, "sha256:"); ok {
		return strings.ToLower(rest)
	}
	return h
}

func rateLimitConfig(cfg config.RateLimitConfig) ratelimit.Config {
	if !cfg.Enabled {
		return ratelimit.Config{}
	}
	return ratelimit.Config{
		Rate:   cfg.Rate,
		Burst:  cfg.Burst,
		Period: parseDurationOr(cfg.Period, time.Minute),
	}
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

