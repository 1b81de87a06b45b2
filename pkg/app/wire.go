package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/flemzord/reddichat/internal/agent"
	"github.com/flemzord/reddichat/internal/auth"
	"github.com/flemzord/reddichat/internal/chat"
	"github.com/flemzord/reddichat/internal/config"
	"github.com/flemzord/reddichat/internal/core"
	"github.com/flemzord/reddichat/internal/cron"
	"github.com/flemzord/reddichat/internal/gateway"
	"github.com/flemzord/reddichat/internal/reddit"
	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/storage"
	"github.com/flemzord/reddichat/internal/store"
	"github.com/flemzord/reddichat/internal/telemetry"
	"github.com/flemzord/reddichat/internal/tool"
	"github.com/flemzord/reddichat/internal/tools"
	"github.com/flemzord/reddichat/internal/websearch"
	"github.com/flemzord/reddichat/modules/provider/openai"
	"github.com/flemzord/reddichat/modules/store/sqlstore"

	// Storage backends register themselves as modules.
	_ "github.com/flemzord/reddichat/modules/storage/local"
	_ "github.com/flemzord/reddichat/modules/storage/s3"
)

// BuildOptions tunes Build.
type BuildOptions struct {
	// DataDir overrides the default persistent data directory.
	DataDir string

	// Version is reported in traces and to MCP clients.
	Version string

	// LogWriter receives logs. Defaults to os.Stderr.
	LogWriter io.Writer

	// Verbose forces debug logging regardless of log.level.
	Verbose bool

	// Serve appends the HTTP gateway and the maintenance scheduler to the
	// app lifecycle. Commands that only need the tools leave it off.
	Serve bool
}

// Runtime is a fully wired reddichat instance.
type Runtime struct {
	App      *core.App
	Config   *config.Config
	Logger   *slog.Logger
	Store    store.Store
	Storage  storage.Uploader // nil when no storage module is configured
	Tools    *tool.Registry
	Reddit   *reddit.Client // nil when Reddit credentials are missing
	Chat     *chat.Service
	Auth     *auth.JWT
	Metrics  *telemetry.Metrics
	Limiter  *security.RateLimiter
	Gateway  *gateway.Gateway   // nil unless Serve
	Cron     *cron.Scheduler    // nil unless Serve
	closers  []func(context.Context) error
}

// Build wires every component from cfg. Modules are loaded and provisioned
// but not started; call Runtime.App.Start, or Run, to serve. On error
// everything acquired so far is released.
func Build(ctx context.Context, cfg *config.Config, opts BuildOptions) (*Runtime, error) {
	rt := &Runtime{Config: cfg}
	if err := rt.build(ctx, cfg, opts); err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context, cfg *config.Config, opts BuildOptions) error {
	redactor := security.NewRedactor()
	redactor.AddLiteral(cfg.Provider.APIKey, cfg.Auth.Secret, cfg.Reddit.ClientSecret)

	level := cfg.Log.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	w := opts.LogWriter
	if w == nil {
		w = os.Stderr
	}
	logger := NewLogger(w, cfg.Log.Format, level, redactor)
	rt.Logger = logger

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing, opts.Version)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, shutdownTracing)

	audit, err := rt.openAudit(cfg.Security.AuditFile, redactor)
	if err != nil {
		return err
	}
	rt.Metrics = telemetry.NewMetrics()
	rt.Limiter = security.NewRateLimiter(cfg.Security.RateLimits)

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("app: creating data dir: %w", err)
	}

	appCtx := core.NewAppContext(logger, dataDir).WithModuleConfigs(cfg.Modules)
	rt.App = core.NewApp(appCtx)
	if err := rt.App.LoadModules(config.Resolve(cfg)); err != nil {
		return err
	}

	st, ok := core.Service[store.Store](appCtx, sqlstore.ServiceName)
	if !ok {
		return errors.New("app: no store module provided the store service")
	}
	rt.Store = st
	rt.Storage, _ = core.Service[storage.Uploader](appCtx, storage.ServiceName)
	if rt.Storage == nil {
		logger.Warn("no storage module configured, file uploads are disabled")
	}

	model, err := openai.New(cfg.Provider, logger)
	if err != nil {
		return err
	}

	if err := rt.wireTools(cfg, audit, logger); err != nil {
		return err
	}

	loop := agent.NewLoop(model, agent.NewToolExecutor(rt.Tools), cfg.Agent)
	rt.Chat, err = chat.New(chat.Deps{
		Store:    rt.Store,
		Uploader: rt.Storage,
		Loop:     loop,
		Tools:    rt.Tools,
		Metrics:  rt.Metrics,
		Audit:    audit,
		Logger:   logger,
	}, cfg.Chat)
	if err != nil {
		return err
	}

	rt.Auth, err = auth.NewJWT(cfg.Auth)
	if err != nil {
		return err
	}

	if !opts.Serve {
		return nil
	}

	deps := gateway.Deps{
		Chat:     rt.Chat,
		Store:    rt.Store,
		Storage:  rt.Storage,
		Auth:     rt.Auth,
		Provider: model,
		Limiter:  rt.Limiter,
		Audit:    audit,
		Metrics:  rt.Metrics,
		Logger:   logger,
	}
	if rt.Reddit != nil {
		deps.Reddit = rt.Reddit
	}
	rt.Gateway, err = gateway.New(cfg.Server, deps)
	if err != nil {
		return err
	}
	rt.App.AppendModule("gateway.http", rt.Gateway)

	rt.Cron, err = rt.scheduler(cfg.Cron, logger)
	if err != nil {
		return err
	}
	rt.App.AppendModule("cron.scheduler", rt.Cron)

	return nil
}

// openAudit opens the JSONL audit file when one is configured.
func (rt *Runtime) openAudit(path string, redactor *security.Redactor) (*security.AuditLogger, error) {
	cfg := security.AuditLoggerConfig{Redactor: redactor}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("app: opening audit file: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return f.Close() })
		cfg.Writer = f
	}
	return security.NewAuditLogger(cfg), nil
}

// wireTools builds the Reddit and web search backends and registers the
// tools they serve.
func (rt *Runtime) wireTools(cfg *config.Config, audit *security.AuditLogger, logger *slog.Logger) error {
	rt.Tools = tool.NewRegistry()
	rt.Tools.SetAuditLogger(audit)
	rt.Tools.SetRateLimiter(rt.Limiter)
	rt.Tools.SetMetrics(rt.Metrics)

	deps := tools.Deps{
		Filter: security.NewDomainFilter(cfg.Security.URLFilter),
		Config: cfg.Tools,
		Logger: logger,
	}
	if cfg.RedditEnabled() {
		client, err := reddit.New(cfg.Reddit, logger)
		if err != nil {
			return err
		}
		rt.Reddit = client
		deps.Reddit = client
	} else {
		logger.Warn("reddit credentials missing, search_reddit and profile routes are disabled")
	}
	if !cfg.WebSearch.Disabled {
		deps.Web = websearch.NewDuckDuckGo(cfg.WebSearch.Config, logger)
	}

	if err := tools.Register(rt.Tools, deps); err != nil {
		return err
	}
	logger.Info("tools registered", "tools", rt.Tools.Names())
	return nil
}

// scheduler registers the maintenance jobs. Schedules can be overridden
// per job name.
func (rt *Runtime) scheduler(cfg config.CronConfig, logger *slog.Logger) (*cron.Scheduler, error) {
	var ttl time.Duration
	if cfg.OrphanTTL != "" {
		d, err := time.ParseDuration(cfg.OrphanTTL)
		if err != nil {
			return nil, fmt.Errorf("app: cron.orphan_ttl: %w", err)
		}
		ttl = d
	}

	s := cron.NewScheduler(logger.With("component", "cron"))
	jobs := []cron.Job{
		&cron.AttachmentCleanupJob{
			Store:        rt.Store,
			Storage:      rt.Storage,
			TTL:          ttl,
			Metrics:      rt.Metrics,
			Logger:       logger,
			ScheduleExpr: cfg.Schedules["attachment_cleanup"],
		},
		&cron.RateLimitSweepJob{
			Limiter:      rt.Limiter,
			Logger:       logger,
			ScheduleExpr: cfg.Schedules["ratelimit_sweep"],
		},
	}
	for _, j := range jobs {
		if err := s.RegisterJob(j); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close releases everything Build acquired. It is safe to call after the
// app has been stopped.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.App != nil {
		rt.App.Close()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i](ctx))
	}
	rt.closers = nil
	return errors.Join(errs...)
}
