package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/api"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/compiler"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/config"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/fetcher"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/ingest"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/metrics"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/provider"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/queue"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/worker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()

	root := &cobra.Command{
		Use:   "tsc-deploy-server",
		Short: "tsc-deploy server — circuit-compilation CI build orchestrator",
		Long: `tsc-deploy server ingests build requests for tscircuit revisions,
queues them for compilation, and reports results back to the upstream
code-hosting provider as deployment statuses, check runs, and release tags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for cross-process worker wakeup (empty disables)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&cfg.MaxAttemptDuration, "max-attempt-duration", cfg.MaxAttemptDuration, "Worker lease timeout before a processing job is recovered")
	root.PersistentFlags().IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Maximum retries per job before terminal failure")
	root.PersistentFlags().Int64Var(&cfg.BackoffBaseMs, "backoff-base-ms", cfg.BackoffBaseMs, "Retry backoff base, in milliseconds")
	root.PersistentFlags().Int64Var(&cfg.BackoffCapMs, "backoff-cap-ms", cfg.BackoffCapMs, "Retry backoff cap, in milliseconds")
	root.PersistentFlags().Int64Var(&cfg.MaxArchiveBytes, "max-archive-bytes", cfg.MaxArchiveBytes, "Maximum accepted revision archive size, in bytes")
	root.PersistentFlags().Int64Var(&cfg.IdlePollIntervalMs, "idle-poll-interval-ms", cfg.IdlePollIntervalMs, "Worker idle poll interval, in milliseconds")
	root.PersistentFlags().StringVar(&cfg.WorkspaceRoot, "workspace-root", cfg.WorkspaceRoot, "Root directory for per-attempt workspaces")
	root.PersistentFlags().StringVar(&cfg.BotCredential, "bot-credential", cfg.BotCredential, "Provider credential used for out-of-band notifications when the caller's credential is unavailable")
	root.PersistentFlags().StringVar(&cfg.CompilerBin, "compiler-bin", cfg.CompilerBin, "Circuit compiler executable invoked per source file")
	root.PersistentFlags().IntVar(&cfg.WorkerCount, "worker-count", cfg.WorkerCount, "Number of worker goroutines sharing the job queue")
	root.PersistentFlags().StringVar(&cfg.PublicBaseURL, "public-base-url", cfg.PublicBaseURL, "Externally-reachable base URL used to build artifact links in PR review comments")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tsc-deploy-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting tsc-deploy server",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("db_driver", cfg.DBDriver),
		zap.Int("worker_count", cfg.WorkerCount),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Database + Store ---
	db, err := store.Open(store.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck
	st := store.New(db)

	// --- 2. Queue ---
	q, err := queue.New(ctx, st, queue.Config{
		IdlePollInterval: time.Duration(cfg.IdlePollIntervalMs) * time.Millisecond,
		RedisURL:         cfg.RedisURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create job queue: %w", err)
	}
	defer q.Close() //nolint:errcheck

	sweeper, err := q.NewSweeper(cfg.MaxAttemptDuration, cfg.MaxAttemptDuration/2)
	if err != nil {
		return fmt.Errorf("failed to create lease sweeper: %w", err)
	}
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start lease sweeper: %w", err)
	}
	defer func() {
		if err := sweeper.Stop(); err != nil {
			logger.Warn("sweeper shutdown error", zap.Error(err))
		}
	}()

	// --- 3. Components the Worker coordinates ---
	rf := fetcher.New(fetcher.Config{
		WorkspaceRoot:   cfg.WorkspaceRoot,
		MaxArchiveBytes: cfg.MaxArchiveBytes,
		HTTPTimeout:     2 * time.Minute,
	}, logger)

	cc := compiler.New(compiler.Config{
		CompilerBin: cfg.CompilerBin,
		Timeout:     5 * time.Minute,
	}, logger)

	pc := provider.New(provider.Config{}, logger)

	m := metrics.New()

	// --- 4. Worker pool ---
	workerDeps := worker.Deps{
		Store:    st,
		Queue:    q,
		Fetcher:  rf,
		Compiler: cc,
		Provider: pc,
		Metrics:  m,
	}
	workerCfg := worker.Config{
		MaxRetries:    cfg.MaxRetries,
		BackoffBaseMs: cfg.BackoffBaseMs,
		BackoffCapMs:  cfg.BackoffCapMs,
		BotCredential: cfg.BotCredential,
		PublicBaseURL: cfg.PublicBaseURL,
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		w := worker.New(workerID, workerDeps, workerCfg, logger)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("worker exited with error", zap.String("worker_id", workerID), zap.Error(err))
			}
		}()
	}

	// --- 5. Queue-depth gauge sampler ---
	go sampleQueueDepth(ctx, st, m, logger)

	// --- 6. HTTP server ---
	ingester := ingest.New(st, q, logger)
	router := api.NewRouter(api.RouterConfig{
		Store:    st,
		Queue:    q,
		Ingester: ingester,
		Metrics:  m,
		Logger:   logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down tsc-deploy server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("tsc-deploy server stopped")
	return nil
}

// sampleQueueDepth periodically refreshes the build_queue_depth gauge from
// the Store — it is cheaper to poll on an interval than to update it from
// every Enqueue/claim call site (SPEC_FULL §12.1).
func sampleQueueDepth(ctx context.Context, st store.Store, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := st.QueueDepthByPriority(ctx)
			if err != nil {
				logger.Warn("failed to sample queue depth", zap.Error(err))
				continue
			}
			m.SetQueueDepth(depth)
		}
	}
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
