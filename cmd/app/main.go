package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cutekitek/rankode-judge/internal/config"
	"github.com/cutekitek/rankode-judge/internal/files"
	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/problems"
	"github.com/cutekitek/rankode-judge/internal/rabbitmq"
	"github.com/cutekitek/rankode-judge/internal/reporter"
	"github.com/cutekitek/rankode-judge/internal/repository/store"
	"github.com/cutekitek/rankode-judge/internal/runner/sandbox"
	"github.com/cutekitek/rankode-judge/internal/scheduler"
	"github.com/cutekitek/rankode-judge/internal/service"
	"github.com/cutekitek/rankode-judge/internal/toolchain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = time.Minute

func panicErr(err error) {
	if err != nil {
		panic(err)
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "info":
		slog.SetLogLoggerLevel(slog.LevelInfo)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	default:
		slog.SetLogLoggerLevel(slog.LevelWarn)
	}
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, func()) {
	if cfg.StoreBackend == config.StoreMemory {
		return store.NewMemoryStore(), func() {}
	}
	s, err := store.NewRedisStore(ctx, store.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	panicErr(err)
	return s, func() { s.Close() }
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func main() {
	cfg, err := config.NewConfig()
	panicErr(err)
	setLogLevel(cfg.LogLevel)
	ctx := context.Background()

	registry, err := toolchain.LoadRegistry(cfg.LanguagesPath)
	panicErr(err)

	runner, err := sandbox.NewSandboxRunner(sandbox.SandboxRunnerConfig{
		ContainersPoolSize: cfg.WorkersCount,
	})
	panicErr(err)
	panicErr(runner.Init(registry.Images()))

	fileStorage, err := files.NewFileStorage(ctx, files.Config{
		Url:      cfg.MinIOHost,
		Login:    cfg.MinIOLogin,
		Password: cfg.MinIOPassword,
		Bucket:   cfg.MinIOBucket,
		UseSSL:   cfg.MinIOSSL,
	})
	panicErr(err)

	submissions, closeStore := newStore(ctx, cfg)

	handler := rabbitmq.NewRabbitMQHandler(rabbitmq.RabbitMqHandlerConfig{
		Login:    cfg.RabbitMQUser,
		Password: cfg.RabbitMQPassword,
		Host:     cfg.RabbitMQHost,
		Port:     cfg.RabbitMQPort,
		Prefetch: cfg.RabbitMQPrefetch,
	}, nil)
	verdicts := reporter.New(submissions, handler)

	sched := scheduler.New(scheduler.Config{
		Workers:         cfg.WorkersCount,
		QueueCapacity:   cfg.QueueCapacity,
		InternalRetries: cfg.InternalRetries,
		CaseOverhead:    cfg.CaseOverhead,
		BudgetMargin:    cfg.JobBudgetMargin,
	}, scheduler.Deps{
		Submissions: submissions,
		Problems:    problems.NewRepository(fileStorage),
		Toolchains:  registry,
		Evaluator:   judge.NewEvaluator(runner, cfg.MaxOutputSize),
		Reporter:    verdicts,
	})
	sched.Start()

	handler.SetIntake(service.New(submissions, verdicts, sched, registry, fileStorage))

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = serveMetrics(cfg.MetricsAddr)
	}

	panicErr(handler.Start())
	slog.Info("app started", "workers", cfg.WorkersCount, "languages", registry.Languages())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := handler.StopConsuming(); err != nil {
		slog.Warn("failed to stop consuming", "error", err)
	}
	if err := sched.Close(shutdownCtx); err != nil {
		slog.Warn("running jobs abandoned", "error", err)
	}
	handler.Close()
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	closeStore()
	runner.Close()
}
