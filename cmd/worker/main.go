package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/school-cart/internal/app"
	"github.com/noah-isme/school-cart/internal/config"
	"github.com/noah-isme/school-cart/internal/health"
	"github.com/noah-isme/school-cart/internal/lock"
	"github.com/noah-isme/school-cart/internal/notify"
	"github.com/noah-isme/school-cart/internal/obs"
	"github.com/noah-isme/school-cart/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	resilience.MustRegisterMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.EnableTracing {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "school-cart-worker",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.New(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	opt, err := app.TaskRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("task redis")
	}

	breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRatio, cfg.CircuitOpenFor)
	outbound := resilience.NewHTTPClient(notify.HttpClient(cfg.ReceiptTimeout, cfg.ReceiptAllowInsecure), breaker, "receipt-webhook", logger)
	outbound.MaxAttempts = 3
	outbound.BaseBackoff = 200 * time.Millisecond
	outbound.Jitter = 0.2
	outbound.Timeout = cfg.ReceiptTimeout

	worker := notify.ReceiptWorker{
		Orders: deps.Orders,
		Sender: notify.ReceiptSender{
			URL:    cfg.ReceiptWebhookURL,
			Secret: cfg.ReceiptWebhookSecret,
			HTTP:   outbound,
		},
		Locker:  lock.Locker{R: deps.Redis, RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.LockMaxWait},
		LockTTL: cfg.LockTTL,
		Logger:  logger,
	}

	mux := asynq.NewServeMux()
	mux.Handle(notify.TypeOrderReceipt, worker)

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:    cfg.WorkerConcurrency,
		Queues:         map[string]int{notify.QueueReceipts: 1},
		RetryDelayFunc: notify.RetryDelay(cfg.ReceiptRetryBase, cfg.ReceiptRetryMax),
		Logger:         asynqLogger{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn().Err(err).Str("task_type", task.Type()).Int("retry", retried).Int("max_retry", maxRetry).Msg("task_failed")
		}),
	})

	opsSrv := opsServer(cfg, deps, logger)

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	<-ctx.Done()
	health.SetReady(false)
	srv.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ops server shutdown")
	}
	logger.Info().Msg("worker shutdown complete")
}

// opsServer exposes metrics and health for the worker process.
func opsServer(cfg *config.Config, deps *app.Dependencies, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	if cfg.Obs.EnablePrometheus {
		mux.Handle("/metrics", promhttp.Handler())
	}
	h := health.Handler{Probes: deps.Probes(), Timeout: 500 * time.Millisecond}
	mux.HandleFunc("/health/live", h.Live)
	mux.HandleFunc("/health/ready", h.Ready)

	srv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", srv.Addr).Msg("ops server stopped")
		}
	}()
	return srv
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
