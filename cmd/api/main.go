package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/school-cart/internal/app"
	"github.com/noah-isme/school-cart/internal/cart"
	"github.com/noah-isme/school-cart/internal/catalog"
	"github.com/noah-isme/school-cart/internal/checkout"
	"github.com/noah-isme/school-cart/internal/common"
	"github.com/noah-isme/school-cart/internal/config"
	"github.com/noah-isme/school-cart/internal/health"
	"github.com/noah-isme/school-cart/internal/lock"
	"github.com/noah-isme/school-cart/internal/notify"
	"github.com/noah-isme/school-cart/internal/obs"
	"github.com/noah-isme/school-cart/internal/order"
	"github.com/noah-isme/school-cart/internal/payment"
	"github.com/noah-isme/school-cart/internal/ratelimit"
	"github.com/noah-isme/school-cart/internal/resilience"
	"github.com/noah-isme/school-cart/internal/security"
	"github.com/noah-isme/school-cart/internal/voucher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	resilience.MustRegisterMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "school-cart-api",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
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

	var receipts checkout.Receipts
	var taskClient *asynq.Client
	if cfg.ReceiptWebhookURL != "" {
		opt, err := app.TaskRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("task redis")
		}
		taskClient = asynq.NewClient(opt)
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close task client")
			}
		}()
		receipts = notify.Enqueuer{Client: taskClient, MaxRetry: cfg.ReceiptMaxRetry}
	} else {
		logger.Warn().Msg("receipt webhook not configured, receipts will not be delivered")
	}

	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}
	onLimiterError := func(err error) {
		logger.Error().Err(err).Msg("rate limiter unavailable")
	}
	codeLimiter := ratelimit.Handler{
		Limiter: ratelimit.Sliding{Client: deps.Redis, Prefix: "ratelimit:codes:"},
		Config:  ratelimit.Config{Key: ratelimit.ByClientIP("codes"), Window: time.Minute, Max: cfg.RateLimitCodesPerMin},
		OnError: onLimiterError,
	}
	paymentLimiter := ratelimit.Handler{
		Limiter: ratelimit.Fixed{Store: deps.LimiterStore},
		Config:  ratelimit.Config{Key: ratelimit.ByClientIP("payments"), Window: time.Minute, Max: cfg.RateLimitPaymentsPerMin},
		OnError: onLimiterError,
	}

	cartSvc := &cart.Service{R: deps.Redis, Catalog: deps.Catalog, TTL: cfg.CartTTL}
	checkoutSvc := &checkout.Service{
		Carts:    cartSvc,
		Catalog:  deps.Catalog,
		Payments: &payment.GiftCards{Files: deps.Files},
		Orders:   deps.Orders,
		Receipts: receipts,
		Locker:   lock.Locker{R: deps.Redis, RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.LockMaxWait},
		LockTTL:  cfg.LockTTL,
		Validate: deps.Validator,
		Logger:   logger,
	}
	checkoutHandler := &checkout.Handler{
		Svc:            checkoutSvc,
		Idempotency:    idem.Middleware,
		PaymentLimiter: paymentLimiter.Middleware,
	}
	cartHandler := &cart.Handler{
		Svc:         cartSvc,
		CodeLimiter: codeLimiter.Middleware,
		Quote:       checkoutHandler.Quote,
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: deps.Catalog})
	orderHandler := &order.Handler{Orders: deps.Orders}
	codeHandler := &voucher.Handler{Codes: deps.Catalog, Limiter: codeLimiter.Middleware}

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.EnablePrometheus {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, nil, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.EnableHSTS}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"Idempotent-Replayed", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:         300,
	}))

	if cfg.Obs.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}
	healthHandler := health.Handler{Probes: deps.Probes(), Timeout: 500 * time.Millisecond}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		catalogHandler.Routes(v)
		codeHandler.Routes(v)
		v.Route("/carts", cartHandler.Routes)
		checkoutHandler.Routes(v)
		v.Get("/orders/{id}", orderHandler.Get)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serve(ctx, srv, logger)
}

// serve runs srv until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server, logger zerolog.Logger) {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server exited unexpectedly")
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
		return
	}
	logger.Info().Msg("server shutdown complete")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
