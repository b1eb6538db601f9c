package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/school-cart/internal/catalog"
	"github.com/noah-isme/school-cart/internal/checkout"
	"github.com/noah-isme/school-cart/internal/config"
	"github.com/noah-isme/school-cart/internal/health"
	"github.com/noah-isme/school-cart/internal/obs"
	"github.com/noah-isme/school-cart/internal/order"
)

// Dependencies holds the connections and shared services used by both the
// API and the receipt worker.
type Dependencies struct {
	DB           *pgxpool.Pool
	Redis        *redis.Client
	Files        fs.FS
	Catalog      *catalog.Service
	Orders       *order.Repository
	Validator    *validator.Validate
	LimiterStore limiter.Store
	Logger       zerolog.Logger
}

// New opens Postgres and Redis, applies migrations and builds the catalog.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	validate, err := checkout.NewValidator()
	if err != nil {
		return nil, err
	}
	pool, err := OpenDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	m, err := order.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	if err := RunMigrations(m); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		logger.Warn().AnErr("source_error", srcErr).AnErr("db_error", dbErr).Msg("close migrator")
	}

	rdb, err := OpenRedis(ctx, cfg.RedisURL, cfg.Obs.EnablePrometheus, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store, err := NewLimiterStore(rdb)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("limiter store: %w", err)
	}

	files := os.DirFS(cfg.CatalogDir)
	cat, err := catalog.NewService(catalog.ServiceConfig{
		Files:      files,
		Cache:      catalog.NewCache(rdb, cfg.CatalogCacheTTL),
		DefaultGST: cfg.DefaultGSTRate,
		Logger:     logger,
	})
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("catalog: %w", err)
	}

	return &Dependencies{
		DB:           pool,
		Redis:        rdb,
		Files:        files,
		Catalog:      cat,
		Orders:       &order.Repository{DB: pool},
		Validator:    validate,
		LimiterStore: store,
		Logger:       logger,
	}, nil
}

// Close releases the connections.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// OpenDatabase connects a pgx pool traced with obs.PGXTracer.
func OpenDatabase(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "school-cart"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis connects and instruments a go-redis client.
func OpenRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// TaskRedis returns the asynq connection options for the configured Redis.
func TaskRedis(url string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(url)
	if err != nil {
		return nil, fmt.Errorf("parse task redis url: %w", err)
	}
	return opt, nil
}

// NewLimiterStore wires a rate limiter store backed by Redis.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "ratelimit"})
}

// RunMigrations applies pending migrations; an up-to-date schema is not an error.
func RunMigrations(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Probes returns the readiness checks for the shared dependencies.
func (d *Dependencies) Probes() map[string]health.Probe {
	return map[string]health.Probe{
		"db": func(ctx context.Context) error {
			if d.DB == nil {
				return errors.New("not configured")
			}
			return d.DB.Ping(ctx)
		},
		"redis": func(ctx context.Context) error {
			if d.Redis == nil {
				return errors.New("not configured")
			}
			return d.Redis.Ping(ctx).Err()
		},
		"catalog": func(ctx context.Context) error {
			if d.Catalog == nil {
				return errors.New("not configured")
			}
			_, err := d.Catalog.Site(ctx)
			return err
		},
	}
}
