// Command visitd serves the visit increment endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eternovinculo/visitguard/config"
	"github.com/eternovinculo/visitguard/counter"
	pgcounter "github.com/eternovinculo/visitguard/counter/postgres"
	rediscounter "github.com/eternovinculo/visitguard/counter/redis"
	"github.com/eternovinculo/visitguard/endpoint"
	"github.com/eternovinculo/visitguard/ratelimit"
	redislimiter "github.com/eternovinculo/visitguard/ratelimit/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "visitd: %v\n", err)
		os.Exit(1)
	}
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "visitd: logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error("visitd stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if !cfg.LogJSON {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	var rdb *goredis.Client
	if cfg.NeedsRedis() {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closers = append(closers, rdb)
		if err := pingRedis(ctx, rdb); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
	}

	cnt, err := newCounter(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	if c, ok := cnt.(io.Closer); ok {
		closers = append(closers, c)
	}

	lim, err := newLimiter(cfg, rdb)
	if err != nil {
		return err
	}
	if c, ok := lim.(io.Closer); ok {
		closers = append(closers, c)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := endpoint.NewMetrics(reg)
	if err != nil {
		return err
	}

	h, err := endpoint.New(endpoint.Options{
		Counter:           cnt,
		Limiter:           lim,
		Logger:            log,
		Metrics:           metrics,
		Gatherer:          reg,
		TrustForwardedFor: cfg.TrustForwardedFor,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening",
			zap.String("addr", cfg.Addr),
			zap.String("counter", string(cfg.Counter)),
			zap.String("limiter", string(cfg.Limiter)),
			zap.Duration("rate_window", cfg.RateWindow))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func newCounter(ctx context.Context, cfg *config.Config, rdb *goredis.Client) (counter.Counter, error) {
	switch cfg.Counter {
	case config.BackendPostgres:
		return pgcounter.Open(ctx, cfg.PostgresDSN, nil)
	case config.BackendRedis:
		return rediscounter.New(rediscounter.Config{
			Client:     rdb,
			Prefix:     cfg.RedisPrefix,
			KnownSlugs: cfg.KnownSlugs,
		})
	}
	return nil, fmt.Errorf("unsupported counter %q", cfg.Counter)
}

func newLimiter(cfg *config.Config, rdb *goredis.Client) (ratelimit.Limiter, error) {
	switch cfg.Limiter {
	case config.BackendOff:
		return nil, nil
	case config.BackendMemory:
		return ratelimit.NewMemory(ratelimit.MemoryOptions{Window: cfg.RateWindow}), nil
	case config.BackendRedis:
		return redislimiter.New(redislimiter.Config{
			Client: rdb,
			Prefix: cfg.RedisPrefix + "rl:visit:",
			Window: cfg.RateWindow,
		})
	}
	return nil, fmt.Errorf("unsupported limiter %q", cfg.Limiter)
}

func pingRedis(ctx context.Context, rdb *goredis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
