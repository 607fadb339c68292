package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/gogotex/gogotex/backend/odm/internal/api"
	"github.com/gogotex/gogotex/backend/odm/internal/cache"
	"github.com/gogotex/gogotex/backend/odm/internal/config"
	"github.com/gogotex/gogotex/backend/odm/internal/driver"
	"github.com/gogotex/gogotex/backend/odm/internal/odm"
	"github.com/gogotex/gogotex/backend/odm/internal/schema"
	"github.com/gogotex/gogotex/backend/odm/pkg/logger"
	"github.com/gogotex/gogotex/backend/odm/pkg/metrics"
	"github.com/gogotex/gogotex/backend/odm/pkg/middleware"
)

func main() {
	// LOG_LEVEL is read again from config below; this covers config errors
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg.MongoDB)
	defer closeStore()

	switch cfg.Cache.Backend {
	case config.CacheLRU:
		c, err := cache.NewLRU(cfg.Cache.LRUSize)
		if err != nil {
			logger.Fatalf("failed to create LRU cache: %v", err)
		}
		store = driver.NewCached(store, c, cfg.Cache.TTL)
		logger.Infof("caching finds in process (size %d, ttl %s)", cfg.Cache.LRUSize, cfg.Cache.TTL)
	case config.CacheRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v; finds fall through until it is reachable", cfg.Redis.Addr(), err)
		}
		defer func() { _ = rdb.Close() }()
		store = driver.NewCached(store, cache.NewRedis(rdb, "odm:"), cfg.Cache.TTL)
		logger.Infof("caching finds in Redis at %s (ttl %s)", cfg.Redis.Addr(), cfg.Cache.TTL)
	}

	opts := odm.Options{PopulateConcurrency: cfg.Populate.Concurrency}
	if cfg.Populate.MaxQPS > 0 {
		burst := int(cfg.Populate.MaxQPS)
		if burst < 1 {
			burst = 1
		}
		opts.PopulateLimiter = rate.NewLimiter(rate.Limit(cfg.Populate.MaxQPS), burst)
	}
	reg := odm.NewRegistry(store, opts)

	if cfg.SchemaFile != "" {
		defs, err := schema.LoadFile(cfg.SchemaFile)
		if err != nil {
			logger.Fatalf("failed to load schema file: %v", err)
		}
		reg.LoadDefinitions(defs)
		logger.Infof("loaded %d model(s) from %s", len(reg.Names()), cfg.SchemaFile)
	} else {
		logger.Warnf("SCHEMA_FILE is not set; no models are registered")
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if cfg.RateLimit.RPS > 0 {
		r.Use(middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware())
	}
	api.NewHandler(reg).Register(r)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("Starting odm service on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}
