package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dunamismax/pixelpress/internal/api"
	"github.com/dunamismax/pixelpress/internal/archive"
	"github.com/dunamismax/pixelpress/internal/config"
	"github.com/dunamismax/pixelpress/internal/normalize"
	"github.com/dunamismax/pixelpress/internal/pipeline"
	"github.com/dunamismax/pixelpress/internal/ratelimit"
	"github.com/dunamismax/pixelpress/internal/serverless"
	"github.com/dunamismax/pixelpress/internal/storage"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/dunamismax/pixelpress/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    "pixelpress-api",
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer pipeline.Shutdown()
	logger.Printf("image backend=%s", pipeline.Backend)

	processor, err := pipeline.NewProcessor(pipeline.Config{
		MaxImageBytes:      cfg.Pipeline.MaxImageBytes,
		MaxDecodedBytes:    cfg.Pipeline.MaxDecodedBytes,
		AggressiveQuality:  cfg.Pipeline.AggressiveQuality,
		PNGOptimizeTimeout: cfg.Pipeline.CompressionTimeout,
	})
	if err != nil {
		logger.Fatalf("initialize pipeline: %v", err)
	}

	opts := api.Options{
		Logger:                 logger,
		Processor:              processor,
		Normalizer:             normalize.New(cfg.Pipeline.MaxImageBytes, cfg.Pipeline.DefaultQuality),
		AllowedOrigins:         cfg.API.CORSAllowedOrigins,
		RequestTimeout:         cfg.API.ServerTimeout,
		MaxActiveTransforms:    cfg.Pipeline.MaxActiveTransforms,
		RateLimitUserHeader:    cfg.RateLimit.UserHeader,
		RateLimitBytesPerToken: cfg.RateLimit.BytesPerToken,
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("redis client close error: %v", err)
			}
		}()
		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, ratelimit.Config{
			Capacity: cfg.RateLimit.Capacity,
			Window:   cfg.RateLimit.Window,
		})
		if err != nil {
			logger.Fatalf("initialize rate limiter: %v", err)
		}
		opts.RateLimiter = limiter
		logger.Printf("rate limiting enabled capacity=%d window=%s bytes_per_token=%d",
			cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.RateLimit.BytesPerToken)
	}

	if cfg.Database.DSN != "" {
		usageStore, err := store.NewPostgresUsageStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("initialize usage store: %v", err)
		}
		defer func() {
			if err := usageStore.Close(); err != nil {
				logger.Printf("usage store close error: %v", err)
			}
		}()
		opts.Usage = usageStore
	}

	if cfg.Archive.Enabled {
		storageClient, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			Region:   cfg.Storage.Region,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatalf("initialize storage client: %v", err)
		}
		if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.Fatalf("ensure bucket %s: %v", storageClient.Bucket(), err)
		}
		opts.Archiver = archive.New(storageClient)
		logger.Printf("archiving outputs to bucket=%s", storageClient.Bucket())
	}

	app := api.NewServer(opts)
	defer app.Close()

	if config.RunningOnLambda() {
		logger.Printf("starting lambda handler")
		lambda.StartWithOptions(serverless.New(app.Handler(), nil).Handle, lambda.WithContext(ctx))
		return
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ServerTimeout,
		WriteTimeout: cfg.API.ServerTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
