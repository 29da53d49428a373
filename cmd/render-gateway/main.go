// main package for the render-gateway
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/render-gateway/internal/cache"
	"github.com/book-expert/render-gateway/internal/config"
	"github.com/book-expert/render-gateway/internal/core"
	"github.com/book-expert/render-gateway/internal/gateway"
	"github.com/book-expert/render-gateway/internal/normalize"
	"github.com/book-expert/render-gateway/internal/objectstore"
	"github.com/book-expert/render-gateway/internal/probe"
	"github.com/book-expert/render-gateway/internal/speech"
	"github.com/book-expert/render-gateway/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// stores holds the object stores and the NATS connection backing them, if any.
type stores struct {
	audio core.ObjectStore
	texts core.ObjectStore
	conn  *nats.Conn
}

// setupStores connects to NATS when configured. Without a NATS URL the
// gateway runs on process-local stores and no worker is started.
func setupStores(settings config.Settings, log *logger.Logger) (*stores, error) {
	if settings.NATSURL == "" {
		log.Warn("No NATS URL configured, audio is kept in memory and the speech worker is disabled.")

		return &stores{audio: objectstore.NewMemory(), texts: objectstore.NewMemory()}, nil
	}

	natsConnection, err := nats.Connect(settings.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	audio, err := objectstore.New(jetstreamContext, settings.AudioBucket)
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to open audio bucket: %w", err)
	}

	texts, err := objectstore.New(jetstreamContext, settings.TextBucket)
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to open text bucket: %w", err)
	}

	log.Info("Connected to NATS at %s (buckets %s, %s)", settings.NATSURL, settings.AudioBucket, settings.TextBucket)

	return &stores{audio: audio, texts: texts, conn: natsConnection}, nil
}

// setupCache prefers Redis and falls back to a process-local store.
func setupCache(ctx context.Context, settings config.Settings, log *logger.Logger) (core.CacheStore, func()) {
	if settings.RedisURL == "" {
		return cache.NewMemoryStore(), func() {}
	}

	redisStore, err := cache.NewRedisStore(ctx, settings.RedisURL)
	if err != nil {
		log.Warn("Redis unavailable, falling back to in-memory cache: %v", err)

		return cache.NewMemoryStore(), func() {}
	}

	log.Info("Response cache backed by Redis.")

	return redisStore, func() {
		if closeErr := redisStore.Close(); closeErr != nil {
			log.Warn("Failed to close Redis client: %v", closeErr)
		}
	}
}

func serve(ctx context.Context, settings config.Settings, log *logger.Logger) error {
	backing, err := setupStores(settings, log)
	if err != nil {
		return err
	}

	if backing.conn != nil {
		defer backing.conn.Close()
	}

	cacheStore, closeCache := setupCache(ctx, settings, log)
	defer closeCache()

	if err := settings.SpeechConfigured(); err != nil {
		log.Warn("Speech synthesis is not configured: %v", err)
	}

	runner := probe.NewRunner(
		&http.Client{},
		normalize.NewClassifier(normalize.Policy{CacheHTML: settings.CacheHTML}),
		settings.ProbeTimeout,
		settings.MaxBodyBytes,
		log,
	)
	synth := speech.NewSynthClient(settings.SpeechEndpoint, settings.SpeechToken, settings.SpeechTimeout)
	service := speech.NewService(settings, runner, synth, backing.audio, log)
	responses := cache.NewAdapter(cacheStore, settings.CacheTTL, log)

	if settings.GinMode != "" {
		gin.SetMode(settings.GinMode)
	}

	server := gateway.New(settings, runner, responses, service, log)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(groupCtx)
	})

	if backing.conn != nil {
		natsWorker := worker.NewNatsWorker(
			backing.conn, settings.SpeechJobSubject, backing.texts, service, settings.DefaultFormat, log,
		)
		group.Go(func() error {
			return natsWorker.Run(groupCtx)
		})
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "render-gateway-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	settings := config.Resolve(cfg, os.Getenv)

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	logsDir := settings.BaseLogsDir
	if logsDir == "" {
		logsDir = os.TempDir()
	}

	finalLog, err := setupLogger(logsDir, "render-gateway.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalLog.System("Render gateway starting on %s", settings.ListenAddr)

	return serve(ctx, settings, finalLog)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
