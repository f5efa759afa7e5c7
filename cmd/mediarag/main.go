// Mediarag serves the podcast and movie knowledge base over HTTP.
//
// Configuration is read from ~/.config/mediarag/config.yaml (or the file
// named by -config) and overridden by environment variables. See
// internal/config for the mapping.
//
// Usage:
//
//	# Start the server
//	mediarag
//
//	# Use another config file and port
//	SERVER_HTTP_PORT=9090 mediarag -config /etc/mediarag/config.yaml
//
//	# Print version information
//	mediarag version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mediarag/internal/chunker"
	"github.com/fyrsmithlabs/mediarag/internal/config"
	"github.com/fyrsmithlabs/mediarag/internal/embeddings"
	"github.com/fyrsmithlabs/mediarag/internal/events"
	apihttp "github.com/fyrsmithlabs/mediarag/internal/http"
	"github.com/fyrsmithlabs/mediarag/internal/llm"
	"github.com/fyrsmithlabs/mediarag/internal/logging"
	"github.com/fyrsmithlabs/mediarag/internal/seed"
	"github.com/fyrsmithlabs/mediarag/internal/service"
	"github.com/fyrsmithlabs/mediarag/internal/telemetry"
	"github.com/fyrsmithlabs/mediarag/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const instrumentationName = "github.com/fyrsmithlabs/mediarag"

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/mediarag/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  mediarag [-config path]   Start the server\n")
			fmt.Fprintf(os.Stderr, "  mediarag version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("mediarag by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every dependency, serves HTTP and blocks until ctx is cancelled
// or the server fails.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg, err := logging.ConfigFor(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zlog := logger.Underlying()

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:         cfg.Telemetry.Enabled,
		Endpoint:        cfg.Telemetry.Endpoint,
		Protocol:        cfg.Telemetry.Protocol,
		ServiceName:     cfg.Telemetry.ServiceName,
		ServiceVersion:  version,
		Insecure:        cfg.Telemetry.Insecure,
		SampleRate:      cfg.Telemetry.SampleRate,
		MetricsEnabled:  true,
		ExportInterval:  telemetry.NewDefaultConfig().ExportInterval,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			zlog.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger.Info(ctx, "Starting mediarag",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("provider", cfg.Provider.Name),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Int("collections", len(cfg.Collections)),
	)

	deps, err := initDependencies(ctx, cfg, tel, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close(zlog)

	if cfg.Chat.Autoseed {
		stored, err := deps.service.Autoseed(ctx)
		if err != nil {
			logger.Warn(ctx, "autoseed failed", zap.Error(err))
		} else if len(stored) > 0 {
			logger.Info(ctx, "seeded empty collections", zap.Any("documents", stored))
		}
	}

	server, err := apihttp.NewServer(deps.service, logger, &apihttp.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		BodyLimit:      cfg.Server.BodyLimit,
		RequestTimeout: cfg.Server.RequestTimeout.Duration(),
		Meter:          tel.Meter(instrumentationName),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// dependencies holds the long-lived handles owned by run.
type dependencies struct {
	embedder  embeddings.Provider
	store     *vectorstore.Store
	publisher events.Publisher
	service   *service.Service
}

func (d *dependencies) Close(logger *zap.Logger) {
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			logger.Warn("closing event publisher", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Warn("closing vector store", zap.Error(err))
		}
	}
	if d.embedder != nil {
		if err := d.embedder.Close(); err != nil {
			logger.Warn("closing embedding provider", zap.Error(err))
		}
	}
}

// initDependencies builds, in order: the provider backend and completer, the
// embedding client, the vector store, seed data, the event publisher and
// finally the service. Handles opened before a failure are closed.
func initDependencies(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, logger *zap.Logger) (_ *dependencies, err error) {
	deps := &dependencies{}
	defer func() {
		if err != nil {
			deps.Close(logger)
		}
	}()

	llmCfg := llm.Config{
		Provider:          cfg.Provider.Name,
		APIKey:            cfg.Provider.APIKey.Value(),
		BaseURL:           cfg.Provider.BaseURL,
		ChatModel:         cfg.Provider.ChatModel,
		EmbeddingModel:    cfg.Provider.EmbeddingModel,
		Temperature:       cfg.Provider.Temperature,
		MaxTokens:         cfg.Provider.MaxTokens,
		Timeout:           cfg.Provider.Timeout.Duration(),
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
	}
	backend, err := llm.NewBackend(llmCfg)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	limiter := llm.NewLimiter(llmCfg.RequestsPerSecond, llmCfg.Burst)
	completer := llm.NewClient(backend, llmCfg, limiter, logger)

	var creator embeddings.EmbeddingCreator
	if cfg.Embeddings.Provider != "fastembed" {
		embedCfg := llmCfg
		embedCfg.Provider = cfg.Embeddings.Provider
		embedCfg.EmbeddingModel = cfg.Embeddings.Model
		embedCfg.BaseURL = cfg.Embeddings.BaseURL
		if creator, err = llm.NewEmbeddingBackend(embedCfg); err != nil {
			return nil, fmt.Errorf("embeddings provider: %w", err)
		}
	}
	deps.embedder, err = embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		Dimension: cfg.Embeddings.Dimension,
		CacheDir:  cfg.Embeddings.CacheDir,
	}, creator, limiter)
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	embedClient := embeddings.NewClient(deps.embedder,
		embeddings.WithBatchSize(cfg.Embeddings.BatchSize),
		embeddings.WithMetrics(embeddings.NewMetrics(tel.Meter(instrumentationName), logger)),
		embeddings.WithLogger(logger),
	)

	deps.store, err = vectorstore.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: %w", err)
	}

	seeds, err := seed.Load(cfg.Collections)
	if err != nil {
		return nil, err
	}
	splitter, err := chunker.NewSplitter(cfg.Chunking.Strategy)
	if err != nil {
		return nil, err
	}

	deps.publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		p, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		deps.publisher = p
		logger.Info("Connected to NATS", zap.String("url", cfg.Events.NATSURL))
	}

	deps.service, err = service.New(service.Options{
		Embeddings:   embedClient,
		Store:        deps.store,
		Completer:    completer,
		Publisher:    deps.publisher,
		Seeds:        seeds,
		Splitter:     splitter,
		Collections:  cfg.Collections,
		Retrieval:    cfg.Retrieval,
		Chunking:     cfg.Chunking,
		SystemPrompt: cfg.Chat.SystemPrompt,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return deps, nil
}
