// Command kernelengine runs the multi-tenant compute & retrieval engine:
// kernel execution, vector indices, and LLM agents behind one HTTP/WS API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nexops/kernelengine/pkg/activity"
	"github.com/nexops/kernelengine/pkg/agent"
	"github.com/nexops/kernelengine/pkg/api"
	"github.com/nexops/kernelengine/pkg/config"
	"github.com/nexops/kernelengine/pkg/embedding"
	"github.com/nexops/kernelengine/pkg/executor"
	"github.com/nexops/kernelengine/pkg/kernel"
	"github.com/nexops/kernelengine/pkg/llm"
	"github.com/nexops/kernelengine/pkg/mcp"
	"github.com/nexops/kernelengine/pkg/offload"
	"github.com/nexops/kernelengine/pkg/pool"
	"github.com/nexops/kernelengine/pkg/session"
	"github.com/nexops/kernelengine/pkg/vectordb"
)

func main() {
	envFile := flag.String("env-file", ".env", "path to an optional .env file loaded before reading the environment")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("no .env file loaded", "path", *envFile, "error", err)
	}

	cfg, err := config.Load(os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kernelengine: loading configuration:", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("kernelengine exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func allowedTypes(entries []config.PreloadEntry) map[executor.Spec]bool {
	out := make(map[executor.Spec]bool, len(entries))
	for _, e := range entries {
		out[executor.Spec{Mode: executor.Mode(e.Mode), Language: executor.Language(e.Language)}] = true
	}
	return out
}

func preloadSpecs(entries []config.PreloadEntry) []executor.Spec {
	out := make([]executor.Spec, len(entries))
	for i, e := range entries {
		out[i] = executor.Spec{Mode: executor.Mode(e.Mode), Language: executor.Language(e.Language)}
	}
	return out
}

func buildEmbeddingRegistry(cfg *config.Config) *embedding.Registry {
	reg := embedding.NewRegistry()
	for _, p := range cfg.EmbeddingProviders {
		var provider embedding.Provider
		switch p.Type {
		case "remote":
			provider = embedding.NewRemote(p.Name, p.Name, p.BaseURL, p.Dimension)
		default:
			provider = embedding.NewMock(p.Name, p.Dimension)
		}
		if err := reg.Add(provider); err != nil {
			// mock-model is pre-registered by NewRegistry; a config entry
			// re-declaring it is expected, not an error.
			slog.Debug("embedding provider already registered", "name", p.Name, "error", err)
		}
	}
	return reg
}

// run constructs every manager, starts their background tasks, serves the
// API, and tears everything down on ctx cancellation. The background tasks
// (activity sweep, pool refill, MCP health monitor) are stopped by deferred
// Stop calls, mirroring the teacher's defer-based cleanup; the errgroup
// covers only the HTTP server and the goroutine that shuts it down when
// ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	sessions := session.NewManager()

	activityCtl := activity.New(2*time.Second, log)
	activityCtl.Start()
	defer activityCtl.Stop()

	kernelPool := pool.New(pool.Config{
		Enabled:        cfg.Pool.Enabled,
		Size:           cfg.Pool.Size,
		AutoRefill:     cfg.Pool.AutoRefill,
		PreloadConfigs: preloadSpecs(cfg.Pool.PreloadConfigs),
	}, log)
	kernelPool.Start(ctx)
	defer kernelPool.Stop(context.Background())

	kernels := kernel.New(kernel.Config{
		MaxPerNamespace: 0,
		AllowedTypes:    allowedTypes(cfg.Pool.AllowedTypes),
		DefaultTimeout:  30 * time.Minute,
	}, kernelPool, activityCtl, sessions, log)

	offloadStore := offload.NewStore(cfg.VectorDB.OffloadDirectory)
	embeddings := buildEmbeddingRegistry(cfg)
	vdb := vectordb.New(vectordb.Config{
		MaxInstances:     cfg.VectorDB.MaxInstances,
		DefaultTimeout:   cfg.VectorDB.DefaultInactivityTimeout,
		OffloadDirectory: cfg.VectorDB.OffloadDirectory,
	}, embeddings, activityCtl, offloadStore)

	llmProvider := llm.NewHTTPProvider(&http.Client{Timeout: 120 * time.Second})

	var healthMonitor *mcp.HealthMonitor
	var mcpFactory agent.MCPFactory
	if len(cfg.MCPServers) > 0 {
		registry := mcp.NewServerRegistry(cfg.MCPServers)
		clientFactory := mcp.NewClientFactory(registry)
		healthMonitor = mcp.NewHealthMonitor(clientFactory, registry, log)
		healthMonitor.Start(ctx)
		defer healthMonitor.Stop()

		mcpFactory = func(ctx context.Context, serverIDs []string, toolFilter map[string][]string) (agent.ToolExecutor, error) {
			toolExecutor, _, err := clientFactory.CreateToolExecutor(ctx, serverIDs, toolFilter)
			if err != nil {
				return nil, err
			}
			return toolExecutor, nil
		}
	}

	agents := agent.New(agent.Config{
		MaxAgentsPerNamespace: cfg.Agents.MaxAgents,
		DataDirectory:         cfg.Agents.DataDirectory,
		AutoSaveConversations: cfg.Agents.AutoSaveConversations,
		MaxStepsCap:           cfg.Agents.MaxStepsCap,
		DefaultModelSettings: llm.ModelSettings{
			BaseURL:     cfg.Agents.ModelBaseURL,
			APIKey:      cfg.Agents.ModelAPIKey,
			Model:       cfg.Agents.ModelName,
			Temperature: cfg.Agents.ModelTemperature,
		},
	}, kernels, llmProvider, mcpFactory, log)

	server := api.NewServer(kernels, sessions, vdb, embeddings, agents, log)
	if healthMonitor != nil {
		server.SetHealthMonitor(healthMonitor)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		log.Info("kernelengine listening", "addr", cfg.HTTPAddr)
		if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}
