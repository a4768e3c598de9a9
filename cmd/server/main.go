// Package main runs the Antigravity router server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flag"

	"github.com/poemonsense/antigravity-router/internal/account"
	"github.com/poemonsense/antigravity-router/internal/config"
	"github.com/poemonsense/antigravity-router/internal/events"
	"github.com/poemonsense/antigravity-router/internal/health"
	"github.com/poemonsense/antigravity-router/internal/issues"
	"github.com/poemonsense/antigravity-router/internal/router"
	"github.com/poemonsense/antigravity-router/internal/server"
	"github.com/poemonsense/antigravity-router/internal/utils"
	"github.com/poemonsense/antigravity-router/pkg/redis"
)

func main() {
	var (
		debugMode bool
		devMode   bool
		port      int
		host      string
	)

	flag.BoolVar(&debugMode, "debug", false, "Enable debug mode (legacy alias for dev-mode)")
	flag.BoolVar(&devMode, "dev-mode", false, "Enable developer mode")
	flag.IntVar(&port, "port", 0, "Server port (default: 8080)")
	flag.StringVar(&host, "host", "", "Bind address (default: 0.0.0.0)")
	flag.Parse()

	if os.Getenv("DEBUG") == "true" || os.Getenv("DEV_MODE") == "true" {
		devMode = true
	}
	if debugMode {
		devMode = true
	}

	if port == 0 {
		if envPort := os.Getenv("PORT"); envPort != "" {
			fmt.Sscanf(envPort, "%d", &port)
		}
	}
	if host == "" {
		host = os.Getenv("HOST")
	}

	utils.SetDebug(devMode)

	cfg := config.DefaultConfig()
	if err := cfg.Load(); err != nil {
		utils.Warn("[Startup] Failed to load config: %v", err)
	}
	if devMode {
		cfg.DevMode = true
		utils.Debug("Developer mode enabled")
	}
	if port == 0 {
		port = cfg.Port
	}
	if host == "" {
		host = cfg.Host
	}

	// Redis mirror is optional; the router runs fully in memory without it
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		var err error
		redisClient, err = redis.NewClient(redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			utils.Error("[Startup] Failed to connect to Redis: %v", err)
			utils.Warn("[Startup] Starting without Redis - health mirror disabled")
			redisClient = nil
		}
	}
	mirror := redis.NewHealthMirror(redisClient)

	recorder := events.NewRecorder(cfg)
	registry := account.NewRegistry(account.NewFileStore(), recorder)
	if err := registry.Load(); err != nil {
		utils.Warn("[Startup] Failed to load accounts: %v", err)
	}
	if registry.Count() == 0 {
		if err := registry.Reload(); err != nil {
			utils.Warn("[Startup] Account import failed: %v", err)
		}
	}

	tracker := health.NewTracker(cfg, registry, recorder)
	aggregator := issues.NewAggregator(cfg, registry)
	aggregator.Attach(recorder)
	registry.OnRemove(aggregator.DropAccount)
	rt := router.NewRouter(cfg, registry, tracker, recorder)

	recorder.StartBackground()
	tracker.StartRecoverySweep()
	aggregator.StartSweep()

	mirrorStop := make(chan struct{})
	if mirror.IsAvailable() {
		registry.OnRemove(func(email string) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := mirror.DropAccount(ctx, email); err != nil {
				utils.Debug("[Mirror] Failed to drop %s: %v", email, err)
			}
		})
		go runMirror(mirror, registry, tracker, mirrorStop)
		utils.Info("[Startup] Health mirror enabled (%s)", cfg.RedisAddr)
	}

	srv := server.New(cfg, registry, tracker, recorder, aggregator, rt, server.Options{
		Debug: devMode,
	})

	recorder.RecordSystem("Server starting", map[string]interface{}{
		"version":  config.Version,
		"accounts": registry.Count(),
	})

	printBanner(port, host, devMode, registry, cfg)

	addr := fmt.Sprintf("%s:%d", host, port)
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(addr)
	}()

	utils.Success("Server started successfully on port %d", port)
	if devMode {
		utils.Warn("Running in DEVELOPER mode - verbose logs enabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errChan:
		if err != nil {
			utils.Error("[Server] Failed: %v", err)
			os.Exit(1)
		}
	}

	utils.Info("Shutting down server...")
	recorder.RecordSystem("Server stopping", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		utils.Error("Server forced to shutdown: %v", err)
	}

	close(mirrorStop)
	tracker.Stop()
	aggregator.Stop()
	// Stop flushes the final event snapshot
	recorder.Stop()
	if err := registry.Save(); err != nil {
		utils.Warn("Failed to persist accounts: %v", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}

	utils.Success("Server stopped")
}

// runMirror periodically publishes health snapshots to Redis
func runMirror(mirror *redis.HealthMirror, registry *account.Registry, tracker *health.Tracker, stop chan struct{}) {
	ticker := time.NewTicker(time.Duration(config.SnapshotIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			for _, acc := range registry.List() {
				if err := mirror.PublishAccount(ctx, acc.Email, acc.HealthSnapshot()); err != nil {
					utils.Debug("[Mirror] Failed to publish %s: %v", acc.Email, err)
				}
			}
			if err := mirror.PublishSummary(ctx, tracker.GetHealthSummary()); err != nil {
				utils.Debug("[Mirror] Failed to publish summary: %v", err)
			}
			cancel()
		case <-stop:
			return
		}
	}
}

// printBanner prints the startup banner
func printBanner(port int, host string, devMode bool, registry *account.Registry, cfg *config.Config) {
	displayHost := host
	if host == "0.0.0.0" {
		displayHost = "localhost"
	}

	statusLines := []string{
		fmt.Sprintf("    ✓ Accounts: %d configured", registry.Count()),
	}
	if devMode {
		statusLines = append(statusLines, "    ✓ Developer mode enabled")
	}
	if cfg.RedisAddr != "" {
		statusLines = append(statusLines, "    ✓ Redis health mirror configured")
	}

	fmt.Println(`
╔══════════════════════════════════════════════════════════════╗
║              Antigravity Router Server v` + config.Version + `                 ║
╠══════════════════════════════════════════════════════════════╣
║                                                              ║`)
	fmt.Printf("║  API running at: http://%s:%-28d ║\n", displayHost, port)
	fmt.Println("║                                                              ║")
	fmt.Println("║  Active Modes:                                               ║")
	for _, line := range statusLines {
		fmt.Printf("║  %-60s ║\n", line)
	}
	fmt.Println("║                                                              ║")
	fmt.Println("║  Endpoints:                                                  ║")
	fmt.Println("║    POST /api/route           - Pick an account for a model   ║")
	fmt.Println("║    POST /api/route/outcome   - Report a request result       ║")
	fmt.Println("║    GET  /api/health          - Account x model health matrix ║")
	fmt.Println("║    GET  /api/events          - Event log                     ║")
	fmt.Println("║    GET  /api/events/stream   - Live event stream (SSE)       ║")
	fmt.Println("║    GET  /api/issues          - Aggregated issues             ║")
	fmt.Println("║    GET  /health              - Liveness check                ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Configuration:                                              ║")
	fmt.Printf("║    Storage: %-50s ║\n", config.ConfigDir)
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
}
