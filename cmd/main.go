package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"sandboxfaas/internal/api"
	"sandboxfaas/internal/faas"
	"sandboxfaas/internal/metrics"
	"sandboxfaas/internal/obs"
	"sandboxfaas/internal/ports"
	"sandboxfaas/internal/proxy"
	"sandboxfaas/internal/sandbox"
	"sandboxfaas/internal/sandbox/docker"
	"sandboxfaas/internal/sandbox/jail"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("WARNING: No .env file found, using environment variables")
		}
	}

	obs.Init()
	defer obs.Sync()

	cfg := loadConfig()

	backend, err := newBackend(cfg)
	if err != nil {
		obs.S().Fatalw("backend construction failed", "backend", cfg.Backend, "error", err)
	}

	sandboxManager := sandbox.NewManager(backend)
	if db, ok := backend.(*docker.Backend); ok {
		db.SetManager(sandboxManager)
	}

	faasManager := faas.NewManager(sandboxManager, cfg.BaseURL)
	reverseProxy := proxy.New(sandboxManager, cfg.PortAllocator, faasManager)
	collector := metrics.NewCollector(sandboxManager, faasManager)

	server := api.NewServer(sandboxManager, faasManager, cfg.PortAllocator, reverseProxy)
	router := server.NewRouter()

	runCtx, cancelRun := context.WithCancel(context.Background())
	go faasManager.Run(runCtx)
	go collector.Run(runCtx)

	httpServer := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		obs.S().Infow("listening", "addr", httpServer.Addr, "backend", cfg.Backend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		obs.S().Fatalw("server failed to start", "error", err)
	case sig := <-quit:
		obs.S().Infow("received signal, starting graceful shutdown", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		obs.S().Warnw("http server shutdown error", "error", err)
	}

	faasManager.Stop()
	collector.Stop()
	cancelRun()
	sandboxManager.Shutdown(shutdownCtx)

	obs.S().Infow("graceful shutdown complete")
}

// AppConfig holds the process-level wiring this entrypoint owns: the
// surrounding file/flag configuration loader is out of scope (§1), so
// this struct only carries what cmd/main.go itself needs to construct
// the core.
type AppConfig struct {
	Host    string
	Port    string
	Backend string
	BaseURL string

	DefaultTimeoutMs     int
	DefaultMemoryLimitMB int

	PortAllocator *ports.Allocator
}

func loadConfig() *AppConfig {
	host := getEnv("HOST", "0.0.0.0")
	port := getEnv("PORT", "8080")
	return &AppConfig{
		Host:                 host,
		Port:                 port,
		Backend:              getEnv("BACKEND", "docker"),
		BaseURL:              getEnv("BASE_URL", "http://localhost:"+port),
		DefaultTimeoutMs:     getEnvInt("DEFAULT_TIMEOUT_MS", 30_000),
		DefaultMemoryLimitMB: getEnvInt("DEFAULT_MEMORY_LIMIT_MB", 256),
		PortAllocator:        ports.NewAllocator(getEnvInt("PORT_RANGE_BASE", 8080)),
	}
}

func newBackend(cfg *AppConfig) (sandbox.Backend, error) {
	switch cfg.Backend {
	case "jail":
		return jail.NewBackend(getEnv("JAIL_BINARY", "jail")), nil
	default:
		return docker.NewBackend(getEnv("DOCKER_HOST", ""), cfg.PortAllocator)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
