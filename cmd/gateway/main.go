package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"flowchart_gateway/internal/config"
	"flowchart_gateway/internal/httpapi"
	"flowchart_gateway/internal/utils"
)

func main() {
	logger := utils.NewLogger("main")

	// A local .env is optional
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file loaded, using process environment", "error", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level, err := utils.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn("Unknown LOG_LEVEL, using info", "value", cfg.LogLevel)
	}
	utils.SetDefaultLogLevel(level)
	logger.SetLogLevel(level)

	// Create router with all dependencies
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	handler, deps, err := httpapi.NewRouter(startupCtx, cfg)
	cancelStartup()
	if err != nil {
		log.Fatalf("Failed to build router: %v", err)
	}

	// Create HTTP server
	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
		// generation calls can take as long as the generation timeout
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Generation.Timeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Flowchart gateway listening", "addr", addr, "ledger", cfg.Ledger.Backend, "provider", cfg.Generation.Provider, "payments", cfg.Payment.Enabled())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Flush queued generation history, then close connections
	deps.Close()

	logger.Info("Server exited")
}
