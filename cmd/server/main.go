// Package main is the entry point for the rental calendar door-code server.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rental-control/backend/internal/api"
	"github.com/rental-control/backend/internal/calendar"
	"github.com/rental-control/backend/internal/config"
	"github.com/rental-control/backend/internal/coordinator"
	"github.com/rental-control/backend/internal/lock"
	"github.com/rental-control/backend/internal/override"
	"github.com/rental-control/backend/internal/storage"
	"github.com/rental-control/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	configPath := flag.String("config", "./config.yaml", "Path to the YAML configuration file")
	addr := flag.String("addr", "", "HTTP server address (overrides config)")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %q: %v", *configPath, err)
	}
	if *addr != "" {
		cfg.Listen = *addr
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Listen); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting rental control server (version: %s)...", version)

	// Initialize database
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory %q: %v", cfg.DataDir, err)
	}
	db, err := storage.Open(cfg.DataDir + "/rental-control.db")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations complete")

	// Initialize WebSocket hub
	hub := websocket.NewHub()
	go hub.Run()
	broadcaster := websocket.NewEventBroadcaster(hub)

	// Initialize repositories
	syncHistory := storage.NewSyncHistoryRepository(db)
	slotOps := storage.NewSlotOperationRepository(db)

	// Slot management is optional: without a lock name the service only
	// tracks the calendar.
	var (
		store   *override.Store
		slots   coordinator.SlotController
		watcher *lock.Watcher
	)
	if cfg.LockName != "" {
		lockConfig := lock.DefaultConfig()
		if cfg.HomeAssistant.BaseURL != "" {
			lockConfig.BaseURL = cfg.HomeAssistant.BaseURL
		}
		if cfg.HomeAssistant.Token != "" {
			lockConfig.Token = cfg.HomeAssistant.Token
		}

		store = override.NewStore(cfg.StartSlot, cfg.MaxEvents)
		slots = lock.NewClient(lockConfig, cfg.LockName)
		watcher = lock.NewWatcher(lockConfig, cfg.LockName, cfg.StartSlot, cfg.MaxEvents)
	}

	checkinH, checkinM := cfg.CheckinTime()
	checkoutH, checkoutM := cfg.CheckoutTime()
	pipeline := calendar.NewPipeline(calendar.Options{
		URL:               cfg.URL,
		VerifyTLS:         *cfg.VerifySSL,
		Timezone:          cfg.Location(),
		CheckinHour:       checkinH,
		CheckinMinute:     checkinM,
		CheckoutHour:      checkoutH,
		CheckoutMinute:    checkoutM,
		Days:              cfg.Days,
		EventPrefix:       cfg.EventPrefix,
		IgnoreNonReserved: *cfg.IgnoreNonReserved,
		Overrides:         overrideLookup(store),
	})

	coord := coordinator.New(cfg, pipeline, store, slots, syncHistory, slotOps, broadcaster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := coord.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Coordinator stopped: %v", err)
		}
	}()

	if watcher != nil {
		go watcher.Run(ctx)
		go func() {
			for change := range watcher.Changes() {
				coord.HandleSlotChange(ctx, change)
			}
		}()
	}

	router := api.NewRouter(db, hub, coord, syncHistory, slotOps)

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("Server listening on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// overrideLookup adapts a possibly-nil store to the pipeline's lookup
// interface. A typed nil inside a non-nil interface would defeat the
// pipeline's nil check.
func overrideLookup(store *override.Store) calendar.OverrideLookup {
	if store == nil {
		return nil
	}
	return store
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := "http://" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return http.ErrAbortHandler
	}
	return nil
}
