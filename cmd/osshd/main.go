package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osshkit/osshd/internal/logger"
	"github.com/osshkit/osshd/pkg/config"
	"github.com/osshkit/osshd/pkg/device"
	"github.com/osshkit/osshd/pkg/inventory"
	"github.com/osshkit/osshd/pkg/metrics"
	"github.com/osshkit/osshd/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Override log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logOut, closeLog, err := openLogOutput(cfg.Logging.Output)
	if err != nil {
		log.Fatalf("Failed to open log output: %v", err)
	}
	defer closeLog()

	lg := logger.New(cfg.Logging.Level, logOut)

	fmt.Println("osshd - Outbound-SSH NETCONF Session Server")
	lg.Info("Log level set to: %s", cfg.Logging.Level)

	store, err := openInventory(cfg.Inventory, lg)
	if err != nil {
		log.Fatalf("Failed to open inventory store: %v", err)
	}
	defer store.Close()

	serverMetrics := metrics.NoopServerMetrics()
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		serverMetrics = metrics.NewServerMetrics()
		metricsServer = startMetricsEndpoint(cfg.Metrics.ListenAddress, lg)
	}

	srv, err := server.New(cfg.Server, cfg.Auth, saveToInventory(store, lg),
		server.WithLogger(lg),
		server.WithMetrics(serverMetrics),
	)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	lg.Info("Server is running on %s. Press Ctrl+C to stop.", srv.Addr())
	<-sigChan

	lg.Info("Shutdown signal received, initiating shutdown...")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := srv.Stop(stopCtx); err != nil {
		lg.Error("Server shutdown error: %v", err)
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancelMetrics()
	}

	lg.Info("Server stopped")
}

// saveToInventory returns the device callback: every device that completes
// the pipeline gets its fact record written to the store, keyed by serial
// number.
func saveToInventory(store inventory.Store, lg *logger.Logger) server.DeviceCallback {
	return func(ctx context.Context, handle *device.Handle, facts *device.Facts) {
		if facts.SerialNumber == "" {
			lg.Warn("device %s reported no serial number, skipping inventory", facts.Hostname)
			return
		}

		rec := inventory.Record{
			Facts:       *facts,
			PeerAddr:    facts.MgmtIPAddr,
			ConnectedAt: time.Now(),
		}
		if err := store.Put(ctx, rec); err != nil {
			lg.Error("failed to save device %s to inventory: %v", facts.SerialNumber, err)
			return
		}
		lg.Info("device %s (%s) saved to inventory", facts.SerialNumber, facts.Hostname)
	}
}

// openInventory creates the configured inventory store.
func openInventory(cfg config.InventoryConfig, lg *logger.Logger) (inventory.Store, error) {
	switch cfg.Type {
	case "badger":
		lg.Info("Inventory store: badger (%s)", cfg.Badger.Path)
		return inventory.NewBadgerStore(cfg.Badger.Path)
	default:
		lg.Info("Inventory store: memory")
		return inventory.NewMemoryStore(), nil
	}
}

// openLogOutput resolves the logging output setting to a writer.
func openLogOutput(output string) (io.Writer, func(), error) {
	switch output {
	case "", "stdout":
		return os.Stdout, func() {}, nil
	case "stderr":
		return os.Stderr, func() {}, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	}
}

// startMetricsEndpoint serves the Prometheus exposition endpoint in the
// background.
func startMetricsEndpoint(addr string, lg *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		lg.Info("Metrics endpoint listening on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error("Metrics endpoint error: %v", err)
		}
	}()
	return srv
}
