// Command coldvault-serve runs the QUIC repository server, exposing
// one on-disk repository over the network, alongside health and
// Prometheus metrics endpoints.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coldvault/coldvault/internal/config"
	"github.com/coldvault/coldvault/internal/hostid"
	"github.com/coldvault/coldvault/internal/observability"
	"github.com/coldvault/coldvault/internal/remote"
	"github.com/coldvault/coldvault/internal/validation"
)

func main() {
	listenAddr := flag.String("listen", ":4455", "QUIC listener address")
	observAddr := flag.String("observ-addr", "127.0.0.1:8081", "Health/metrics HTTP address")
	maxConns := flag.Int("max-connections", 64, "Maximum concurrent client connections")
	connTimeout := flag.Duration("conn-timeout", 30*time.Second, "Per-connection idle timeout")
	flag.Parse()

	if err := validation.ValidateAddr(*listenAddr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: --listen %v\n", err)
		os.Exit(1)
	}
	if err := validation.ValidateAddr(*observAddr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: --observ-addr %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger("coldvault-serve", "1.0.0", os.Stdout)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker("1.0.0")

	if shutdown, err := observability.InitTracing(context.Background(), "coldvault-serve"); err == nil {
		defer shutdown(context.Background())
	}

	logger.Info("coldvault-serve starting")

	host, err := hostid.LoadOrCreate("")
	if err != nil {
		logger.Fatal(err, "failed to resolve host id")
	}
	hostID := cfg.HostID
	if hostID == "" {
		hostID = host.String()
	}

	// A server-side process has no interactive terminal to prompt for
	// a passphrase; it expects COLDVAULT_PASSPHRASE to carry the
	// already-unwrapped 32-byte master secret, hex-encoded (or be
	// unset, for a none-mode repository).
	var masterSecret []byte
	if cfg.Passphrase != "" {
		masterSecret, err = hex.DecodeString(cfg.Passphrase)
		if err != nil || len(masterSecret) != 32 {
			logger.Fatal(fmt.Errorf("COLDVAULT_PASSPHRASE must be a hex-encoded 32-byte master secret"), "invalid master secret")
		}
	}

	healthChecker.RegisterCheck("quic_listener", observability.QUICListenerCheck(*listenAddr))
	healthChecker.RegisterCheck("keystore", observability.KeystoreCheck(len(masterSecret) > 0))

	server := remote.NewServer(&remote.ServerConfig{
		ListenAddr:     *listenAddr,
		MaxConnections: *maxConns,
		ConnTimeout:    *connTimeout,
		HostID:         hostID,
		SecurityDir:    cfg.SecurityDir,
		MasterSecret:   masterSecret,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthChecker.Handler())
	mux.Handle("/metrics", metrics.Handler())
	observServer := &http.Server{Addr: *observAddr, Handler: mux}
	go func() {
		if err := observServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "observability server stopped")
		}
	}()

	logger.Info("QUIC listener started on " + *listenAddr)
	logger.Info("observability server started on " + *observAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal " + sig.String() + ", shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error(err, "QUIC server stopped unexpectedly")
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	observServer.Shutdown(shutdownCtx)
}
