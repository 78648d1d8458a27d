// Command server runs the line relay.
//
// Clients connect over TCP (default :8080), send their display name as the
// first line, then every line they send is relayed to all other clients.
// Browsers can join the same relay through the websocket gateway
// (default :8081, endpoint /ws).
//
// # Usage
//
//	go run ./cmd/server -config relay.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/Tyrowin/linerelay/internal/logging"
	"github.com/Tyrowin/linerelay/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)

	relay := server.New(cfg, server.WithLogger(logger), server.WithMetricSink(sink))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		if err := relay.ListenAndServe(ctx); err != nil && !errors.Is(err, server.ErrServerClosed) {
			errCh <- fmt.Errorf("relay listener: %w", err)
		}
	}()

	gateway := server.CreateServer(cfg.HTTPAddr, relay.Routes())
	if cfg.HTTPAddr != "" {
		go func() {
			if err := server.StartServer(gateway, logger); err != nil {
				errCh <- fmt.Errorf("http gateway: %w", err)
			}
		}()
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("fatal transport error", "error", err)
		exitCode = 1
	}

	if cfg.HTTPAddr != "" {
		_ = server.ShutdownServer(gateway, cfg.ShutdownTimeout, logger)
	}
	if err := relay.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("relay shutdown incomplete", "error", err)
	}

	stop()
	os.Exit(exitCode)
}
