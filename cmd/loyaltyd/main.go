package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joseph-ayodele/receipt-rewards/internal/app"
	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/ingest"
	"github.com/joseph-ayodele/receipt-rewards/internal/metrics"
	"github.com/joseph-ayodele/receipt-rewards/internal/server"
)

func main() {
	cfg := common.LoadConfig()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if !strings.Contains(cfg.Server.GRPCAddr, ":") {
		cfg.Server.GRPCAddr = ":" + cfg.Server.GRPCAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer, healthServer := server.NewGRPCServer(a.Loyalty, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.NewHTTPHandler(a.Exports, a.HealthChecks(), logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go a.RefreshRules(ctx, cfg.Rules.RefreshInterval)
	go a.SweepExpired(ctx, cfg.Pipeline.ExpirySweepInterval)

	if cfg.Pipeline.InboxDir != "" {
		go func() {
			err := ingest.Watch(ctx, ingest.WatchConfig{
				Roots:       []string{cfg.Pipeline.InboxDir},
				InitialScan: true,
				Debounce:    500 * time.Millisecond,
			}, a.Ingestor, logger)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("inbox watcher stopped", "error", err)
			}
		}()
	}

	logger.Info("loyaltyd listening", "grpc_addr", cfg.Server.GRPCAddr, "http_addr", cfg.Server.HTTPAddr)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			os.Exit(1)
		}
	}()
	if cfg.Server.HTTPAddr != "" {
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP serve error", "error", err)
				os.Exit(1)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	a.Close(shutdownCtx)
}
