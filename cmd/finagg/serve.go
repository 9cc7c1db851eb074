package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/reflection"

	"github.com/vbprojects/finagg/internal/features"
	"github.com/vbprojects/finagg/internal/logging"
	"github.com/vbprojects/finagg/internal/metrics"
	"github.com/vbprojects/finagg/internal/policy"
	"github.com/vbprojects/finagg/internal/rpc"
	"github.com/vbprojects/finagg/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve features and policy sampling over HTTP and gRPC",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("grpc-addr", ":9090", "gRPC listen address")
	serveCmd.Flags().Float64("requests-per-sec", 50, "HTTP rate limit (0 disables)")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	serveCmd.Flags().String("nats-url", "", "NATS server URL for events (empty disables)")
	bindFlag(serveCmd, "http_addr", "http-addr")
	bindFlag(serveCmd, "grpc_addr", "grpc-addr")
	bindFlag(serveCmd, "requests_per_sec", "requests-per-sec")
	bindFlag(serveCmd, "shutdown_timeout", "shutdown-timeout")
	bindFlag(serveCmd, "nats.url", "nats-url")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	publisher, closePublisher, err := newPublisher()
	if err != nil {
		return err
	}
	defer closePublisher()

	sampler, err := policy.NewSampler(cfg.Policy, logging.Component(logger, "policy"))
	if err != nil {
		return fmt.Errorf("build policy: %w", err)
	}
	collector := metrics.NewCollector(logging.Component(logger, "metrics"))

	h := server.NewServer(server.Deps{
		Sampler:     sampler,
		Fundamental: features.NewFundamental(s),
		Economic:    features.NewEconomic(s),
		Health:      s,
		Publisher:   publisher,
		Metrics:     collector,
	}, cfg.RequestsPerSec, logging.Component(logger, "http"))
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// Each transport serialises calls on its own sampler.
	grpcSampler, err := policy.NewSampler(cfg.Policy, logging.Component(logger, "policy"))
	if err != nil {
		return fmt.Errorf("build policy: %w", err)
	}
	grpcSrv := rpc.NewServer(rpc.NewService(grpcSampler, publisher, collector, logging.Component(logger, "grpc")), logger)
	reflection.Register(grpcSrv)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	errs := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server starting")
		if err := grpcSrv.Serve(lis); err != nil {
			errs <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case serveErr = <-errs:
		logger.Error().Err(serveErr).Msg("Server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful HTTP shutdown failed")
	}

	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-shutdownCtx.Done():
		logger.Warn().Msg("Shutdown timeout exceeded, forcing gRPC stop")
		grpcSrv.Stop()
	case <-stopped:
	}

	logger.Info().Msg("finagg stopped")
	return serveErr
}
