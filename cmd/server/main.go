// Command ck-server runs the clinic store with autosave, the gRPC admin API
// and the Prometheus metrics endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/clinic-keeper/internal/backend"
	"github.com/and161185/clinic-keeper/internal/config"
	"github.com/and161185/clinic-keeper/internal/limiter"
	"github.com/and161185/clinic-keeper/internal/metrics"
	"github.com/and161185/clinic-keeper/internal/model"
	grpcserver "github.com/and161185/clinic-keeper/internal/server/grpc"
	"github.com/and161185/clinic-keeper/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

// main loads configuration, restores the latest snapshot and serves until a signal arrives.
func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	loc, err := cfg.TimeLocation()
	if err != nil {
		logger.Fatal("location", zap.Error(err))
	}
	logger.Info("clinic time zone", zap.Stringer("location", loc))

	if cfg.Server.JWTKey == "" {
		logger.Fatal("missing jwt signing key (--jwt-key or " + config.EnvJWTKey + ")")
	}
	tokens, err := service.NewTokenService([]byte(cfg.Server.JWTKey), cfg.Server.TokenTTL)
	if err != nil {
		logger.Fatal("token service", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store and persistence
	m := metrics.New()
	db := model.NewDB(model.WithLogger(logger), model.WithObserver(m))
	store := service.NewStore(db)

	repo, err := backend.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer func() { _ = repo.Close() }()

	persister := service.NewPersister(store, repo, limiter.NewInterval(cfg.Persist.Throttle), m, logger)
	if _, err := persister.Restore(ctx); err != nil {
		logger.Fatal("restore snapshot", zap.Error(err))
	}

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.MetricsUnary(m),
			grpcserver.AuthUnary(tokens),
		),
	}
	if cfg.Server.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	}
	s := grpc.NewServer(opts...)
	grpcserver.RegisterAdminServer(s, grpcserver.New(store, persister, logger))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	// Metrics
	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.Server.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	// Autosave; the loop flushes once more when ctx ends
	saveDone := make(chan error, 1)
	go func() { saveDone <- persister.Run(ctx, cfg.Persist.Interval) }()

	// Listen
	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr), zap.Bool("tls", cfg.Server.TLSCert != ""))
		errCh <- s.Serve(lis)
	}()

	// Wait for stop
	exit := 0
	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exit = 1
		stop()
	}

	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = metricsSrv.Shutdown(sctx)
		cancel()
	}
	if err := <-saveDone; err != nil {
		logger.Error("final save", zap.Error(err))
		exit = 1
	}

	_ = store.Do(func(db *model.DB) error {
		db.Teardown()
		return nil
	})

	logger.Info("shutdown complete")
	if exit != 0 {
		_ = logger.Sync()
		os.Exit(exit)
	}
}
