package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/health"

	"github.com/alfredjeanlab/spine/internal/broadcast"
	"github.com/alfredjeanlab/spine/internal/config"
	"github.com/alfredjeanlab/spine/internal/events"
	"github.com/alfredjeanlab/spine/internal/normalize"
	"github.com/alfredjeanlab/spine/internal/server"
	"github.com/alfredjeanlab/spine/internal/store"
	"github.com/alfredjeanlab/spine/internal/store/memory"
	"github.com/alfredjeanlab/spine/internal/store/postgres"
	spinesync "github.com/alfredjeanlab/spine/internal/sync"
)

// healthInterval is how often the gRPC health status follows store pings.
const healthInterval = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the spine HTTP and gRPC servers",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create a client connection.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("error closing store", "err", err)
			}
		}()
		logger.Info("store ready", "backend", cfg.Store)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		hub := broadcast.NewHub()
		opts := []server.Option{
			server.WithKeepalive(cfg.Keepalive),
			server.WithWebSocketOrigins(cfg.WSOrigins),
		}

		// Event bus: deltas fan out through it and ingestion traffic arrives on it.
		pub, sub, err := openBus(ctx, cfg)
		if err != nil {
			return err
		}
		if pub != nil {
			defer closeBus(pub, sub)
			opts = append(opts, server.WithFanout(broadcast.NewBusFanout(pub)))
			logger.Info("events enabled", "bus", cfg.Bus)
		} else {
			logger.Info("events disabled (SPINE_NATS_URL and SPINE_REDIS_URL not set)")
		}

		if cfg.MappingsFile != "" {
			overlay, err := normalize.LoadOverlay(cfg.MappingsFile)
			if err != nil {
				return err
			}
			stopWatch, err := overlay.Watch()
			if err != nil {
				return err
			}
			defer stopWatch()
			opts = append(opts, server.WithOverlay(overlay))
			logger.Info("mapping overlay loaded", "path", cfg.MappingsFile)
		}

		activityServer := server.NewActivityServer(st, hub, opts...)

		if sub != nil {
			relay := broadcast.NewRelay(hub, sub, logger)
			go func() {
				if err := relay.Run(ctx); err != nil {
					logger.Error("delta relay error", "err", err)
				}
			}()
			go func() {
				if err := activityServer.RunBusIngest(ctx, sub); err != nil {
					logger.Error("bus ingest error", "err", err)
				}
			}()
		}

		hs := health.NewServer()
		go activityServer.WatchStoreHealth(ctx, hs, healthInterval)
		grpcServer := server.NewGRPCServer(activityServer, hs, cfg.AuthToken)

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           activityServer.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		var scheduler *spinesync.Scheduler
		if cfg.ArchiveEnabled() {
			dest, err := spinesync.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Region, cfg.SyncS3Endpoint)
			if err != nil {
				logger.Error("failed to create S3 archive destination", "err", err)
			} else {
				scheduler = spinesync.NewScheduler(st, dest, cfg.ArchiveTenants, cfg.SyncS3Prefix, cfg.SyncInterval, logger)
				scheduler.Start()
				logger.Info("archive scheduler started",
					"bucket", cfg.SyncS3Bucket,
					"tenants", len(cfg.ArchiveTenants),
					"interval", cfg.SyncInterval,
				)
			}
		}

		logger.Info("spine server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		// Open SSE and WebSocket streams end with the base context.
		cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(10 * time.Second):
			grpcServer.Stop()
		}
		logger.Info("gRPC server stopped")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")
		logger.Info("shutdown complete")
		return nil
	},
}

func closeBus(pub events.Publisher, sub events.Subscriber) {
	if err := sub.Close(); err != nil {
		slog.Error("error closing subscriber", "err", err)
	}
	if any(pub) == any(sub) {
		return
	}
	if err := pub.Close(); err != nil {
		slog.Error("error closing publisher", "err", err)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store == config.StoreMemory {
		return memory.New(), nil
	}
	return postgres.New(cfg.DatabaseURL)
}

// openBus connects the configured event bus. Both results are nil when no
// bus is configured.
func openBus(ctx context.Context, cfg *config.Config) (events.Publisher, events.Subscriber, error) {
	switch cfg.Bus {
	case config.BusNATS:
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		sub, err := events.NewNATSSubscriber(cfg.NATSURL)
		if err != nil {
			pub.Close()
			return nil, nil, err
		}
		return pub, sub, nil
	case config.BusRedis:
		bus, err := events.NewRedisBus(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus, nil
	}
	return nil, nil, nil
}
