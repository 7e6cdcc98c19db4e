package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aadithya-v/geotrack"
	"github.com/aadithya-v/geotrack/internal/config"
	"github.com/aadithya-v/geotrack/server"
	"github.com/aadithya-v/geotrack/source"
	"github.com/aadithya-v/geotrack/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracking HTTP API",
		Long:  "Opens the session store, recovers any session left open by a previous run, and serves the tracking API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "geotrack.yaml", "path to geotrack config file")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides server.addr)")
	return cmd
}

// gatedSource is a fix source that can report whether it is usable.
type gatedSource interface {
	geotrack.FixSource
	Available() bool
}

func runServe(cmd *cobra.Command, configPath, addr string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger := log.New(os.Stderr, "geotrack: ", log.LstdFlags)

	sessions, err := openSessionStore(cfg)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = store.NewRedisClient(store.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			sessions.Close()
			return err
		}
	}

	trackerCfg := geotrack.Config{
		Interval:        cfg.Tracking.Interval,
		MinInterval:     cfg.Tracking.MinInterval,
		MaxDelay:        cfg.Tracking.MaxDelay,
		WriteQueueSize:  cfg.Tracking.WriteQueue,
		WriteTimeout:    cfg.Tracking.WriteTimeout,
		RecoveryEndTime: geotrack.RecoveryPolicy(cfg.Tracking.RecoveryEndTime),
		SessionStore:    sessions,
		Logger:          logger,
	}

	switch cfg.State.Backend {
	case "redis":
		trackerCfg.StateStore = store.NewRedisStateStore(redisClient, cfg.Redis.KeyPrefix)
	case "memory":
		trackerCfg.StateStore = store.NewMemoryStore()
	}
	if cfg.Events.RedisRelay {
		trackerCfg.Relay = store.NewRedisRelay(redisClient, cfg.Redis.KeyPrefix)
	}

	src, push, lookup, err := buildSource(cfg)
	if err != nil {
		closeAll(sessions, redisClient)
		return err
	}
	if lookup != nil {
		defer lookup.Close()
	}
	trackerCfg.Source = src
	trackerCfg.Gate = func(ctx context.Context) bool { return src.Available() }

	tracker, err := geotrack.New(trackerCfg)
	if err != nil {
		closeAll(sessions, redisClient)
		return err
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Printf("close: %v", err)
		}
		// The Redis state store closes the client itself.
		if redisClient != nil && cfg.State.Backend != "redis" {
			redisClient.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return server.Start(ctx, server.StartOpts{
		Tracker: tracker,
		Push:    push,
		GeoIP:   lookup,
		Addr:    cfg.Server.Addr,
		Logger:  logger,
		Out:     cmd.OutOrStdout(),
	})
}

// buildSource creates the configured fix source. The GeoIP database, when
// configured, also backs client address lookups for the push endpoint.
func buildSource(cfg *config.Config) (gatedSource, *source.Push, *source.GeoIP, error) {
	var lookup *source.GeoIP
	if cfg.Source.GeoIPDatabase != "" {
		g, err := source.NewGeoIP(cfg.Source.GeoIPDatabase, cfg.Source.IP)
		if err != nil {
			return nil, nil, nil, err
		}
		lookup = g
	}

	if cfg.Source.Kind == "geoip" {
		return lookup, nil, lookup, nil
	}
	push := source.NewPush(cfg.Source.PushBuffer)
	return push, push, lookup, nil
}

func closeAll(sessions store.SessionStore, client *redis.Client) {
	sessions.Close()
	if client != nil {
		client.Close()
	}
}
