package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Firefox2100/dedi-gateway/pkg/api"
	"github.com/Firefox2100/dedi-gateway/pkg/broker"
	"github.com/Firefox2100/dedi-gateway/pkg/cache"
	"github.com/Firefox2100/dedi-gateway/pkg/config"
	"github.com/Firefox2100/dedi-gateway/pkg/connection"
	"github.com/Firefox2100/dedi-gateway/pkg/gateway"
	"github.com/Firefox2100/dedi-gateway/pkg/kms"
	"github.com/Firefox2100/dedi-gateway/pkg/log"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/metrics"
	"github.com/Firefox2100/dedi-gateway/pkg/netdriver"
	"github.com/Firefox2100/dedi-gateway/pkg/scheduler"
	"github.com/Firefox2100/dedi-gateway/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the gateway: serve the management and service surfaces, keep
connections to federation peers, and gossip on schedule.

Configuration comes from DG_* environment variables; the config
command shows the effective values.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("main")

	metrics.SetVersion(Version)

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	metrics.SetComponent("database", true, "")

	routeCache, msgBroker, err := openCacheAndBroker(cfg)
	if err != nil {
		return err
	}
	metrics.SetComponent("cache", true, "")
	metrics.SetComponent("broker", true, "")

	keyService, err := openKMS(cfg)
	if err != nil {
		return err
	}
	metrics.SetComponent("kms", true, "")

	registry := message.NewRegistry()
	if cfg.MessageCatalogDir != "" {
		if err := registry.LoadDir(cfg.MessageCatalogDir); err != nil {
			return err
		}
	}
	if cfg.ProxyConfig != "" {
		if err := registry.ApplyProxyOverlay(cfg.ProxyConfig); err != nil {
			return err
		}
	}

	driver := netdriver.NewDriver()
	if cfg.PrivateNetwork {
		driver = netdriver.NewPrivateDriver()
	}
	conn := connection.NewManager(connection.Config{
		Database:  db,
		Cache:     routeCache,
		Broker:    msgBroker,
		KMS:       keyService,
		Driver:    driver,
		EMAFactor: cfg.EMAFactor,
	})

	engine := gateway.New(gateway.Config{
		Database:            db,
		Cache:               routeCache,
		Broker:              msgBroker,
		KMS:                 keyService,
		Driver:              driver,
		Connections:         conn,
		Registry:            registry,
		ServiceName:         cfg.ServiceName,
		ServiceDescription:  cfg.ServiceDescription,
		AccessURL:           cfg.AccessURL,
		ChallengeDifficulty: cfg.ChallengeDifficulty,
	})

	sched := scheduler.NewScheduler(
		scheduler.Job{
			Name:     "network-sync",
			Interval: 24 * time.Hour,
			Jitter:   5 * time.Minute,
			Run:      engine.SyncAll,
		},
		scheduler.Job{
			Name:     "admission-poll",
			Interval: 5 * time.Minute,
			Run:      engine.PollPendingRequests,
		},
	)
	sched.Start()

	collector := metrics.NewCollector(db, conn)
	collector.Start()

	server := api.NewServer(api.Config{
		Engine:      engine,
		Connections: conn,
		ListenAddr:  cfg.ListenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- fmt.Errorf("API server: %w", err)
		}
	}()

	logger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("access_url", cfg.AccessURL).
		Str("version", Version).
		Msg("Gateway started")

	// Wait for an interrupt signal or an API server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		logger.Info().Msg("Shutting down")
	case err := <-errCh:
		runErr = err
	}

	sched.Stop()
	collector.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server did not drain cleanly")
	}

	_ = engine.Close()
	_ = conn.Close()

	logger.Info().Msg("Gateway stopped")
	return runErr
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	if cfg.DatabaseDriver == config.DriverDocument {
		return storage.NewBoltDatabase(cfg.DataDir)
	}
	return storage.NewMemoryDatabase(), nil
}

// openCacheAndBroker builds the route cache and the frame broker. Both
// redis variants share one client, checked with a ping so a bad address
// fails at startup instead of on the first frame.
func openCacheAndBroker(cfg *config.Config) (cache.Cache, broker.Broker, error) {
	var client *redis.Client
	if cfg.CacheDriver == config.DriverRedis || cfg.BrokerDriver == config.DriverRedis {
		client = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr(), err)
		}
	}

	var routeCache cache.Cache = cache.NewMemoryCache()
	if cfg.CacheDriver == config.DriverRedis {
		routeCache = cache.NewRedisCache(client)
	}

	var msgBroker broker.Broker = broker.NewMemoryBroker()
	if cfg.BrokerDriver == config.DriverRedis {
		msgBroker = broker.NewRedisBroker(client)
	}

	return routeCache, msgBroker, nil
}

func openKMS(cfg *config.Config) (kms.Service, error) {
	if cfg.KmsDriver == config.DriverVault {
		return kms.NewVaultService(kms.VaultConfig{
			Address:       cfg.VaultAddr,
			Token:         cfg.VaultToken,
			TransitEngine: cfg.VaultTransitEngine,
			KVEngine:      cfg.VaultKVEngine,
			KVPath:        cfg.VaultKVPath,
		})
	}
	return kms.NewMemoryService(), nil
}
