package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/abdelmounim-dev/session-cache/config"
	"github.com/abdelmounim-dev/session-cache/log"
	"github.com/abdelmounim-dev/session-cache/metrics"
	"github.com/abdelmounim-dev/session-cache/pool"
	"github.com/abdelmounim-dev/session-cache/server"
	"github.com/abdelmounim-dev/session-cache/services"
	"github.com/abdelmounim-dev/session-cache/session"
)

func main() {
	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize config
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	cfg := config.Get()
	log.SetLevel(cfg.Log.Level)

	instanceID := uuid.New().String()
	log.Infof("Starting session cache instance %s", instanceID)

	// Redis connection pool
	identity, err := pool.ParseIdentity(cfg.Redis.Address)
	if err != nil {
		log.Fatalf("Invalid redis address: %v", err)
	}
	identity.Password = cfg.Redis.Password
	identity.DB = cfg.Redis.DB

	connPool := pool.New(
		pool.WithDialer(pool.DialerFromOptions(services.RedisOptions{
			PoolSize:     cfg.Redis.PoolSize,
			PoolTimeout:  time.Duration(cfg.Redis.PoolTimeout) * time.Second,
			DialTimeout:  time.Duration(cfg.Redis.DialTimeout) * time.Millisecond,
			ReadTimeout:  time.Duration(cfg.Redis.ReadTimeout) * time.Millisecond,
			WriteTimeout: time.Duration(cfg.Redis.WriteTimeout) * time.Millisecond,
			PingRetries:  cfg.Redis.ConnectRetries,
		})),
		pool.WithRecycleInterval(time.Duration(cfg.Pool.RecycleInterval)*time.Second),
		pool.WithStatsInterval(time.Duration(cfg.Pool.StatsInterval)*time.Second),
		pool.WithRetireGrace(time.Duration(cfg.Pool.RetireGrace)*time.Second),
	)
	defer connPool.Close()

	// Fail fast when redis is unreachable at startup.
	if _, err := connPool.Get(ctx, identity); err != nil {
		log.Fatalf("Failed to connect to Redis for session store: %v", err)
	}
	connPool.Start(ctx)

	// Session store and manager
	store, err := session.NewRedisStore(connPool, identity, cfg.Session.SessionTTL(), cfg.Session.AsyncWorkers)
	if err != nil {
		log.Fatalf("Failed to create session store: %v", err)
	}
	defer store.Close()

	manager := session.NewManager(store,
		session.WithKeyPrefix(cfg.Session.KeyPrefix),
		session.WithMaxSize(cfg.Session.MaxSizeBytes),
		session.WithCacheOptions(
			session.WithAccessTimeout(time.Duration(cfg.Session.AccessTimeout)*time.Millisecond),
		),
	)

	// Metrics
	if cfg.Metrics.Enabled {
		metricsServer := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
		defer metricsServer.Close()
	}

	// Create and start server
	port := ":" + strconv.Itoa(cfg.Server.Port)
	srv := server.New(port, manager,
		server.WithCookieName(cfg.Session.CookieName),
		server.WithTimeouts(
			time.Duration(cfg.Server.ReadTimeout)*time.Second,
			time.Duration(cfg.Server.WriteTimeout)*time.Second,
		),
	)
	go func() {
		if err := srv.Start(); err != nil {
			log.Errorf("%v", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Infof("Shutdown signal received")
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown error: %v", err)
	}
}
