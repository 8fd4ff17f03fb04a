package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pairwave/rendezvous/internal/httpapi"
	"github.com/pairwave/rendezvous/internal/messaging"
	"github.com/pairwave/rendezvous/internal/pool"
	"github.com/pairwave/rendezvous/internal/ratelimit"
	"github.com/pairwave/rendezvous/internal/registry"
	"github.com/pairwave/rendezvous/internal/rendezvous"
	"github.com/pairwave/rendezvous/internal/scoring"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := rendezvous.DefaultConfig()
	scores := scoring.DefaultConfig()
	httpCfg := httpapi.DefaultConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		httpCfg.ListenAddr = addr
	}
	if v := os.Getenv("DEBUG_SNAPSHOT"); v == "1" || v == "true" {
		httpCfg.Debug = true
	}
	if v := os.Getenv("WAITING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WaitingTimeout = d
		}
	}
	if v := os.Getenv("MATCH_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MatchLifetime = d
		}
	}
	if v := os.Getenv("POOL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PoolCapacity = n
		}
	}
	if v := os.Getenv("FRESH_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			scores.FreshWindow = d
		}
	}
	if v := os.Getenv("VERY_FRESH_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			scores.VeryFreshWindow = d
		}
	}

	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	var (
		waiting pool.Store
		matches registry.Store
		limiter *ratelimit.Limiter
	)
	switch backend {
	case "memory":
		waiting = pool.NewMemoryStore()
		matches = registry.NewMemoryStore()
	case "redis":
		redisAddr := "localhost:6379"
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			redisAddr = v
		}
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
		waiting = pool.NewRedisStore(rdb, cfg.MatchLifetime)
		matches = registry.NewRedisStore(rdb, cfg.MatchLifetime)
		limiter = ratelimit.NewLimiter(rdb)
		log.Printf("using Redis store at %s", redisAddr)
	default:
		log.Fatalf("unknown STORE_BACKEND %q (want memory or redis)", backend)
	}

	svc := rendezvous.NewService(waiting, matches, cfg, scores)

	// Lifecycle events are optional; without NATS_URL the service is silent.
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = natsURL
		natsClient, err := messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer natsClient.Close()
		svc.SetEventPublisher(natsClient)
	}

	log.Printf("Rendezvous server starting")
	log.Printf("  listen_addr:     %s", httpCfg.ListenAddr)
	log.Printf("  store_backend:   %s", backend)
	log.Printf("  waiting_timeout: %s", cfg.WaitingTimeout)
	log.Printf("  match_lifetime:  %s", cfg.MatchLifetime)
	log.Printf("  pool_capacity:   %d", cfg.PoolCapacity)
	log.Printf("  debug_snapshot:  %v", httpCfg.Debug)

	api := httpapi.NewServer(svc, httpCfg)
	if limiter != nil {
		api.SetLimiter(limiter)
	}

	server := &http.Server{
		Addr:    httpCfg.ListenAddr,
		Handler: api.Handler(),
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-done
	log.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
