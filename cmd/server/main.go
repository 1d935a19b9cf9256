package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saffronemporial/lifecycle-engine/internal/actions"
	"github.com/saffronemporial/lifecycle-engine/internal/api"
	"github.com/saffronemporial/lifecycle-engine/internal/config"
	"github.com/saffronemporial/lifecycle-engine/internal/customers"
	"github.com/saffronemporial/lifecycle-engine/internal/messaging"
	"github.com/saffronemporial/lifecycle-engine/internal/metrics"
	"github.com/saffronemporial/lifecycle-engine/internal/pkg/httpretry"
	"github.com/saffronemporial/lifecycle-engine/internal/scheduler"
	"github.com/saffronemporial/lifecycle-engine/internal/scoring"
	"github.com/saffronemporial/lifecycle-engine/internal/segmentation"
	"github.com/saffronemporial/lifecycle-engine/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("Lifecycle Engine server starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Redis is optional: without it segment caching and distributed locks
	// fall back to the database.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Redis unavailable, continuing without cache: %v", err)
			redisClient = nil
		}
		pingCancel()
	}

	customerStore := customers.NewStore(db)
	snapshotBuilder := metrics.NewBuilder(db)
	scoreEngine := scoring.NewEngine(snapshotBuilder, scoring.NewStore(db))
	segmentEngine := segmentation.NewEngine(segmentation.NewStore(db), customerStore, snapshotBuilder, scoreEngine.Store())
	if redisClient != nil {
		segmentEngine.SetCache(segmentation.NewCache(redisClient, cfg.Segmentation.CacheTTL()))
	}

	gatewayClient := httpretry.NewRetryClient(
		&http.Client{Timeout: cfg.Gateway.Timeout()}, cfg.Gateway.MaxRetries)
	gateway := messaging.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, gatewayClient)

	dispatcher := actions.NewDefaultDispatcher(customerStore, gateway, segmentEngine,
		httpretry.NewRetryClient(nil, cfg.Gateway.MaxRetries))

	sched := scheduler.NewScheduler(db, dispatcher)
	sched.SetPollInterval(cfg.Scheduler.PollInterval())
	sched.SetRetention(cfg.Scheduler.Retention())
	sched.SetMaxRetries(cfg.Scheduler.MaxRetries)

	// Segment transitions feed back into the scheduler as new jobs.
	segmentEngine.SetAutomationTrigger(sched)

	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	var engagementWorker *worker.EngagementWorker
	if cfg.Engagement.Enabled {
		engagementWorker = worker.NewEngagementWorker(db, scoreEngine, segmentEngine)
		engagementWorker.SetInterval(cfg.Engagement.RecomputeInterval())
		if redisClient != nil {
			engagementWorker.SetRedisClient(redisClient)
		}
		if err := engagementWorker.Start(); err != nil {
			log.Fatalf("Failed to start engagement worker: %v", err)
		}
		defer engagementWorker.Stop()
	}

	handlers := api.NewHandlers(sched, segmentEngine, scoreEngine)
	router := api.SetupRoutes(handlers, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized, server is ready")

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
