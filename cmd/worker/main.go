// Command worker runs one engagement recompute sweep and exits. Meant for
// cron or one-off operational runs; the server binary runs the same sweep on
// its own schedule.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"time"

	"github.com/saffronemporial/lifecycle-engine/internal/config"
	"github.com/saffronemporial/lifecycle-engine/internal/customers"
	"github.com/saffronemporial/lifecycle-engine/internal/metrics"
	"github.com/saffronemporial/lifecycle-engine/internal/scoring"
	"github.com/saffronemporial/lifecycle-engine/internal/segmentation"
	"github.com/saffronemporial/lifecycle-engine/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	timeout := flag.Duration("timeout", time.Hour, "maximum sweep duration")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("Redis unavailable, using database locks: %v", err)
			redisClient = nil
		}
	}

	customerStore := customers.NewStore(db)
	snapshotBuilder := metrics.NewBuilder(db)
	scoreEngine := scoring.NewEngine(snapshotBuilder, scoring.NewStore(db))
	segmentEngine := segmentation.NewEngine(segmentation.NewStore(db), customerStore, snapshotBuilder, scoreEngine.Store())
	if redisClient != nil {
		segmentEngine.SetCache(segmentation.NewCache(redisClient, cfg.Segmentation.CacheTTL()))
	}

	w := worker.NewEngagementWorker(db, scoreEngine, segmentEngine)
	if redisClient != nil {
		w.SetRedisClient(redisClient)
	}

	log.Println("Running engagement recompute sweep")
	w.RunSweep(ctx)
	log.Println("Sweep complete")
}
