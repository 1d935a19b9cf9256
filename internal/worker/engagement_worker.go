package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saffronemporial/lifecycle-engine/internal/customers"
	"github.com/saffronemporial/lifecycle-engine/internal/pkg/distlock"
	"github.com/saffronemporial/lifecycle-engine/internal/pkg/logger"
	"github.com/saffronemporial/lifecycle-engine/internal/scoring"
	"github.com/saffronemporial/lifecycle-engine/internal/segmentation"
)

const (
	DefaultRecomputeInterval = 24 * time.Hour

	// recomputeLockTTL bounds how long a crashed instance can hold the
	// sweep lock.
	recomputeLockTTL = 2 * time.Hour

	recomputeLockKey = "engagement-recompute"
)

// EngagementWorker periodically recomputes every customer's engagement score
// and re-evaluates segment membership. A distributed lock keeps the sweep
// single-flight across instances.
type EngagementWorker struct {
	db          *sql.DB
	redisClient *redis.Client
	customers   *customers.Store
	scores      *scoring.Engine
	segments    *segmentation.Engine
	interval    time.Duration

	// Stats
	sweepsRun        int64
	customersScored  int64
	customersFailed  int64
	lastSweepStarted atomic.Value // time.Time

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewEngagementWorker creates a recompute worker with the default interval.
func NewEngagementWorker(db *sql.DB, scores *scoring.Engine, segments *segmentation.Engine) *EngagementWorker {
	return &EngagementWorker{
		db:        db,
		customers: customers.NewStore(db),
		scores:    scores,
		segments:  segments,
		interval:  DefaultRecomputeInterval,
	}
}

// SetRedisClient sets the Redis client used for the sweep lock.
// Without it the worker falls back to PostgreSQL advisory locks.
func (w *EngagementWorker) SetRedisClient(client *redis.Client) {
	w.redisClient = client
}

func (w *EngagementWorker) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// Start begins the periodic sweep loop.
func (w *EngagementWorker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("engagement worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	log.Printf("[EngagementWorker] Starting with interval: %v", w.interval)

	w.wg.Add(1)
	go w.sweepLoop()
	return nil
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (w *EngagementWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	log.Printf("[EngagementWorker] Stopped")
}

func (w *EngagementWorker) sweepLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.RunSweep(w.ctx)
		}
	}
}

// RunSweep performs one full recompute pass: scores first so fresh tiers
// feed the segment rules, then segment evaluation. Safe to call from a
// cron-style binary as well as the ticker loop.
func (w *EngagementWorker) RunSweep(ctx context.Context) {
	lock := distlock.NewLock(w.redisClient, w.db, recomputeLockKey, recomputeLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("engagement sweep lock failed", "error", err.Error())
		return
	}
	if !acquired {
		logger.Info("engagement sweep skipped, another instance holds the lock")
		return
	}
	defer lock.Release(ctx)

	// Large customer bases can outrun the initial TTL; the Redis backend
	// re-extends the lock while the sweep runs.
	if keeper, ok := lock.(interface {
		KeepAlive(context.Context, time.Duration) func()
	}); ok {
		stop := keeper.KeepAlive(ctx, recomputeLockTTL/2)
		defer stop()
	}

	started := time.Now()
	w.lastSweepStarted.Store(started)
	atomic.AddInt64(&w.sweepsRun, 1)

	ids, err := w.customers.ListIDs(ctx)
	if err != nil {
		logger.Error("engagement sweep failed to list customers", "error", err.Error())
		return
	}

	scored, scoreFailed := w.scores.RecalculateAll(ctx, ids)
	atomic.AddInt64(&w.customersScored, int64(scored))
	atomic.AddInt64(&w.customersFailed, int64(scoreFailed))

	evaluated, evalFailed := w.segments.EvaluateAll(ctx, ids)

	logger.Info("engagement sweep finished",
		"customers", fmt.Sprintf("%d", len(ids)),
		"scored", fmt.Sprintf("%d", scored),
		"score_failures", fmt.Sprintf("%d", scoreFailed),
		"segments_evaluated", fmt.Sprintf("%d", evaluated),
		"segment_failures", fmt.Sprintf("%d", evalFailed),
		"elapsed", time.Since(started).String(),
	)
}

// Stats reports worker counters.
func (w *EngagementWorker) Stats() map[string]interface{} {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	stats := map[string]interface{}{
		"running":          running,
		"sweeps_run":       atomic.LoadInt64(&w.sweepsRun),
		"customers_scored": atomic.LoadInt64(&w.customersScored),
		"customers_failed": atomic.LoadInt64(&w.customersFailed),
	}
	if v := w.lastSweepStarted.Load(); v != nil {
		stats["last_sweep_started"] = v.(time.Time).Format(time.RFC3339)
	}
	return stats
}
