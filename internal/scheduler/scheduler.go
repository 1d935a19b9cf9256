package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/saffronemporial/lifecycle-engine/internal/actions"
	"github.com/saffronemporial/lifecycle-engine/internal/customers"
	"github.com/saffronemporial/lifecycle-engine/internal/domain"
	"github.com/saffronemporial/lifecycle-engine/internal/segmentation"
)

const (
	// DefaultPollInterval is how often the sweep loop re-reads due jobs from
	// the database. The sweep is authoritative; timers only reduce latency.
	DefaultPollInterval = 60 * time.Second

	// DefaultRetention is how long terminal jobs stay queryable before the
	// retention loop prunes them.
	DefaultRetention = 30 * 24 * time.Hour

	DefaultMaxRetries = 3

	// baseRetryDelay doubles with every attempt: 5m, 10m, 20m.
	baseRetryDelay = 5 * time.Minute

	retentionSweepInterval = time.Hour
	dueBatchSize           = 500
)

// ActionDispatcher runs one action for one customer.
type ActionDispatcher interface {
	Execute(ctx context.Context, actionType string, cfg actions.Config, customer *domain.Customer, trigger *actions.TriggerContext) (*actions.Result, error)
}

// Scheduler owns the lifecycle of workflow jobs: it persists them, fires them
// on time via in-memory timers backed by a periodic database sweep, and
// applies the retry policy on failure.
type Scheduler struct {
	store      *Store
	customers  *customers.Store
	dispatcher ActionDispatcher

	pollInterval time.Duration
	retention    time.Duration
	maxRetries   int

	timers   map[uuid.UUID]*time.Timer
	timersMu sync.Mutex

	// Stats
	jobsExecuted  int64
	jobsSucceeded int64
	jobsRetried   int64
	jobsFailed    int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewScheduler creates a scheduler with default timing and retry settings.
func NewScheduler(db *sql.DB, dispatcher ActionDispatcher) *Scheduler {
	return &Scheduler{
		store:        NewStore(db),
		customers:    customers.NewStore(db),
		dispatcher:   dispatcher,
		pollInterval: DefaultPollInterval,
		retention:    DefaultRetention,
		maxRetries:   DefaultMaxRetries,
		timers:       make(map[uuid.UUID]*time.Timer),
	}
}

func (s *Scheduler) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

func (s *Scheduler) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention = d
	}
}

func (s *Scheduler) SetMaxRetries(n int) {
	if n >= 0 {
		s.maxRetries = n
	}
}

// Store exposes the job store for read-only API surfaces.
func (s *Scheduler) Store() *Store {
	return s.store
}

// Start restores timers for pending jobs and begins the sweep loops.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[WorkflowScheduler] Starting with poll interval: %v", s.pollInterval)

	pending, err := s.store.ListPending(s.ctx)
	if err != nil {
		log.Printf("[WorkflowScheduler] Failed to restore pending jobs: %v", err)
	} else {
		for _, job := range pending {
			s.armTimer(job)
		}
		log.Printf("[WorkflowScheduler] Restored %d pending job(s)", len(pending))
	}

	s.wg.Add(1)
	go s.sweepLoop()

	s.wg.Add(1)
	go s.retentionLoop()

	return nil
}

// Stop halts the loops and all armed timers, waiting for in-flight jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.timersMu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.timersMu.Unlock()

	s.wg.Wait()
	log.Printf("[WorkflowScheduler] Stopped")
}

// ScheduleWorkflow persists a single-action workflow and arms its timer.
// Returns the new workflow ID and job ID.
func (s *Scheduler) ScheduleWorkflow(ctx context.Context, profileID uuid.UUID, actionType string, config map[string]interface{}, triggerData map[string]interface{}) (uuid.UUID, uuid.UUID, error) {
	if actionType == "" {
		return uuid.Nil, uuid.Nil, domain.NewValidation("action_type", "is required")
	}

	job := &Job{
		WorkflowID:  uuid.New(),
		ProfileID:   profileID,
		ActionType:  actionType,
		StepConfig:  config,
		TriggerData: triggerData,
		ScheduledAt: ComputeJobTime(time.Now(), config),
		MaxRetries:  s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	s.armTimer(job)

	log.Printf("[WorkflowScheduler] Scheduled %s for customer %s at %s",
		actionType, profileID, job.ScheduledAt.Format(time.RFC3339))
	return job.WorkflowID, job.ID, nil
}

// ScheduleMultiStepWorkflow persists one job per step under a shared workflow
// ID. Step times are resolved relative to now; a step with no timing of its
// own is spaced by its index so the sequence keeps its order.
func (s *Scheduler) ScheduleMultiStepWorkflow(ctx context.Context, profileID uuid.UUID, steps []Step, triggerData map[string]interface{}) (uuid.UUID, []uuid.UUID, error) {
	if len(steps) == 0 {
		return uuid.Nil, nil, domain.NewValidation("steps", "at least one step is required")
	}

	workflowID := uuid.New()
	base := time.Now()
	jobIDs := make([]uuid.UUID, 0, len(steps))

	for i := range steps {
		step := &steps[i]
		if step.ActionType == "" {
			return uuid.Nil, nil, domain.NewValidation("steps", fmt.Sprintf("step %d has no action_type", i))
		}
		stepNumber := i
		job := &Job{
			WorkflowID:  workflowID,
			ProfileID:   profileID,
			ActionType:  step.ActionType,
			StepNumber:  &stepNumber,
			StepConfig:  step.Config,
			TriggerData: triggerData,
			ScheduledAt: ComputeStepTime(base, step, i),
			MaxRetries:  s.maxRetries,
		}
		if err := s.store.Create(ctx, job); err != nil {
			return uuid.Nil, nil, fmt.Errorf("schedule step %d: %w", i, err)
		}
		s.armTimer(job)
		jobIDs = append(jobIDs, job.ID)
	}

	log.Printf("[WorkflowScheduler] Scheduled %d-step workflow %s for customer %s",
		len(steps), workflowID, profileID)
	return workflowID, jobIDs, nil
}

// ScheduleSegmentAutomation enqueues one segment-transition action. Satisfies
// the segmentation engine's trigger hook.
func (s *Scheduler) ScheduleSegmentAutomation(ctx context.Context, action segmentation.AutomationAction, customerID uuid.UUID, trigger map[string]interface{}) error {
	config := make(map[string]interface{}, len(action.Config)+1)
	for k, v := range action.Config {
		config[k] = v
	}
	if action.DelayMinutes > 0 {
		config["delay_minutes"] = float64(action.DelayMinutes)
	}
	_, _, err := s.ScheduleWorkflow(ctx, customerID, action.ActionType, config, trigger)
	return err
}

// Cancel stops a pending job. Returns false when the job was already running
// or terminal.
func (s *Scheduler) Cancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	cancelled, err := s.store.Cancel(ctx, jobID)
	if err != nil || !cancelled {
		return cancelled, err
	}
	s.dropTimer(jobID)
	log.Printf("[WorkflowScheduler] Cancelled job %s", jobID)
	return true, nil
}

// Stats returns a snapshot of scheduler state.
func (s *Scheduler) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	s.timersMu.Lock()
	activeTimers := len(s.timers)
	s.timersMu.Unlock()

	return &Stats{
		Running:        running,
		ActiveTimers:   activeTimers,
		JobsExecuted:   atomic.LoadInt64(&s.jobsExecuted),
		JobsSucceeded:  atomic.LoadInt64(&s.jobsSucceeded),
		JobsRetried:    atomic.LoadInt64(&s.jobsRetried),
		JobsFailed:     atomic.LoadInt64(&s.jobsFailed),
		CountsByStatus: counts,
	}, nil
}

// armTimer points an in-memory timer at the job's next fire time. Arming is
// best effort; the sweep loop picks up anything a timer misses.
func (s *Scheduler) armTimer(job *Job) {
	fireAt := job.ScheduledAt
	if job.Status == StatusRetrying && job.NextRetryAt != nil {
		fireAt = *job.NextRetryAt
	}
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	id := job.ID
	s.timersMu.Lock()
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.executeJob(id)
	})
	s.timersMu.Unlock()
}

func (s *Scheduler) dropTimer(id uuid.UUID) {
	s.timersMu.Lock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	s.timersMu.Unlock()
}

// sweepLoop is the authoritative schedule. It catches jobs whose timers were
// lost to a restart and jobs armed on another instance.
func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			due, err := s.store.ListDue(s.ctx, time.Now(), dueBatchSize)
			if err != nil {
				log.Printf("[WorkflowScheduler] Sweep query failed: %v", err)
				continue
			}
			for _, job := range due {
				s.executeJob(job.ID)
			}
		}
	}
}

func (s *Scheduler) retentionLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pruned, err := s.store.DeleteTerminalOlderThan(s.ctx, time.Now().Add(-s.retention))
			if err != nil {
				log.Printf("[WorkflowScheduler] Retention sweep failed: %v", err)
				continue
			}
			if pruned > 0 {
				log.Printf("[WorkflowScheduler] Pruned %d terminal job(s)", pruned)
			}
		}
	}
}

// executeJob claims and runs one job. The database claim is the only gate:
// the timer and the sweep can both call in, exactly one proceeds.
func (s *Scheduler) executeJob(id uuid.UUID) {
	s.dropTimer(id)

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	// Load before claiming: a transient read failure leaves the job in its
	// pending state for the next sweep instead of burning its retry budget.
	job, err := s.store.Get(ctx, id)
	if err != nil {
		if domain.IsNotFound(err) {
			return
		}
		log.Printf("[WorkflowScheduler] Failed to load job %s, sweep will retry: %v", id, err)
		return
	}

	claimed, err := s.store.MarkRunning(ctx, id)
	if err != nil {
		log.Printf("[WorkflowScheduler] Failed to claim job %s: %v", id, err)
		return
	}
	if !claimed {
		return
	}
	atomic.AddInt64(&s.jobsExecuted, 1)

	customer, err := s.customers.Get(ctx, job.ProfileID)
	if err != nil {
		s.finishFailure(ctx, job, err)
		return
	}

	trigger := &actions.TriggerContext{
		WorkflowID: &job.WorkflowID,
		Trigger:    job.TriggerData,
	}
	_, err = s.dispatcher.Execute(ctx, job.ActionType, actions.Config(job.StepConfig), customer, trigger)
	if err != nil {
		s.finishFailure(ctx, job, err)
		return
	}

	if err := s.store.MarkCompleted(ctx, job.ID); err != nil {
		log.Printf("[WorkflowScheduler] Failed to complete job %s: %v", job.ID, err)
		return
	}
	atomic.AddInt64(&s.jobsSucceeded, 1)
}

// finishFailure applies the retry policy: transient errors back off and
// retry, terminal errors and exhausted budgets fail the job.
func (s *Scheduler) finishFailure(ctx context.Context, job *Job, cause error) {
	if domain.IsRetryable(cause) && job.CurrentRetry < job.MaxRetries {
		retry := job.CurrentRetry + 1
		delay := baseRetryDelay << uint(job.CurrentRetry)
		nextAt := time.Now().Add(delay)

		if err := s.store.MarkRetrying(ctx, job.ID, retry, nextAt, cause.Error()); err != nil {
			log.Printf("[WorkflowScheduler] Failed to park job %s for retry: %v", job.ID, err)
			return
		}
		atomic.AddInt64(&s.jobsRetried, 1)
		log.Printf("[WorkflowScheduler] Job %s attempt %d/%d failed, retrying in %v: %v",
			job.ID, retry, job.MaxRetries, delay, cause)

		job.Status = StatusRetrying
		job.NextRetryAt = &nextAt
		s.armTimer(job)
		return
	}

	if err := s.store.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		log.Printf("[WorkflowScheduler] Failed to mark job %s failed: %v", job.ID, err)
		return
	}
	atomic.AddInt64(&s.jobsFailed, 1)
	log.Printf("[WorkflowScheduler] Job %s failed terminally: %v", job.ID, cause)
}
