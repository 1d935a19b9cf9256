package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saffronemporial/lifecycle-engine/internal/actions"
	"github.com/saffronemporial/lifecycle-engine/internal/customers"
	"github.com/saffronemporial/lifecycle-engine/internal/domain"
)

type stubDispatcher struct {
	err   error
	calls int
}

func (d *stubDispatcher) Execute(ctx context.Context, actionType string, cfg actions.Config, customer *domain.Customer, trigger *actions.TriggerContext) (*actions.Result, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return &actions.Result{ActionType: actionType, CustomerID: customer.ID, Success: true}, nil
}

func newTestScheduler(t *testing.T, dispatcher ActionDispatcher) (*Scheduler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := &Scheduler{
		store:        NewStore(db),
		customers:    customers.NewStore(db),
		dispatcher:   dispatcher,
		pollInterval: DefaultPollInterval,
		retention:    DefaultRetention,
		maxRetries:   DefaultMaxRetries,
		timers:       make(map[uuid.UUID]*time.Timer),
	}
	return s, mock
}

func TestMarkRunning_ClaimGate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	id := uuid.New()

	// First claimer updates one row, second finds the gate closed.
	mock.ExpectExec(`UPDATE workflow_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE workflow_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := store.MarkRunning(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.MarkRunning(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose the gate")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_OnlyPendingJobs(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)

	// A running job matches no rows under the status gate.
	mock.ExpectExec(`UPDATE workflow_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cancelled, err := store.Cancel(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishFailure_RetryBackoffDoubles(t *testing.T) {
	// Attempts back off 5m, 10m, 20m before the budget runs out.
	wantDelays := []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute}

	for attempt, want := range wantDelays {
		s, mock := newTestScheduler(t, &stubDispatcher{})
		job := &Job{ID: uuid.New(), CurrentRetry: attempt, MaxRetries: 3}

		before := time.Now()
		mock.ExpectExec(`UPDATE workflow_jobs`).
			WithArgs(StatusRetrying, attempt+1, sqlmock.AnyArg(), "boom", job.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		s.finishFailure(context.Background(), job, errors.New("boom"))

		require.NotNil(t, job.NextRetryAt, "attempt %d should park for retry", attempt)
		gap := job.NextRetryAt.Sub(before)
		assert.InDelta(t, want.Seconds(), gap.Seconds(), 5,
			"attempt %d should back off about %v", attempt, want)
		assert.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestFinishFailure_TerminalErrorSkipsRetry(t *testing.T) {
	s, mock := newTestScheduler(t, &stubDispatcher{})
	job := &Job{ID: uuid.New(), CurrentRetry: 0, MaxRetries: 3}

	mock.ExpectExec(`UPDATE workflow_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.finishFailure(context.Background(), job, domain.NewValidation("channel", "unknown"))

	assert.Nil(t, job.NextRetryAt, "validation errors must not retry")
	assert.Equal(t, int64(1), s.jobsFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishFailure_RetryBudgetExhausted(t *testing.T) {
	s, mock := newTestScheduler(t, &stubDispatcher{})
	job := &Job{ID: uuid.New(), CurrentRetry: 3, MaxRetries: 3}

	mock.ExpectExec(`UPDATE workflow_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.finishFailure(context.Background(), job, errors.New("still down"))

	assert.Equal(t, int64(1), s.jobsFailed)
	assert.Equal(t, int64(0), s.jobsRetried)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleMultiStepWorkflow_Validation(t *testing.T) {
	s, _ := newTestScheduler(t, &stubDispatcher{})

	_, _, err := s.ScheduleMultiStepWorkflow(context.Background(), uuid.New(), nil, nil)
	assert.True(t, domain.IsValidation(err), "empty step list should be a validation error")

	_, _, err = s.ScheduleMultiStepWorkflow(context.Background(), uuid.New(),
		[]Step{{Config: map[string]interface{}{}}}, nil)
	assert.True(t, domain.IsValidation(err), "a step without an action type should be rejected")
}

func TestScheduleWorkflow_PersistsAndArmsTimer(t *testing.T) {
	s, mock := newTestScheduler(t, &stubDispatcher{})
	profileID := uuid.New()

	mock.ExpectExec(`INSERT INTO workflow_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	workflowID, jobID, err := s.ScheduleWorkflow(context.Background(), profileID,
		"send_message", map[string]interface{}{"delay_minutes": float64(60)}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, workflowID)
	assert.NotEqual(t, uuid.Nil, jobID)

	s.timersMu.Lock()
	_, armed := s.timers[jobID]
	s.timersMu.Unlock()
	assert.True(t, armed, "a fresh job should have an armed timer")

	s.dropTimer(jobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var jobRowColumns = []string{
	"id", "workflow_id", "profile_id", "action_type", "step_number",
	"step_config", "trigger_data", "scheduled_at", "status",
	"current_retry", "max_retries", "last_error", "next_retry_at",
	"created_at", "updated_at", "completed_at",
}

func scheduledJobRow(id uuid.UUID) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(jobRowColumns).AddRow(
		id, uuid.New(), uuid.New(), "send_message", nil,
		[]byte(`{}`), []byte(`{}`),
		now.Add(-time.Minute), StatusScheduled,
		0, 3, nil, nil,
		now.Add(-time.Hour), now, sql.NullTime{},
	)
}

func TestExecuteJob_UnclaimedJobDoesNotDispatch(t *testing.T) {
	dispatcher := &stubDispatcher{}
	s, mock := newTestScheduler(t, dispatcher)
	id := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM workflow_jobs WHERE id`).
		WillReturnRows(scheduledJobRow(id))
	mock.ExpectExec(`UPDATE workflow_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s.executeJob(id)

	assert.Equal(t, 0, dispatcher.calls, "losing the claim must skip the dispatcher")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteJob_LoadFailureLeavesJobPending(t *testing.T) {
	dispatcher := &stubDispatcher{}
	s, mock := newTestScheduler(t, dispatcher)
	id := uuid.New()

	// A transient read failure must not claim the job or touch its retry
	// budget; the job stays pending for the next sweep.
	mock.ExpectQuery(`SELECT (.+) FROM workflow_jobs WHERE id`).
		WillReturnError(errors.New("connection reset"))

	s.executeJob(id)

	assert.Equal(t, 0, dispatcher.calls)
	assert.Equal(t, int64(0), s.jobsExecuted)
	assert.Equal(t, int64(0), s.jobsFailed)
	assert.NoError(t, mock.ExpectationsWereMet(),
		"no status update may follow a failed load")
}

func TestExecuteJob_MissingJobIsQuiet(t *testing.T) {
	dispatcher := &stubDispatcher{}
	s, mock := newTestScheduler(t, dispatcher)

	// Pruned or cancelled-and-deleted jobs just drop out.
	mock.ExpectQuery(`SELECT (.+) FROM workflow_jobs WHERE id`).
		WillReturnError(sql.ErrNoRows)

	s.executeJob(uuid.New())

	assert.Equal(t, 0, dispatcher.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDue_UsesRetryTimeForRetryingJobs(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	now := time.Now()
	jobID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM workflow_jobs`).
		WithArgs(StatusScheduled, StatusRetrying, sqlmock.AnyArg(), 500).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
			jobID, uuid.New(), uuid.New(), "send_message", nil,
			[]byte(`{"message.template":"hi {{name}}"}`), []byte(`{}`),
			now.Add(-time.Hour), StatusRetrying,
			1, 3, "boom", now.Add(-time.Minute),
			now.Add(-2*time.Hour), now, sql.NullTime{},
		))

	due, err := store.ListDue(context.Background(), now, 500)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, jobID, due[0].ID)
	assert.Equal(t, 1, due[0].CurrentRetry)
	assert.Equal(t, "hi {{name}}", due[0].StepConfig["message.template"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
