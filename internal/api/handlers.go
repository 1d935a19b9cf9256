package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
	"github.com/saffronemporial/lifecycle-engine/internal/scheduler"
	"github.com/saffronemporial/lifecycle-engine/internal/scoring"
	"github.com/saffronemporial/lifecycle-engine/internal/segmentation"
)

// Handlers bundles the engines behind the HTTP surface.
type Handlers struct {
	Scheduler *scheduler.Scheduler
	Segments  *segmentation.Engine
	Scores    *scoring.Engine
}

func NewHandlers(sched *scheduler.Scheduler, segments *segmentation.Engine, scores *scoring.Engine) *Handlers {
	return &Handlers{Scheduler: sched, Segments: segments, Scores: scores}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ScheduleWorkflow creates a single-action workflow.
// POST /api/workflows
func (h *Handlers) ScheduleWorkflow(w http.ResponseWriter, r *http.Request) {
	var input struct {
		CustomerID  uuid.UUID              `json:"customer_id"`
		ActionType  string                 `json:"action_type"`
		Config      map[string]interface{} `json:"config"`
		TriggerData map[string]interface{} `json:"trigger_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if input.CustomerID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	workflowID, jobID, err := h.Scheduler.ScheduleWorkflow(r.Context(),
		input.CustomerID, input.ActionType, input.Config, input.TriggerData)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"workflow_id": workflowID,
		"job_id":      jobID,
	})
}

// ScheduleMultiStepWorkflow creates one job per step under a shared workflow.
// POST /api/workflows/multi
func (h *Handlers) ScheduleMultiStepWorkflow(w http.ResponseWriter, r *http.Request) {
	var input struct {
		CustomerID  uuid.UUID              `json:"customer_id"`
		Steps       []scheduler.Step       `json:"steps"`
		TriggerData map[string]interface{} `json:"trigger_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if input.CustomerID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	workflowID, jobIDs, err := h.Scheduler.ScheduleMultiStepWorkflow(r.Context(),
		input.CustomerID, input.Steps, input.TriggerData)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"workflow_id": workflowID,
		"job_ids":     jobIDs,
	})
}

// GetWorkflowJobs lists all jobs of one workflow.
// GET /api/workflows/{workflowID}
func (h *Handlers) GetWorkflowJobs(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(chi.URLParam(r, "workflowID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid workflow ID")
		return
	}
	jobs, err := h.Scheduler.Store().ListByWorkflow(r.Context(), workflowID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflow_id": workflowID,
		"jobs":        jobs,
	})
}

// CancelJob cancels a pending job.
// DELETE /api/jobs/{jobID}
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job ID")
		return
	}
	cancelled, err := h.Scheduler.Cancel(r.Context(), jobID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if !cancelled {
		respondError(w, http.StatusConflict, "job is not in a cancellable state")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"cancelled": jobID})
}

// GetSchedulerStats returns scheduler counters and job counts.
// GET /api/scheduler/stats
func (h *Handlers) GetSchedulerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Scheduler.Stats(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// EvaluateSegments re-evaluates one customer against all active segments.
// POST /api/customers/{customerID}/segments/evaluate
func (h *Handlers) EvaluateSegments(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid customer ID")
		return
	}
	changes, err := h.Segments.EvaluateCustomer(r.Context(), customerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"customer_id": customerID,
		"changes":     changes,
	})
}

// GetSegmentStats returns member counts per segment.
// GET /api/segments/stats
func (h *Handlers) GetSegmentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Segments.Store().Stats(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"segments": stats})
}

// CalculateScore recomputes and persists one customer's engagement score.
// POST /api/customers/{customerID}/score
func (h *Handlers) CalculateScore(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid customer ID")
		return
	}
	score, err := h.Scores.Calculate(r.Context(), customerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, score)
}

// GetScore returns the stored score for one customer.
// GET /api/customers/{customerID}/score
func (h *Handlers) GetScore(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid customer ID")
		return
	}
	score, err := h.Scores.Store().Get(r.Context(), customerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if score == nil {
		respondError(w, http.StatusNotFound, "no score calculated for customer")
		return
	}
	respondJSON(w, http.StatusOK, score)
}

// GetTierDistribution returns customer counts per engagement tier.
// GET /api/scores/distribution
func (h *Handlers) GetTierDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := h.Scores.Store().TierDistribution(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tiers": dist})
}

// GetTopCustomers returns the highest-scored customers.
// GET /api/scores/top?limit=N
func (h *Handlers) GetTopCustomers(w http.ResponseWriter, r *http.Request) {
	ranked, err := h.Scores.Store().TopCustomers(r.Context(), limitParam(r, 20))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"customers": ranked})
}

// GetAtRiskCustomers returns engaged customers with no recent order.
// GET /api/scores/at-risk?limit=N
func (h *Handlers) GetAtRiskCustomers(w http.ResponseWriter, r *http.Request) {
	ranked, err := h.Scores.Store().AtRiskCustomers(r.Context(), limitParam(r, 20))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"customers": ranked})
}

func limitParam(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 500 {
		return fallback
	}
	return n
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps the error taxonomy onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	case domain.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case domain.IsConfiguration(err):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
