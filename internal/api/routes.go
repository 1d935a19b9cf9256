package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the HTTP surface: workflow scheduling, segment
// evaluation and engagement reporting.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", h.ScheduleWorkflow)
			r.Post("/multi", h.ScheduleMultiStepWorkflow)
			r.Get("/{workflowID}", h.GetWorkflowJobs)
		})

		r.Delete("/jobs/{jobID}", h.CancelJob)
		r.Get("/scheduler/stats", h.GetSchedulerStats)

		r.Route("/customers/{customerID}", func(r chi.Router) {
			r.Post("/segments/evaluate", h.EvaluateSegments)
			r.Post("/score", h.CalculateScore)
			r.Get("/score", h.GetScore)
		})

		r.Get("/segments/stats", h.GetSegmentStats)

		r.Route("/scores", func(r chi.Router) {
			r.Get("/distribution", h.GetTierDistribution)
			r.Get("/top", h.GetTopCustomers)
			r.Get("/at-risk", h.GetAtRiskCustomers)
		})
	})

	return r
}
