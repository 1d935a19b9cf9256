package scoring

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
	"github.com/saffronemporial/lifecycle-engine/internal/metrics"
)

// Engine ties the snapshot builder and the pure scorer to persistence.
type Engine struct {
	builder *metrics.Builder
	store   *Store
}

func NewEngine(builder *metrics.Builder, store *Store) *Engine {
	return &Engine{builder: builder, store: store}
}

// Store exposes the score store for reporting handlers.
func (e *Engine) Store() *Store { return e.store }

// Calculate rebuilds the snapshot for one customer, scores it and overwrites
// the stored score.
func (e *Engine) Calculate(ctx context.Context, customerID uuid.UUID) (*domain.EngagementScore, error) {
	snap, err := e.builder.BuildSnapshot(ctx, customerID)
	if err != nil {
		return nil, err
	}
	score := Score(snap)
	if err := e.store.Upsert(ctx, score); err != nil {
		return nil, err
	}
	return score, nil
}

// RecalculateAll scores every listed customer. A failure for one customer is
// logged and does not abort the batch.
func (e *Engine) RecalculateAll(ctx context.Context, customerIDs []uuid.UUID) (processed, failed int) {
	for _, id := range customerIDs {
		if ctx.Err() != nil {
			return
		}
		if _, err := e.Calculate(ctx, id); err != nil {
			failed++
			log.Printf("[ScoringEngine] recalculate customer=%s: %v", id, err)
			continue
		}
		processed++
	}
	return
}
