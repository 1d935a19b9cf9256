package segmentation

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/saffronemporial/lifecycle-engine/internal/customers"
	"github.com/saffronemporial/lifecycle-engine/internal/metrics"
	"github.com/saffronemporial/lifecycle-engine/internal/scoring"
)

// AutomationTrigger schedules segment-change automations. Implemented by the
// workflow scheduler and injected at wiring time.
type AutomationTrigger interface {
	ScheduleSegmentAutomation(ctx context.Context, action AutomationAction, customerID uuid.UUID, trigger map[string]interface{}) error
}

// Engine evaluates all active segments for a customer and maintains
// membership lifecycle. Join/leave automations fire only on real
// transitions, never on refreshes.
type Engine struct {
	store       *Store
	customers   *customers.Store
	builder     *metrics.Builder
	scores      *scoring.Store
	cache       *Cache            // optional
	automations AutomationTrigger // optional
}

func NewEngine(store *Store, cust *customers.Store, builder *metrics.Builder, scores *scoring.Store) *Engine {
	return &Engine{store: store, customers: cust, builder: builder, scores: scores}
}

// SetCache attaches the advisory segment-list cache.
func (e *Engine) SetCache(c *Cache) { e.cache = c }

// SetAutomationTrigger attaches the scheduler used to fire on_join/on_leave
// automations.
func (e *Engine) SetAutomationTrigger(t AutomationTrigger) { e.automations = t }

// Store exposes the segment store for API handlers.
func (e *Engine) Store() *Store { return e.store }

// activeSegments returns the active segment list, through the cache when one
// is attached.
func (e *Engine) activeSegments(ctx context.Context) ([]Segment, error) {
	if segments, ok := e.cache.Get(ctx); ok {
		return segments, nil
	}
	segments, err := e.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, segments)
	return segments, nil
}

// EvaluateCustomer evaluates every active segment against the customer's
// current snapshot, profile and engagement score, applying membership
// transitions. A rule-configuration error in one segment is logged and skips
// only that segment.
func (e *Engine) EvaluateCustomer(ctx context.Context, customerID uuid.UUID) ([]MembershipChange, error) {
	customer, err := e.customers.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	snap, err := e.builder.BuildSnapshot(ctx, customerID)
	if err != nil {
		return nil, err
	}
	score, err := e.scores.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	cctx := BuildContext(customer, snap, score)

	segments, err := e.activeSegments(ctx)
	if err != nil {
		return nil, err
	}

	var changes []MembershipChange
	for i := range segments {
		seg := &segments[i]
		matched, err := EvaluateSegment(seg, cctx)
		if err != nil {
			log.Printf("[SegmentEngine] segment=%s customer=%s: %v", seg.ID, customerID, err)
			continue
		}

		if matched {
			reason := fmt.Sprintf("matched all %d rule(s) of %q", len(seg.Rules), seg.Name)
			joined, err := e.store.UpsertMembership(ctx, seg.ID, customerID, reason)
			if err != nil {
				return changes, err
			}
			if joined {
				changes = append(changes, MembershipChange{SegmentID: seg.ID, SegmentName: seg.Name, Change: "joined"})
				e.fireAutomations(ctx, seg, seg.OnJoin, customerID, "segment_join")
			}
			continue
		}

		left, err := e.store.EndMembership(ctx, seg.ID, customerID,
			fmt.Sprintf("rules of %q no longer matched", seg.Name))
		if err != nil {
			return changes, err
		}
		if left {
			changes = append(changes, MembershipChange{SegmentID: seg.ID, SegmentName: seg.Name, Change: "left"})
			e.fireAutomations(ctx, seg, seg.OnLeave, customerID, "segment_leave")
		}
	}
	return changes, nil
}

// EvaluateAll runs EvaluateCustomer for every listed customer, isolating
// per-customer failures so one bad record never aborts the batch.
func (e *Engine) EvaluateAll(ctx context.Context, customerIDs []uuid.UUID) (processed, failed int) {
	for _, id := range customerIDs {
		if ctx.Err() != nil {
			return
		}
		if _, err := e.EvaluateCustomer(ctx, id); err != nil {
			failed++
			log.Printf("[SegmentEngine] evaluate customer=%s: %v", id, err)
			continue
		}
		processed++
	}
	return
}

// AddToSegment joins a customer to a segment outside rule evaluation, e.g.
// from an update_segment action. A new join fires on_join automations the
// same way rule evaluation does.
func (e *Engine) AddToSegment(ctx context.Context, segmentID, customerID uuid.UUID, reason string) error {
	seg, err := e.store.Get(ctx, segmentID)
	if err != nil {
		return err
	}
	joined, err := e.store.UpsertMembership(ctx, segmentID, customerID, reason)
	if err != nil {
		return err
	}
	if joined {
		e.fireAutomations(ctx, seg, seg.OnJoin, customerID, "segment_join")
	}
	return nil
}

// RemoveFromSegment ends a customer's membership outside rule evaluation.
func (e *Engine) RemoveFromSegment(ctx context.Context, segmentID, customerID uuid.UUID, reason string) error {
	seg, err := e.store.Get(ctx, segmentID)
	if err != nil {
		return err
	}
	left, err := e.store.EndMembership(ctx, segmentID, customerID, reason)
	if err != nil {
		return err
	}
	if left {
		e.fireAutomations(ctx, seg, seg.OnLeave, customerID, "segment_leave")
	}
	return nil
}

func (e *Engine) fireAutomations(ctx context.Context, seg *Segment, actions []AutomationAction, customerID uuid.UUID, event string) {
	if e.automations == nil || len(actions) == 0 {
		return
	}
	trigger := map[string]interface{}{
		"event":        event,
		"segment_id":   seg.ID.String(),
		"segment_name": seg.Name,
	}
	for _, action := range actions {
		if err := e.automations.ScheduleSegmentAutomation(ctx, action, customerID, trigger); err != nil {
			log.Printf("[SegmentEngine] schedule %s automation segment=%s customer=%s: %v",
				event, seg.ID, customerID, err)
		}
	}
}
