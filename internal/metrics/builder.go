// Package metrics derives the normalized customer metrics snapshot consumed
// by both the engagement scorer and the segmentation engine.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
)

// Builder reads a customer's profile, order and communication history and
// derives a MetricsSnapshot. Snapshots are not cached: recency is computed
// against the clock at call time and callers must tolerate that two calls
// at different times differ.
type Builder struct {
	db  *sql.DB
	now func() time.Time
}

func NewBuilder(db *sql.DB) *Builder {
	return &Builder{db: db, now: time.Now}
}

// BuildSnapshot computes the metrics snapshot for one customer.
// Returns a NotFoundError when the customer does not exist; an empty history
// yields a zeroed snapshot with nil recency, never an error.
func (b *Builder) BuildSnapshot(ctx context.Context, customerID uuid.UUID) (*domain.MetricsSnapshot, error) {
	now := b.now()

	var createdAt time.Time
	var name, email, phone, company, country, city string
	err := b.db.QueryRowContext(ctx, `
		SELECT created_at, name, COALESCE(email,''), COALESCE(phone,''),
		       COALESCE(company,''), COALESCE(country,''), COALESCE(city,'')
		FROM customers WHERE id = $1`, customerID,
	).Scan(&createdAt, &name, &email, &phone, &company, &country, &city)
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFound("customer", customerID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}

	snap := &domain.MetricsSnapshot{
		CustomerID:         customerID,
		ProfileFieldsTotal: len(domain.ProfileCompletenessFields),
		TakenAt:            now,
	}
	for _, f := range []string{name, email, phone, company, country, city} {
		if f != "" {
			snap.ProfileFieldsDone++
		}
	}

	// Revenue, delivered counts and recency come from terminal orders only;
	// total order count and product variety span the full history.
	var lastOrderAt sql.NullTime
	err = b.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT product_code),
		       COALESCE(SUM(amount) FILTER (WHERE status = ANY($2)), 0),
		       COUNT(*) FILTER (WHERE status = ANY($2)),
		       MAX(ordered_at) FILTER (WHERE status = ANY($2))
		FROM orders WHERE customer_id = $1`,
		customerID, pq.Array(domain.TerminalOrderStatuses),
	).Scan(&snap.OrderCount, &snap.ProductVariety, &snap.TotalRevenue,
		&snap.DeliveredOrderCount, &lastOrderAt)
	if err != nil {
		return nil, fmt.Errorf("aggregate orders: %w", err)
	}

	if snap.DeliveredOrderCount > 0 {
		snap.AverageOrderValue = snap.TotalRevenue / float64(snap.DeliveredOrderCount)
	}
	if lastOrderAt.Valid {
		days := int(now.Sub(lastOrderAt.Time).Hours() / 24)
		if days < 0 {
			days = 0
		}
		snap.DaysSinceLastOrder = &days
	}

	var outbound, inbound int
	err = b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE direction = 'outbound'),
		       COUNT(*) FILTER (WHERE direction = 'inbound')
		FROM communication_logs WHERE customer_id = $1`, customerID,
	).Scan(&outbound, &inbound)
	if err != nil {
		return nil, fmt.Errorf("aggregate communications: %w", err)
	}
	if outbound > 0 {
		snap.ResponseRate = float64(inbound) / float64(outbound)
		if snap.ResponseRate > 1 {
			snap.ResponseRate = 1
		}
	}

	if tenure := int(now.Sub(createdAt).Hours() / 24); tenure > 0 {
		snap.TenureDays = tenure
	}

	return snap, nil
}
