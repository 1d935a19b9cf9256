package domain

import (
	"time"

	"github.com/google/uuid"
)

// MetricsSnapshot is the derived, point-in-time metrics view of a customer.
// It is recomputed on demand and never persisted; recency is relative to
// TakenAt, so two snapshots taken at different times may legitimately differ.
//
// All derived fields are non-negative. Recency fields are nil when no
// qualifying event exists, never a sentinel value.
type MetricsSnapshot struct {
	CustomerID          uuid.UUID `json:"customer_id"`
	TotalRevenue        float64   `json:"total_revenue"`
	OrderCount          int       `json:"order_count"`
	DeliveredOrderCount int       `json:"delivered_order_count"`
	AverageOrderValue   float64   `json:"average_order_value"`
	DaysSinceLastOrder  *int      `json:"days_since_last_order,omitempty"`
	TenureDays          int       `json:"tenure_days"`
	ResponseRate        float64   `json:"response_rate"`
	ProductVariety      int       `json:"product_variety"`
	ProfileFieldsDone   int       `json:"profile_fields_done"`
	ProfileFieldsTotal  int       `json:"profile_fields_total"`
	TakenAt             time.Time `json:"taken_at"`
}

// Tier is the discrete engagement bucket derived from the numeric score.
type Tier string

const (
	TierInactive Tier = "inactive"
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierVIP      Tier = "vip"
)

var tierRanks = map[Tier]int{
	TierInactive: 0,
	TierLow:      1,
	TierMedium:   2,
	TierHigh:     3,
	TierVIP:      4,
}

// Rank returns the tier's position in the inactive..vip ordering.
func (t Tier) Rank() int { return tierRanks[t] }

// EngagementScore is the weighted composite score for one customer.
// One live row per customer, overwritten on every recompute.
type EngagementScore struct {
	CustomerID   uuid.UUID      `json:"customer_id" db:"customer_id"`
	TotalScore   int            `json:"total_score" db:"total_score"`
	Tier         Tier           `json:"tier" db:"tier"`
	Components   map[string]int `json:"components"`
	CalculatedAt time.Time      `json:"calculated_at" db:"calculated_at"`
}
