package scoring

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
)

func intPtr(n int) *int { return &n }

func TestScore_WorkedExample(t *testing.T) {
	// A customer with $12k revenue over 400 days, 6 orders across 4
	// products, last order 10 days ago, half their messages answered and a
	// complete profile.
	takenAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := &domain.MetricsSnapshot{
		CustomerID:          uuid.New(),
		TotalRevenue:        12000,
		OrderCount:          6,
		DeliveredOrderCount: 6,
		DaysSinceLastOrder:  intPtr(10),
		TenureDays:          400,
		ResponseRate:        0.5,
		ProductVariety:      4,
		ProfileFieldsDone:   6,
		ProfileFieldsTotal:  6,
		TakenAt:             takenAt,
	}

	score := Score(snap)

	assert.Equal(t, 70, score.Components["revenue"])
	assert.Equal(t, 40, score.Components["frequency"])
	assert.Equal(t, 80, score.Components["recency"])
	assert.Equal(t, 60, score.Components["responsiveness"])
	assert.Equal(t, 75, score.Components["product_engagement"])
	assert.Equal(t, 100, score.Components["profile_completeness"])

	// 0.25*70 + 0.20*40 + 0.15*80 + 0.15*60 + 0.15*75 + 0.10*100 = 67.75
	assert.Equal(t, 68, score.TotalScore)
	assert.Equal(t, domain.TierHigh, score.Tier)
	assert.Equal(t, takenAt, score.CalculatedAt, "timestamp comes from the snapshot")
}

func TestScore_Deterministic(t *testing.T) {
	snap := &domain.MetricsSnapshot{
		CustomerID:         uuid.New(),
		TotalRevenue:       3500,
		OrderCount:         3,
		DaysSinceLastOrder: intPtr(45),
		TenureDays:         200,
		ResponseRate:       0.72,
		ProductVariety:     2,
		ProfileFieldsDone:  3,
		ProfileFieldsTotal: 6,
		TakenAt:            time.Now(),
	}
	first := Score(snap)
	second := Score(snap)
	assert.Equal(t, first.TotalScore, second.TotalScore)
	assert.Equal(t, first.Components, second.Components)
	assert.Equal(t, first.Tier, second.Tier)
}

func TestScore_EmptySnapshotIsInactive(t *testing.T) {
	snap := &domain.MetricsSnapshot{
		CustomerID:         uuid.New(),
		ProfileFieldsTotal: 6,
		TakenAt:            time.Now(),
	}
	score := Score(snap)
	assert.Equal(t, 0, score.TotalScore)
	assert.Equal(t, domain.TierInactive, score.Tier)
	for name, sub := range score.Components {
		assert.Equal(t, 0, sub, "component %s", name)
	}
}

func TestScore_AlwaysInRange(t *testing.T) {
	snaps := []*domain.MetricsSnapshot{
		{TotalRevenue: 1e9, OrderCount: 10000, TenureDays: 1,
			DaysSinceLastOrder: intPtr(0), ResponseRate: 5.0,
			ProductVariety: 10000, ProfileFieldsDone: 6, ProfileFieldsTotal: 6},
		{TotalRevenue: -100, OrderCount: -3, TenureDays: -10, ResponseRate: -1},
		{TotalRevenue: 0.01, OrderCount: 1, TenureDays: 10000,
			DaysSinceLastOrder: intPtr(9999), ResponseRate: 0.001, ProductVariety: 1},
	}
	for i, snap := range snaps {
		snap.TakenAt = time.Now()
		score := Score(snap)
		require.GreaterOrEqual(t, score.TotalScore, 0, "snapshot %d", i)
		require.LessOrEqual(t, score.TotalScore, 100, "snapshot %d", i)
		for name, sub := range score.Components {
			require.GreaterOrEqual(t, sub, 0, "snapshot %d component %s", i, name)
			require.LessOrEqual(t, sub, 100, "snapshot %d component %s", i, name)
		}
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		score int
		want  domain.Tier
	}{
		{0, domain.TierInactive},
		{19, domain.TierInactive},
		{20, domain.TierLow},
		{39, domain.TierLow},
		{40, domain.TierMedium},
		{59, domain.TierMedium},
		{60, domain.TierHigh},
		{79, domain.TierHigh},
		{80, domain.TierVIP},
		{100, domain.TierVIP},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.score), "score %d", tt.score)
	}

	// Monotonic: the tier never drops as the score rises.
	prev := TierFor(0)
	for s := 1; s <= 100; s++ {
		cur := TierFor(s)
		assert.GreaterOrEqual(t, cur.Rank(), prev.Rank(), "score %d", s)
		prev = cur
	}
}

func TestRecencySubscore_NoOrders(t *testing.T) {
	assert.Equal(t, 0, recencySubscore(nil), "a customer with no terminal orders has zero recency")
}

func TestRecencySubscore_Bands(t *testing.T) {
	tests := []struct {
		days int
		want int
	}{
		{0, 100},
		{7, 100},
		{8, 80},
		{10, 80},
		{30, 80},
		{31, 60},
		{60, 60},
		{90, 40},
		{180, 20},
		{181, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, recencySubscore(intPtr(tt.days)), "days=%d", tt.days)
	}
}

func TestResponsivenessSubscore_DecileBands(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{0, 0},
		{0.05, 10},
		{0.1, 20},
		{0.5, 60},
		{0.89, 90},
		{0.9, 100},
		{1.0, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, responsivenessSubscore(tt.rate), "rate %.2f", tt.rate)
	}
}

func TestFrequencySubscore_ShortTenureClamp(t *testing.T) {
	// Under a month of tenure counts as one month so a brand-new customer
	// with one order is not treated as ordering daily.
	assert.Equal(t, 70, frequencySubscore(1, 3))
	assert.Equal(t, 100, frequencySubscore(3, 15))
}

func TestProductEngagementSubscore(t *testing.T) {
	// 4 distinct of 6 orders: min(66.7, 50) + 25 bonus = 75.
	assert.Equal(t, 75, productEngagementSubscore(4, 6))
	// Heavy repeat buyer: 1 of 20 orders: 5 + 50 = 55.
	assert.Equal(t, 55, productEngagementSubscore(1, 20))
	// No orders scores zero regardless of variety.
	assert.Equal(t, 0, productEngagementSubscore(3, 0))
}
