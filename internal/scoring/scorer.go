// Package scoring converts customer metrics snapshots into weighted 0-100
// engagement scores and discrete tiers, persists them, and answers the
// engagement reporting queries.
package scoring

import (
	"math"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
)

// Component weights. They sum to 1.0.
const (
	WeightRevenue             = 0.25
	WeightFrequency           = 0.20
	WeightRecency             = 0.15
	WeightResponsiveness      = 0.15
	WeightProductEngagement   = 0.15
	WeightProfileCompleteness = 0.10
)

// Tier cutoffs on the total score.
const (
	cutoffVIP    = 80
	cutoffHigh   = 60
	cutoffMedium = 40
	cutoffLow    = 20
)

// Score maps a snapshot to an engagement score. It is pure and
// deterministic: the same snapshot always yields the same score and tier.
// CalculatedAt is taken from the snapshot, not the wall clock.
func Score(snap *domain.MetricsSnapshot) *domain.EngagementScore {
	components := map[string]int{
		"revenue":              revenueSubscore(snap.TotalRevenue),
		"frequency":            frequencySubscore(snap.OrderCount, snap.TenureDays),
		"recency":              recencySubscore(snap.DaysSinceLastOrder),
		"responsiveness":       responsivenessSubscore(snap.ResponseRate),
		"product_engagement":   productEngagementSubscore(snap.ProductVariety, snap.OrderCount),
		"profile_completeness": completenessSubscore(snap.ProfileFieldsDone, snap.ProfileFieldsTotal),
	}

	total := WeightRevenue*float64(components["revenue"]) +
		WeightFrequency*float64(components["frequency"]) +
		WeightRecency*float64(components["recency"]) +
		WeightResponsiveness*float64(components["responsiveness"]) +
		WeightProductEngagement*float64(components["product_engagement"]) +
		WeightProfileCompleteness*float64(components["profile_completeness"])

	rounded := int(math.Round(total))
	return &domain.EngagementScore{
		CustomerID:   snap.CustomerID,
		TotalScore:   rounded,
		Tier:         TierFor(rounded),
		Components:   components,
		CalculatedAt: snap.TakenAt,
	}
}

// TierFor maps a total score to its tier. Monotonic in the score.
func TierFor(score int) domain.Tier {
	switch {
	case score >= cutoffVIP:
		return domain.TierVIP
	case score >= cutoffHigh:
		return domain.TierHigh
	case score >= cutoffMedium:
		return domain.TierMedium
	case score >= cutoffLow:
		return domain.TierLow
	default:
		return domain.TierInactive
	}
}

// The sub-score mappings are stepwise bands rather than continuous curves so
// a score is auditable by hand from the snapshot.

func revenueSubscore(revenue float64) int {
	switch {
	case revenue >= 100000:
		return 100
	case revenue >= 50000:
		return 90
	case revenue >= 25000:
		return 80
	case revenue >= 10000:
		return 70
	case revenue >= 5000:
		return 60
	case revenue >= 1000:
		return 50
	case revenue > 0:
		return 30
	default:
		return 0
	}
}

func frequencySubscore(orderCount, tenureDays int) int {
	if orderCount <= 0 {
		return 0
	}
	months := float64(tenureDays) / 30.0
	if months < 1 {
		months = 1
	}
	perMonth := float64(orderCount) / months
	switch {
	case perMonth >= 3:
		return 100
	case perMonth >= 2:
		return 90
	case perMonth >= 1:
		return 70
	case perMonth >= 0.5:
		return 50
	case perMonth >= 0.25:
		return 40
	default:
		return 20
	}
}

func recencySubscore(daysSinceLastOrder *int) int {
	if daysSinceLastOrder == nil {
		return 0
	}
	days := *daysSinceLastOrder
	switch {
	case days <= 7:
		return 100
	case days <= 30:
		return 80
	case days <= 60:
		return 60
	case days <= 90:
		return 40
	case days <= 180:
		return 20
	default:
		return 0
	}
}

// responsivenessSubscore uses decile bands: [0.5, 0.6) maps to 60 and so on,
// with zero response rate scoring zero.
func responsivenessSubscore(rate float64) int {
	if rate <= 0 {
		return 0
	}
	if rate >= 0.9 {
		return 100
	}
	return int(rate*10)*10 + 10
}

// productEngagementSubscore rewards variety relative to order volume
// (capped at 50) plus a consistency bonus for sustained ordering.
func productEngagementSubscore(variety, orderCount int) int {
	if orderCount <= 0 {
		return 0
	}
	score := float64(variety) / float64(orderCount) * 100
	if score > 50 {
		score = 50
	}
	switch {
	case orderCount >= 10:
		score += 50
	case orderCount >= 5:
		score += 25
	case orderCount >= 2:
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return int(math.Round(score))
}

func completenessSubscore(done, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}
