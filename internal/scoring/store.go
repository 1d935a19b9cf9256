package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
)

// Store persists engagement scores, one live row per customer.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert overwrites the customer's score row.
func (s *Store) Upsert(ctx context.Context, score *domain.EngagementScore) error {
	componentsJSON, _ := json.Marshal(score.Components)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_engagement_scores (customer_id, total_score, tier, components, calculated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (customer_id) DO UPDATE SET
			total_score = EXCLUDED.total_score,
			tier = EXCLUDED.tier,
			components = EXCLUDED.components,
			calculated_at = EXCLUDED.calculated_at`,
		score.CustomerID, score.TotalScore, string(score.Tier), componentsJSON, score.CalculatedAt)
	if err != nil {
		return fmt.Errorf("upsert engagement score: %w", err)
	}
	return nil
}

// Get returns the customer's current score, or nil when never calculated.
func (s *Store) Get(ctx context.Context, customerID uuid.UUID) (*domain.EngagementScore, error) {
	var score domain.EngagementScore
	var tier string
	var componentsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT customer_id, total_score, tier, components, calculated_at
		FROM client_engagement_scores WHERE customer_id = $1`, customerID,
	).Scan(&score.CustomerID, &score.TotalScore, &tier, &componentsJSON, &score.CalculatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get engagement score: %w", err)
	}
	score.Tier = domain.Tier(tier)
	json.Unmarshal(componentsJSON, &score.Components)
	return &score, nil
}

// TierDistribution returns the customer count per tier.
func (s *Store) TierDistribution(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM client_engagement_scores GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("tier distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[string]int)
	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			continue
		}
		dist[tier] = count
	}
	return dist, rows.Err()
}

// RankedCustomer is a reporting row for top / at-risk listings.
type RankedCustomer struct {
	CustomerID uuid.UUID   `json:"customer_id"`
	Name       string      `json:"name"`
	TotalScore int         `json:"total_score"`
	Tier       domain.Tier `json:"tier"`
}

// TopCustomers returns the highest-scored customers.
func (s *Store) TopCustomers(ctx context.Context, limit int) ([]RankedCustomer, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.customer_id, c.name, e.total_score, e.tier
		FROM client_engagement_scores e
		JOIN customers c ON c.id = e.customer_id
		ORDER BY e.total_score DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("top customers: %w", err)
	}
	defer rows.Close()
	return scanRanked(rows)
}

// AtRiskCustomers returns previously engaged customers (score >= 60) with no
// delivered order in the last 60 days.
func (s *Store) AtRiskCustomers(ctx context.Context, limit int) ([]RankedCustomer, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.customer_id, c.name, e.total_score, e.tier
		FROM client_engagement_scores e
		JOIN customers c ON c.id = e.customer_id
		WHERE e.total_score >= 60
		  AND NOT EXISTS (
			SELECT 1 FROM orders o
			WHERE o.customer_id = e.customer_id
			  AND o.status IN ('delivered', 'completed')
			  AND o.ordered_at > NOW() - INTERVAL '60 days'
		  )
		ORDER BY e.total_score DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("at-risk customers: %w", err)
	}
	defer rows.Close()
	return scanRanked(rows)
}

func scanRanked(rows *sql.Rows) ([]RankedCustomer, error) {
	var out []RankedCustomer
	for rows.Next() {
		var rc RankedCustomer
		var tier string
		if err := rows.Scan(&rc.CustomerID, &rc.Name, &rc.TotalScore, &tier); err != nil {
			continue
		}
		rc.Tier = domain.Tier(tier)
		out = append(out, rc)
	}
	return out, rows.Err()
}
