package segmentation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
)

// Store handles CRUD for the client_segments and segment_membership tables.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const segmentColumns = `id, name, rules, is_active, COALESCE(on_join, '[]'), COALESCE(on_leave, '[]'), created_at, updated_at`

func scanSegment(scan func(dest ...interface{}) error) (*Segment, error) {
	var seg Segment
	var rulesJSON, onJoinJSON, onLeaveJSON []byte
	err := scan(&seg.ID, &seg.Name, &rulesJSON, &seg.IsActive, &onJoinJSON, &onLeaveJSON, &seg.CreatedAt, &seg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(rulesJSON, &seg.Rules)
	json.Unmarshal(onJoinJSON, &seg.OnJoin)
	json.Unmarshal(onLeaveJSON, &seg.OnLeave)
	return &seg, nil
}

// Get loads one segment by id. Returns a typed NotFoundError when missing.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Segment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM client_segments WHERE id = $1`, id)
	seg, err := scanSegment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFound("segment", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return seg, nil
}

// ListActive returns all active segments.
func (s *Store) ListActive(ctx context.Context) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+segmentColumns+` FROM client_segments WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list active segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		seg, err := scanSegment(rows.Scan)
		if err != nil {
			continue
		}
		segments = append(segments, *seg)
	}
	return segments, rows.Err()
}

// Create inserts a segment definition.
func (s *Store) Create(ctx context.Context, seg *Segment) error {
	if seg.ID == uuid.Nil {
		seg.ID = uuid.New()
	}
	rulesJSON, _ := json.Marshal(seg.Rules)
	onJoinJSON, _ := json.Marshal(seg.OnJoin)
	onLeaveJSON, _ := json.Marshal(seg.OnLeave)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_segments (id, name, rules, is_active, on_join, on_leave)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		seg.ID, seg.Name, rulesJSON, seg.IsActive, onJoinJSON, onLeaveJSON)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	return nil
}

// UpsertMembership ensures a current membership row exists for the pair.
// Returns true only when the customer newly joined; refreshing an existing
// membership just updates the reason and is not a join.
func (s *Store) UpsertMembership(ctx context.Context, segmentID, profileID uuid.UUID, reason string) (joined bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE segment_membership SET membership_reason = $3
		WHERE segment_id = $1 AND profile_id = $2 AND is_current_member`,
		segmentID, profileID, reason)
	if err != nil {
		return false, fmt.Errorf("refresh membership: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO segment_membership (id, segment_id, profile_id, is_current_member, joined_at, membership_reason)
		VALUES ($1, $2, $3, TRUE, NOW(), $4)
		ON CONFLICT (segment_id, profile_id) WHERE is_current_member
		DO UPDATE SET membership_reason = EXCLUDED.membership_reason`,
		uuid.New(), segmentID, profileID, reason)
	if err != nil {
		return false, fmt.Errorf("insert membership: %w", err)
	}
	return true, nil
}

// EndMembership flips the current membership row, preserving history.
// Returns true only when a current membership actually existed.
func (s *Store) EndMembership(ctx context.Context, segmentID, profileID uuid.UUID, reason string) (left bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE segment_membership
		SET is_current_member = FALSE, left_at = NOW(), membership_reason = $3
		WHERE segment_id = $1 AND profile_id = $2 AND is_current_member`,
		segmentID, profileID, reason)
	if err != nil {
		return false, fmt.Errorf("end membership: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// HasCurrentMembership reports whether the customer is currently a member.
func (s *Store) HasCurrentMembership(ctx context.Context, segmentID, profileID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM segment_membership
			WHERE segment_id = $1 AND profile_id = $2 AND is_current_member
		)`, segmentID, profileID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// MembershipHistory lists all membership rows for a customer, newest first.
func (s *Store) MembershipHistory(ctx context.Context, profileID uuid.UUID) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, segment_id, profile_id, is_current_member, joined_at, left_at, COALESCE(membership_reason, '')
		FROM segment_membership WHERE profile_id = $1
		ORDER BY joined_at DESC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("membership history: %w", err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		var leftAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.SegmentID, &m.ProfileID, &m.IsCurrent, &m.JoinedAt, &leftAt, &m.Reason); err != nil {
			continue
		}
		if leftAt.Valid {
			t := leftAt.Time
			m.LeftAt = &t
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// Stats returns every segment with its current member count.
func (s *Store) Stats(ctx context.Context) ([]SegmentStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.is_active, COUNT(m.id) FILTER (WHERE m.is_current_member)
		FROM client_segments s
		LEFT JOIN segment_membership m ON m.segment_id = s.id
		GROUP BY s.id, s.name, s.is_active
		ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("segment stats: %w", err)
	}
	defer rows.Close()

	var stats []SegmentStats
	for rows.Next() {
		var st SegmentStats
		if err := rows.Scan(&st.SegmentID, &st.Name, &st.IsActive, &st.MemberCount); err != nil {
			continue
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
