package segmentation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestUpsertMembership_NewJoin(t *testing.T) {
	store, mock := newMockStore(t)
	segmentID, profileID := uuid.New(), uuid.New()

	// No current row to refresh, so the insert path reports a join.
	mock.ExpectExec(`UPDATE segment_membership SET membership_reason`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO segment_membership`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	joined, err := store.UpsertMembership(context.Background(), segmentID, profileID, "matched rules")
	require.NoError(t, err)
	assert.True(t, joined)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMembership_RefreshIsNotAJoin(t *testing.T) {
	store, mock := newMockStore(t)

	// An existing current row only gets its reason refreshed.
	mock.ExpectExec(`UPDATE segment_membership SET membership_reason`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	joined, err := store.UpsertMembership(context.Background(), uuid.New(), uuid.New(), "still matching")
	require.NoError(t, err)
	assert.False(t, joined, "refreshing a membership must not count as a join")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEndMembership(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE segment_membership`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	left, err := store.EndMembership(context.Background(), uuid.New(), uuid.New(), "rules stopped matching")
	require.NoError(t, err)
	assert.True(t, left)

	// A customer who was never a member produces no transition.
	mock.ExpectExec(`UPDATE segment_membership`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	left, err = store.EndMembership(context.Background(), uuid.New(), uuid.New(), "rules stopped matching")
	require.NoError(t, err)
	assert.False(t, left)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSegment_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM client_segments`).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), uuid.New())
	assert.True(t, domain.IsNotFound(err))
}

func TestListActive_ParsesRulesAndAutomations(t *testing.T) {
	store, mock := newMockStore(t)
	segID := uuid.New()

	rows := sqlmock.NewRows([]string{"id", "name", "rules", "is_active", "on_join", "on_leave", "created_at", "updated_at"}).
		AddRow(segID, "High value",
			[]byte(`[{"field":"total_revenue","operator":"greater_than_equal","value":10000}]`),
			true,
			[]byte(`[{"action_type":"send_message","config":{"message.template":"hi"},"delay_minutes":30}]`),
			[]byte(`[]`),
			time.Now(), time.Now())
	mock.ExpectQuery(`SELECT (.+) FROM client_segments`).WillReturnRows(rows)

	segments, err := store.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "High value", segments[0].Name)
	require.Len(t, segments[0].Rules, 1)
	assert.Equal(t, OpGreaterThanEqual, segments[0].Rules[0].Operator)
	require.Len(t, segments[0].OnJoin, 1)
	assert.Equal(t, "send_message", segments[0].OnJoin[0].ActionType)
	assert.Equal(t, 30, segments[0].OnJoin[0].DelayMinutes)
	assert.Empty(t, segments[0].OnLeave)
}
