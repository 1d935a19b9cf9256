// Package customers provides the persistence layer for customer profiles and
// the side-effect records the action dispatcher writes: internal tasks,
// reminders, activity entries and communication logs.
package customers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
)

// Store handles CRUD against the customers, tasks, reminders,
// activity_log and communication_logs tables.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// updatableFields whitelists the profile columns update_customer actions may touch.
var updatableFields = map[string]string{
	"name":    "name",
	"phone":   "phone",
	"company": "company",
	"country": "country",
	"city":    "city",
	"status":  "status",
}

// Get loads one customer by id. Returns a typed NotFoundError when missing.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	var c domain.Customer
	var customFieldsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(email,''), COALESCE(phone,''), COALESCE(company,''),
		       COALESCE(country,''), COALESCE(city,''), COALESCE(assigned_team,''),
		       COALESCE(tags, '{}'), COALESCE(custom_fields, '{}'), status, created_at, updated_at
		FROM customers WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.Country, &c.City,
		&c.AssignedTeam, pq.Array(&c.Tags), &customFieldsJSON, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFound("customer", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if len(customFieldsJSON) > 0 {
		json.Unmarshal(customFieldsJSON, &c.CustomFields)
	}
	return &c, nil
}

// ListIDs returns all customer ids, for batch recompute runs.
func (s *Store) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM customers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list customer ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateFields applies a whitelisted set of profile field updates.
// Unknown field names are a validation failure, not a silent skip.
func (s *Store) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]string) error {
	if len(fields) == 0 {
		return domain.NewValidation("fields", "no updates provided")
	}
	set := "updated_at = NOW()"
	args := []interface{}{id}
	i := 2
	for name, value := range fields {
		col, ok := updatableFields[name]
		if !ok {
			return domain.NewValidation("fields."+name, "not an updatable field")
		}
		set += fmt.Sprintf(", %s = $%d", col, i)
		args = append(args, value)
		i++
	}
	res, err := s.db.ExecContext(ctx, `UPDATE customers SET `+set+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update customer fields: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFound("customer", id.String())
	}
	return nil
}

// AddTags appends tags not already present.
func (s *Store) AddTags(ctx context.Context, id uuid.UUID, tags []string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET tags = (SELECT ARRAY(SELECT DISTINCT unnest(COALESCE(tags,'{}') || $2::text[]))),
		    updated_at = NOW()
		WHERE id = $1`, id, pq.Array(tags))
	if err != nil {
		return fmt.Errorf("add tags: %w", err)
	}
	return nil
}

// RemoveTags removes the given tags if present.
func (s *Store) RemoveTags(ctx context.Context, id uuid.UUID, tags []string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET tags = (SELECT ARRAY(SELECT unnest(COALESCE(tags,'{}')) EXCEPT SELECT unnest($2::text[]))),
		    updated_at = NOW()
		WHERE id = $1`, id, pq.Array(tags))
	if err != nil {
		return fmt.Errorf("remove tags: %w", err)
	}
	return nil
}

// MergeCustomFields shallow-merges fields into the custom_fields JSONB column.
func (s *Store) MergeCustomFields(ctx context.Context, id uuid.UUID, fields map[string]string) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal custom fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE customers
		SET custom_fields = COALESCE(custom_fields, '{}'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("merge custom fields: %w", err)
	}
	return nil
}

// AssignTeam sets the owning team on a profile.
func (s *Store) AssignTeam(ctx context.Context, id uuid.UUID, team string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE customers SET assigned_team = $2, updated_at = NOW() WHERE id = $1`, id, team)
	if err != nil {
		return fmt.Errorf("assign team: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFound("customer", id.String())
	}
	return nil
}

// Task is an internal follow-up task created by a create_task action.
type Task struct {
	ID          uuid.UUID
	CustomerID  uuid.UUID
	Title       string
	Description string
	Team        string
	DueAt       *time.Time
	CreatedAt   time.Time
}

// CreateTask inserts an internal task.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, customer_id, title, description, team, due_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'open')`,
		t.ID, t.CustomerID, t.Title, t.Description, t.Team, t.DueAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// Reminder is a dated note created by a create_reminder action.
type Reminder struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	Message    string
	RemindAt   time.Time
	CreatedAt  time.Time
}

// CreateReminder inserts a reminder.
func (s *Store) CreateReminder(ctx context.Context, r *Reminder) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, customer_id, message, remind_at)
		VALUES ($1, $2, $3, $4)`,
		r.ID, r.CustomerID, r.Message, r.RemindAt)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

// LogActivity appends a free-form activity entry to the customer timeline.
func (s *Store) LogActivity(ctx context.Context, customerID uuid.UUID, kind, description string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, customer_id, kind, description)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), customerID, kind, description)
	if err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

// InsertCommunicationLog records one dispatch attempt, success or failure.
func (s *Store) InsertCommunicationLog(ctx context.Context, entry *domain.CommunicationLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO communication_logs (id, customer_id, channel, direction, preview, external_ref, status, workflow_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.CustomerID, entry.Channel, entry.Direction,
		entry.Preview, entry.ExternalRef, entry.Status, entry.WorkflowID)
	if err != nil {
		return fmt.Errorf("insert communication log: %w", err)
	}
	return nil
}
