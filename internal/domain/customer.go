// Package domain holds the core types shared across the lifecycle engine:
// customer profiles, orders, communication history, derived metrics and
// engagement scores, plus the error taxonomy the scheduler classifies on.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProfileCompletenessFields are the profile fields counted toward the
// completeness metric. Order matters only for reporting.
var ProfileCompletenessFields = []string{"name", "email", "phone", "company", "country", "city"}

// Customer is a customer profile row.
type Customer struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	Name         string            `json:"name" db:"name"`
	Email        string            `json:"email" db:"email"`
	Phone        string            `json:"phone,omitempty" db:"phone"`
	Company      string            `json:"company,omitempty" db:"company"`
	Country      string            `json:"country,omitempty" db:"country"`
	City         string            `json:"city,omitempty" db:"city"`
	AssignedTeam string            `json:"assigned_team,omitempty" db:"assigned_team"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	Status       string            `json:"status" db:"status"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// CompletedProfileFields returns how many completeness fields have a value.
func (c *Customer) CompletedProfileFields() int {
	n := 0
	for _, f := range []string{c.Name, c.Email, c.Phone, c.Company, c.Country, c.City} {
		if f != "" {
			n++
		}
	}
	return n
}

// HasTag reports whether the customer carries the given tag.
func (c *Customer) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
