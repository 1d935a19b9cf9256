package domain

import (
	"time"

	"github.com/google/uuid"
)

// Communication directions.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// CommunicationLog is one entry in a customer's communication history.
// Every action dispatch writes one, success or failure; rows are never
// mutated after creation.
type CommunicationLog struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	CustomerID  uuid.UUID  `json:"customer_id" db:"customer_id"`
	Channel     string     `json:"channel" db:"channel"`
	Direction   string     `json:"direction" db:"direction"`
	Preview     string     `json:"preview,omitempty" db:"preview"`
	ExternalRef string     `json:"external_ref,omitempty" db:"external_ref"`
	Status      string     `json:"status" db:"status"`
	WorkflowID  *uuid.UUID `json:"workflow_id,omitempty" db:"workflow_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
