package entity

import (
	"time"

	"github.com/google/uuid"
)

// Customer represents a loyalty program member for data transfer between layers.
type Customer struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	TotalVisits int       `json:"total_visits"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store represents a participating store (branch) for data transfer between layers.
type Store struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	TaxID      string    `json:"tax_id"`
	BranchName string    `json:"branch_name"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}
