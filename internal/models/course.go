package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Course is a catalog entry with an optional hard seat ceiling. FilledSeats is
// owned by the enrollment ledger; nothing else writes it.
type Course struct {
	ID          string           `db:"id" json:"id"`
	Name        string           `db:"name" json:"name"`
	Description string           `db:"description" json:"description"`
	MaxSeats    *int             `db:"max_seats" json:"max_seats,omitempty"`
	FilledSeats int              `db:"filled_seats" json:"filled_seats"`
	Price       *decimal.Decimal `db:"price" json:"price,omitempty"`
	Active      bool             `db:"active" json:"active"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// HasCapacity reports whether one more admission fits. A nil MaxSeats means
// the course is unbounded. The returned decision is only valid while the
// caller holds the course row lock; see EnrollmentRepository.Admit.
func (c *Course) HasCapacity() bool {
	if c.MaxSeats == nil {
		return true
	}
	return c.FilledSeats < *c.MaxSeats
}

// CourseFilter captures filtering criteria for listing courses.
type CourseFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
