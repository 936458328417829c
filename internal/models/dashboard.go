package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CourseOccupancy is the read-side projection of a course's seats and income.
// It is rendered from the store on demand; the ledger never consults it.
type CourseOccupancy struct {
	CourseID     string          `db:"course_id" json:"course_id"`
	CourseName   string          `db:"course_name" json:"course_name"`
	MaxSeats     *int            `db:"max_seats" json:"max_seats,omitempty"`
	FilledSeats  int             `db:"filled_seats" json:"filled_seats"`
	Utilization  *float64        `json:"utilization,omitempty"`
	PaidCount    int             `db:"paid_count" json:"paid_count"`
	PendingCount int             `db:"pending_count" json:"pending_count"`
	UnpaidCount  int             `db:"unpaid_count" json:"unpaid_count"`
	Revenue      decimal.Decimal `db:"revenue" json:"revenue"`
}

// DashboardOverview aggregates occupancy across the catalog.
type DashboardOverview struct {
	Courses          []CourseOccupancy `json:"courses"`
	TotalEnrollments int               `json:"total_enrollments"`
	TotalRevenue     decimal.Decimal   `json:"total_revenue"`
	GeneratedAt      time.Time         `json:"generated_at"`
}
