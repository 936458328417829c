package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentState tracks the payment lifecycle of an enrollment.
type PaymentState string

// Canonical payment states. The legacy literal "NO_PAGADO" is accepted on
// input and normalized to UNPAID; it is never stored.
const (
	PaymentStatePending PaymentState = "PENDING"
	PaymentStatePaid    PaymentState = "PAID"
	PaymentStateUnpaid  PaymentState = "UNPAID"
)

const legacyUnpaidLiteral = "NO_PAGADO"

// ParsePaymentState normalizes a raw payment state literal. Empty input maps
// to PENDING. Unknown literals are rejected.
func ParsePaymentState(raw string) (PaymentState, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return PaymentStatePending, true
	case string(PaymentStatePending):
		return PaymentStatePending, true
	case string(PaymentStatePaid):
		return PaymentStatePaid, true
	case string(PaymentStateUnpaid), legacyUnpaidLiteral:
		return PaymentStateUnpaid, true
	default:
		return "", false
	}
}

// FormatEnrollmentCode renders the human-readable reference code
// PREFIX-YYYY-NNNNN for the given year and sequence number.
func FormatEnrollmentCode(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, seq)
}

// Enrollment is the ledger's own entity: the admission of one participant
// into one course. Code is unique forever; the (participant, course) pair is
// unique; its existence contributes exactly +1 to the course's filled seats.
type Enrollment struct {
	ID            string          `db:"id" json:"id"`
	Code          string          `db:"code" json:"code"`
	ParticipantID string          `db:"participant_id" json:"participant_id"`
	CourseID      string          `db:"course_id" json:"course_id"`
	PaymentState  PaymentState    `db:"payment_state" json:"payment_state"`
	AmountPaid    decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	PaymentMethod *string         `db:"payment_method" json:"payment_method,omitempty"`
	PaymentDate   *time.Time      `db:"payment_date" json:"payment_date,omitempty"`
	Attended      bool            `db:"attended" json:"attended"`
	Notes         *string         `db:"notes" json:"notes,omitempty"`
	RegistrarID   string          `db:"registrar_id" json:"registrar_id"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with participant and course display
// fields for API consumers.
type EnrollmentDetail struct {
	Enrollment
	ParticipantName     string `db:"participant_name" json:"participant_name"`
	ParticipantDocument string `db:"participant_document" json:"participant_document"`
	CourseName          string `db:"course_name" json:"course_name"`
}

// EnrollmentFilter provides filters for listing enrollments; filters combine
// with AND.
type EnrollmentFilter struct {
	CourseID      string
	ParticipantID string
	PaymentState  PaymentState
	Attended      *bool
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
