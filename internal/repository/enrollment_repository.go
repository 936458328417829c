package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cursoshq/cursos-api/internal/models"
	appErrors "github.com/cursoshq/cursos-api/pkg/errors"
)

const uniqueViolation = "23505"

// EnrollmentRepository owns the enrollment ledger's storage: admissions,
// removals and the per-year code sequence. All multi-row invariants are
// enforced inside single transactions here; no occupancy state lives outside
// the database.
type EnrollmentRepository struct {
	db         *sqlx.DB
	codePrefix string
	logger     *zap.Logger
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB, codePrefix string, logger *zap.Logger) *EnrollmentRepository {
	if codePrefix == "" {
		codePrefix = "INS"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentRepository{db: db, codePrefix: codePrefix, logger: logger}
}

// Admit creates the enrollment and increments the course's occupancy as one
// atomic unit. The course row is locked first, the capacity guard runs on the
// locked snapshot, then the year sequence is bumped and the row inserted.
// Lock order is always course row before sequence row.
//
// Typed outcomes: ErrCourseNotFound, ErrCourseFull (with seat counts),
// ErrAlreadyEnrolled, ErrAllocationExhausted.
func (r *EnrollmentRepository) Admit(ctx context.Context, enrollment *models.Enrollment) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin admission: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var course models.Course
	const lockQuery = `SELECT id, name, description, max_seats, filled_seats, price, active, created_at, updated_at
        FROM courses WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &course, lockQuery, enrollment.CourseID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrCourseNotFound, "")
		}
		return fmt.Errorf("lock course row: %w", err)
	}
	if !course.Active {
		return appErrors.Clone(appErrors.ErrCourseNotFound, "course is not active")
	}

	if !course.HasCapacity() {
		return appErrors.WithDetails(appErrors.ErrCourseFull, map[string]interface{}{
			"max_seats":    *course.MaxSeats,
			"filled_seats": course.FilledSeats,
		})
	}

	now := time.Now().UTC()
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now

	enrollment.Code, err = r.nextCode(ctx, tx, now.Year())
	if err != nil {
		return err
	}

	const insertQuery = `INSERT INTO enrollments
        (id, code, participant_id, course_id, payment_state, amount_paid, payment_method, payment_date, attended, notes, registrar_id, created_at, updated_at)
        VALUES (:id, :code, :participant_id, :course_id, :payment_state, :amount_paid, :payment_method, :payment_date, :attended, :notes, :registrar_id, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, enrollment); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			if strings.Contains(pqErr.Constraint, "code") {
				// A duplicate code past the sequence counter means the counter
				// was tampered with; surface as exhaustion so the client retries.
				return appErrors.Wrap(err, appErrors.ErrAllocationExhausted.Code, appErrors.ErrAllocationExhausted.Status, appErrors.ErrAllocationExhausted.Message)
			}
			return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}

	const bumpQuery = `UPDATE courses SET filled_seats = filled_seats + 1, updated_at = $2 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, bumpQuery, enrollment.CourseID, now); err != nil {
		return fmt.Errorf("increment filled seats: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit admission: %w", err)
	}
	return nil
}

// nextCode bumps the per-year counter inside the caller's transaction and
// renders the reference code. The upsert is a single atomic statement, so two
// concurrent admissions can never observe the same value.
func (r *EnrollmentRepository) nextCode(ctx context.Context, tx *sqlx.Tx, year int) (string, error) {
	const seqQuery = `INSERT INTO enrollment_sequences (year, last_value) VALUES ($1, 1)
        ON CONFLICT (year) DO UPDATE SET last_value = enrollment_sequences.last_value + 1
        RETURNING last_value`
	var seq int
	if err := tx.GetContext(ctx, &seq, seqQuery, year); err != nil {
		return "", fmt.Errorf("advance enrollment sequence: %w", err)
	}
	return models.FormatEnrollmentCode(r.codePrefix, year, seq), nil
}

// Remove deletes the enrollment and decrements the owning course's occupancy
// in one transaction. Returns the course ID for auditing. sql.ErrNoRows is
// returned when the enrollment does not exist; a repeated delete therefore
// never decrements twice.
func (r *EnrollmentRepository) Remove(ctx context.Context, id string) (courseID string, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin removal: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const lockQuery = `SELECT course_id FROM enrollments WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &courseID, lockQuery, id); err != nil {
		if err == sql.ErrNoRows {
			return "", err
		}
		return "", fmt.Errorf("lock enrollment row: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id); err != nil {
		return "", fmt.Errorf("delete enrollment: %w", err)
	}

	const dropQuery = `UPDATE courses SET filled_seats = filled_seats - 1, updated_at = $2
        WHERE id = $1 AND filled_seats > 0`
	res, err := tx.ExecContext(ctx, dropQuery, courseID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("decrement filled seats: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		// An enrollment existed while the counter read zero. The delete still
		// commits; the drift needs operator attention.
		r.logger.Warn("occupancy counter already at zero during removal",
			zap.String("course_id", courseID),
			zap.String("enrollment_id", id))
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit removal: %w", err)
	}
	return courseID, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN participants p ON p.id = e.participant_id
LEFT JOIN courses c ON c.id = e.course_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.ParticipantID != "" {
		conditions = append(conditions, fmt.Sprintf("e.participant_id = $%d", len(args)+1))
		args = append(args, filter.ParticipantID)
	}
	if filter.PaymentState != "" {
		conditions = append(conditions, fmt.Sprintf("e.payment_state = $%d", len(args)+1))
		args = append(args, filter.PaymentState)
	}
	if filter.Attended != nil {
		conditions = append(conditions, fmt.Sprintf("e.attended = $%d", len(args)+1))
		args = append(args, *filter.Attended)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":       "e.created_at",
		"code":             "e.code",
		"participant_name": "p.full_name",
		"course_name":      "c.name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.code, e.participant_id, e.course_id, e.payment_state, e.amount_paid,
        e.payment_method, e.payment_date, e.attended, e.notes, e.registrar_id, e.created_at, e.updated_at,
        p.full_name AS participant_name, p.document_number AS participant_document, c.name AS course_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, code, participant_id, course_id, payment_state, amount_paid, payment_method,
        payment_date, attended, notes, registrar_id, created_at, updated_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with participant and course context.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.code, e.participant_id, e.course_id, e.payment_state, e.amount_paid,
        e.payment_method, e.payment_date, e.attended, e.notes, e.registrar_id, e.created_at, e.updated_at,
        p.full_name AS participant_name, p.document_number AS participant_document, c.name AS course_name
        FROM enrollments e
        LEFT JOIN participants p ON p.id = e.participant_id
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsPair checks whether the participant is already enrolled in the course.
// The database constraint remains the authority; this pre-check only produces
// the friendlier rejection before the transaction starts.
func (r *EnrollmentRepository) ExistsPair(ctx context.Context, participantID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE participant_id = $1 AND course_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, participantID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment pair: %w", err)
	}
	return true, nil
}

// EnrollmentUpdateParams carries the mutable, non-capacity fields.
type EnrollmentUpdateParams struct {
	PaymentState  models.PaymentState
	AmountPaid    decimal.Decimal
	PaymentMethod *string
	PaymentDate   *time.Time
	Attended      bool
	Notes         *string
}

// UpdateMutable overwrites payment/attendance fields. It never touches the
// code, the pair, or the course occupancy, and is idempotent by construction.
func (r *EnrollmentRepository) UpdateMutable(ctx context.Context, id string, params EnrollmentUpdateParams) error {
	const query = `UPDATE enrollments SET payment_state = $2, amount_paid = $3, payment_method = $4,
        payment_date = $5, attended = $6, notes = $7, updated_at = $8 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, params.PaymentState, params.AmountPaid,
		params.PaymentMethod, params.PaymentDate, params.Attended, params.Notes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enrollment result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByParticipant returns the number of enrollments held by a participant.
func (r *EnrollmentRepository) CountByParticipant(ctx context.Context, participantID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM enrollments WHERE participant_id = $1`, participantID); err != nil {
		return 0, fmt.Errorf("count participant enrollments: %w", err)
	}
	return count, nil
}

// OccupancyReport projects per-course occupancy and payment aggregates for
// the read-side dashboard. Revenue counts settled payments only; amounts
// recorded against PENDING or UNPAID rows stay out of the total.
func (r *EnrollmentRepository) OccupancyReport(ctx context.Context) ([]models.CourseOccupancy, error) {
	const query = `SELECT c.id AS course_id, c.name AS course_name, c.max_seats, c.filled_seats,
        COUNT(e.id) FILTER (WHERE e.payment_state = 'PAID') AS paid_count,
        COUNT(e.id) FILTER (WHERE e.payment_state = 'PENDING') AS pending_count,
        COUNT(e.id) FILTER (WHERE e.payment_state = 'UNPAID') AS unpaid_count,
        COALESCE(SUM(e.amount_paid) FILTER (WHERE e.payment_state = 'PAID'), 0) AS revenue
        FROM courses c
        LEFT JOIN enrollments e ON e.course_id = c.id
        GROUP BY c.id, c.name, c.max_seats, c.filled_seats
        ORDER BY c.name ASC`
	var rows []models.CourseOccupancy
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("occupancy report: %w", err)
	}
	return rows, nil
}
