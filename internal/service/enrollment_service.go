package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cursoshq/cursos-api/internal/models"
	"github.com/cursoshq/cursos-api/internal/repository"
	appErrors "github.com/cursoshq/cursos-api/pkg/errors"
)

type enrollmentRepository interface {
	Admit(ctx context.Context, enrollment *models.Enrollment) error
	Remove(ctx context.Context, id string) (string, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsPair(ctx context.Context, participantID, courseID string) (bool, error)
	UpdateMutable(ctx context.Context, id string, params repository.EnrollmentUpdateParams) error
}

type participantReader interface {
	FindByID(ctx context.Context, id string) (*models.Participant, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// auditNotifier is the advisory audit sink. Implementations must never block
// the caller; failures are theirs to log.
type auditNotifier interface {
	Notify(event AuditEvent)
}

// AdmitEnrollmentRequest describes an admission request. Payment fields are
// optional; paymentState accepts the legacy NO_PAGADO literal.
type AdmitEnrollmentRequest struct {
	ParticipantID string           `json:"participant_id" validate:"required"`
	CourseID      string           `json:"course_id" validate:"required"`
	PaymentState  string           `json:"payment_state" validate:"omitempty"`
	AmountPaid    *decimal.Decimal `json:"amount_paid" validate:"omitempty"`
	PaymentMethod *string          `json:"payment_method" validate:"omitempty,oneof=CASH CARD TRANSFER"`
	PaymentDate   *string          `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	Attended      bool             `json:"attended"`
	Notes         *string          `json:"notes" validate:"omitempty,max=1000"`
}

// UpdateEnrollmentRequest mutates payment/attendance fields only. Absent
// fields keep their stored values, which makes repeats idempotent.
type UpdateEnrollmentRequest struct {
	PaymentState  *string          `json:"payment_state" validate:"omitempty"`
	AmountPaid    *decimal.Decimal `json:"amount_paid" validate:"omitempty"`
	PaymentMethod *string          `json:"payment_method" validate:"omitempty,oneof=CASH CARD TRANSFER"`
	PaymentDate   *string          `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	Attended      *bool            `json:"attended"`
	Notes         *string          `json:"notes" validate:"omitempty,max=1000"`
}

// EnrollmentService is the ledger coordinator: the only write path into
// enrollments and course occupancy. Admission and removal delegate their
// atomicity to the repository transaction; this layer orders the
// precondition checks and emits the audit notifications.
type EnrollmentService struct {
	repo         enrollmentRepository
	participants participantReader
	courses      courseReader
	audit        auditNotifier
	validator    *validator.Validate
	logger       *zap.Logger
	txTimeout    time.Duration
	metrics      metricsRecorder
}

// NewEnrollmentService constructs EnrollmentService. metrics may be nil.
func NewEnrollmentService(repo enrollmentRepository, participants participantReader, courses courseReader, audit auditNotifier, validate *validator.Validate, logger *zap.Logger, txTimeout time.Duration, metrics metricsRecorder) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if txTimeout <= 0 {
		txTimeout = 5 * time.Second
	}
	return &EnrollmentService{repo: repo, participants: participants, courses: courses, audit: audit, validator: validate, logger: logger, txTimeout: txTimeout, metrics: metrics}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Get returns a single enrollment with display context.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrEnrollmentNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// Admit turns an admission request into a durable enrollment or a typed
// rejection. Preconditions run in order, each with its own rejection; the
// capacity check and code allocation happen inside the repository
// transaction, so concurrent admissions cannot oversell a course or share a
// code.
func (s *EnrollmentService) Admit(ctx context.Context, req AdmitEnrollmentRequest, registrar *models.JWTClaims) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	state, ok := models.ParsePaymentState(req.PaymentState)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown payment state")
	}
	amount := decimal.Zero
	if req.AmountPaid != nil {
		if req.AmountPaid.IsNegative() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "amount paid must not be negative")
		}
		amount = *req.AmountPaid
	}
	paymentDate, err := parseDate(req.PaymentDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid payment date")
	}

	participant, err := s.participants.FindByID(ctx, req.ParticipantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrParticipantNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participant")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrCourseNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	// Friendly pre-check; the unique constraint inside Admit closes the race.
	exists, err := s.repo.ExistsPair(ctx, req.ParticipantID, req.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		s.notifyRejection(registrar, req, appErrors.ErrAlreadyEnrolled.Code)
		return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
	}

	enrollment := &models.Enrollment{
		ParticipantID: req.ParticipantID,
		CourseID:      req.CourseID,
		PaymentState:  state,
		AmountPaid:    amount,
		PaymentMethod: req.PaymentMethod,
		PaymentDate:   paymentDate,
		Attended:      req.Attended,
		Notes:         req.Notes,
		RegistrarID:   registrar.UserID,
	}

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	txStart := time.Now()
	err = s.repo.Admit(txCtx, enrollment)
	s.observeDBQuery(time.Since(txStart))
	if err != nil {
		var typed *appErrors.Error
		switch {
		case errors.As(err, &typed):
			s.notifyRejection(registrar, req, typed.Code)
			return nil, typed
		case errors.Is(err, context.DeadlineExceeded):
			s.notifyRejection(registrar, req, appErrors.ErrTransactionTimeout.Code)
			return nil, appErrors.Wrap(err, appErrors.ErrTransactionTimeout.Code, appErrors.ErrTransactionTimeout.Status, appErrors.ErrTransactionTimeout.Message)
		default:
			s.notifyRejection(registrar, req, appErrors.ErrInternal.Code)
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
		}
	}

	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}

	s.recordDecision("admitted")
	s.publishOccupancy(ctx, enrollment.CourseID)
	s.notify(registrar, AuditEvent{
		Action:     models.AuditActionEnrollmentAdmitted,
		Resource:   "enrollments",
		ResourceID: &enrollment.ID,
		Payload: map[string]interface{}{
			"code":           enrollment.Code,
			"participant_id": participant.ID,
			"course_id":      enrollment.CourseID,
		},
	})
	return detail, nil
}

// Update mutates payment/attendance fields. It never re-checks capacity and
// never regenerates the code.
func (s *EnrollmentService) Update(ctx context.Context, id string, req UpdateEnrollmentRequest, actor *models.JWTClaims) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrEnrollmentNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	params := repository.EnrollmentUpdateParams{
		PaymentState:  existing.PaymentState,
		AmountPaid:    existing.AmountPaid,
		PaymentMethod: existing.PaymentMethod,
		PaymentDate:   existing.PaymentDate,
		Attended:      existing.Attended,
		Notes:         existing.Notes,
	}
	if req.PaymentState != nil {
		state, ok := models.ParsePaymentState(*req.PaymentState)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown payment state")
		}
		params.PaymentState = state
	}
	if req.AmountPaid != nil {
		if req.AmountPaid.IsNegative() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "amount paid must not be negative")
		}
		params.AmountPaid = *req.AmountPaid
	}
	if req.PaymentMethod != nil {
		params.PaymentMethod = req.PaymentMethod
	}
	if req.PaymentDate != nil {
		paymentDate, err := parseDate(req.PaymentDate)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid payment date")
		}
		params.PaymentDate = paymentDate
	}
	if req.Attended != nil {
		params.Attended = *req.Attended
	}
	if req.Notes != nil {
		params.Notes = req.Notes
	}

	if err := s.repo.UpdateMutable(ctx, id, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrEnrollmentNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}

	s.notify(actor, AuditEvent{
		Action:     models.AuditActionEnrollmentUpdated,
		Resource:   "enrollments",
		ResourceID: &id,
		Payload:    map[string]interface{}{"payment_state": params.PaymentState, "attended": params.Attended},
	})
	return detail, nil
}

// Remove deletes the enrollment and releases its seat atomically. Repeated
// deletes return ErrEnrollmentNotFound and never decrement twice.
func (s *EnrollmentService) Remove(ctx context.Context, id string, actor *models.JWTClaims) error {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	txStart := time.Now()
	courseID, err := s.repo.Remove(txCtx, id)
	s.observeDBQuery(time.Since(txStart))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrEnrollmentNotFound, "")
		case errors.Is(err, context.DeadlineExceeded):
			return appErrors.Wrap(err, appErrors.ErrTransactionTimeout.Code, appErrors.ErrTransactionTimeout.Status, appErrors.ErrTransactionTimeout.Message)
		default:
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove enrollment")
		}
	}

	s.recordDecision("removed")
	s.publishOccupancy(ctx, courseID)
	s.notify(actor, AuditEvent{
		Action:     models.AuditActionEnrollmentRemoved,
		Resource:   "enrollments",
		ResourceID: &id,
		Payload:    map[string]interface{}{"course_id": courseID},
	})
	return nil
}

func (s *EnrollmentService) notify(actor *models.JWTClaims, event AuditEvent) {
	if s.audit == nil {
		return
	}
	event.Actor = actor
	s.audit.Notify(event)
}

func (s *EnrollmentService) recordDecision(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordEnrollmentDecision(outcome)
}

func (s *EnrollmentService) observeDBQuery(duration time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDBQuery(duration)
}

// publishOccupancy refreshes the per-course seat gauge after a ledger write.
// The re-read is best effort; a failure only leaves the gauge stale.
func (s *EnrollmentService) publishOccupancy(ctx context.Context, courseID string) {
	if s.metrics == nil {
		return
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		s.logger.Debug("skipping occupancy gauge refresh", zap.String("course_id", courseID), zap.Error(err))
		return
	}
	s.metrics.SetCourseOccupancy(course.ID, course.FilledSeats)
}

func (s *EnrollmentService) notifyRejection(actor *models.JWTClaims, req AdmitEnrollmentRequest, reason string) {
	s.recordDecision("rejected")
	s.notify(actor, AuditEvent{
		Action:   models.AuditActionEnrollmentRejected,
		Resource: "enrollments",
		Payload: map[string]interface{}{
			"participant_id": req.ParticipantID,
			"course_id":      req.CourseID,
			"reason":         reason,
		},
	})
}

func parseDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", *raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
