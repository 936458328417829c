package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cursoshq/cursos-api/internal/models"
	appErrors "github.com/cursoshq/cursos-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id string) error
}

// CreateCourseRequest is the payload for creating a course. MaxSeats nil
// means unlimited capacity.
type CreateCourseRequest struct {
	Name        string           `json:"name" validate:"required,min=3,max=200"`
	Description string           `json:"description" validate:"max=2000"`
	MaxSeats    *int             `json:"max_seats" validate:"omitempty,min=1"`
	Price       *decimal.Decimal `json:"price" validate:"omitempty"`
	Active      *bool            `json:"active"`
}

// UpdateCourseRequest is the payload for editing a course.
type UpdateCourseRequest struct {
	Name        string           `json:"name" validate:"required,min=3,max=200"`
	Description string           `json:"description" validate:"max=2000"`
	MaxSeats    *int             `json:"max_seats" validate:"omitempty,min=1"`
	Price       *decimal.Decimal `json:"price" validate:"omitempty"`
	Active      *bool            `json:"active"`
}

// CourseService manages the course catalog. Occupancy is owned by the
// enrollment ledger; this service only reads filled_seats.
type CourseService struct {
	repo      courseRepository
	audit     auditNotifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, audit auditNotifier, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return courses, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a course by ID.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrCourseNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// Create adds a new course with zero occupancy.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest, actor *models.JWTClaims) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if req.Price != nil && req.Price.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "price must not be negative")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	course := &models.Course{
		Name:        req.Name,
		Description: req.Description,
		MaxSeats:    req.MaxSeats,
		Price:       req.Price,
		Active:      active,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	if s.audit != nil {
		s.audit.Notify(AuditEvent{
			Actor:      actor,
			Action:     models.AuditActionCourseCreate,
			Resource:   "courses",
			ResourceID: &course.ID,
			Payload:    map[string]interface{}{"name": course.Name, "max_seats": course.MaxSeats},
		})
	}
	return course, nil
}

// Update edits a course. Shrinking max_seats below the current occupancy is
// rejected; raising or clearing it is always allowed.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest, actor *models.JWTClaims) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if req.Price != nil && req.Price.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "price must not be negative")
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrCourseNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if req.MaxSeats != nil && *req.MaxSeats < course.FilledSeats {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("max seats %d is below current occupancy %d", *req.MaxSeats, course.FilledSeats))
	}

	course.Name = req.Name
	course.Description = req.Description
	course.MaxSeats = req.MaxSeats
	course.Price = req.Price
	if req.Active != nil {
		course.Active = *req.Active
	}
	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}

	if s.audit != nil {
		s.audit.Notify(AuditEvent{
			Actor:      actor,
			Action:     models.AuditActionCourseUpdate,
			Resource:   "courses",
			ResourceID: &id,
			Payload:    map[string]interface{}{"name": course.Name, "max_seats": course.MaxSeats, "active": course.Active},
		})
	}
	return course, nil
}

// Delete removes a course without enrollments.
func (s *CourseService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrCourseNotFound, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.FilledSeats > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "course still has enrollments")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}

	if s.audit != nil {
		s.audit.Notify(AuditEvent{
			Actor:      actor,
			Action:     models.AuditActionCourseDelete,
			Resource:   "courses",
			ResourceID: &id,
			Payload:    map[string]interface{}{"name": course.Name},
		})
	}
	return nil
}
