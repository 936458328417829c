package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/cursoshq/cursos-api/internal/models"
	appErrors "github.com/cursoshq/cursos-api/pkg/errors"
)

type participantRepository interface {
	List(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, int, error)
	FindByID(ctx context.Context, id string) (*models.Participant, error)
	FindByDocument(ctx context.Context, documentType, documentNumber string) (*models.Participant, error)
	Create(ctx context.Context, participant *models.Participant) error
	Update(ctx context.Context, participant *models.Participant) error
	Delete(ctx context.Context, id string) error
}

type enrollmentCounter interface {
	CountByParticipant(ctx context.Context, participantID string) (int, error)
}

// CreateParticipantRequest is the payload for registering a participant.
type CreateParticipantRequest struct {
	DocumentType   string `json:"document_type" validate:"required,oneof=DNI PASSPORT CE"`
	DocumentNumber string `json:"document_number" validate:"required,min=4,max=20"`
	FullName       string `json:"full_name" validate:"required,min=3,max=200"`
	Email          string `json:"email" validate:"omitempty,email"`
	Phone          string `json:"phone" validate:"omitempty,max=20"`
}

// UpdateParticipantRequest is the payload for editing a participant. The
// document pair is immutable once created.
type UpdateParticipantRequest struct {
	FullName string `json:"full_name" validate:"required,min=3,max=200"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"omitempty,max=20"`
}

// ParticipantService manages the participant registry.
type ParticipantService struct {
	repo        participantRepository
	enrollments enrollmentCounter
	audit       auditNotifier
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewParticipantService constructs ParticipantService.
func NewParticipantService(repo participantRepository, enrollments enrollmentCounter, audit auditNotifier, validate *validator.Validate, logger *zap.Logger) *ParticipantService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParticipantService{repo: repo, enrollments: enrollments, audit: audit, validator: validate, logger: logger}
}

// List returns participants with pagination metadata.
func (s *ParticipantService) List(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, *models.Pagination, error) {
	participants, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list participants")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return participants, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a participant by ID.
func (s *ParticipantService) Get(ctx context.Context, id string) (*models.Participant, error) {
	participant, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrParticipantNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participant")
	}
	return participant, nil
}

// Create registers a participant. The document pair must be unused.
func (s *ParticipantService) Create(ctx context.Context, req CreateParticipantRequest, actor *models.JWTClaims) (*models.Participant, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid participant payload")
	}

	if _, err := s.repo.FindByDocument(ctx, req.DocumentType, req.DocumentNumber); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "participant with this document already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check participant document")
	}

	participant := &models.Participant{
		DocumentType:   req.DocumentType,
		DocumentNumber: req.DocumentNumber,
		FullName:       req.FullName,
		Email:          req.Email,
		Phone:          req.Phone,
	}
	if err := s.repo.Create(ctx, participant); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create participant")
	}

	if s.audit != nil {
		s.audit.Notify(AuditEvent{
			Actor:      actor,
			Action:     models.AuditActionParticipantCreate,
			Resource:   "participants",
			ResourceID: &participant.ID,
			Payload:    map[string]interface{}{"document_type": participant.DocumentType, "document_number": participant.DocumentNumber},
		})
	}
	return participant, nil
}

// Update edits a participant's contact details.
func (s *ParticipantService) Update(ctx context.Context, id string, req UpdateParticipantRequest, actor *models.JWTClaims) (*models.Participant, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid participant payload")
	}

	participant, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrParticipantNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participant")
	}

	participant.FullName = req.FullName
	participant.Email = req.Email
	participant.Phone = req.Phone
	if err := s.repo.Update(ctx, participant); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update participant")
	}

	if s.audit != nil {
		s.audit.Notify(AuditEvent{
			Actor:      actor,
			Action:     models.AuditActionParticipantUpdate,
			Resource:   "participants",
			ResourceID: &id,
			Payload:    map[string]interface{}{"full_name": participant.FullName},
		})
	}
	return participant, nil
}

// Delete removes a participant with no enrollments.
func (s *ParticipantService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrParticipantNotFound, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participant")
	}

	count, err := s.enrollments.CountByParticipant(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check participant enrollments")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "participant still has enrollments")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete participant")
	}

	if s.audit != nil {
		s.audit.Notify(AuditEvent{
			Actor:      actor,
			Action:     models.AuditActionParticipantDelete,
			Resource:   "participants",
			ResourceID: &id,
		})
	}
	return nil
}
