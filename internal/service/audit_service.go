package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cursoshq/cursos-api/internal/models"
	"github.com/cursoshq/cursos-api/pkg/jobs"
)

type auditLogWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AuditEvent is a single audited action. Actor may be nil for anonymous
// events such as failed logins.
type AuditEvent struct {
	Actor      *models.JWTClaims
	Action     string
	Resource   string
	ResourceID *string
	Payload    interface{}
	IPAddress  string
	UserAgent  string
}

// AuditService persists audit events off the request path through a bounded
// worker queue. Notify never blocks; when the queue is saturated the event is
// dropped and logged, by contract with the callers.
type AuditService struct {
	repo    auditLogWriter
	queue   *jobs.Queue
	logger  *zap.Logger
	metrics metricsRecorder
}

// NewAuditService constructs AuditService with its own queue. metrics may be
// nil.
func NewAuditService(repo auditLogWriter, logger *zap.Logger, workers, queueSize int, metrics metricsRecorder) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{repo: repo, logger: logger, metrics: metrics}
	s.queue = jobs.NewQueue("audit", s.persist, jobs.QueueConfig{
		Workers:    workers,
		BufferSize: queueSize,
		Logger:     logger,
	})
	return s
}

// Start launches the queue workers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue and stops the workers.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Notify records an event asynchronously. Enqueue failure is logged and
// swallowed; auditing never fails the operation that produced the event.
func (s *AuditService) Notify(event AuditEvent) {
	record := s.toRecord(event)
	if err := s.queue.Enqueue(jobs.Job{ID: record.ID, Type: event.Action, Payload: record}); err != nil {
		s.logger.Warn("audit event dropped",
			zap.String("action", event.Action),
			zap.String("resource", event.Resource),
			zap.Error(err))
	}
	s.publishQueueDepth()
}

func (s *AuditService) publishQueueDepth() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetQueueDepth("audit", s.queue.Depth())
}

func (s *AuditService) toRecord(event AuditEvent) *models.AuditLog {
	record := &models.AuditLog{
		ID:         uuid.New().String(),
		Action:     event.Action,
		Resource:   event.Resource,
		ResourceID: event.ResourceID,
		IPAddress:  event.IPAddress,
		UserAgent:  event.UserAgent,
		CreatedAt:  time.Now().UTC(),
	}
	if event.Actor != nil {
		userID := event.Actor.UserID
		record.UserID = &userID
	}
	if event.Payload != nil {
		if raw, err := json.Marshal(event.Payload); err == nil {
			record.NewValues = raw
		}
	}
	return record
}

func (s *AuditService) persist(ctx context.Context, job jobs.Job) error {
	defer s.publishQueueDepth()
	record, ok := job.Payload.(*models.AuditLog)
	if !ok {
		s.logger.Error("audit job carried unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.repo.Create(ctx, record)
}

type auditLogReader interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

// AuditQueryService serves the audit trail read endpoint.
type AuditQueryService struct {
	repo auditLogReader
}

// NewAuditQueryService constructs AuditQueryService.
func NewAuditQueryService(repo auditLogReader) *AuditQueryService {
	return &AuditQueryService{repo: repo}
}

// List returns audit entries newest first.
func (s *AuditQueryService) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return logs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
