package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cursoshq/cursos-api/internal/models"
	"github.com/cursoshq/cursos-api/internal/repository"
	appErrors "github.com/cursoshq/cursos-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments map[string]models.Enrollment
	pairs       map[string]bool
	admitErr    error
	removeErr   error
	updated     *repository.EnrollmentUpdateParams
	removed     []string
}

func (m *mockEnrollmentRepo) Admit(ctx context.Context, enrollment *models.Enrollment) error {
	if m.admitErr != nil {
		return m.admitErr
	}
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.Enrollment)
	}
	if enrollment.ID == "" {
		enrollment.ID = "new-enroll"
	}
	enrollment.Code = "INS-2026-00001"
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *mockEnrollmentRepo) Remove(ctx context.Context, id string) (string, error) {
	if m.removeErr != nil {
		return "", m.removeErr
	}
	e, ok := m.enrollments[id]
	if !ok {
		return "", sql.ErrNoRows
	}
	delete(m.enrollments, id)
	m.removed = append(m.removed, id)
	return e.CourseID, nil
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var list []models.EnrollmentDetail
	for _, e := range m.enrollments {
		list = append(list, models.EnrollmentDetail{Enrollment: e})
	}
	return list, len(list), nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ExistsPair(ctx context.Context, participantID, courseID string) (bool, error) {
	return m.pairs[participantID+"/"+courseID], nil
}

func (m *mockEnrollmentRepo) UpdateMutable(ctx context.Context, id string, params repository.EnrollmentUpdateParams) error {
	e, ok := m.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	m.updated = &params
	e.PaymentState = params.PaymentState
	e.AmountPaid = params.AmountPaid
	e.PaymentMethod = params.PaymentMethod
	e.PaymentDate = params.PaymentDate
	e.Attended = params.Attended
	e.Notes = params.Notes
	m.enrollments[id] = e
	return nil
}

type mockParticipantReader struct {
	participants map[string]*models.Participant
}

func (m *mockParticipantReader) FindByID(ctx context.Context, id string) (*models.Participant, error) {
	if p, ok := m.participants[id]; ok {
		return p, nil
	}
	return nil, sql.ErrNoRows
}

type mockCourseReader struct {
	courses map[string]*models.Course
}

func (m *mockCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

type recordingAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *recordingAudit) Notify(event AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var actions []string
	for _, e := range r.events {
		actions = append(actions, e.Action)
	}
	return actions
}

func newEnrollmentFixture() (*EnrollmentService, *mockEnrollmentRepo, *recordingAudit) {
	repo := &mockEnrollmentRepo{pairs: map[string]bool{}}
	participants := &mockParticipantReader{participants: map[string]*models.Participant{
		"p1": {ID: "p1", FullName: "Ana Lopez", DocumentType: "DNI", DocumentNumber: "45879652"},
	}}
	courses := &mockCourseReader{courses: map[string]*models.Course{
		"c1": {ID: "c1", Name: "Go Fundamentals", Active: true},
	}}
	audit := &recordingAudit{}
	svc := NewEnrollmentService(repo, participants, courses, audit, validator.New(), zap.NewNop(), time.Second, nil)
	return svc, repo, audit
}

func testClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin, Email: "admin@example.com"}
}

func TestEnrollmentServiceAdmit(t *testing.T) {
	svc, repo, audit := newEnrollmentFixture()

	amount := decimal.RequireFromString("150.00")
	detail, err := svc.Admit(context.Background(), AdmitEnrollmentRequest{
		ParticipantID: "p1",
		CourseID:      "c1",
		PaymentState:  "PAID",
		AmountPaid:    &amount,
	}, testClaims())
	require.NoError(t, err)
	assert.Equal(t, "INS-2026-00001", detail.Code)
	assert.Equal(t, models.PaymentStatePaid, detail.PaymentState)
	assert.Equal(t, "u1", detail.RegistrarID)
	assert.Contains(t, audit.actions(), models.AuditActionEnrollmentAdmitted)
	assert.Len(t, repo.enrollments, 1)
}

func TestEnrollmentServiceAdmitNormalizesLegacyPaymentState(t *testing.T) {
	svc, _, _ := newEnrollmentFixture()

	detail, err := svc.Admit(context.Background(), AdmitEnrollmentRequest{
		ParticipantID: "p1",
		CourseID:      "c1",
		PaymentState:  "NO_PAGADO",
	}, testClaims())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStateUnpaid, detail.PaymentState)
}

func TestEnrollmentServiceAdmitDefaultsToPending(t *testing.T) {
	svc, _, _ := newEnrollmentFixture()

	detail, err := svc.Admit(context.Background(), AdmitEnrollmentRequest{
		ParticipantID: "p1",
		CourseID:      "c1",
	}, testClaims())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatePending, detail.PaymentState)
	assert.True(t, detail.AmountPaid.IsZero())
}

func TestEnrollmentServiceAdmitParticipantNotFound(t *testing.T) {
	svc, _, _ := newEnrollmentFixture()

	_, err := svc.Admit(context.Background(), AdmitEnrollmentRequest{
		ParticipantID: "ghost",
		CourseID:      "c1",
	}, testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrParticipantNotFound))
}

func TestEnrollmentServiceAdmitCourseNotFound(t *testing.T) {
	svc, _, _ := newEnrollmentFixture()

	_, err := svc.Admit(context.Background(), AdmitEnrollmentRequest{
		ParticipantID: "p1",
		CourseID:      "ghost",
	}, testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrCourseNotFound))
}

func TestEnrollmentServiceAdmitDuplicatePair(t *testing.T) {
	svc, repo, audit := newEnrollmentFixture()
	repo.pairs["p1/c1"] = true

	_, err := svc.Admit(context.Background(), AdmitEnrollmentRequest{
		ParticipantID: "p1",
		CourseID:      "c1",
	}, testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrAlreadyEnrolled))
	assert.Contains(t, audit.actions(), models.AuditActionEnrollmentRejected)
}

func TestEnrollmentServiceAdmitCourseFullPassesDetails(t *testing.T) {
	svc, repo, audit := newEnrollmentFixture()
	repo.admitErr = appErrors.WithDetails(appErrors.ErrCourseFull, map[string]interface{}{
		"max_seats": 20, "filled_seats": 20,
	})

	_, err := svc.Admit(context.Background(), AdmitEnrollmentRequest{
		ParticipantID: "p1",
		CourseID:      "c1",
	}, testClaims())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCourseFull))

	var typed *appErrors.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, 20, typed.Details["max_seats"])
	assert.Contains(t, audit.actions(), models.AuditActionEnrollmentRejected)
}

func TestEnrollmentServiceAdmitTimeout(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.admitErr = context.DeadlineExceeded

	_, err := svc.Admit(context.Background(), AdmitEnrollmentRequest{
		ParticipantID: "p1",
		CourseID:      "c1",
	}, testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrTransactionTimeout))
}

func TestEnrollmentServiceAdmitRejectsNegativeAmount(t *testing.T) {
	svc, _, _ := newEnrollmentFixture()

	amount := decimal.RequireFromString("-5")
	_, err := svc.Admit(context.Background(), AdmitEnrollmentRequest{
		ParticipantID: "p1",
		CourseID:      "c1",
		AmountPaid:    &amount,
	}, testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestEnrollmentServiceAdmitRejectsUnknownPaymentState(t *testing.T) {
	svc, _, _ := newEnrollmentFixture()

	_, err := svc.Admit(context.Background(), AdmitEnrollmentRequest{
		ParticipantID: "p1",
		CourseID:      "c1",
		PaymentState:  "MAYBE",
	}, testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestEnrollmentServiceUpdate(t *testing.T) {
	svc, repo, audit := newEnrollmentFixture()
	repo.enrollments = map[string]models.Enrollment{
		"e1": {ID: "e1", Code: "INS-2026-00001", ParticipantID: "p1", CourseID: "c1", PaymentState: models.PaymentStatePending},
	}

	state := "PAID"
	attended := true
	amount := decimal.RequireFromString("200.00")
	detail, err := svc.Update(context.Background(), "e1", UpdateEnrollmentRequest{
		PaymentState: &state,
		AmountPaid:   &amount,
		Attended:     &attended,
	}, testClaims())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatePaid, detail.PaymentState)
	assert.True(t, detail.Attended)

	// Code survives payment mutations untouched.
	assert.Equal(t, "INS-2026-00001", detail.Code)
	assert.Contains(t, audit.actions(), models.AuditActionEnrollmentUpdated)
}

func TestEnrollmentServiceUpdateKeepsOmittedFields(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	notes := "front row"
	repo.enrollments = map[string]models.Enrollment{
		"e1": {ID: "e1", PaymentState: models.PaymentStatePaid, Attended: true, Notes: &notes},
	}

	state := "PAID"
	detail, err := svc.Update(context.Background(), "e1", UpdateEnrollmentRequest{PaymentState: &state}, testClaims())
	require.NoError(t, err)
	assert.True(t, detail.Attended)
	require.NotNil(t, detail.Notes)
	assert.Equal(t, "front row", *detail.Notes)
}

func TestEnrollmentServiceUpdateNotFound(t *testing.T) {
	svc, _, _ := newEnrollmentFixture()

	state := "PAID"
	_, err := svc.Update(context.Background(), "ghost", UpdateEnrollmentRequest{PaymentState: &state}, testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrEnrollmentNotFound))
}

func TestEnrollmentServiceRemove(t *testing.T) {
	svc, repo, audit := newEnrollmentFixture()
	repo.enrollments = map[string]models.Enrollment{
		"e1": {ID: "e1", CourseID: "c1"},
	}

	require.NoError(t, svc.Remove(context.Background(), "e1", testClaims()))
	assert.Empty(t, repo.enrollments)
	assert.Contains(t, audit.actions(), models.AuditActionEnrollmentRemoved)

	// Second delete observes the missing row, never a double decrement.
	err := svc.Remove(context.Background(), "e1", testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrEnrollmentNotFound))
}

func TestEnrollmentServiceGet(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrollments = map[string]models.Enrollment{
		"e1": {ID: "e1", Code: "INS-2026-00007"},
	}

	detail, err := svc.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "INS-2026-00007", detail.Code)

	_, err = svc.Get(context.Background(), "ghost")
	assert.True(t, appErrors.Is(err, appErrors.ErrEnrollmentNotFound))
}

func TestEnrollmentServiceLedgerWritesMoveMetrics(t *testing.T) {
	repo := &mockEnrollmentRepo{pairs: map[string]bool{}}
	participants := &mockParticipantReader{participants: map[string]*models.Participant{
		"p1": {ID: "p1", FullName: "Ana Lopez"},
	}}
	courses := &mockCourseReader{courses: map[string]*models.Course{
		"c1": {ID: "c1", Name: "Go Fundamentals", Active: true, FilledSeats: 7},
	}}
	metrics := NewMetricsService()
	svc := NewEnrollmentService(repo, participants, courses, &recordingAudit{}, validator.New(), zap.NewNop(), time.Second, metrics)

	_, err := svc.Admit(context.Background(), AdmitEnrollmentRequest{ParticipantID: "p1", CourseID: "c1"}, testClaims())
	require.NoError(t, err)

	repo.pairs["p1/c1"] = true
	_, err = svc.Admit(context.Background(), AdmitEnrollmentRequest{ParticipantID: "p1", CourseID: "c1"}, testClaims())
	require.Error(t, err)

	require.NoError(t, svc.Remove(context.Background(), "new-enroll", testClaims()))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.enrollTotal.WithLabelValues("admitted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.enrollTotal.WithLabelValues("rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.enrollTotal.WithLabelValues("removed")))
	assert.Equal(t, float64(7), testutil.ToFloat64(metrics.enrollSeats.WithLabelValues("c1")))

	// One Admit transaction and one Remove; the duplicate stops at the pre-check.
	snap := metrics.Snapshot()
	assert.EqualValues(t, 2, snap.DBQueryCount)
}
