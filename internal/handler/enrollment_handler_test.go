package handler

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cursoshq/cursos-api/internal/middleware"
	"github.com/cursoshq/cursos-api/internal/models"
	"github.com/cursoshq/cursos-api/internal/repository"
	"github.com/cursoshq/cursos-api/internal/service"
	appErrors "github.com/cursoshq/cursos-api/pkg/errors"
)

type stubLedgerRepo struct {
	full       bool
	enrollment *models.Enrollment
}

func (s *stubLedgerRepo) Admit(ctx context.Context, enrollment *models.Enrollment) error {
	if s.full {
		return appErrors.WithDetails(appErrors.ErrCourseFull, map[string]interface{}{
			"max_seats": 20, "filled_seats": 20,
		})
	}
	enrollment.ID = "e1"
	enrollment.Code = "INS-2026-00001"
	s.enrollment = enrollment
	return nil
}

func (s *stubLedgerRepo) Remove(ctx context.Context, id string) (string, error) {
	if s.enrollment == nil || s.enrollment.ID != id {
		return "", sql.ErrNoRows
	}
	courseID := s.enrollment.CourseID
	s.enrollment = nil
	return courseID, nil
}

func (s *stubLedgerRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	if s.enrollment == nil {
		return nil, 0, nil
	}
	return []models.EnrollmentDetail{{Enrollment: *s.enrollment}}, 1, nil
}

func (s *stubLedgerRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if s.enrollment != nil && s.enrollment.ID == id {
		return s.enrollment, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubLedgerRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if s.enrollment != nil && s.enrollment.ID == id {
		return &models.EnrollmentDetail{Enrollment: *s.enrollment, CourseName: "Go Fundamentals"}, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubLedgerRepo) ExistsPair(ctx context.Context, participantID, courseID string) (bool, error) {
	return false, nil
}

func (s *stubLedgerRepo) UpdateMutable(ctx context.Context, id string, params repository.EnrollmentUpdateParams) error {
	if s.enrollment == nil || s.enrollment.ID != id {
		return sql.ErrNoRows
	}
	s.enrollment.PaymentState = params.PaymentState
	s.enrollment.Attended = params.Attended
	return nil
}

type stubParticipants struct{}

func (stubParticipants) FindByID(ctx context.Context, id string) (*models.Participant, error) {
	if id == "p1" {
		return &models.Participant{ID: "p1", FullName: "Ana Lopez"}, nil
	}
	return nil, sql.ErrNoRows
}

type stubCourses struct{}

func (stubCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if id == "c1" {
		return &models.Course{ID: "c1", Name: "Go Fundamentals", Active: true}, nil
	}
	return nil, sql.ErrNoRows
}

// testAuth injects claims from a header so router tests can exercise the
// role gates without real tokens.
func testAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetHeader("X-Test-Role")
		if role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u1", Role: models.UserRole(role), Email: "tester@example.com"})
		c.Next()
	}
}

func buildEnrollmentRouter(repo *stubLedgerRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := service.NewEnrollmentService(repo, stubParticipants{}, stubCourses{}, nil, validator.New(), zap.NewNop(), time.Second, nil)
	h := NewEnrollmentHandler(svc)

	r := gin.New()
	group := r.Group("/enrollments")
	group.Use(testAuth())
	writers := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.POST("", writers, h.Create)
	group.PUT("/:id", writers, h.Update)
	group.DELETE("/:id", writers, h.Delete)
	return r
}

func performRequest(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestEnrollmentRoutesAdmit(t *testing.T) {
	router := buildEnrollmentRouter(&stubLedgerRepo{})

	payload := `{"participant_id":"p1","course_id":"c1","payment_state":"PAID","amount_paid":"150.00"}`
	req, _ := http.NewRequest(http.MethodPost, "/enrollments", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", string(models.RoleAdmin))

	resp := performRequest(router, req)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Contains(t, resp.Body.String(), `"code":"INS-2026-00001"`)
	assert.Contains(t, resp.Body.String(), `"payment_state":"PAID"`)
}

func TestEnrollmentRoutesAdmitCourseFull(t *testing.T) {
	router := buildEnrollmentRouter(&stubLedgerRepo{full: true})

	payload := `{"participant_id":"p1","course_id":"c1"}`
	req, _ := http.NewRequest(http.MethodPost, "/enrollments", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", string(models.RoleAdmin))

	resp := performRequest(router, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), `"code":"COURSE_FULL"`)
	assert.Contains(t, resp.Body.String(), `"filled_seats":20`)
}

func TestEnrollmentRoutesAdmitUnknownParticipant(t *testing.T) {
	router := buildEnrollmentRouter(&stubLedgerRepo{})

	payload := `{"participant_id":"ghost","course_id":"c1"}`
	req, _ := http.NewRequest(http.MethodPost, "/enrollments", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", string(models.RoleAdmin))

	resp := performRequest(router, req)
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), `"code":"PARTICIPANT_NOT_FOUND"`)
}

func TestEnrollmentRoutesRBAC(t *testing.T) {
	router := buildEnrollmentRouter(&stubLedgerRepo{})
	payload := `{"participant_id":"p1","course_id":"c1"}`

	req, _ := http.NewRequest(http.MethodPost, "/enrollments", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	req, _ = http.NewRequest(http.MethodPost, "/enrollments", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", string(models.RoleStaff))
	resp = performRequest(router, req)
	require.Equal(t, http.StatusForbidden, resp.Code)

	// Reads are open to any authenticated role.
	req, _ = http.NewRequest(http.MethodGet, "/enrollments", nil)
	req.Header.Set("X-Test-Role", string(models.RoleStaff))
	resp = performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestEnrollmentRoutesDelete(t *testing.T) {
	repo := &stubLedgerRepo{enrollment: &models.Enrollment{ID: "e1", CourseID: "c1"}}
	router := buildEnrollmentRouter(repo)

	req, _ := http.NewRequest(http.MethodDelete, "/enrollments/e1", nil)
	req.Header.Set("X-Test-Role", string(models.RoleSuperAdmin))
	resp := performRequest(router, req)
	require.Equal(t, http.StatusNoContent, resp.Code)

	req, _ = http.NewRequest(http.MethodDelete, "/enrollments/e1", nil)
	req.Header.Set("X-Test-Role", string(models.RoleSuperAdmin))
	resp = performRequest(router, req)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestEnrollmentRoutesUpdate(t *testing.T) {
	repo := &stubLedgerRepo{enrollment: &models.Enrollment{ID: "e1", Code: "INS-2026-00001", CourseID: "c1", PaymentState: models.PaymentStatePending}}
	router := buildEnrollmentRouter(repo)

	payload := `{"payment_state":"NO_PAGADO","attended":true}`
	req, _ := http.NewRequest(http.MethodPut, "/enrollments/e1", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", string(models.RoleAdmin))

	resp := performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"payment_state":"UNPAID"`)
	assert.Contains(t, resp.Body.String(), `"code":"INS-2026-00001"`)
}
