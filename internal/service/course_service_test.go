package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cursoshq/cursos-api/internal/models"
	appErrors "github.com/cursoshq/cursos-api/pkg/errors"
)

type mockCourseRepo struct {
	courses map[string]models.Course
	deleted []string
}

func (m *mockCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var list []models.Course
	for _, c := range m.courses {
		list = append(list, c)
	}
	return list, len(list), nil
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if m.courses == nil {
		m.courses = make(map[string]models.Course)
	}
	if course.ID == "" {
		course.ID = "new-course"
	}
	course.FilledSeats = 0
	m.courses[course.ID] = *course
	return nil
}

func (m *mockCourseRepo) Update(ctx context.Context, course *models.Course) error {
	m.courses[course.ID] = *course
	return nil
}

func (m *mockCourseRepo) Delete(ctx context.Context, id string) error {
	delete(m.courses, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func newCourseFixture() (*CourseService, *mockCourseRepo, *recordingAudit) {
	repo := &mockCourseRepo{courses: map[string]models.Course{}}
	audit := &recordingAudit{}
	return NewCourseService(repo, audit, validator.New(), zap.NewNop()), repo, audit
}

func TestCourseServiceCreate(t *testing.T) {
	svc, repo, audit := newCourseFixture()

	seats := 25
	course, err := svc.Create(context.Background(), CreateCourseRequest{Name: "Go Fundamentals", MaxSeats: &seats}, testClaims())
	require.NoError(t, err)
	assert.Equal(t, 0, course.FilledSeats)
	assert.True(t, course.Active)
	assert.Len(t, repo.courses, 1)
	assert.Contains(t, audit.actions(), models.AuditActionCourseCreate)
}

func TestCourseServiceCreateUnlimitedSeats(t *testing.T) {
	svc, _, _ := newCourseFixture()

	course, err := svc.Create(context.Background(), CreateCourseRequest{Name: "Open Workshop"}, testClaims())
	require.NoError(t, err)
	assert.Nil(t, course.MaxSeats)
}

func TestCourseServiceCreateValidation(t *testing.T) {
	svc, _, _ := newCourseFixture()

	_, err := svc.Create(context.Background(), CreateCourseRequest{Name: "ab"}, testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	zero := 0
	_, err = svc.Create(context.Background(), CreateCourseRequest{Name: "Valid Name", MaxSeats: &zero}, testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestCourseServiceUpdateRejectsShrinkBelowOccupancy(t *testing.T) {
	svc, repo, _ := newCourseFixture()
	ten := 10
	repo.courses["c1"] = models.Course{ID: "c1", Name: "Go Fundamentals", MaxSeats: &ten, FilledSeats: 8, Active: true}

	five := 5
	_, err := svc.Update(context.Background(), "c1", UpdateCourseRequest{Name: "Go Fundamentals", MaxSeats: &five}, testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	eight := 8
	course, err := svc.Update(context.Background(), "c1", UpdateCourseRequest{Name: "Go Fundamentals", MaxSeats: &eight}, testClaims())
	require.NoError(t, err)
	assert.Equal(t, 8, *course.MaxSeats)
}

func TestCourseServiceUpdateClearsLimit(t *testing.T) {
	svc, repo, _ := newCourseFixture()
	ten := 10
	repo.courses["c1"] = models.Course{ID: "c1", Name: "Go Fundamentals", MaxSeats: &ten, FilledSeats: 10, Active: true}

	course, err := svc.Update(context.Background(), "c1", UpdateCourseRequest{Name: "Go Fundamentals"}, testClaims())
	require.NoError(t, err)
	assert.Nil(t, course.MaxSeats)
}

func TestCourseServiceDelete(t *testing.T) {
	svc, repo, audit := newCourseFixture()
	repo.courses["c1"] = models.Course{ID: "c1", Name: "Empty Course"}
	repo.courses["c2"] = models.Course{ID: "c2", Name: "Busy Course", FilledSeats: 3}

	require.NoError(t, svc.Delete(context.Background(), "c1", testClaims()))
	assert.Contains(t, audit.actions(), models.AuditActionCourseDelete)

	err := svc.Delete(context.Background(), "c2", testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	err = svc.Delete(context.Background(), "ghost", testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrCourseNotFound))
}
