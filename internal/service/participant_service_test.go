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

type mockParticipantRepo struct {
	participants map[string]models.Participant
}

func (m *mockParticipantRepo) List(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, int, error) {
	var list []models.Participant
	for _, p := range m.participants {
		list = append(list, p)
	}
	return list, len(list), nil
}

func (m *mockParticipantRepo) FindByID(ctx context.Context, id string) (*models.Participant, error) {
	if p, ok := m.participants[id]; ok {
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockParticipantRepo) FindByDocument(ctx context.Context, documentType, documentNumber string) (*models.Participant, error) {
	for _, p := range m.participants {
		if p.DocumentType == documentType && p.DocumentNumber == documentNumber {
			return &p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockParticipantRepo) Create(ctx context.Context, participant *models.Participant) error {
	if m.participants == nil {
		m.participants = make(map[string]models.Participant)
	}
	if participant.ID == "" {
		participant.ID = "new-participant"
	}
	m.participants[participant.ID] = *participant
	return nil
}

func (m *mockParticipantRepo) Update(ctx context.Context, participant *models.Participant) error {
	m.participants[participant.ID] = *participant
	return nil
}

func (m *mockParticipantRepo) Delete(ctx context.Context, id string) error {
	delete(m.participants, id)
	return nil
}

type mockEnrollmentCounter struct {
	counts map[string]int
}

func (m *mockEnrollmentCounter) CountByParticipant(ctx context.Context, participantID string) (int, error) {
	return m.counts[participantID], nil
}

func newParticipantFixture() (*ParticipantService, *mockParticipantRepo, *mockEnrollmentCounter) {
	repo := &mockParticipantRepo{participants: map[string]models.Participant{}}
	counter := &mockEnrollmentCounter{counts: map[string]int{}}
	svc := NewParticipantService(repo, counter, &recordingAudit{}, validator.New(), zap.NewNop())
	return svc, repo, counter
}

func TestParticipantServiceCreate(t *testing.T) {
	svc, repo, _ := newParticipantFixture()

	participant, err := svc.Create(context.Background(), CreateParticipantRequest{
		DocumentType:   "DNI",
		DocumentNumber: "45879652",
		FullName:       "Ana Lopez",
		Email:          "ana@example.com",
	}, testClaims())
	require.NoError(t, err)
	assert.NotEmpty(t, participant.ID)
	assert.Len(t, repo.participants, 1)
}

func TestParticipantServiceCreateDuplicateDocument(t *testing.T) {
	svc, repo, _ := newParticipantFixture()
	repo.participants["p1"] = models.Participant{ID: "p1", DocumentType: "DNI", DocumentNumber: "45879652", FullName: "Ana Lopez"}

	_, err := svc.Create(context.Background(), CreateParticipantRequest{
		DocumentType:   "DNI",
		DocumentNumber: "45879652",
		FullName:       "Ana Lopez Duplicada",
	}, testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestParticipantServiceCreateValidation(t *testing.T) {
	svc, _, _ := newParticipantFixture()

	_, err := svc.Create(context.Background(), CreateParticipantRequest{
		DocumentType:   "LICENSE",
		DocumentNumber: "123456",
		FullName:       "Ana Lopez",
	}, testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestParticipantServiceDelete(t *testing.T) {
	svc, repo, counter := newParticipantFixture()
	repo.participants["p1"] = models.Participant{ID: "p1", FullName: "Free"}
	repo.participants["p2"] = models.Participant{ID: "p2", FullName: "Enrolled"}
	counter.counts["p2"] = 2

	require.NoError(t, svc.Delete(context.Background(), "p1", testClaims()))

	err := svc.Delete(context.Background(), "p2", testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	err = svc.Delete(context.Background(), "ghost", testClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrParticipantNotFound))
}

func TestParticipantServiceUpdate(t *testing.T) {
	svc, repo, _ := newParticipantFixture()
	repo.participants["p1"] = models.Participant{ID: "p1", DocumentType: "DNI", DocumentNumber: "45879652", FullName: "Ana Lopez"}

	participant, err := svc.Update(context.Background(), "p1", UpdateParticipantRequest{
		FullName: "Ana Lopez Garcia",
		Phone:    "999888777",
	}, testClaims())
	require.NoError(t, err)
	assert.Equal(t, "Ana Lopez Garcia", participant.FullName)

	// Document pair stays immutable through updates.
	assert.Equal(t, "45879652", participant.DocumentNumber)
}
