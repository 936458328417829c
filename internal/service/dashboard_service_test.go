package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cursoshq/cursos-api/internal/models"
	appErrors "github.com/cursoshq/cursos-api/pkg/errors"
)

type mockOccupancyReader struct {
	rows  []models.CourseOccupancy
	calls int
}

func (m *mockOccupancyReader) OccupancyReport(ctx context.Context) ([]models.CourseOccupancy, error) {
	m.calls++
	return m.rows, nil
}

type memoryCache struct {
	entries map[string][]byte
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.entries = make(map[string][]byte)
	return nil
}

func TestDashboardServiceOverview(t *testing.T) {
	twenty := 20
	repo := &mockOccupancyReader{rows: []models.CourseOccupancy{
		{CourseID: "c1", CourseName: "Go Fundamentals", MaxSeats: &twenty, FilledSeats: 15, PaidCount: 10, PendingCount: 3, UnpaidCount: 2, Revenue: decimal.RequireFromString("1500.00")},
		{CourseID: "c2", CourseName: "Open Workshop", FilledSeats: 40, Revenue: decimal.RequireFromString("0")},
	}}
	svc := NewDashboardService(repo, &memoryCache{}, zap.NewNop(), time.Minute, nil)

	overview, err := svc.Overview(context.Background())
	require.NoError(t, err)
	require.Len(t, overview.Courses, 2)
	assert.Equal(t, 55, overview.TotalEnrollments)
	assert.True(t, overview.TotalRevenue.Equal(decimal.RequireFromString("1500.00")))

	require.NotNil(t, overview.Courses[0].Utilization)
	assert.InDelta(t, 0.75, *overview.Courses[0].Utilization, 0.001)

	// Unlimited courses report no utilization.
	assert.Nil(t, overview.Courses[1].Utilization)
}

func TestDashboardServiceOverviewUsesCache(t *testing.T) {
	repo := &mockOccupancyReader{}
	cache := &memoryCache{}
	svc := NewDashboardService(repo, cache, zap.NewNop(), time.Minute, nil)

	_, err := svc.Overview(context.Background())
	require.NoError(t, err)
	_, err = svc.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls)

	svc.Invalidate(context.Background())
	_, err = svc.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

func TestDashboardServiceOverviewRecordsCacheMetrics(t *testing.T) {
	repo := &mockOccupancyReader{}
	metrics := NewMetricsService()
	svc := NewDashboardService(repo, &memoryCache{}, zap.NewNop(), time.Minute, metrics)

	_, err := svc.Overview(context.Background())
	require.NoError(t, err)
	_, err = svc.Overview(context.Background())
	require.NoError(t, err)

	snap := metrics.Snapshot()
	assert.EqualValues(t, 1, snap.CacheMisses)
	assert.EqualValues(t, 1, snap.CacheHits)
	assert.InDelta(t, 0.5, snap.CacheHitRatio, 0.001)
	assert.EqualValues(t, 1, snap.DBQueryCount)
}
