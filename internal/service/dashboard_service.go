package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cursoshq/cursos-api/internal/models"
	appErrors "github.com/cursoshq/cursos-api/pkg/errors"
)

const dashboardCacheKey = "dashboard:overview"

type occupancyReader interface {
	OccupancyReport(ctx context.Context) ([]models.CourseOccupancy, error)
}

type cacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// DashboardService renders the occupancy overview from the store and keeps a
// short-lived cached copy. Cache problems degrade to a direct read.
type DashboardService struct {
	repo    occupancyReader
	cache   cacheStore
	logger  *zap.Logger
	ttl     time.Duration
	metrics metricsRecorder
}

// NewDashboardService constructs DashboardService. cache and metrics may be nil.
func NewDashboardService(repo occupancyReader, cache cacheStore, logger *zap.Logger, ttl time.Duration, metrics metricsRecorder) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DashboardService{repo: repo, cache: cache, logger: logger, ttl: ttl, metrics: metrics}
}

// Overview returns occupancy and revenue per course plus catalog totals.
func (s *DashboardService) Overview(ctx context.Context) (*models.DashboardOverview, error) {
	if s.cache != nil {
		var cached models.DashboardOverview
		err := s.cache.Get(ctx, dashboardCacheKey, &cached)
		if err == nil {
			s.recordCacheOperation(true)
			return &cached, nil
		}
		s.recordCacheOperation(false)
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("dashboard cache read failed", zap.Error(err))
		}
	}

	queryStart := time.Now()
	rows, err := s.repo.OccupancyReport(ctx)
	if s.metrics != nil {
		s.metrics.ObserveDBQuery(time.Since(queryStart))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}

	overview := &models.DashboardOverview{
		Courses:      rows,
		TotalRevenue: decimal.Zero,
		GeneratedAt:  time.Now().UTC(),
	}
	for i := range rows {
		if rows[i].MaxSeats != nil && *rows[i].MaxSeats > 0 {
			u := float64(rows[i].FilledSeats) / float64(*rows[i].MaxSeats)
			overview.Courses[i].Utilization = &u
		}
		overview.TotalEnrollments += rows[i].FilledSeats
		overview.TotalRevenue = overview.TotalRevenue.Add(rows[i].Revenue)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, dashboardCacheKey, overview, s.ttl); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.Error(err))
		}
	}
	return overview, nil
}

func (s *DashboardService) recordCacheOperation(hit bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCacheOperation("dashboard_overview", hit)
}

// Invalidate drops the cached overview. Called after ledger writes.
func (s *DashboardService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, dashboardCacheKey); err != nil {
		s.logger.Warn("dashboard cache invalidation failed", zap.Error(err))
	}
}
