package service

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cursoshq/cursos-api/internal/models"
)

// metricsRecorder is the slice of MetricsService the other services consume.
// Every consumer treats a nil recorder as a no-op.
type metricsRecorder interface {
	RecordCacheOperation(operation string, hit bool)
	ObserveDBQuery(duration time.Duration)
	RecordEnrollmentDecision(outcome string)
	SetCourseOccupancy(courseID string, filledSeats int)
	SetQueueDepth(queue string, depth int)
}

// MetricsService exposes prometheus collectors for the HTTP, cache and
// database layers and keeps cheap atomic counters for the snapshot endpoint.
type MetricsService struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	cacheOps      *prometheus.CounterVec
	dbQueryTotal  prometheus.Counter
	dbDuration    prometheus.Histogram
	queueDepth    *prometheus.GaugeVec
	enrollTotal   *prometheus.CounterVec
	enrollSeats   *prometheus.GaugeVec

	requestCount    uint64
	requestDuration uint64 // microseconds
	cacheHits       uint64
	cacheMisses     uint64
	dbCount         uint64
	dbQueryDuration uint64 // microseconds
}

// NewMetricsService constructs MetricsService with its own registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())

	s := &MetricsService{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cursos",
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cursos",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cursos",
			Name:      "cache_operations_total",
			Help:      "Cache operations by result.",
		}, []string{"operation", "result"}),
		dbQueryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cursos",
			Name:      "db_queries_total",
			Help:      "Count of database queries.",
		}),
		dbDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cursos",
			Name:      "db_query_duration_seconds",
			Help:      "Database query latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cursos",
			Name:      "queue_depth",
			Help:      "Pending jobs per background queue.",
		}, []string{"queue"}),
		enrollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cursos",
			Name:      "enrollment_decisions_total",
			Help:      "Enrollment admissions and rejections by outcome.",
		}, []string{"outcome"}),
		enrollSeats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cursos",
			Name:      "course_filled_seats",
			Help:      "Current filled seats per course.",
		}, []string{"course_id"}),
	}

	registry.MustRegister(s.httpRequests, s.httpDuration, s.cacheOps, s.dbQueryTotal, s.dbDuration, s.queueDepth, s.enrollTotal, s.enrollSeats)
	return s
}

// Registry returns the underlying prometheus registry for the /metrics handler.
func (s *MetricsService) Registry() *prometheus.Registry {
	return s.registry
}

// ObserveHTTPRequest records one finished HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	s.httpRequests.WithLabelValues(method, path, status).Inc()
	s.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	atomic.AddUint64(&s.requestCount, 1)
	atomic.AddUint64(&s.requestDuration, uint64(duration.Microseconds()))
}

// RecordCacheOperation records a cache hit or miss.
func (s *MetricsService) RecordCacheOperation(operation string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
		atomic.AddUint64(&s.cacheHits, 1)
	} else {
		atomic.AddUint64(&s.cacheMisses, 1)
	}
	s.cacheOps.WithLabelValues(operation, result).Inc()
}

// ObserveDBQuery records a database query duration.
func (s *MetricsService) ObserveDBQuery(duration time.Duration) {
	s.dbQueryTotal.Inc()
	s.dbDuration.Observe(duration.Seconds())
	atomic.AddUint64(&s.dbCount, 1)
	atomic.AddUint64(&s.dbQueryDuration, uint64(duration.Microseconds()))
}

// RecordEnrollmentDecision records an admission outcome label.
func (s *MetricsService) RecordEnrollmentDecision(outcome string) {
	s.enrollTotal.WithLabelValues(outcome).Inc()
}

// SetCourseOccupancy publishes the current seat count of a course.
func (s *MetricsService) SetCourseOccupancy(courseID string, filledSeats int) {
	s.enrollSeats.WithLabelValues(courseID).Set(float64(filledSeats))
}

// SetQueueDepth publishes the pending depth of a background queue.
func (s *MetricsService) SetQueueDepth(queue string, depth int) {
	s.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// Snapshot returns the aggregate counters for the JSON metrics endpoint.
func (s *MetricsService) Snapshot() models.SystemMetrics {
	hits := atomic.LoadUint64(&s.cacheHits)
	misses := atomic.LoadUint64(&s.cacheMisses)
	requests := atomic.LoadUint64(&s.requestCount)
	reqMicros := atomic.LoadUint64(&s.requestDuration)
	dbQueries := atomic.LoadUint64(&s.dbCount)
	dbMicros := atomic.LoadUint64(&s.dbQueryDuration)

	snapshot := models.SystemMetrics{
		CacheHits:     hits,
		CacheMisses:   misses,
		RequestsTotal: requests,
		DBQueryCount:  dbQueries,
		Goroutines:    runtime.NumGoroutine(),
		GeneratedAt:   time.Now().UTC(),
	}
	if hits+misses > 0 {
		snapshot.CacheHitRatio = float64(hits) / float64(hits+misses)
	}
	if requests > 0 {
		snapshot.AverageRequestDurationMs = float64(reqMicros) / float64(requests) / 1000
	}
	if dbQueries > 0 {
		snapshot.AverageDBQueryDurationMs = float64(dbMicros) / float64(dbQueries) / 1000
	}
	return snapshot
}
