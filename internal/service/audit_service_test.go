package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cursoshq/cursos-api/internal/models"
)

type collectingAuditRepo struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

func (c *collectingAuditRepo) Create(ctx context.Context, log *models.AuditLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, *log)
	return nil
}

func (c *collectingAuditRepo) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logs)
}

func TestAuditServicePersistsEvents(t *testing.T) {
	repo := &collectingAuditRepo{}
	svc := NewAuditService(repo, zap.NewNop(), 1, 16, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	id := "e1"
	svc.Notify(AuditEvent{
		Actor:      testClaims(),
		Action:     models.AuditActionEnrollmentAdmitted,
		Resource:   "enrollments",
		ResourceID: &id,
		Payload:    map[string]interface{}{"code": "INS-2026-00001"},
	})

	require.Eventually(t, func() bool { return repo.count() == 1 }, time.Second, 10*time.Millisecond)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	entry := repo.logs[0]
	assert.Equal(t, models.AuditActionEnrollmentAdmitted, entry.Action)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "u1", *entry.UserID)
	assert.Contains(t, string(entry.NewValues), "INS-2026-00001")
}

func TestAuditServiceNotifyBeforeStartDropsEvent(t *testing.T) {
	repo := &collectingAuditRepo{}
	svc := NewAuditService(repo, zap.NewNop(), 1, 1, nil)

	// Queue not started; the event is dropped, never blocking the caller.
	done := make(chan struct{})
	go func() {
		svc.Notify(AuditEvent{Action: models.AuditActionLogin, Resource: "auth"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
	assert.Equal(t, 0, repo.count())
}

func TestAuditServicePublishesQueueDepth(t *testing.T) {
	repo := &collectingAuditRepo{}
	metrics := NewMetricsService()
	svc := NewAuditService(repo, zap.NewNop(), 1, 16, metrics)
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Notify(AuditEvent{Action: models.AuditActionLogin, Resource: "auth"})
	require.Eventually(t, func() bool { return repo.count() == 1 }, time.Second, 10*time.Millisecond)

	// Notify published the gauge for the audit queue.
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.queueDepth))

	// Drained queue reports an empty buffer.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.queueDepth.WithLabelValues("audit")) == 0
	}, time.Second, 10*time.Millisecond)
}
