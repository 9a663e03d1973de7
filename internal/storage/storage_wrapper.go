// File: internal/storage/storage_wrapper.go
package storage

import (
	"context"
	"time"

	"github.com/ecochain/eco-relayer/internal/metrics"
	"github.com/ecochain/eco-relayer/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics for the hot-path operations
type StorageWithMetrics struct {
	Storage
	metrics *metrics.PrometheusMetrics
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage: storage,
		metrics: metricsManager.GetPrometheusMetrics(),
	}
}

func (s *StorageWithMetrics) record(operation, table string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordDatabaseOperation(operation, table, status, time.Since(start))
}

// GetOrder retrieves an order and records metrics
func (s *StorageWithMetrics) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	start := time.Now()
	order, err := s.Storage.GetOrder(ctx, id)
	s.record("select", "orders", start, err)
	return order, err
}

// GetOrderDetails retrieves an order with related records and records metrics
func (s *StorageWithMetrics) GetOrderDetails(ctx context.Context, id string) (*models.OrderDetails, error) {
	start := time.Now()
	details, err := s.Storage.GetOrderDetails(ctx, id)
	s.record("select", "orders", start, err)
	return details, err
}

// UpdateOrder updates an order and records metrics
func (s *StorageWithMetrics) UpdateOrder(ctx context.Context, order *models.Order, expected models.Status) error {
	start := time.Now()
	err := s.Storage.UpdateOrder(ctx, order, expected)
	s.record("update", "orders", start, err)
	return err
}

// ListOrdersByStatus lists orders and records metrics
func (s *StorageWithMetrics) ListOrdersByStatus(ctx context.Context, status models.Status, updatedBefore time.Time, limit int) ([]*models.Order, error) {
	start := time.Now()
	orders, err := s.Storage.ListOrdersByStatus(ctx, status, updatedBefore, limit)
	s.record("select", "orders", start, err)
	return orders, err
}

// AppendTimelineEvent appends an audit entry and records metrics
func (s *StorageWithMetrics) AppendTimelineEvent(ctx context.Context, event *models.TimelineEvent) error {
	start := time.Now()
	err := s.Storage.AppendTimelineEvent(ctx, event)
	s.record("insert", "timeline_events", start, err)
	return err
}

// GetTimeline reads an order's timeline and records metrics
func (s *StorageWithMetrics) GetTimeline(ctx context.Context, orderID string) ([]*models.TimelineEvent, error) {
	start := time.Now()
	events, err := s.Storage.GetTimeline(ctx, orderID)
	s.record("select", "timeline_events", start, err)
	return events, err
}

// DeleteOrphanClassifications deletes stale classifications and records metrics
func (s *StorageWithMetrics) DeleteOrphanClassifications(ctx context.Context, olderThan time.Time) (int64, error) {
	start := time.Now()
	n, err := s.Storage.DeleteOrphanClassifications(ctx, olderThan)
	s.record("delete", "classifications", start, err)
	return n, err
}
