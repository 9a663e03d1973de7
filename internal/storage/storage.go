// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/ecochain/eco-relayer/internal/models"
)

// Storage is the relational Order Ledger store
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Order operations
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderDetails(ctx context.Context, id string) (*models.OrderDetails, error)
	// UpdateOrder writes order only if the stored status still equals expected
	UpdateOrder(ctx context.Context, order *models.Order, expected models.Status) error
	ListOrdersByStatus(ctx context.Context, status models.Status, updatedBefore time.Time, limit int) ([]*models.Order, error)

	// Related records
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	SaveFacility(ctx context.Context, facility *models.Facility) error
	GetFacility(ctx context.Context, id string) (*models.Facility, error)
	SaveClassification(ctx context.Context, classification *models.Classification) error
	GetClassification(ctx context.Context, id string) (*models.Classification, error)
	DeleteOrphanClassifications(ctx context.Context, olderThan time.Time) (int64, error)

	// Timeline operations
	AppendTimelineEvent(ctx context.Context, event *models.TimelineEvent) error
	GetTimeline(ctx context.Context, orderID string) ([]*models.TimelineEvent, error)

	// Read models over COMPLETED orders
	GetLeaderboard(ctx context.Context, limit, offset int) ([]*LeaderboardEntry, error)
	GetImpactTotals(ctx context.Context) (*ImpactTotals, error)
	ListCompletedOrders(ctx context.Context, userID string) ([]*models.Order, error)
	CountUsersAhead(ctx context.Context, credits float64) (int64, error)

	// Statistics and monitoring
	GetStorageStats(ctx context.Context) (*StorageStats, error)
	IsHealthy() bool
}

// StorageStats provides storage statistics
type StorageStats struct {
	OrdersByStatus map[models.Status]int64 `json:"orders_by_status"`
	TimelineEvents int64                   `json:"timeline_events"`
	CreditsMinted  float64                 `json:"credits_minted"`
}

// LeaderboardEntry is one user's totals over their COMPLETED orders
type LeaderboardEntry struct {
	UserID       string  `json:"userId"`
	UserAddress  string  `json:"userAddress"`
	TotalCredits float64 `json:"totalCredits"`
	TotalWeight  float64 `json:"totalWeight"`
	OrderCount   int64   `json:"orderCount"`
}

// ImpactTotals are the totals over every COMPLETED order
type ImpactTotals struct {
	TotalUsers   int64   `json:"totalUsers"`
	TotalCredits float64 `json:"totalCredits"`
	TotalWeight  float64 `json:"totalWeight"`
	TotalOrders  int64   `json:"totalOrders"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
