// File: internal/models/timeline.go
package models

import "time"

// TimelineEventType tags an audit entry
type TimelineEventType string

const (
	TimelineVerified  TimelineEventType = "VERIFIED"
	TimelineMinting   TimelineEventType = "MINTING"
	TimelineMinted    TimelineEventType = "MINTED"
	TimelineCompleted TimelineEventType = "COMPLETED"
	TimelineCancelled TimelineEventType = "CANCELLED"
	TimelineRetry     TimelineEventType = "RETRY"
	TimelineDuplicate TimelineEventType = "DUPLICATE"
)

// TimelineEvent is an append-only audit entry owned by an order
type TimelineEvent struct {
	ID        string                 `json:"id" db:"id"`
	OrderID   string                 `json:"orderId" db:"order_id"`
	Type      TimelineEventType      `json:"type" db:"type"`
	Title     string                 `json:"title" db:"title"`
	Message   string                 `json:"message" db:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"createdAt" db:"created_at"`
}
