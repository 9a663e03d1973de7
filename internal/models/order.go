// File: internal/models/order.go
package models

import (
	"time"
)

// Status is the lifecycle state of a disposal order
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusScheduled Status = "SCHEDULED"
	StatusPickedUp  Status = "PICKED_UP"
	StatusVerified  Status = "VERIFIED"
	StatusMinting   Status = "MINTING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// PickupType describes how the waste reaches the facility
type PickupType string

const (
	PickupTypePickup  PickupType = "PICKUP"
	PickupTypeDropOff PickupType = "DROP_OFF"
)

// statusRank orders the forward sequence. CANCELLED sits outside it.
var statusRank = map[Status]int{
	StatusCreated:   0,
	StatusScheduled: 1,
	StatusPickedUp:  2,
	StatusVerified:  3,
	StatusMinting:   4,
	StatusCompleted: 5,
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no transition may leave s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// BeforeVerified reports whether s precedes VERIFIED in the forward sequence
func (s Status) BeforeVerified() bool {
	rank, ok := statusRank[s]
	return ok && rank < statusRank[StatusVerified]
}

// CanTransition reports whether an order may move from one status to another.
//
// Collaborator-driven states (CREATED through VERIFIED) may jump forward, so SCHEDULED and
// PICKED_UP are optional. The pipeline-owned segment is strict: VERIFIED -> MINTING -> COMPLETED.
// CANCELLED is reachable from VERIFIED or MINTING only and is never left.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}

	if to == StatusCancelled {
		return from == StatusVerified || from == StatusMinting
	}

	fromRank, toRank := statusRank[from], statusRank[to]
	if toRank <= fromRank {
		return false
	}
	if toRank <= statusRank[StatusVerified] {
		return true
	}
	// past VERIFIED only single steps are allowed
	return toRank == fromRank+1
}

// Order is one disposal claim
type Order struct {
	ID               string     `json:"id" db:"id"`
	UserID           string     `json:"userId" db:"user_id"`
	FacilityID       string     `json:"facilityId" db:"facility_id"`
	ClassificationID string     `json:"classificationId" db:"classification_id"`
	WasteType        WasteType  `json:"wasteType" db:"waste_type"`
	PickupType       PickupType `json:"pickupType" db:"pickup_type"`
	Status           Status     `json:"status" db:"status"`
	OTPHint          string     `json:"otpHint" db:"otp_hint"`
	EvidenceCID      *string    `json:"evidenceCID,omitempty" db:"evidence_cid"`
	EstimatedWeight  *float64   `json:"estimatedWeight,omitempty" db:"estimated_weight"`
	ActualWeight     *float64   `json:"actualWeight,omitempty" db:"actual_weight"`
	CreditsMinted    *float64   `json:"creditsMinted,omitempty" db:"credits_minted"`
	TxHash           *string    `json:"txHash,omitempty" db:"tx_hash"`
	ScheduledAt      *time.Time `json:"scheduledAt,omitempty" db:"scheduled_at"`
	CreatedAt        time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsCompletionConsistent checks that credits and tx hash are set iff the order is COMPLETED
func (o *Order) IsCompletionConsistent() bool {
	set := o.CreditsMinted != nil && o.TxHash != nil
	unset := o.CreditsMinted == nil && o.TxHash == nil
	if o.Status == StatusCompleted {
		return set
	}
	return unset
}

// MintWeight returns the weight credited for this order: measured weight, then the estimate,
// then one kilogram.
func (o *Order) MintWeight() float64 {
	if o.ActualWeight != nil && *o.ActualWeight > 0 {
		return *o.ActualWeight
	}
	if o.EstimatedWeight != nil && *o.EstimatedWeight > 0 {
		return *o.EstimatedWeight
	}
	return 1
}

// OrderDetails bundles an order with its related records
type OrderDetails struct {
	Order          *Order          `json:"order"`
	User           *User           `json:"user"`
	Facility       *Facility       `json:"facility"`
	Classification *Classification `json:"classification,omitempty"`
}
