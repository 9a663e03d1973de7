// File: internal/storage/storagetest/storagetest.go

// Package storagetest provides a migrated SQLite ledger and seed helpers for tests.
package storagetest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ecochain/eco-relayer/internal/config"
	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/internal/storage"
)

// UserAddress is the beneficiary address used by seeded users
const UserAddress = "0x1111111111111111111111111111111111111111"

// FacilityAddress is the address used by seeded facilities
const FacilityAddress = "0x2222222222222222222222222222222222222222"

// New returns a connected, migrated SQLite store in a temp directory
func New(t testing.TB) storage.Storage {
	t.Helper()

	store, err := storage.NewStorage(&config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "relayer.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	return store
}

// OrderOption customizes a seeded order
type OrderOption func(*models.Order)

// WithStatus sets the seeded order's status
func WithStatus(status models.Status) OrderOption {
	return func(o *models.Order) { o.Status = status }
}

// WithWeights sets the estimated and actual weight
func WithWeights(estimated, actual *float64) OrderOption {
	return func(o *models.Order) {
		o.EstimatedWeight = estimated
		o.ActualWeight = actual
	}
}

// WithEvidence sets the evidence CID
func WithEvidence(cid string) OrderOption {
	return func(o *models.Order) { o.EvidenceCID = &cid }
}

// Float returns a pointer to v
func Float(v float64) *float64 { return &v }

// WithUser attributes the seeded order to an existing user instead of a fresh one
func WithUser(userID string) OrderOption {
	return func(o *models.Order) { o.UserID = userID }
}

// WithWasteType sets the seeded order's category
func WithWasteType(wt models.WasteType) OrderOption {
	return func(o *models.Order) { o.WasteType = wt }
}

// WithCompletion seeds a COMPLETED order carrying credits and a transaction hash
func WithCompletion(credits float64, txHash string) OrderOption {
	return func(o *models.Order) {
		o.Status = models.StatusCompleted
		o.CreditsMinted = &credits
		o.TxHash = &txHash
	}
}

// SeedUser creates a user with the seeded beneficiary address
func SeedUser(t testing.TB, store storage.Storage, id string) *models.User {
	t.Helper()
	user := &models.User{ID: id, Address: UserAddress}
	require.NoError(t, store.SaveUser(context.Background(), user))
	return user
}

// SeedOrder creates a user, a facility and an order. The order's OTP is "123456" (hint "3456").
// A user is only created when no WithUser option is given.
func SeedOrder(t testing.TB, store storage.Storage, opts ...OrderOption) *models.Order {
	t.Helper()
	ctx := context.Background()

	suffix := uuid.NewString()[:8]
	facility := &models.Facility{
		ID:         "facility-" + suffix,
		Name:       fmt.Sprintf("Facility %s", suffix),
		Address:    "1 Depot Road",
		EthAddress: FacilityAddress,
	}
	require.NoError(t, store.SaveFacility(ctx, facility))

	order := &models.Order{
		ID:              "order-" + suffix,
		FacilityID:      facility.ID,
		WasteType:       models.WastePlastic,
		PickupType:      models.PickupTypeDropOff,
		Status:          models.StatusPickedUp,
		OTPHint:         "3456",
		EstimatedWeight: Float(2.5),
	}
	for _, opt := range opts {
		opt(order)
	}
	if order.UserID == "" {
		order.UserID = SeedUser(t, store, "user-"+suffix).ID
	}
	require.NoError(t, store.CreateOrder(ctx, order))

	return order
}
