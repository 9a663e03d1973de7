// File: internal/impact/impact.go

// Package impact builds the read models over minted orders: the public leaderboard and a
// user's recycling progress.
package impact

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/internal/storage"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// Leaderboard page bounds
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Savings per recycled kilogram
const (
	co2KgPerKg      = 2.3
	energyKwhPerKg  = 1.8
	waterLitrePerKg = 15
)

const recentOrders = 5

// Store is the subset of the ledger store the read models query
type Store interface {
	GetLeaderboard(ctx context.Context, limit, offset int) ([]*storage.LeaderboardEntry, error)
	GetImpactTotals(ctx context.Context) (*storage.ImpactTotals, error)
	ListCompletedOrders(ctx context.Context, userID string) ([]*models.Order, error)
	CountUsersAhead(ctx context.Context, credits float64) (int64, error)
}

// Service computes read models on demand
type Service struct {
	store  Store
	logger *logrus.Logger
}

// NewService creates a read model service over store
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: utils.GetLogger(),
	}
}

// RankedEntry is a leaderboard row with its position and a shortened address
type RankedEntry struct {
	Rank int `json:"rank"`
	*storage.LeaderboardEntry
	DisplayAddress string `json:"displayAddress"`
}

// Pagination describes the returned leaderboard page
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// Leaderboard is one page of ranked users plus the global totals
type Leaderboard struct {
	Entries     []*RankedEntry        `json:"leaderboard"`
	Pagination  Pagination            `json:"pagination"`
	GlobalStats *storage.ImpactTotals `json:"globalStats"`
}

// Leaderboard returns users ranked by minted credits. A zero limit selects DefaultLimit.
func (s *Service) Leaderboard(ctx context.Context, limit, offset int) (*Leaderboard, error) {
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 0 || limit > MaxLimit {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid limit",
			fmt.Sprintf("limit must be between 1 and %d", MaxLimit))
	}
	if offset < 0 {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid offset", "offset must not be negative")
	}

	rows, err := s.store.GetLeaderboard(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	totals, err := s.store.GetImpactTotals(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]*RankedEntry, 0, len(rows))
	for i, row := range rows {
		entries = append(entries, &RankedEntry{
			Rank:             offset + i + 1,
			LeaderboardEntry: row,
			DisplayAddress:   DisplayAddress(row.UserAddress),
		})
	}

	return &Leaderboard{
		Entries:     entries,
		Pagination:  Pagination{Limit: limit, Offset: offset, HasMore: len(rows) == limit},
		GlobalStats: totals,
	}, nil
}

// EnvironmentalImpact estimates the savings of the recycled weight
type EnvironmentalImpact struct {
	CO2SavedKg       float64 `json:"co2SavedKg"`
	EnergySavedKwh   float64 `json:"energySavedKwh"`
	WaterSavedLiters float64 `json:"waterSavedLiters"`
}

// Stats are a user's totals over their COMPLETED orders
type Stats struct {
	TotalOrders         int                          `json:"totalOrders"`
	TotalWeight         float64                      `json:"totalWeight"`
	TotalCredits        float64                      `json:"totalCredits"`
	WasteTypeBreakdown  map[models.WasteType]float64 `json:"wasteTypeBreakdown"`
	EnvironmentalImpact EnvironmentalImpact          `json:"environmentalImpact"`
	Rank                int64                        `json:"rank"`
}

// Progress is a user's recycling impact and achievements
type Progress struct {
	UserID       string          `json:"userId"`
	Stats        Stats           `json:"stats"`
	Achievements []string        `json:"achievements"`
	RecentOrders []*models.Order `json:"recentOrders"`
}

// Progress computes the impact of a user's COMPLETED orders
func (s *Service) Progress(ctx context.Context, userID string) (*Progress, error) {
	if userID == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "User is required")
	}

	orders, err := s.store.ListCompletedOrders(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := Stats{
		TotalOrders:        len(orders),
		WasteTypeBreakdown: map[models.WasteType]float64{},
	}
	for _, order := range orders {
		weight := recordedWeight(order)
		stats.TotalWeight += weight
		if order.CreditsMinted != nil {
			stats.TotalCredits += *order.CreditsMinted
		}
		stats.WasteTypeBreakdown[order.WasteType] += weight
	}
	stats.EnvironmentalImpact = EnvironmentalImpact{
		CO2SavedKg:       round2(stats.TotalWeight * co2KgPerKg),
		EnergySavedKwh:   round2(stats.TotalWeight * energyKwhPerKg),
		WaterSavedLiters: round2(stats.TotalWeight * waterLitrePerKg),
	}

	ahead, err := s.store.CountUsersAhead(ctx, stats.TotalCredits)
	if err != nil {
		return nil, err
	}
	stats.Rank = ahead + 1

	recent := orders
	if len(recent) > recentOrders {
		recent = recent[:recentOrders]
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"orders":  stats.TotalOrders,
		"rank":    stats.Rank,
	}).Debug("Progress computed")

	return &Progress{
		UserID:       userID,
		Stats:        stats,
		Achievements: achievements(stats),
		RecentOrders: recent,
	}, nil
}

func achievements(stats Stats) []string {
	earned := []string{}
	if stats.TotalOrders >= 1 {
		earned = append(earned, "First Waste Recycled!")
	}
	if stats.TotalOrders >= 5 {
		earned = append(earned, "Eco Warrior!")
	}
	if stats.TotalOrders >= 10 {
		earned = append(earned, "Green Champion!")
	}
	if stats.TotalWeight >= 10 {
		earned = append(earned, "10kg+ Recycled!")
	}
	if stats.TotalWeight >= 50 {
		earned = append(earned, "Sustainability Hero!")
	}
	if len(stats.WasteTypeBreakdown) >= 3 {
		earned = append(earned, "Waste Variety Expert!")
	}
	return earned
}

// DisplayAddress shortens an address to its first 6 and last 4 characters
func DisplayAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

// recordedWeight is the measured weight, falling back to the estimate
func recordedWeight(o *models.Order) float64 {
	if o.ActualWeight != nil {
		return *o.ActualWeight
	}
	if o.EstimatedWeight != nil {
		return *o.EstimatedWeight
	}
	return 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
