// File: internal/storage/sql_store.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL ledgers. Queries are
// written with '?' placeholders and passed through rebind for the active driver.
type sqlStore struct {
	db     *sql.DB
	rebind func(string) string
	logger *logrus.Logger
}

const orderColumns = `id, user_id, facility_id, classification_id, waste_type, pickup_type, status,
	otp_hint, evidence_cid, estimated_weight, actual_weight, credits_minted, tx_hash,
	scheduled_at, created_at, updated_at`

// rebindDollar rewrites '?' placeholders to PostgreSQL's $1..$n
func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func rebindNone(query string) string { return query }

func (s *sqlStore) ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

func (s *sqlStore) migrate(migrations []*Migration) error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	for _, migration := range migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}
	return nil
}

// CreateOrder inserts a new order
func (s *sqlStore) CreateOrder(ctx context.Context, order *models.Order) error {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	query := s.rebind(`INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		order.ID, order.UserID, order.FacilityID, order.ClassificationID,
		string(order.WasteType), string(order.PickupType), string(order.Status), order.OTPHint,
		order.EvidenceCID, order.EstimatedWeight, order.ActualWeight, order.CreditsMinted, order.TxHash,
		order.ScheduledAt, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create order", err.Error())
	}
	return nil
}

// GetOrder retrieves a single order by ID
func (s *sqlStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Order not found", id)
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get order", err.Error())
	}
	return order, nil
}

// GetOrderDetails retrieves an order together with its user, facility and classification
func (s *sqlStore) GetOrderDetails(ctx context.Context, id string) (*models.OrderDetails, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &models.OrderDetails{Order: order}

	if details.User, err = s.GetUser(ctx, order.UserID); err != nil {
		return nil, err
	}
	if details.Facility, err = s.GetFacility(ctx, order.FacilityID); err != nil {
		return nil, err
	}
	if order.ClassificationID != "" {
		classification, err := s.GetClassification(ctx, order.ClassificationID)
		if err != nil && !errors.Is(err, utils.ErrNotFound) {
			return nil, err
		}
		details.Classification = classification
	}

	return details, nil
}

// UpdateOrder writes the mutable order fields if the stored status is still expected
func (s *sqlStore) UpdateOrder(ctx context.Context, order *models.Order, expected models.Status) error {
	order.UpdatedAt = time.Now().UTC()

	query := s.rebind(`
		UPDATE orders SET
			status = ?, evidence_cid = ?, actual_weight = ?, credits_minted = ?,
			tx_hash = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`)

	result, err := s.db.ExecContext(ctx, query,
		string(order.Status), order.EvidenceCID, order.ActualWeight, order.CreditsMinted,
		order.TxHash, order.ScheduledAt, order.UpdatedAt,
		order.ID, string(expected))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update order", err.Error())
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read update result", err.Error())
	}
	if affected == 0 {
		if _, err := s.GetOrder(ctx, order.ID); err != nil {
			return err
		}
		return utils.NewAppError(utils.ErrCodeInvalidState, "Order status changed concurrently",
			fmt.Sprintf("order %s is no longer %s", order.ID, expected))
	}
	return nil
}

// ListOrdersByStatus returns orders in status last updated before the given time, oldest first
func (s *sqlStore) ListOrdersByStatus(ctx context.Context, status models.Status, updatedBefore time.Time, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+orderColumns+` FROM orders
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`), string(status), updatedBefore.UTC(), limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list orders", err.Error())
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan order", err.Error())
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate orders", err.Error())
	}
	return orders, nil
}

// SaveUser inserts a user
func (s *sqlStore) SaveUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO users (id, address, created_at) VALUES (?, ?, ?)`),
		user.ID, user.Address, user.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save user", err.Error())
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *sqlStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, address, created_at FROM users WHERE id = ?`), id).
		Scan(&user.ID, &user.Address, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "User not found", id)
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get user", err.Error())
	}
	return &user, nil
}

// SaveFacility inserts a facility
func (s *sqlStore) SaveFacility(ctx context.Context, facility *models.Facility) error {
	if facility.CreatedAt.IsZero() {
		facility.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO facilities (id, name, address, eth_address, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		facility.ID, facility.Name, facility.Address, facility.EthAddress, facility.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save facility", err.Error())
	}
	return nil
}

// GetFacility retrieves a facility by ID
func (s *sqlStore) GetFacility(ctx context.Context, id string) (*models.Facility, error) {
	var facility models.Facility
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, address, eth_address, created_at
		FROM facilities WHERE id = ?`), id).
		Scan(&facility.ID, &facility.Name, &facility.Address, &facility.EthAddress, &facility.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Facility not found", id)
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get facility", err.Error())
	}
	return &facility, nil
}

// SaveClassification inserts a classification result
func (s *sqlStore) SaveClassification(ctx context.Context, c *models.Classification) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO classifications
		(id, user_id, waste_type, confidence, image_cid, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		c.ID, c.UserID, string(c.WasteType), c.Confidence, c.ImageCID, c.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save classification", err.Error())
	}
	return nil
}

// GetClassification retrieves a classification by ID
func (s *sqlStore) GetClassification(ctx context.Context, id string) (*models.Classification, error) {
	var c models.Classification
	var wasteType string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, user_id, waste_type, confidence, image_cid, created_at
		FROM classifications WHERE id = ?`), id).
		Scan(&c.ID, &c.UserID, &wasteType, &c.Confidence, &c.ImageCID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Classification not found", id)
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get classification", err.Error())
	}
	c.WasteType = models.WasteType(wasteType)
	return &c, nil
}

// DeleteOrphanClassifications removes classifications older than the cutoff that no order references
func (s *sqlStore) DeleteOrphanClassifications(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM classifications
		WHERE created_at < ?
		AND NOT EXISTS (SELECT 1 FROM orders WHERE orders.classification_id = classifications.id)`),
		olderThan.UTC())
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete classifications", err.Error())
	}
	return result.RowsAffected()
}

// AppendTimelineEvent inserts an audit entry; entries are never updated
func (s *sqlStore) AppendTimelineEvent(ctx context.Context, event *models.TimelineEvent) error {
	var metadata *string
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal timeline metadata", err.Error())
		}
		encoded := string(data)
		metadata = &encoded
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO timeline_events
		(id, order_id, type, title, message, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		event.ID, event.OrderID, string(event.Type), event.Title, event.Message, metadata, event.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to append timeline event", err.Error())
	}
	return nil
}

// GetTimeline returns an order's timeline, oldest first
func (s *sqlStore) GetTimeline(ctx context.Context, orderID string) ([]*models.TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, order_id, type, title, message, metadata, created_at
		FROM timeline_events WHERE order_id = ? ORDER BY created_at ASC, id ASC`), orderID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get timeline", err.Error())
	}
	defer rows.Close()

	var events []*models.TimelineEvent
	for rows.Next() {
		var event models.TimelineEvent
		var eventType string
		var metadata []byte
		if err := rows.Scan(&event.ID, &event.OrderID, &eventType, &event.Title, &event.Message,
			&metadata, &event.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan timeline event", err.Error())
		}
		event.Type = models.TimelineEventType(eventType)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to unmarshal timeline metadata", err.Error())
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate timeline", err.Error())
	}
	return events, nil
}

// recordedWeight is the measured weight, falling back to the estimate
const recordedWeight = `COALESCE(o.actual_weight, o.estimated_weight, 0)`

// GetLeaderboard ranks users by minted credits, then by recycled weight
func (s *sqlStore) GetLeaderboard(ctx context.Context, limit, offset int) ([]*LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT u.id, u.address,
			COALESCE(SUM(o.credits_minted), 0) AS total_credits,
			COALESCE(SUM(`+recordedWeight+`), 0) AS total_weight,
			COUNT(o.id) AS order_count
		FROM users u
		JOIN orders o ON o.user_id = u.id AND o.status = ?
		GROUP BY u.id, u.address
		HAVING COALESCE(SUM(o.credits_minted), 0) > 0
		ORDER BY total_credits DESC, total_weight DESC, u.id ASC
		LIMIT ? OFFSET ?`), string(models.StatusCompleted), limit, offset)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query leaderboard", err.Error())
	}
	defer rows.Close()

	entries := []*LeaderboardEntry{}
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.UserAddress, &e.TotalCredits, &e.TotalWeight, &e.OrderCount); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan leaderboard entry", err.Error())
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate leaderboard", err.Error())
	}
	return entries, nil
}

// GetImpactTotals sums credits and weight over every COMPLETED order
func (s *sqlStore) GetImpactTotals(ctx context.Context) (*ImpactTotals, error) {
	var totals ImpactTotals
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(DISTINCT u.id),
			COALESCE(SUM(o.credits_minted), 0),
			COALESCE(SUM(`+recordedWeight+`), 0),
			COUNT(o.id)
		FROM users u
		LEFT JOIN orders o ON o.user_id = u.id AND o.status = ?`), string(models.StatusCompleted)).
		Scan(&totals.TotalUsers, &totals.TotalCredits, &totals.TotalWeight, &totals.TotalOrders)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to sum impact", err.Error())
	}
	return &totals, nil
}

// ListCompletedOrders returns a user's COMPLETED orders, most recent first
func (s *sqlStore) ListCompletedOrders(ctx context.Context, userID string) ([]*models.Order, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+orderColumns+` FROM orders
		WHERE user_id = ? AND status = ?
		ORDER BY updated_at DESC, id ASC`), userID, string(models.StatusCompleted))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list completed orders", err.Error())
	}
	defer rows.Close()

	orders := []*models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan order", err.Error())
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate orders", err.Error())
	}
	return orders, nil
}

// CountUsersAhead counts users whose minted credits exceed credits
func (s *sqlStore) CountUsersAhead(ctx context.Context, credits float64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM (
			SELECT user_id FROM orders
			WHERE status = ?
			GROUP BY user_id
			HAVING SUM(COALESCE(credits_minted, 0)) > ?
		) ahead`), string(models.StatusCompleted), credits).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to rank user", err.Error())
	}
	return count, nil
}

// GetStorageStats returns order counts by status and the total of minted credits
func (s *sqlStore) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{OrdersByStatus: make(map[models.Status]int64)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count orders", err.Error())
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan order count", err.Error())
		}
		stats.OrdersByStatus[models.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate order counts", err.Error())
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM timeline_events`).Scan(&stats.TimelineEvents); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count timeline events", err.Error())
	}

	var credits sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(credits_minted) FROM orders`).Scan(&credits); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to sum credits", err.Error())
	}
	stats.CreditsMinted = credits.Float64

	return stats, nil
}

// IsHealthy pings the database with a short timeout
func (s *sqlStore) IsHealthy() bool {
	if s.db == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var wasteType, pickupType, status string
	var evidenceCID, txHash sql.NullString
	var estimated, actual, credits sql.NullFloat64
	var scheduledAt sql.NullTime

	err := row.Scan(&order.ID, &order.UserID, &order.FacilityID, &order.ClassificationID,
		&wasteType, &pickupType, &status, &order.OTPHint,
		&evidenceCID, &estimated, &actual, &credits, &txHash,
		&scheduledAt, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	order.WasteType = models.WasteType(wasteType)
	order.PickupType = models.PickupType(pickupType)
	order.Status = models.Status(status)
	order.EvidenceCID = nullString(evidenceCID)
	order.TxHash = nullString(txHash)
	order.EstimatedWeight = nullFloat(estimated)
	order.ActualWeight = nullFloat(actual)
	order.CreditsMinted = nullFloat(credits)
	if scheduledAt.Valid {
		t := scheduledAt.Time
		order.ScheduledAt = &t
	}
	return &order, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
