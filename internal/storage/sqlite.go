// File: internal/storage/sqlite.go
package storage

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/ecochain/eco-relayer/pkg/utils"
)

// SQLiteStorage implements Storage using an embedded SQLite database
type SQLiteStorage struct {
	sqlStore
	config     *StorageConfig
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		sqlStore: sqlStore{
			rebind: rebindNone,
			logger: utils.GetLogger(),
		},
		config:     config,
		migrations: GetSQLiteMigrations(),
	}
}

// Connect opens the database file, creating its directory if needed
func (s *SQLiteStorage) Connect() error {
	if s.config.ConnectionString != ":memory:" {
		dir := filepath.Dir(s.config.ConnectionString)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
			}
		}
	}

	db, err := openDB("sqlite", s.config)
	if err != nil {
		return err
	}

	// WAL lets the worker and the HTTP server share the file
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set busy timeout", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	return s.ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	s.logger.Info("Starting database migrations")
	if err := s.migrate(s.migrations); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"count": len(s.migrations)}).Info("Database migrations completed")
	return nil
}
