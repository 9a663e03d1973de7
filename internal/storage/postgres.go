// File: internal/storage/postgres.go
package storage

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/ecochain/eco-relayer/pkg/utils"
)

// PostgreSQLStorage implements Storage using PostgreSQL
type PostgreSQLStorage struct {
	sqlStore
	config     *StorageConfig
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		sqlStore: sqlStore{
			rebind: rebindDollar,
			logger: utils.GetLogger(),
		},
		config:     config,
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := openDB("postgres", p.config)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.WithField("connection", utils.MaskSecret(p.config.ConnectionString)).Info("PostgreSQL database connected")
	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	return p.ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	p.logger.Info("Starting database migrations")
	if err := p.migrate(p.migrations); err != nil {
		return err
	}
	p.logger.Info("Database migrations completed")
	return nil
}

func openDB(driver string, config *StorageConfig) (*sql.DB, error) {
	db, err := sql.Open(driver, config.ConnectionString)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to open database", err.Error())
	}

	if config.MaxConnections > 0 {
		db.SetMaxOpenConns(config.MaxConnections)
		db.SetMaxIdleConns(config.MaxConnections / 2)
	}
	db.SetConnMaxLifetime(config.MaxIdleTime)
	return db, nil
}
