// File: internal/storage/migrations.go
package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create users and facilities tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					address TEXT NOT NULL,
					created_at DATETIME NOT NULL
				);

				CREATE TABLE IF NOT EXISTS facilities (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					address TEXT NOT NULL DEFAULT '',
					eth_address TEXT NOT NULL,
					created_at DATETIME NOT NULL
				);
			`,
		},
		{
			Version:     "002",
			Description: "Create classifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS classifications (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					waste_type TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					image_cid TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_classifications_created_at ON classifications(created_at);
			`,
		},
		{
			Version:     "003",
			Description: "Create orders table",
			SQL: `
				CREATE TABLE IF NOT EXISTS orders (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users (id),
					facility_id TEXT NOT NULL REFERENCES facilities (id),
					classification_id TEXT NOT NULL DEFAULT '',
					waste_type TEXT NOT NULL,
					pickup_type TEXT NOT NULL,
					status TEXT NOT NULL,
					otp_hint TEXT NOT NULL,
					evidence_cid TEXT,
					estimated_weight REAL,
					actual_weight REAL,
					credits_minted REAL,
					tx_hash TEXT,
					scheduled_at DATETIME,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_orders_status_updated ON orders(status, updated_at);
				CREATE INDEX IF NOT EXISTS idx_orders_classification ON orders(classification_id);
			`,
		},
		{
			Version:     "004",
			Description: "Create timeline_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS timeline_events (
					id TEXT PRIMARY KEY,
					order_id TEXT NOT NULL REFERENCES orders (id),
					type TEXT NOT NULL,
					title TEXT NOT NULL,
					message TEXT NOT NULL,
					metadata TEXT,
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_timeline_order ON timeline_events(order_id, created_at);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create users and facilities tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					address VARCHAR(42) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL
				);

				CREATE TABLE IF NOT EXISTS facilities (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					address TEXT NOT NULL DEFAULT '',
					eth_address VARCHAR(42) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL
				);
			`,
		},
		{
			Version:     "002",
			Description: "Create classifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS classifications (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					waste_type VARCHAR(32) NOT NULL,
					confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
					image_cid TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_classifications_created_at ON classifications(created_at);
			`,
		},
		{
			Version:     "003",
			Description: "Create orders table",
			SQL: `
				CREATE TABLE IF NOT EXISTS orders (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users (id),
					facility_id TEXT NOT NULL REFERENCES facilities (id),
					classification_id TEXT NOT NULL DEFAULT '',
					waste_type VARCHAR(32) NOT NULL,
					pickup_type VARCHAR(16) NOT NULL,
					status VARCHAR(16) NOT NULL,
					otp_hint VARCHAR(4) NOT NULL,
					evidence_cid TEXT,
					estimated_weight DOUBLE PRECISION,
					actual_weight DOUBLE PRECISION,
					credits_minted DOUBLE PRECISION,
					tx_hash VARCHAR(66),
					scheduled_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_orders_status_updated ON orders(status, updated_at);
				CREATE INDEX IF NOT EXISTS idx_orders_classification ON orders(classification_id);
			`,
		},
		{
			Version:     "004",
			Description: "Create timeline_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS timeline_events (
					id TEXT PRIMARY KEY,
					order_id TEXT NOT NULL REFERENCES orders (id),
					type VARCHAR(32) NOT NULL,
					title TEXT NOT NULL,
					message TEXT NOT NULL,
					metadata JSONB,
					created_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_timeline_order ON timeline_events(order_id, created_at);
			`,
		},
	}
}
