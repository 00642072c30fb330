// File: internal/storage/migrations.go
package storage

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

func getSQLiteMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create managed_accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS managed_accounts (
					id TEXT PRIMARY KEY,
					address TEXT NOT NULL UNIQUE,
					owner TEXT NOT NULL,
					mint TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'ACTIVE' CHECK (status IN ('ACTIVE', 'CLOSED')),
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_managed_accounts_owner ON managed_accounts(owner);
				CREATE INDEX IF NOT EXISTS idx_managed_accounts_status ON managed_accounts(status);
			`,
		},
		{
			Version:     2,
			Description: "Create account_operators table",
			SQL: `
				CREATE TABLE IF NOT EXISTS account_operators (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL REFERENCES managed_accounts(id) ON DELETE CASCADE,
					operator TEXT NOT NULL,
					per_tx_limit TEXT NOT NULL DEFAULT '0',
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (account_id, operator)
				);
				CREATE INDEX IF NOT EXISTS idx_account_operators_operator ON account_operators(operator);
			`,
		},
		{
			Version:     3,
			Description: "Create account_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS account_events (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL REFERENCES managed_accounts(id) ON DELETE CASCADE,
					event_type TEXT NOT NULL,
					txid TEXT NOT NULL,
					seq INTEGER NOT NULL DEFAULT 0,
					actor TEXT NOT NULL DEFAULT '',
					data TEXT,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (account_id, txid, event_type, seq)
				);
				CREATE INDEX IF NOT EXISTS idx_account_events_account_created ON account_events(account_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_account_events_txid ON account_events(txid);
			`,
		},
		{
			Version:     4,
			Description: "Create api_keys table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_keys (
					id TEXT PRIMARY KEY,
					pubkey TEXT NOT NULL UNIQUE,
					key_hash TEXT NOT NULL UNIQUE,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					revoked_at DATETIME
				);
			`,
		},
		{
			Version:     5,
			Description: "Create system_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS system_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}

func getPostgreSQLMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create managed_accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS managed_accounts (
					id TEXT PRIMARY KEY,
					address TEXT NOT NULL UNIQUE,
					owner TEXT NOT NULL,
					mint TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'ACTIVE' CHECK (status IN ('ACTIVE', 'CLOSED')),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_managed_accounts_owner ON managed_accounts(owner);
				CREATE INDEX IF NOT EXISTS idx_managed_accounts_status ON managed_accounts(status);
			`,
		},
		{
			Version:     2,
			Description: "Create account_operators table",
			SQL: `
				CREATE TABLE IF NOT EXISTS account_operators (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL REFERENCES managed_accounts(id) ON DELETE CASCADE,
					operator TEXT NOT NULL,
					per_tx_limit TEXT NOT NULL DEFAULT '0',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (account_id, operator)
				);
				CREATE INDEX IF NOT EXISTS idx_account_operators_operator ON account_operators(operator);
			`,
		},
		{
			Version:     3,
			Description: "Create account_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS account_events (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL REFERENCES managed_accounts(id) ON DELETE CASCADE,
					event_type TEXT NOT NULL,
					txid TEXT NOT NULL,
					seq INTEGER NOT NULL DEFAULT 0,
					actor TEXT NOT NULL DEFAULT '',
					data JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (account_id, txid, event_type, seq)
				);
				CREATE INDEX IF NOT EXISTS idx_account_events_account_created ON account_events(account_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_account_events_txid ON account_events(txid);
			`,
		},
		{
			Version:     4,
			Description: "Create api_keys table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_keys (
					id TEXT PRIMARY KEY,
					pubkey TEXT NOT NULL UNIQUE,
					key_hash TEXT NOT NULL UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					revoked_at TIMESTAMPTZ
				);
			`,
		},
		{
			Version:     5,
			Description: "Create system_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS system_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
	}
}
