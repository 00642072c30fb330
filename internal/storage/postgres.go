// File: internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// PostgreSQLStorage implements Storage using PostgreSQL
type PostgreSQLStorage struct {
	config   *StorageConfig
	db       *sql.DB
	logger   *logrus.Logger
	lastPing time.Time
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config: config,
		logger: utils.GetLogger(),
	}
}

// Connect establishes connection to PostgreSQL database
func (s *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to open PostgreSQL connection", err.Error())
	}

	maxConns := s.config.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	if s.config.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(s.config.MaxIdleTime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to ping PostgreSQL database", err.Error())
	}

	s.db = db
	s.lastPing = time.Now()
	s.logger.Info("Connected to PostgreSQL database")
	return nil
}

// Close closes the database connection
func (s *PostgreSQLStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgreSQLStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "database not connected")
	}
	if err := s.db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "database ping failed", err.Error())
	}
	s.lastPing = time.Now()
	return nil
}

// Migrate applies pending schema migrations
func (s *PostgreSQLStorage) Migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to create migrations table", err.Error())
	}

	for _, migration := range getPostgreSQLMigrations() {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", migration.Version).Scan(&count); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "failed to check migration status", err.Error())
		}
		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("failed to apply migration %d: %s", migration.Version, migration.Description), err.Error())
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "failed to record migration", err.Error())
		}
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applied migration")
	}
	return nil
}

// GetAccount returns the mirrored account at address, or nil if not mirrored
func (s *PostgreSQLStorage) GetAccount(ctx context.Context, address string) (*models.ManagedAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, owner, mint, status, created_at, updated_at
		FROM managed_accounts WHERE address = $1
	`, address)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to get account", err.Error())
	}
	return account, nil
}

// GetAccountsByOwner returns all accounts owned by owner
func (s *PostgreSQLStorage) GetAccountsByOwner(ctx context.Context, owner string) ([]*models.ManagedAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, owner, mint, status, created_at, updated_at
		FROM managed_accounts WHERE owner = $1 ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to get accounts by owner", err.Error())
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// GetAccountsByOperator returns all accounts that list operator
func (s *PostgreSQLStorage) GetAccountsByOperator(ctx context.Context, operator string) ([]*models.ManagedAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.address, a.owner, a.mint, a.status, a.created_at, a.updated_at
		FROM managed_accounts a
		JOIN account_operators o ON o.account_id = a.id
		WHERE o.operator = $1 ORDER BY a.created_at DESC
	`, operator)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to get accounts by operator", err.Error())
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// GetOperators returns the operator rows for an account
func (s *PostgreSQLStorage) GetOperators(ctx context.Context, accountID string) ([]*models.Operator, error) {
	return queryOperators(ctx, s.db, `
		SELECT id, account_id, operator, per_tx_limit, created_at
		FROM account_operators WHERE account_id = $1 ORDER BY created_at ASC
	`, accountID)
}

// GetEvents returns events matching the filter, newest first
func (s *PostgreSQLStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.AccountEvent, error) {
	query := `
		SELECT id, account_id, event_type, txid, seq, actor, data, created_at
		FROM account_events WHERE account_id = $1
	`
	args := []interface{}{filter.AccountID}
	if filter.EventType != nil {
		args = append(args, string(*filter.EventType))
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to get events", err.Error())
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountEvents returns the number of events matching the filter
func (s *PostgreSQLStorage) CountEvents(ctx context.Context, filter models.EventFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM account_events WHERE account_id = $1"
	args := []interface{}{filter.AccountID}
	if filter.EventType != nil {
		args = append(args, string(*filter.EventType))
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "failed to count events", err.Error())
	}
	return count, nil
}

// HasEventsForTx reports whether any event for (account, txid) is already recorded
func (s *PostgreSQLStorage) HasEventsForTx(ctx context.Context, accountID, txid string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM account_events WHERE account_id = $1 AND txid = $2",
		accountID, txid).Scan(&count)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "failed to check events for tx", err.Error())
	}
	return count > 0, nil
}

// WithinTx runs fn inside a single PostgreSQL transaction
func (s *PostgreSQLStorage) WithinTx(ctx context.Context, fn func(UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to begin transaction", err.Error())
	}

	uow := &postgresUnitOfWork{tx: tx}
	if err := fn(uow); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Error("Failed to rollback transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to commit transaction", err.Error())
	}
	return nil
}

// SaveAPIKey inserts or replaces the API key for a pubkey
func (s *PostgreSQLStorage) SaveAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, pubkey, key_hash, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pubkey) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			created_at = EXCLUDED.created_at,
			revoked_at = NULL
	`, key.ID, key.Pubkey, key.KeyHash, key.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to save API key", err.Error())
	}
	return nil
}

// GetAPIKeyByHash returns the key with the given hash, or nil if unknown
func (s *PostgreSQLStorage) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pubkey, key_hash, created_at, revoked_at
		FROM api_keys WHERE key_hash = $1
	`, keyHash)
	key := &models.APIKey{}
	var revokedAt sql.NullTime
	err := row.Scan(&key.ID, &key.Pubkey, &key.KeyHash, &key.CreatedAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to get API key", err.Error())
	}
	if revokedAt.Valid {
		key.RevokedAt = &revokedAt.Time
	}
	return key, nil
}

// RevokeAPIKey marks the key with the given hash as revoked
func (s *PostgreSQLStorage) RevokeAPIKey(ctx context.Context, keyHash string, revokedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET revoked_at = $1 WHERE key_hash = $2 AND revoked_at IS NULL",
		revokedAt, keyHash)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to revoke API key", err.Error())
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to check revoke result", err.Error())
	}
	if affected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "API key not found or already revoked", keyHash)
	}
	return nil
}

// GetSystemState returns the value for key, or empty string if unset
func (s *PostgreSQLStorage) GetSystemState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM system_state WHERE key = $1", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeDatabase, "failed to get system state", err.Error())
	}
	return value, nil
}

// SetSystemState upserts the value for key
func (s *PostgreSQLStorage) SetSystemState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_state (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to set system state", err.Error())
	}
	return nil
}

// GetHealth returns storage health information
func (s *PostgreSQLStorage) GetHealth() *StorageHealth {
	health := &StorageHealth{
		StorageType: "postgres",
		LastPing:    s.lastPing,
	}
	if err := s.Ping(); err != nil {
		health.Healthy = false
		health.Details = map[string]string{"error": err.Error()}
		return health
	}
	health.Healthy = true
	health.LastPing = s.lastPing
	return health
}

// GetStats returns mirror statistics
func (s *PostgreSQLStorage) GetStats() (*StorageStats, error) {
	stats := &StorageStats{}
	queries := map[string]*int64{
		"SELECT COUNT(*) FROM managed_accounts":                          &stats.TotalAccounts,
		"SELECT COUNT(*) FROM managed_accounts WHERE status = 'ACTIVE'": &stats.ActiveAccounts,
		"SELECT COUNT(*) FROM account_operators":                        &stats.TotalOperators,
		"SELECT COUNT(*) FROM account_events":                           &stats.TotalEvents,
	}
	for query, target := range queries {
		if err := s.db.QueryRow(query).Scan(target); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to get storage stats", err.Error())
		}
	}

	var latest sql.NullTime
	if err := s.db.QueryRow("SELECT MAX(created_at) FROM account_events").Scan(&latest); err == nil && latest.Valid {
		stats.LatestEvent = &latest.Time
	}
	return stats, nil
}

// postgresUnitOfWork implements UnitOfWork over a *sql.Tx
type postgresUnitOfWork struct {
	tx *sql.Tx
}

func (u *postgresUnitOfWork) InsertAccount(ctx context.Context, account *models.ManagedAccount) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO managed_accounts (id, address, owner, mint, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.ID, account.Address, account.Owner, account.Mint, string(account.Status),
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to insert account", err.Error())
	}
	return nil
}

func (u *postgresUnitOfWork) UpdateAccountStatus(ctx context.Context, accountID string, status models.AccountStatus) error {
	_, err := u.tx.ExecContext(ctx,
		"UPDATE managed_accounts SET status = $1, updated_at = $2 WHERE id = $3",
		string(status), time.Now().UTC(), accountID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to update account status", err.Error())
	}
	return nil
}

func (u *postgresUnitOfWork) GetOperators(ctx context.Context, accountID string) ([]*models.Operator, error) {
	return queryOperators(ctx, u.tx, `
		SELECT id, account_id, operator, per_tx_limit, created_at
		FROM account_operators WHERE account_id = $1 ORDER BY created_at ASC
	`, accountID)
}

func (u *postgresUnitOfWork) InsertOperator(ctx context.Context, op *models.Operator) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO account_operators (id, account_id, operator, per_tx_limit, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, operator) DO UPDATE SET per_tx_limit = EXCLUDED.per_tx_limit
	`, op.ID, op.AccountID, op.Operator, op.PerTxLimit, op.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to insert operator", err.Error())
	}
	return nil
}

func (u *postgresUnitOfWork) DeleteOperator(ctx context.Context, accountID, operator string) error {
	_, err := u.tx.ExecContext(ctx,
		"DELETE FROM account_operators WHERE account_id = $1 AND operator = $2",
		accountID, operator)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to delete operator", err.Error())
	}
	return nil
}

func (u *postgresUnitOfWork) DeleteOperatorsByAccount(ctx context.Context, accountID string) (int64, error) {
	result, err := u.tx.ExecContext(ctx,
		"DELETE FROM account_operators WHERE account_id = $1", accountID)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "failed to delete operators", err.Error())
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "failed to check delete result", err.Error())
	}
	return affected, nil
}

func (u *postgresUnitOfWork) InsertEvent(ctx context.Context, event *models.AccountEvent) error {
	data, err := marshalEventData(event.Data)
	if err != nil {
		return err
	}
	_, err = u.tx.ExecContext(ctx, `
		INSERT INTO account_events (id, account_id, event_type, txid, seq, actor, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.ID, event.AccountID, string(event.EventType), event.Txid, event.Seq,
		event.Actor, data, event.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to insert event", err.Error())
	}
	return nil
}
