// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	config   *StorageConfig
	db       *sql.DB
	logger   *logrus.Logger
	lastPing time.Time
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config: config,
		logger: utils.GetLogger(),
	}
}

// Connect establishes connection to SQLite database
func (s *SQLiteStorage) Connect() error {
	dbPath := s.config.ConnectionString
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to open SQLite database", err.Error())
	}

	db.SetMaxOpenConns(1) // SQLite handles concurrency internally
	db.SetMaxIdleConns(1)
	if s.config.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(s.config.MaxIdleTime)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return utils.NewAppError(utils.ErrCodeDatabase, fmt.Sprintf("failed to set pragma: %s", pragma), err.Error())
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to ping SQLite database", err.Error())
	}

	s.db = db
	s.lastPing = time.Now()
	s.logger.WithField("path", dbPath).Info("Connected to SQLite database")
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "database not connected", "")
	}
	if err := s.db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "database ping failed", err.Error())
	}
	s.lastPing = time.Now()
	return nil
}

// Migrate applies pending schema migrations
func (s *SQLiteStorage) Migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to create migrations table", err.Error())
	}

	for _, migration := range getSQLiteMigrations() {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", migration.Version).Scan(&count); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "failed to check migration status", err.Error())
		}
		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("failed to apply migration %d: %s", migration.Version, migration.Description), err.Error())
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
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
func (s *SQLiteStorage) GetAccount(ctx context.Context, address string) (*models.ManagedAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, owner, mint, status, created_at, updated_at
		FROM managed_accounts WHERE address = ?
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
func (s *SQLiteStorage) GetAccountsByOwner(ctx context.Context, owner string) ([]*models.ManagedAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, owner, mint, status, created_at, updated_at
		FROM managed_accounts WHERE owner = ? ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to get accounts by owner", err.Error())
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// GetAccountsByOperator returns all accounts that list operator
func (s *SQLiteStorage) GetAccountsByOperator(ctx context.Context, operator string) ([]*models.ManagedAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.address, a.owner, a.mint, a.status, a.created_at, a.updated_at
		FROM managed_accounts a
		JOIN account_operators o ON o.account_id = a.id
		WHERE o.operator = ? ORDER BY a.created_at DESC
	`, operator)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to get accounts by operator", err.Error())
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// GetOperators returns the operator rows for an account
func (s *SQLiteStorage) GetOperators(ctx context.Context, accountID string) ([]*models.Operator, error) {
	return queryOperators(ctx, s.db, `
		SELECT id, account_id, operator, per_tx_limit, created_at
		FROM account_operators WHERE account_id = ? ORDER BY created_at ASC
	`, accountID)
}

// GetEvents returns events matching the filter, newest first
func (s *SQLiteStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.AccountEvent, error) {
	query := `
		SELECT id, account_id, event_type, txid, seq, actor, data, created_at
		FROM account_events WHERE account_id = ?
	`
	args := []interface{}{filter.AccountID}
	if filter.EventType != nil {
		query += " AND event_type = ?"
		args = append(args, string(*filter.EventType))
	}
	query += " ORDER BY created_at DESC, seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to get events", err.Error())
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountEvents returns the number of events matching the filter
func (s *SQLiteStorage) CountEvents(ctx context.Context, filter models.EventFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM account_events WHERE account_id = ?"
	args := []interface{}{filter.AccountID}
	if filter.EventType != nil {
		query += " AND event_type = ?"
		args = append(args, string(*filter.EventType))
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "failed to count events", err.Error())
	}
	return count, nil
}

// HasEventsForTx reports whether any event for (account, txid) is already recorded
func (s *SQLiteStorage) HasEventsForTx(ctx context.Context, accountID, txid string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM account_events WHERE account_id = ? AND txid = ?",
		accountID, txid).Scan(&count)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "failed to check events for tx", err.Error())
	}
	return count > 0, nil
}

// WithinTx runs fn inside a single SQLite transaction
func (s *SQLiteStorage) WithinTx(ctx context.Context, fn func(UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to begin transaction", err.Error())
	}

	uow := &sqliteUnitOfWork{tx: tx}
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
func (s *SQLiteStorage) SaveAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, pubkey, key_hash, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			key_hash = excluded.key_hash,
			created_at = excluded.created_at,
			revoked_at = NULL
	`, key.ID, key.Pubkey, key.KeyHash, key.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to save API key", err.Error())
	}
	return nil
}

// GetAPIKeyByHash returns the key with the given hash, or nil if unknown
func (s *SQLiteStorage) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pubkey, key_hash, created_at, revoked_at
		FROM api_keys WHERE key_hash = ?
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
func (s *SQLiteStorage) RevokeAPIKey(ctx context.Context, keyHash string, revokedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET revoked_at = ? WHERE key_hash = ? AND revoked_at IS NULL",
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
func (s *SQLiteStorage) GetSystemState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM system_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeDatabase, "failed to get system state", err.Error())
	}
	return value, nil
}

// SetSystemState upserts the value for key
func (s *SQLiteStorage) SetSystemState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to set system state", err.Error())
	}
	return nil
}

// GetHealth returns storage health information
func (s *SQLiteStorage) GetHealth() *StorageHealth {
	health := &StorageHealth{
		StorageType: "sqlite",
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
func (s *SQLiteStorage) GetStats() (*StorageStats, error) {
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

// sqliteUnitOfWork implements UnitOfWork over a *sql.Tx
type sqliteUnitOfWork struct {
	tx *sql.Tx
}

func (u *sqliteUnitOfWork) InsertAccount(ctx context.Context, account *models.ManagedAccount) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO managed_accounts (id, address, owner, mint, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, account.ID, account.Address, account.Owner, account.Mint, string(account.Status),
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to insert account", err.Error())
	}
	return nil
}

func (u *sqliteUnitOfWork) UpdateAccountStatus(ctx context.Context, accountID string, status models.AccountStatus) error {
	_, err := u.tx.ExecContext(ctx,
		"UPDATE managed_accounts SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC(), accountID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to update account status", err.Error())
	}
	return nil
}

func (u *sqliteUnitOfWork) GetOperators(ctx context.Context, accountID string) ([]*models.Operator, error) {
	return queryOperators(ctx, u.tx, `
		SELECT id, account_id, operator, per_tx_limit, created_at
		FROM account_operators WHERE account_id = ? ORDER BY created_at ASC
	`, accountID)
}

func (u *sqliteUnitOfWork) InsertOperator(ctx context.Context, op *models.Operator) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO account_operators (id, account_id, operator, per_tx_limit, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, operator) DO UPDATE SET per_tx_limit = excluded.per_tx_limit
	`, op.ID, op.AccountID, op.Operator, op.PerTxLimit, op.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to insert operator", err.Error())
	}
	return nil
}

func (u *sqliteUnitOfWork) DeleteOperator(ctx context.Context, accountID, operator string) error {
	_, err := u.tx.ExecContext(ctx,
		"DELETE FROM account_operators WHERE account_id = ? AND operator = ?",
		accountID, operator)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to delete operator", err.Error())
	}
	return nil
}

func (u *sqliteUnitOfWork) DeleteOperatorsByAccount(ctx context.Context, accountID string) (int64, error) {
	result, err := u.tx.ExecContext(ctx,
		"DELETE FROM account_operators WHERE account_id = ?", accountID)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "failed to delete operators", err.Error())
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "failed to check delete result", err.Error())
	}
	return affected, nil
}

func (u *sqliteUnitOfWork) InsertEvent(ctx context.Context, event *models.AccountEvent) error {
	data, err := marshalEventData(event.Data)
	if err != nil {
		return err
	}
	_, err = u.tx.ExecContext(ctx, `
		INSERT INTO account_events (id, account_id, event_type, txid, seq, actor, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.AccountID, string(event.EventType), event.Txid, event.Seq,
		event.Actor, data, event.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "failed to insert event", err.Error())
	}
	return nil
}

// queryer is the subset of *sql.DB and *sql.Tx the scan helpers need
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryOperators(ctx context.Context, q queryer, query string, args ...interface{}) ([]*models.Operator, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to get operators", err.Error())
	}
	defer rows.Close()

	var operators []*models.Operator
	for rows.Next() {
		op := &models.Operator{}
		if err := rows.Scan(&op.ID, &op.AccountID, &op.Operator, &op.PerTxLimit, &op.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to scan operator", err.Error())
		}
		operators = append(operators, op)
	}
	return operators, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.ManagedAccount, error) {
	account := &models.ManagedAccount{}
	var status string
	err := row.Scan(&account.ID, &account.Address, &account.Owner, &account.Mint,
		&status, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	account.Status = models.AccountStatus(status)
	return account, nil
}

func scanAccounts(rows *sql.Rows) ([]*models.ManagedAccount, error) {
	var accounts []*models.ManagedAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to scan account", err.Error())
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]*models.AccountEvent, error) {
	var events []*models.AccountEvent
	for rows.Next() {
		event := &models.AccountEvent{}
		var eventType string
		var data sql.NullString
		if err := rows.Scan(&event.ID, &event.AccountID, &eventType, &event.Txid,
			&event.Seq, &event.Actor, &data, &event.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to scan event", err.Error())
		}
		event.EventType = models.EventType(eventType)
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &event.Data); err != nil {
				return nil, utils.NewAppError(utils.ErrCodeDatabase, "failed to decode event data", err.Error())
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func marshalEventData(data map[string]interface{}) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "failed to encode event data", err.Error())
	}
	return string(encoded), nil
}
