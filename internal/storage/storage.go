// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/silk-labs/silk-indexer/internal/models"
)

// Storage defines the interface for mirror persistence operations
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Account reads
	GetAccount(ctx context.Context, address string) (*models.ManagedAccount, error)
	GetAccountsByOwner(ctx context.Context, owner string) ([]*models.ManagedAccount, error)
	GetAccountsByOperator(ctx context.Context, operator string) ([]*models.ManagedAccount, error)
	GetOperators(ctx context.Context, accountID string) ([]*models.Operator, error)

	// Event reads
	GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.AccountEvent, error)
	CountEvents(ctx context.Context, filter models.EventFilter) (int64, error)
	HasEventsForTx(ctx context.Context, accountID, txid string) (bool, error)

	// WithinTx runs fn against a transactional unit of work. All mutations
	// fn performs commit together or not at all.
	WithinTx(ctx context.Context, fn func(UnitOfWork) error) error

	// API key operations
	SaveAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyHash string, revokedAt time.Time) error

	// System state (feed cursor and friends)
	GetSystemState(ctx context.Context, key string) (string, error)
	SetSystemState(ctx context.Context, key, value string) error

	// Statistics and monitoring
	GetHealth() *StorageHealth
	GetStats() (*StorageStats, error)
}

// UnitOfWork is the mutation surface available inside one committed
// transaction. The reconciler is its only user.
type UnitOfWork interface {
	InsertAccount(ctx context.Context, account *models.ManagedAccount) error
	UpdateAccountStatus(ctx context.Context, accountID string, status models.AccountStatus) error
	GetOperators(ctx context.Context, accountID string) ([]*models.Operator, error)
	InsertOperator(ctx context.Context, op *models.Operator) error
	DeleteOperator(ctx context.Context, accountID, operator string) error
	DeleteOperatorsByAccount(ctx context.Context, accountID string) (int64, error)
	InsertEvent(ctx context.Context, event *models.AccountEvent) error
}

// StorageHealth describes storage connectivity
type StorageHealth struct {
	StorageType string            `json:"storage_type"`
	Healthy     bool              `json:"healthy"`
	Details     map[string]string `json:"details,omitempty"`
	LastPing    time.Time         `json:"last_ping"`
}

// StorageStats provides mirror statistics
type StorageStats struct {
	TotalAccounts  int64      `json:"total_accounts"`
	ActiveAccounts int64      `json:"active_accounts"`
	TotalOperators int64      `json:"total_operators"`
	TotalEvents    int64      `json:"total_events"`
	LatestEvent    *time.Time `json:"latest_event,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
