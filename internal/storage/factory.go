// File: internal/storage/factory.go
package storage

import (
	"fmt"

	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// NewStorage creates a storage instance based on configuration
func NewStorage(config *StorageConfig) (Storage, error) {
	switch config.Type {
	case "sqlite":
		return NewSQLiteStorage(config), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(config), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			fmt.Sprintf("unsupported storage type: %s", config.Type),
			"supported types: sqlite, postgres")
	}
}
