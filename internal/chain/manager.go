// File: internal/chain/manager.go
package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/silk-labs/silk-indexer/internal/config"
	"github.com/silk-labs/silk-indexer/internal/metrics"
	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// ConnectionManager implements Client across a primary node and optional
// backups, rotating on transient failures. A definitive ErrNotManagedAccount
// answer is returned as-is and never retried.
type ConnectionManager struct {
	config  *config.ChainConfig
	clients []*RPCClient
	logger  *logrus.Logger
	metrics *metrics.PrometheusMetrics

	mu           sync.RWMutex
	currentIndex int
	stats        ConnectionStats
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	Failovers       uint64    `json:"failovers"`
	CurrentURL      string    `json:"current_url"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
}

// NewConnectionManager creates a connection manager from chain config.
func NewConnectionManager(cfg *config.ChainConfig) *ConnectionManager {
	urls := append([]string{cfg.RPCURL}, cfg.BackupNodes...)
	clients := make([]*RPCClient, 0, len(urls))
	for _, url := range urls {
		clients = append(clients, NewRPCClient(url, cfg.RequestTimeout))
	}

	return &ConnectionManager{
		config:  cfg,
		clients: clients,
		logger:  utils.GetLogger(),
		stats:   ConnectionStats{CurrentURL: cfg.RPCURL},
	}
}

// SetMetrics attaches RPC instrumentation. Optional; nil is tolerated.
func (cm *ConnectionManager) SetMetrics(m *metrics.PrometheusMetrics) {
	cm.metrics = m
}

// withFailover runs fn against the current node, rotating through backups
// and retrying with the configured delay until attempts are exhausted.
func (cm *ConnectionManager) withFailover(ctx context.Context, method string, fn func(*RPCClient) error) error {
	cm.mu.Lock()
	cm.stats.TotalRequests++
	cm.mu.Unlock()

	start := time.Now()
	var result error
	defer func() {
		if cm.metrics == nil {
			return
		}
		// A definitive "not a managed account" is a served request, not a
		// transport failure.
		status := "success"
		if result != nil && !errors.Is(result, ErrNotManagedAccount) {
			status = "error"
		}
		cm.metrics.RecordRPCRequest(method, status, time.Since(start))
	}()

	attempts := cm.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		for range cm.clients {
			client := cm.current()

			err := fn(client)
			if err == nil || errors.Is(err, ErrNotManagedAccount) {
				result = err
				return result
			}

			lastErr = err
			cm.recordFailure()
			cm.logger.WithFields(logrus.Fields{
				"endpoint": client.Endpoint(),
				"error":    err.Error(),
			}).Warn("RPC call failed, rotating endpoint")
			cm.rotate()
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				result = ctx.Err()
				return result
			case <-time.After(cm.config.RetryDelay):
			}
		}
	}

	result = utils.NewAppError(utils.ErrCodeConnection, "All RPC endpoints exhausted", lastErr.Error())
	return result
}

func (cm *ConnectionManager) current() *RPCClient {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.clients[cm.currentIndex]
}

func (cm *ConnectionManager) rotate() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.currentIndex = (cm.currentIndex + 1) % len(cm.clients)
	cm.stats.Failovers++
	cm.stats.CurrentURL = cm.clients[cm.currentIndex].Endpoint()
	if cm.metrics != nil {
		cm.metrics.RecordEndpointFailover()
	}
}

func (cm *ConnectionManager) recordFailure() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.stats.FailedRequests++
}

// FetchAccount implements Client.
func (cm *ConnectionManager) FetchAccount(ctx context.Context, address string) (*models.AccountSnapshot, error) {
	var snapshot *models.AccountSnapshot
	err := cm.withFailover(ctx, "getAccountInfo", func(c *RPCClient) error {
		s, err := c.FetchAccount(ctx, address)
		if err != nil {
			return err
		}
		snapshot = s
		return nil
	})
	return snapshot, err
}

// RecentSignatures implements Client.
func (cm *ConnectionManager) RecentSignatures(ctx context.Context, programID string, limit int, until string) ([]string, error) {
	var signatures []string
	err := cm.withFailover(ctx, "getSignaturesForAddress", func(c *RPCClient) error {
		s, err := c.RecentSignatures(ctx, programID, limit, until)
		if err != nil {
			return err
		}
		signatures = s
		return nil
	})
	return signatures, err
}

// GetTransaction implements Client.
func (cm *ConnectionManager) GetTransaction(ctx context.Context, signature string) (*models.TransactionRecord, error) {
	var record *models.TransactionRecord
	err := cm.withFailover(ctx, "getTransaction", func(c *RPCClient) error {
		r, err := c.GetTransaction(ctx, signature)
		if err != nil {
			return err
		}
		record = r
		return nil
	})
	return record, err
}

// HealthCheck implements Client.
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	err := cm.withFailover(ctx, "getHealth", func(c *RPCClient) error {
		return c.HealthCheck(ctx)
	})

	cm.mu.Lock()
	cm.stats.LastHealthCheck = time.Now()
	cm.stats.IsHealthy = err == nil
	cm.mu.Unlock()

	return err
}

// IsHealthy reports the outcome of the most recent health check.
func (cm *ConnectionManager) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats.IsHealthy
}

// Stats returns a copy of connection statistics.
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats
}
