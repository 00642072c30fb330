// File: internal/metrics/manager.go
package metrics

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// Manager handles all application metrics
type Manager struct {
	prometheus *PrometheusMetrics
	logger     *logrus.Entry
	startTime  time.Time
	stopCh     chan struct{}
}

// NewManager creates a new metrics manager
func NewManager() *Manager {
	return &Manager{
		prometheus: NewPrometheusMetrics(),
		logger:     utils.ComponentLogger("metrics"),
		startTime:  time.Now(),
		stopCh:     make(chan struct{}),
	}
}

// GetPrometheusMetrics returns the Prometheus metrics instance
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// UpdateSystemMetrics updates system-level metrics like memory and goroutines
func (m *Manager) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.prometheus.UpdateMemoryUsage(memStats.Alloc)
	m.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
	m.prometheus.UpdateApplicationUptime(m.startTime)
}

// StartPeriodicUpdates refreshes system metrics on an interval until Stop
func (m *Manager) StartPeriodicUpdates(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.UpdateSystemMetrics()
			case <-m.stopCh:
				return
			}
		}
	}()
	m.logger.WithField("interval", interval).Debug("Started periodic metrics updates")
}

// Stop halts periodic updates
func (m *Manager) Stop() {
	close(m.stopCh)
}
