// File: internal/notify/notify.go
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/silk-labs/silk-indexer/internal/config"
	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// Notification carries the audit events appended for one account by a single
// reconciled transaction.
type Notification struct {
	Address   string                 `json:"address"`
	Events    []*models.AccountEvent `json:"events"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink delivers one notification to an external destination. Send is called
// from the manager's worker goroutine, never concurrently.
type Sink interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Stats tracks notification delivery counts
type Stats struct {
	Queued    int64 `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Manager fans appended account events out to the configured sinks. Publish
// never blocks the caller: notifications are queued and delivered by a
// background worker, and are dropped with a counter bump when the queue is
// full. Delivery is best effort; the mirror is the source of truth.
type Manager struct {
	config *config.NotificationsConfig
	sinks  []Sink
	queue  chan *Notification
	logger *logrus.Entry

	mu      sync.Mutex
	running bool
	stats   Stats
	wg      sync.WaitGroup
}

// NewManager creates a notification manager with the given sinks
func NewManager(cfg *config.NotificationsConfig, sinks ...Sink) *Manager {
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	return &Manager{
		config: cfg,
		sinks:  sinks,
		queue:  make(chan *Notification, size),
		logger: utils.ComponentLogger("notify"),
	}
}

// Start launches the delivery worker
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.running = true

	m.wg.Add(1)
	go m.run(ctx)

	m.logger.WithField("sinks", len(m.sinks)).Info("Notification manager started")
	return nil
}

// Stop closes the queue and waits for queued notifications to be delivered
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Notification manager stopped")
	return nil
}

// IsRunning returns whether the delivery worker is active
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetStats returns a snapshot of the delivery counters
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Publish queues the events appended for an account. Safe to call from any
// goroutine; a no-op after Stop.
func (m *Manager) Publish(address string, events []*models.AccountEvent) {
	if len(events) == 0 {
		return
	}
	n := &Notification{
		Address:   address,
		Events:    events,
		Timestamp: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	select {
	case m.queue <- n:
		m.stats.Queued++
	default:
		m.stats.Dropped++
		m.logger.WithField("address", address).Warn("Notification queue full, dropping")
	}
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	for n := range m.queue {
		m.deliver(ctx, n)
	}
}

func (m *Manager) deliver(ctx context.Context, n *Notification) {
	for _, sink := range m.sinks {
		if err := sink.Send(ctx, n); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"sink":    sink.Name(),
				"address": n.Address,
			}).Error("Failed to deliver notification")
			m.mu.Lock()
			m.stats.Failed++
			m.mu.Unlock()
			continue
		}
		m.mu.Lock()
		m.stats.Delivered++
		m.mu.Unlock()
	}
}
