// File: internal/feed/poller.go
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/silk-labs/silk-indexer/internal/chain"
	"github.com/silk-labs/silk-indexer/internal/config"
	"github.com/silk-labs/silk-indexer/internal/metrics"
	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/internal/storage"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// stateKeyLastSignature is the system_state cursor: the most recent
// transaction signature already reconciled.
const stateKeyLastSignature = "feed.last_processed_signature"

// Reconciler is what the poller hands transactions to. A non-nil error means
// the transaction was not applied and must be redelivered.
type Reconciler interface {
	Reconcile(ctx context.Context, record *models.TransactionRecord) error
}

// Poller drives the indexer from chain history. Each cycle it fetches
// program signatures newer than the stored cursor, loads the transactions
// oldest first, and reconciles them one at a time. The cursor advances per
// transaction, so a crash mid-batch redelivers only the unfinished tail and
// idempotent reconciliation absorbs the overlap.
type Poller struct {
	config     *config.FeedConfig
	programID  string
	chain      chain.Client
	store      storage.Storage
	reconciler Reconciler
	metrics    *metrics.PrometheusMetrics
	logger     *logrus.Entry

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	stats    PollerStats
}

// PollerStats captures feed progress
type PollerStats struct {
	IsRunning           bool      `json:"is_running"`
	StartTime           time.Time `json:"start_time"`
	PollCycles          int64     `json:"poll_cycles"`
	SignaturesProcessed int64     `json:"signatures_processed"`
	ErrorCount          int64     `json:"error_count"`
	LastPollAt          time.Time `json:"last_poll_at"`
	LastSignature       string    `json:"last_signature"`
}

// NewPoller creates a new transaction feed poller
func NewPoller(cfg *config.FeedConfig, programID string, chainClient chain.Client, store storage.Storage, reconciler Reconciler, m *metrics.PrometheusMetrics) *Poller {
	return &Poller{
		config:     cfg,
		programID:  programID,
		chain:      chainClient,
		store:      store,
		reconciler: reconciler,
		metrics:    m,
		logger:     utils.ComponentLogger("feed"),
		stopChan:   make(chan struct{}),
	}
}

// Start begins polling
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Feed poller already running")
	}

	p.running = true
	p.stats.IsRunning = true
	p.stats.StartTime = time.Now()

	p.wg.Add(1)
	go p.pollLoop(ctx)

	p.logger.WithFields(logrus.Fields{
		"program_id":    p.programID,
		"poll_interval": p.config.PollInterval,
		"batch_size":    p.config.BatchSize,
	}).Info("Feed poller started")
	return nil
}

// Stop halts polling and waits for the loop to exit
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stats.IsRunning = false
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Feed poller stopped")
	return nil
}

// IsRunning returns whether the poller is running
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// GetStats returns a snapshot of poller statistics
func (p *Poller) GetStats() PollerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poll loop stopped by context")
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				p.logger.WithError(err).Error("Poll cycle failed")
				p.recordError()
				if p.metrics != nil {
					p.metrics.RecordFeedPoll("error")
				}
				continue
			}
			if p.metrics != nil {
				p.metrics.RecordFeedPoll("success")
			}
		}
	}
}

// pollOnce fetches and reconciles everything newer than the cursor
func (p *Poller) pollOnce(ctx context.Context) error {
	cursor, err := p.store.GetSystemState(ctx, stateKeyLastSignature)
	if err != nil {
		return err
	}

	signatures, err := p.chain.RecentSignatures(ctx, p.programID, p.config.BatchSize, cursor)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.stats.PollCycles++
	p.stats.LastPollAt = time.Now()
	p.mu.Unlock()

	if len(signatures) == 0 {
		return nil
	}
	if p.metrics != nil {
		p.metrics.RecordSignaturesFetched(len(signatures))
	}

	// RecentSignatures returns newest first; reconcile oldest first so the
	// mirror replays history in order.
	for i := len(signatures) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopChan:
			return nil
		default:
		}

		signature := signatures[i]
		record, err := p.chain.GetTransaction(ctx, signature)
		if err != nil {
			// Leave the cursor where it is; the next cycle retries
			// from this signature.
			return err
		}

		if err := p.reconciler.Reconcile(ctx, record); err != nil {
			// The mirror was not updated. Stop the batch with the cursor
			// still behind this signature so the transaction is
			// redelivered next cycle.
			return err
		}

		if err := p.store.SetSystemState(ctx, stateKeyLastSignature, signature); err != nil {
			return err
		}
		p.mu.Lock()
		p.stats.SignaturesProcessed++
		p.stats.LastSignature = signature
		p.mu.Unlock()
	}

	p.logger.WithField("count", len(signatures)).Debug("Reconciled feed batch")
	return nil
}

func (p *Poller) recordError() {
	p.mu.Lock()
	p.stats.ErrorCount++
	p.mu.Unlock()
}
