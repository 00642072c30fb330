// File: internal/indexer/reconciler.go
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/silk-labs/silk-indexer/internal/chain"
	"github.com/silk-labs/silk-indexer/internal/metrics"
	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/internal/storage"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// Reconciliation outcomes
const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Notifier receives the audit events appended by a successful reconciliation,
// after the database transaction has committed. Implementations must not
// block; delivery failures are the notifier's problem, not the reconciler's.
type Notifier interface {
	Publish(address string, events []*models.AccountEvent)
}

// Reconciler applies one finalized transaction to the local mirror: it
// classifies the transaction's logs, locates the managed account involved,
// and records state changes plus audit events in a single database
// transaction. Work is serialized per account address.
type Reconciler struct {
	store      storage.Storage
	locator    *Locator
	classifier *Classifier
	metrics    *metrics.PrometheusMetrics
	notifier   Notifier
	logger     *logrus.Entry
	locks      keyedMutex
}

// NewReconciler creates a new reconciler
func NewReconciler(store storage.Storage, chainClient chain.Client, programID string, m *metrics.PrometheusMetrics) *Reconciler {
	return &Reconciler{
		store:      store,
		locator:    NewLocator(chainClient, store),
		classifier: NewClassifier(programID),
		metrics:    m,
		logger:     utils.ComponentLogger("reconciler"),
	}
}

// SetNotifier attaches a post-commit event notifier. Must be called before
// the first Reconcile.
func (r *Reconciler) SetNotifier(n Notifier) {
	r.notifier = n
}

// Reconcile processes one transaction record. A non-nil return means the
// mirror was not updated and the caller must redeliver the transaction later;
// the cursor must not move past it. Panics are contained and reported as
// errors so one bad transaction cannot take down the feed. Redelivery of the
// same transaction is safe.
func (r *Reconciler) Reconcile(ctx context.Context, record *models.TransactionRecord) (err error) {
	start := time.Now()
	outcome := OutcomeError

	defer func() {
		if rec := recover(); rec != nil {
			outcome = OutcomeError
			err = utils.NewAppError(utils.ErrCodeProcessing,
				"panic during reconciliation", fmt.Sprint(rec))
			r.logger.WithFields(logrus.Fields{
				"txid":  record.Txid,
				"panic": rec,
			}).Error("Panic during reconciliation")
		}
		if r.metrics != nil {
			r.metrics.RecordTransactionReconciled(outcome)
			r.metrics.RecordReconcileDuration(time.Since(start))
		}
	}()

	result, err := r.reconcile(ctx, record)
	if err != nil {
		r.logger.WithError(err).WithField("txid", record.Txid).Error("Failed to reconcile transaction")
		return err
	}
	outcome = result
	return nil
}

// reconcile does the actual work and reports the outcome. Split from
// Reconcile so errors stay visible to tests.
func (r *Reconciler) reconcile(ctx context.Context, record *models.TransactionRecord) (string, error) {
	events := r.classifier.Classify(record.LogMessages)
	if len(events) == 0 {
		return OutcomeNoop, nil
	}

	located, err := r.locator.Locate(ctx, record)
	if err != nil {
		return OutcomeError, err
	}
	if located == nil {
		if r.metrics != nil {
			r.metrics.RecordAccountLocated("none")
		}
		return OutcomeSkipped, nil
	}
	if r.metrics != nil {
		if located.Snapshot != nil {
			r.metrics.RecordAccountLocated("chain")
		} else {
			r.metrics.RecordAccountLocated("mirror")
		}
	}

	r.locks.Lock(located.Address)
	defer r.locks.Unlock(located.Address)

	// Re-read under the lock; a concurrent delivery may have mutated the
	// mirror since location.
	account, err := r.store.GetAccount(ctx, located.Address)
	if err != nil {
		return OutcomeError, err
	}

	if account != nil {
		done, err := r.store.HasEventsForTx(ctx, account.ID, record.Txid)
		if err != nil {
			return OutcomeError, err
		}
		if done {
			r.logger.WithField("txid", record.Txid).Debug("Transaction already reconciled")
			return OutcomeNoop, nil
		}
	}

	snapshot := located.Snapshot
	if account == nil && snapshot == nil {
		return OutcomeSkipped, nil
	}

	now := time.Now().UTC()
	created := false
	if account == nil {
		account = &models.ManagedAccount{
			ID:        utils.GenerateID(),
			Address:   located.Address,
			Owner:     snapshot.Owner,
			Mint:      snapshot.Mint,
			Status:    models.AccountStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		created = true
	}

	actor := record.Actor()
	var recorded []*models.AccountEvent

	txStart := time.Now()
	err = r.store.WithinTx(ctx, func(uow storage.UnitOfWork) error {
		var ops []*models.Operator
		if created {
			if err := uow.InsertAccount(ctx, account); err != nil {
				return err
			}
		} else {
			var err error
			ops, err = uow.GetOperators(ctx, account.ID)
			if err != nil {
				return err
			}
		}

		for seq, eventType := range events {
			var data map[string]interface{}

			switch eventType {
			case models.EventAccountCreated:
				if !created && account.Status == models.AccountStatusClosed {
					r.logger.WithFields(logrus.Fields{
						"address": account.Address,
						"txid":    record.Txid,
					}).Warn("Create event for closed account, ignoring")
					continue
				}
				if snapshot != nil {
					var err error
					ops, err = r.resyncOperators(ctx, uow, account.ID, snapshot, now)
					if err != nil {
						return err
					}
				}
				data = map[string]interface{}{"owner": account.Owner, "mint": account.Mint}

			case models.EventAccountClosed:
				if err := uow.UpdateAccountStatus(ctx, account.ID, models.AccountStatusClosed); err != nil {
					return err
				}
				if _, err := uow.DeleteOperatorsByAccount(ctx, account.ID); err != nil {
					return err
				}
				account.Status = models.AccountStatusClosed
				ops = nil

			case models.EventDeposit:
				if amount, sender, ok := ExtractBalanceDelta(record); ok {
					data = map[string]interface{}{"sender": sender, "amount": amount}
				}

			case models.EventTransfer:
				if amount, recipient, ok := ExtractBalanceDelta(record); ok {
					data = map[string]interface{}{"recipient": recipient, "amount": amount}
				}

			case models.EventOperatorAdded:
				slot := FindAddedOperator(snapshot)
				if slot == nil {
					r.logger.WithField("txid", record.Txid).Warn("No operator slot on chain for add, recording event without details")
					break
				}
				op := &models.Operator{
					ID:         utils.GenerateID(),
					AccountID:  account.ID,
					Operator:   slot.Address,
					PerTxLimit: slot.PerTxLimit,
					CreatedAt:  now,
				}
				if err := uow.InsertOperator(ctx, op); err != nil {
					return err
				}
				ops = upsertOperator(ops, op)
				data = map[string]interface{}{"operator": slot.Address, "per_tx_limit": slot.PerTxLimit}

			case models.EventOperatorRemoved:
				removed := FindRemovedOperator(ops, snapshot)
				if removed == "" {
					r.logger.WithField("txid", record.Txid).Warn("Could not determine removed operator, recording event without details")
					break
				}
				if err := uow.DeleteOperator(ctx, account.ID, removed); err != nil {
					return err
				}
				ops = dropOperator(ops, removed)
				data = map[string]interface{}{"operator": removed}

			case models.EventPauseChanged:
				if snapshot == nil {
					r.logger.WithField("txid", record.Txid).Warn("Pause toggle without chain state, skipping")
					continue
				}
				if snapshot.Paused {
					eventType = models.EventPaused
				} else {
					eventType = models.EventUnpaused
				}
			}

			event := &models.AccountEvent{
				ID:        utils.GenerateID(),
				AccountID: account.ID,
				EventType: eventType,
				Txid:      record.Txid,
				Seq:       seq,
				Actor:     actor,
				Data:      data,
				CreatedAt: now,
			}
			if err := uow.InsertEvent(ctx, event); err != nil {
				return err
			}
			recorded = append(recorded, event)
		}
		return nil
	})
	if r.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		r.metrics.RecordDatabaseOperation("reconcile_tx", status, time.Since(txStart))
	}
	if err != nil {
		return OutcomeError, err
	}

	if r.metrics != nil {
		for _, event := range recorded {
			r.metrics.RecordEventRecorded(string(event.EventType))
		}
	}
	if r.notifier != nil && len(recorded) > 0 {
		r.notifier.Publish(account.Address, recorded)
	}
	r.logger.WithFields(logrus.Fields{
		"txid":    record.Txid,
		"address": account.Address,
		"events":  len(recorded),
	}).Info("Reconciled transaction")
	return OutcomeApplied, nil
}

// resyncOperators replaces the mirrored operator set with the on-chain slots
func (r *Reconciler) resyncOperators(ctx context.Context, uow storage.UnitOfWork, accountID string, snapshot *models.AccountSnapshot, now time.Time) ([]*models.Operator, error) {
	if _, err := uow.DeleteOperatorsByAccount(ctx, accountID); err != nil {
		return nil, err
	}
	var ops []*models.Operator
	for _, slot := range snapshot.Operators {
		op := &models.Operator{
			ID:         utils.GenerateID(),
			AccountID:  accountID,
			Operator:   slot.Address,
			PerTxLimit: slot.PerTxLimit,
			CreatedAt:  now,
		}
		if err := uow.InsertOperator(ctx, op); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func upsertOperator(ops []*models.Operator, op *models.Operator) []*models.Operator {
	for i, existing := range ops {
		if existing.Operator == op.Operator {
			ops[i] = op
			return ops
		}
	}
	return append(ops, op)
}

func dropOperator(ops []*models.Operator, operator string) []*models.Operator {
	for i, existing := range ops {
		if existing.Operator == operator {
			return append(ops[:i], ops[i+1:]...)
		}
	}
	return ops
}
