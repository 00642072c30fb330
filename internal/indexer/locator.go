// File: internal/indexer/locator.go
package indexer

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/silk-labs/silk-indexer/internal/chain"
	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/internal/storage"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// Located is the managed account a transaction acted on. Snapshot is the
// decoded on-chain state when the account still exists on chain, nil when it
// was found only in the mirror (closed accounts are deallocated on chain).
// Mirror is the local row, nil when the account has not been indexed yet.
type Located struct {
	Address  string
	Snapshot *models.AccountSnapshot
	Mirror   *models.ManagedAccount
}

// Locator finds which of a transaction's referenced addresses is a managed
// account of the program.
type Locator struct {
	chain  chain.Client
	store  storage.Storage
	logger *logrus.Entry
}

// NewLocator creates a new locator
func NewLocator(chainClient chain.Client, store storage.Storage) *Locator {
	return &Locator{
		chain:  chainClient,
		store:  store,
		logger: utils.ComponentLogger("locator"),
	}
}

// Locate scans the transaction's referenced addresses for a managed account.
// It tries the chain first so fresh state is available, then falls back to the
// mirror for accounts that no longer exist on chain. Returns (nil, nil) when
// the transaction touched no managed account. Returns an error only when
// transient fetch failures left some addresses unverified and no match was
// found elsewhere; the caller should abort so the transaction is redelivered.
func (l *Locator) Locate(ctx context.Context, record *models.TransactionRecord) (*Located, error) {
	var transientErr error

	for _, address := range record.AccountKeys {
		snapshot, err := l.chain.FetchAccount(ctx, address)
		if errors.Is(err, chain.ErrNotManagedAccount) {
			continue
		}
		if err != nil {
			// Endpoint trouble, not a verdict on the address. Keep
			// scanning; only give up at the end.
			l.logger.WithError(err).WithField("address", address).Debug("Account fetch failed, will retry via mirror")
			transientErr = err
			continue
		}

		mirror, err := l.store.GetAccount(ctx, address)
		if err != nil {
			return nil, err
		}
		return &Located{Address: address, Snapshot: snapshot, Mirror: mirror}, nil
	}

	// Closed accounts are gone from the chain but still mirrored locally.
	for _, address := range record.AccountKeys {
		mirror, err := l.store.GetAccount(ctx, address)
		if err != nil {
			return nil, err
		}
		if mirror != nil {
			return &Located{Address: address, Mirror: mirror}, nil
		}
	}

	if transientErr != nil {
		return nil, utils.NewAppError(utils.ErrCodeConnection,
			"could not verify all referenced addresses", transientErr.Error())
	}
	return nil, nil
}
