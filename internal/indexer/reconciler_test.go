// File: internal/indexer/reconciler_test.go
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silk-labs/silk-indexer/internal/chain"
	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/internal/storage"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// fakeChain serves account snapshots from a map. Addresses absent from the
// map behave like unallocated chain accounts.
type fakeChain struct {
	mu       sync.Mutex
	accounts map[string]*models.AccountSnapshot
	errs     map[string]error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		accounts: make(map[string]*models.AccountSnapshot),
		errs:     make(map[string]error),
	}
}

func (f *fakeChain) setAccount(address string, snapshot *models.AccountSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snapshot == nil {
		delete(f.accounts, address)
		return
	}
	f.accounts[address] = snapshot
}

func (f *fakeChain) FetchAccount(ctx context.Context, address string) (*models.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, found := f.errs[address]; found {
		return nil, err
	}
	if snapshot, found := f.accounts[address]; found {
		copied := *snapshot
		return &copied, nil
	}
	return nil, chain.ErrNotManagedAccount
}

func (f *fakeChain) RecentSignatures(ctx context.Context, programID string, limit int, until string) ([]string, error) {
	return nil, nil
}

func (f *fakeChain) GetTransaction(ctx context.Context, signature string) (*models.TransactionRecord, error) {
	return nil, nil
}

func (f *fakeChain) HealthCheck(ctx context.Context) error {
	return nil
}

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: ":memory:",
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func txRecord(txid string, keys []string, instructions ...string) *models.TransactionRecord {
	var logs []string
	for _, instruction := range instructions {
		logs = append(logs,
			"Program "+testProgramID+" invoke [1]",
			"Program log: Instruction: "+instruction,
			"Program "+testProgramID+" success")
	}
	return &models.TransactionRecord{Txid: txid, LogMessages: logs, AccountKeys: keys}
}

func eventTypes(events []*models.AccountEvent) []models.EventType {
	types := make([]models.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func TestReconcileCreateAccount(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{
		Owner: "owner1",
		Mint:  "mintA",
	})

	outcome, err := r.reconcile(ctx, txRecord("tx1", []string{"payer", "acct1"}, "CreateAccount"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	account, err := store.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "owner1", account.Owner)
	assert.Equal(t, "mintA", account.Mint)
	assert.Equal(t, models.AccountStatusActive, account.Status)

	events, err := store.GetEvents(ctx, models.EventFilter{AccountID: account.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventAccountCreated, events[0].EventType)
	assert.Equal(t, "tx1", events[0].Txid)
	assert.Equal(t, "payer", events[0].Actor)
	assert.Equal(t, "owner1", events[0].Data["owner"])
}

func TestReconcileIdempotent(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{Owner: "owner1", Mint: "mintA"})
	record := txRecord("tx1", []string{"payer", "acct1"}, "CreateAccount")

	outcome, err := r.reconcile(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	// Redelivery of the same transaction must not duplicate anything.
	outcome, err = r.reconcile(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)

	account, err := store.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	events, err := store.GetEvents(ctx, models.EventFilter{AccountID: account.ID})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestReconcileOperatorLifecycle(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{Owner: "owner1", Mint: "mintA"})
	_, err := r.reconcile(ctx, txRecord("tx-create", []string{"owner1", "acct1"}, "CreateAccount"))
	require.NoError(t, err)

	chainClient.setAccount("acct1", &models.AccountSnapshot{
		Owner: "owner1", Mint: "mintA",
		Operators: []models.OperatorSlot{{Address: "op1", PerTxLimit: "100"}},
	})
	_, err = r.reconcile(ctx, txRecord("tx-add1", []string{"owner1", "acct1"}, "AddOperator"))
	require.NoError(t, err)

	chainClient.setAccount("acct1", &models.AccountSnapshot{
		Owner: "owner1", Mint: "mintA",
		Operators: []models.OperatorSlot{
			{Address: "op1", PerTxLimit: "100"},
			{Address: "op2", PerTxLimit: "50"},
		},
	})
	_, err = r.reconcile(ctx, txRecord("tx-add2", []string{"owner1", "acct1"}, "AddOperator"))
	require.NoError(t, err)

	chainClient.setAccount("acct1", &models.AccountSnapshot{
		Owner: "owner1", Mint: "mintA",
		Operators: []models.OperatorSlot{{Address: "op2", PerTxLimit: "50"}},
	})
	_, err = r.reconcile(ctx, txRecord("tx-remove", []string{"owner1", "acct1"}, "RemoveOperator"))
	require.NoError(t, err)

	account, err := store.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	operators, err := store.GetOperators(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, operators, 1)
	assert.Equal(t, "op2", operators[0].Operator)
	assert.Equal(t, "50", operators[0].PerTxLimit)

	events, err := store.GetEvents(ctx, models.EventFilter{AccountID: account.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.EventType{
		models.EventAccountCreated,
		models.EventOperatorAdded,
		models.EventOperatorAdded,
		models.EventOperatorRemoved,
	}, eventTypes(events))
}

func TestReconcileCloseRemovesOperators(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{
		Owner: "owner1", Mint: "mintA",
		Operators: []models.OperatorSlot{{Address: "op1", PerTxLimit: "100"}},
	})
	_, err := r.reconcile(ctx, txRecord("tx-create", []string{"owner1", "acct1"}, "CreateAccount"))
	require.NoError(t, err)

	// The program deallocates the account on close, so the chain no longer
	// knows the address. Location must fall back to the mirror.
	chainClient.setAccount("acct1", nil)
	outcome, err := r.reconcile(ctx, txRecord("tx-close", []string{"owner1", "acct1"}, "CloseAccount"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	account, err := store.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, models.AccountStatusClosed, account.Status)

	operators, err := store.GetOperators(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, operators)
}

func TestReconcileCreateOnClosedAccountIgnored(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{Owner: "owner1", Mint: "mintA"})
	_, err := r.reconcile(ctx, txRecord("tx-create", []string{"owner1", "acct1"}, "CreateAccount"))
	require.NoError(t, err)
	chainClient.setAccount("acct1", nil)
	_, err = r.reconcile(ctx, txRecord("tx-close", []string{"owner1", "acct1"}, "CloseAccount"))
	require.NoError(t, err)

	// A late create delivery for a closed mirror must not resurrect it.
	chainClient.setAccount("acct1", &models.AccountSnapshot{Owner: "owner1", Mint: "mintA"})
	_, err = r.reconcile(ctx, txRecord("tx-late-create", []string{"owner1", "acct1"}, "CreateAccount"))
	require.NoError(t, err)

	account, err := store.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusClosed, account.Status)

	events, err := store.GetEvents(ctx, models.EventFilter{AccountID: account.ID})
	require.NoError(t, err)
	for _, event := range events {
		assert.NotEqual(t, "tx-late-create", event.Txid)
	}
}

func TestReconcileTransferBalanceDelta(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{Owner: "owner1", Mint: "mintA"})
	_, err := r.reconcile(ctx, txRecord("tx-create", []string{"owner1", "acct1"}, "CreateAccount"))
	require.NoError(t, err)

	record := txRecord("tx-transfer", []string{"owner1", "acct1"}, "TransferFromAccount")
	record.PreTokenBalances = []models.TokenBalance{
		{AccountIndex: 2, Owner: "recipientX", Amount: "1000"},
	}
	record.PostTokenBalances = []models.TokenBalance{
		{AccountIndex: 2, Owner: "recipientX", Amount: "600"},
	}
	_, err = r.reconcile(ctx, record)
	require.NoError(t, err)

	account, err := store.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	transferType := models.EventTransfer
	events, err := store.GetEvents(ctx, models.EventFilter{AccountID: account.ID, EventType: &transferType})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "400", events[0].Data["amount"])
	assert.Equal(t, "recipientX", events[0].Data["recipient"])
}

func TestReconcileDepositRecordsSender(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{Owner: "owner1", Mint: "mintA"})
	_, err := r.reconcile(ctx, txRecord("tx-create", []string{"owner1", "acct1"}, "CreateAccount"))
	require.NoError(t, err)

	record := txRecord("tx-deposit", []string{"senderY", "acct1"}, "Deposit")
	record.PreTokenBalances = []models.TokenBalance{
		{AccountIndex: 2, Owner: "senderY", Amount: "500"},
	}
	record.PostTokenBalances = []models.TokenBalance{
		{AccountIndex: 2, Owner: "senderY", Amount: "300"},
	}
	_, err = r.reconcile(ctx, record)
	require.NoError(t, err)

	account, err := store.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	depositType := models.EventDeposit
	events, err := store.GetEvents(ctx, models.EventFilter{AccountID: account.ID, EventType: &depositType})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "200", events[0].Data["amount"])
	assert.Equal(t, "senderY", events[0].Data["sender"])
}

func TestReconcileNoInstructionsIsNoop(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{Owner: "owner1", Mint: "mintA"})

	record := &models.TransactionRecord{
		Txid:        "tx-empty",
		LogMessages: []string{"Program log: nothing relevant"},
		AccountKeys: []string{"owner1", "acct1"},
	}
	outcome, err := r.reconcile(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)

	account, err := store.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestReconcileNoManagedAccountSkipped(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	outcome, err := r.reconcile(ctx, txRecord("tx1", []string{"random1", "random2"}, "Deposit"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestReconcileTransientFetchErrorAborts(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	chainClient.errs["acct1"] = errors.New("rpc timeout")
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	outcome, err := r.reconcile(ctx, txRecord("tx1", []string{"owner1", "acct1"}, "Deposit"))
	assert.Error(t, err)
	assert.Equal(t, OutcomeError, outcome)
}

func TestReconcilePauseResolution(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{Owner: "owner1", Mint: "mintA"})
	_, err := r.reconcile(ctx, txRecord("tx-create", []string{"owner1", "acct1"}, "CreateAccount"))
	require.NoError(t, err)

	chainClient.setAccount("acct1", &models.AccountSnapshot{Owner: "owner1", Mint: "mintA", Paused: true})
	_, err = r.reconcile(ctx, txRecord("tx-pause", []string{"owner1", "acct1"}, "TogglePause"))
	require.NoError(t, err)

	chainClient.setAccount("acct1", &models.AccountSnapshot{Owner: "owner1", Mint: "mintA", Paused: false})
	_, err = r.reconcile(ctx, txRecord("tx-unpause", []string{"owner1", "acct1"}, "TogglePause"))
	require.NoError(t, err)

	account, err := store.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	events, err := store.GetEvents(ctx, models.EventFilter{AccountID: account.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.EventType{
		models.EventAccountCreated,
		models.EventPaused,
		models.EventUnpaused,
	}, eventTypes(events))
}

func TestReconcileDoublePauseToggle(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{Owner: "owner1", Mint: "mintA"})
	_, err := r.reconcile(ctx, txRecord("tx-create", []string{"owner1", "acct1"}, "CreateAccount"))
	require.NoError(t, err)

	// Two toggles in one transaction both resolve against final state.
	chainClient.setAccount("acct1", &models.AccountSnapshot{Owner: "owner1", Mint: "mintA", Paused: true})
	outcome, err := r.reconcile(ctx, txRecord("tx-double", []string{"owner1", "acct1"}, "TogglePause", "TogglePause"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	account, err := store.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	pausedType := models.EventPaused
	events, err := store.GetEvents(ctx, models.EventFilter{AccountID: account.ID, EventType: &pausedType})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestReconcileConcurrentAccounts(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	const accounts = 8
	for i := 0; i < accounts; i++ {
		address := fmt.Sprintf("acct%d", i)
		chainClient.setAccount(address, &models.AccountSnapshot{
			Owner: fmt.Sprintf("owner%d", i),
			Mint:  "mintA",
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < accounts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			address := fmt.Sprintf("acct%d", i)
			assert.NoError(t, r.Reconcile(ctx, txRecord("tx-"+address, []string{"payer", address}, "CreateAccount")))
		}(i)
	}
	wg.Wait()

	for i := 0; i < accounts; i++ {
		address := fmt.Sprintf("acct%d", i)
		account, err := store.GetAccount(ctx, address)
		require.NoError(t, err)
		require.NotNil(t, account, "account %s missing", address)

		events, err := store.GetEvents(ctx, models.EventFilter{AccountID: account.ID})
		require.NoError(t, err)
		assert.Len(t, events, 1)
	}
}

func TestReconcileConcurrentSameAccount(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{
		Owner:     "owner1",
		Mint:      "mintA",
		Operators: []models.OperatorSlot{{Address: "op1", PerTxLimit: "100"}},
	})
	require.NoError(t, r.Reconcile(ctx, txRecord("tx-create", []string{"payer", "acct1"}, "CreateAccount")))

	// Post-transaction chain state after both racing transactions: op1 was
	// removed and op2 added.
	chainClient.setAccount("acct1", &models.AccountSnapshot{
		Owner:     "owner1",
		Mint:      "mintA",
		Operators: []models.OperatorSlot{{Address: "op2", PerTxLimit: "50"}},
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, r.Reconcile(ctx, txRecord("tx-add", []string{"payer", "acct1"}, "AddOperator")))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, r.Reconcile(ctx, txRecord("tx-remove", []string{"payer", "acct1"}, "RemoveOperator")))
	}()
	wg.Wait()

	// Whichever order the lock granted, the operator set must match the
	// chain: op1 gone, op2 present.
	account, err := store.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	operators, err := store.GetOperators(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, operators, 1)
	assert.Equal(t, "op2", operators[0].Operator)
	assert.Equal(t, "50", operators[0].PerTxLimit)

	events, err := store.GetEvents(ctx, models.EventFilter{AccountID: account.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]models.EventType{models.EventAccountCreated, models.EventOperatorAdded, models.EventOperatorRemoved},
		eventTypes(events))
}

func TestReconcileConcurrentRedelivery(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{
		Owner:     "owner1",
		Mint:      "mintA",
		Operators: []models.OperatorSlot{{Address: "op1", PerTxLimit: "100"}},
	})
	require.NoError(t, r.Reconcile(ctx, txRecord("tx-create", []string{"payer", "acct1"}, "CreateAccount")))

	// Eight simultaneous deliveries of the same transaction: exactly one may
	// apply, the rest must observe its events and no-op.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Reconcile(ctx, txRecord("tx-add", []string{"payer", "acct1"}, "AddOperator")))
		}()
	}
	wg.Wait()

	account, err := store.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	operators, err := store.GetOperators(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, operators, 1)

	addedType := models.EventOperatorAdded
	events, err := store.GetEvents(ctx, models.EventFilter{AccountID: account.ID, EventType: &addedType})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestReconcileSurfacesTransientFailure(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	chainClient.errs["acct1"] = errors.New("rpc timeout")
	r := NewReconciler(store, chainClient, testProgramID, nil)

	// No panic, but the failure must reach the caller so the feed holds its
	// cursor and redelivers the transaction.
	err := r.Reconcile(context.Background(), txRecord("tx1", []string{"acct1"}, "Deposit"))
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeConnection))
}

type recordingNotifier struct {
	mu     sync.Mutex
	calls  int
	events []*models.AccountEvent
}

func (n *recordingNotifier) Publish(address string, events []*models.AccountEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.events = append(n.events, events...)
}

func TestReconcileNotifiesAppendedEvents(t *testing.T) {
	store := newTestStorage(t)
	chainClient := newFakeChain()
	r := NewReconciler(store, chainClient, testProgramID, nil)
	notifier := &recordingNotifier{}
	r.SetNotifier(notifier)
	ctx := context.Background()

	chainClient.setAccount("acct1", &models.AccountSnapshot{
		Owner: "owner1",
		Mint:  "mintA",
		Operators: []models.OperatorSlot{
			{Address: "op1", PerTxLimit: "100"},
		},
	})
	record := txRecord("tx1", []string{"payer", "acct1"}, "CreateAccount", "AddOperator")

	require.NoError(t, r.Reconcile(ctx, record))

	notifier.mu.Lock()
	assert.Equal(t, 1, notifier.calls)
	assert.ElementsMatch(t,
		[]models.EventType{models.EventAccountCreated, models.EventOperatorAdded},
		eventTypes(notifier.events))
	notifier.mu.Unlock()

	// Redelivery appends nothing, so nothing to announce.
	require.NoError(t, r.Reconcile(ctx, record))
	notifier.mu.Lock()
	assert.Equal(t, 1, notifier.calls)
	notifier.mu.Unlock()
}
