// File: internal/server/handlers_test.go
package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silk-labs/silk-indexer/internal/auth"
	"github.com/silk-labs/silk-indexer/internal/config"
	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/internal/storage"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// testAddress builds a valid base58 32-byte address from a fill byte
func testAddress(fill byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = fill
	}
	return utils.Base58Encode(raw)
}

func newTestServer(t *testing.T, enableAuth bool) (*HTTPServer, storage.Storage) {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: ":memory:",
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	cfg := &config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		EnableHealth: true,
		EnableAuth:   enableAuth,
	}
	return NewHTTPServer(cfg, store, nil, nil, auth.NewService(store), nil, "test"), store
}

func seedAccount(t *testing.T, store storage.Storage, account *models.ManagedAccount, operators ...*models.Operator) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(uow storage.UnitOfWork) error {
		if err := uow.InsertAccount(context.Background(), account); err != nil {
			return err
		}
		for _, op := range operators {
			if err := uow.InsertOperator(context.Background(), op); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func seedEvent(t *testing.T, store storage.Storage, event *models.AccountEvent) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(uow storage.UnitOfWork) error {
		return uow.InsertEvent(context.Background(), event)
	})
	require.NoError(t, err)
}

func doRequest(s *HTTPServer, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		encoded, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(encoded)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	s.router.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, false)

	recorder := doRequest(server, "GET", "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestDetailedHealthDegradedWithoutChain(t *testing.T) {
	server, _ := newTestServer(t, false)

	recorder := doRequest(server, "GET", "/api/v1/health/detailed", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	// No chain connection wired means degraded, storage stays healthy.
	body := decodeBody(t, recorder)
	assert.Equal(t, "degraded", body["status"])
}

func TestGetAccount(t *testing.T) {
	server, store := newTestServer(t, false)

	address := testAddress(1)
	account := &models.ManagedAccount{
		ID:      utils.GenerateID(),
		Address: address,
		Owner:   testAddress(2),
		Mint:    testAddress(3),
		Status:  models.AccountStatusActive,
	}
	seedAccount(t, store, account, &models.Operator{
		ID:         utils.GenerateID(),
		AccountID:  account.ID,
		Operator:   testAddress(4),
		PerTxLimit: "1000",
	})

	recorder := doRequest(server, "GET", "/api/v1/accounts/"+address, nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, address, body["address"])
	assert.Equal(t, "ACTIVE", body["status"])
	operators, ok := body["operators"].([]interface{})
	require.True(t, ok)
	assert.Len(t, operators, 1)
}

func TestGetAccountNotFound(t *testing.T) {
	server, _ := newTestServer(t, false)

	recorder := doRequest(server, "GET", "/api/v1/accounts/"+testAddress(9), nil, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGetAccountInvalidAddress(t *testing.T) {
	server, _ := newTestServer(t, false)

	recorder := doRequest(server, "GET", "/api/v1/accounts/not-an-address", nil, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestListAccountsByOwner(t *testing.T) {
	server, store := newTestServer(t, false)

	owner := testAddress(2)
	for i := byte(0); i < 2; i++ {
		seedAccount(t, store, &models.ManagedAccount{
			ID:      utils.GenerateID(),
			Address: testAddress(10 + i),
			Owner:   owner,
			Mint:    testAddress(3),
			Status:  models.AccountStatusActive,
		})
	}

	recorder := doRequest(server, "GET", "/api/v1/accounts?owner="+owner, nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, float64(2), body["count"])
}

func TestListAccountsRequiresOwner(t *testing.T) {
	server, _ := newTestServer(t, false)

	recorder := doRequest(server, "GET", "/api/v1/accounts", nil, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestListEvents(t *testing.T) {
	server, store := newTestServer(t, false)

	address := testAddress(1)
	account := &models.ManagedAccount{
		ID:      utils.GenerateID(),
		Address: address,
		Owner:   testAddress(2),
		Mint:    testAddress(3),
		Status:  models.AccountStatusActive,
	}
	seedAccount(t, store, account)
	seedEvent(t, store, &models.AccountEvent{
		ID:        utils.GenerateID(),
		AccountID: account.ID,
		EventType: models.EventAccountCreated,
		Txid:      "tx1",
		Seq:       0,
		Actor:     testAddress(2),
		CreatedAt: time.Now(),
	})
	seedEvent(t, store, &models.AccountEvent{
		ID:        utils.GenerateID(),
		AccountID: account.ID,
		EventType: models.EventDeposit,
		Txid:      "tx2",
		Seq:       0,
		Actor:     testAddress(5),
		Data:      map[string]interface{}{"amount": "100"},
		CreatedAt: time.Now(),
	})

	recorder := doRequest(server, "GET", fmt.Sprintf("/api/v1/accounts/%s/events", address), nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, float64(2), body["total"])
	events, ok := body["events"].([]interface{})
	require.True(t, ok)
	assert.Len(t, events, 2)

	// Type filter narrows the trail.
	recorder = doRequest(server, "GET", fmt.Sprintf("/api/v1/accounts/%s/events?type=DEPOSIT", address), nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body = decodeBody(t, recorder)
	assert.Equal(t, float64(1), body["total"])

	// The provisional pause marker is not queryable.
	recorder = doRequest(server, "GET", fmt.Sprintf("/api/v1/accounts/%s/events?type=PAUSE_CHANGED", address), nil, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doRequest(server, "GET", fmt.Sprintf("/api/v1/accounts/%s/events?limit=0", address), nil, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestOperatorAccounts(t *testing.T) {
	server, store := newTestServer(t, false)

	operator := testAddress(7)
	account := &models.ManagedAccount{
		ID:      utils.GenerateID(),
		Address: testAddress(1),
		Owner:   testAddress(2),
		Mint:    testAddress(3),
		Status:  models.AccountStatusActive,
	}
	seedAccount(t, store, account, &models.Operator{
		ID:         utils.GenerateID(),
		AccountID:  account.ID,
		Operator:   operator,
		PerTxLimit: "500",
	})

	recorder := doRequest(server, "GET", fmt.Sprintf("/api/v1/operators/%s/accounts", operator), nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, float64(1), body["count"])
}

func TestAuthFlow(t *testing.T) {
	server, _ := newTestServer(t, true)

	// Protected routes demand a key.
	recorder := doRequest(server, "GET", "/api/v1/accounts/"+testAddress(1), nil, nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pubkey := utils.Base58Encode(pub)

	recorder = doRequest(server, "POST", "/api/v1/auth/challenge", map[string]string{"pubkey": pubkey}, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	nonce, ok := decodeBody(t, recorder)["challenge"].(string)
	require.True(t, ok)

	signature := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(nonce)))
	recorder = doRequest(server, "POST", "/api/v1/auth/verify", map[string]string{
		"pubkey":    pubkey,
		"signature": signature,
	}, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	apiKey, ok := decodeBody(t, recorder)["api_key"].(string)
	require.True(t, ok)

	// The issued key opens the protected surface.
	authHeader := map[string]string{"Authorization": "Bearer " + apiKey}
	recorder = doRequest(server, "GET", "/api/v1/accounts/"+testAddress(1), nil, authHeader)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	// Revocation closes it again.
	recorder = doRequest(server, "POST", "/api/v1/auth/revoke", nil, authHeader)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, true, decodeBody(t, recorder)["revoked"])

	recorder = doRequest(server, "GET", "/api/v1/accounts/"+testAddress(1), nil, authHeader)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestAuthVerifyBadSignature(t *testing.T) {
	server, _ := newTestServer(t, true)

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pubkey := utils.Base58Encode(pub)

	recorder := doRequest(server, "POST", "/api/v1/auth/challenge", map[string]string{"pubkey": pubkey}, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	signature := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, ed25519.SignatureSize))
	recorder = doRequest(server, "POST", "/api/v1/auth/verify", map[string]string{
		"pubkey":    pubkey,
		"signature": signature,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}
