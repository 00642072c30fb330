// File: internal/notify/notify_test.go
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silk-labs/silk-indexer/internal/config"
	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

type captureSink struct {
	mu      sync.Mutex
	got     []*Notification
	release chan struct{}
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Send(_ context.Context, n *Notification) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

func (s *captureSink) notifications() []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Notification(nil), s.got...)
}

func testEvents(types ...models.EventType) []*models.AccountEvent {
	events := make([]*models.AccountEvent, 0, len(types))
	for seq, eventType := range types {
		events = append(events, &models.AccountEvent{
			ID:        utils.GenerateID(),
			AccountID: "acct-1",
			EventType: eventType,
			Txid:      "tx-1",
			Seq:       seq,
			CreatedAt: time.Now().UTC(),
		})
	}
	return events
}

func TestManagerDeliversQueuedNotifications(t *testing.T) {
	sink := &captureSink{}
	manager := NewManager(&config.NotificationsConfig{QueueSize: 8}, sink)

	require.NoError(t, manager.Start(context.Background()))
	manager.Publish("SilkAcct1111", testEvents(models.EventAccountCreated, models.EventOperatorAdded))
	manager.Publish("SilkAcct2222", testEvents(models.EventDeposit))
	require.NoError(t, manager.Stop())

	got := sink.notifications()
	require.Len(t, got, 2)
	assert.Equal(t, "SilkAcct1111", got[0].Address)
	assert.Len(t, got[0].Events, 2)
	assert.Equal(t, "SilkAcct2222", got[1].Address)

	stats := manager.GetStats()
	assert.Equal(t, int64(2), stats.Queued)
	assert.Equal(t, int64(2), stats.Delivered)
	assert.Equal(t, int64(0), stats.Dropped)
}

func TestManagerStopDrainsQueue(t *testing.T) {
	sink := &captureSink{}
	manager := NewManager(&config.NotificationsConfig{QueueSize: 16}, sink)

	require.NoError(t, manager.Start(context.Background()))
	for i := 0; i < 10; i++ {
		manager.Publish("SilkAcct1111", testEvents(models.EventDeposit))
	}
	require.NoError(t, manager.Stop())

	assert.Len(t, sink.notifications(), 10)
	assert.False(t, manager.IsRunning())
}

func TestManagerDropsWhenQueueFull(t *testing.T) {
	sink := &captureSink{release: make(chan struct{})}
	manager := NewManager(&config.NotificationsConfig{QueueSize: 1}, sink)

	require.NoError(t, manager.Start(context.Background()))

	// The blocked worker holds at most one notification and the queue holds
	// one more, so a third publish has nowhere to go.
	manager.Publish("SilkAcct1111", testEvents(models.EventDeposit))
	manager.Publish("SilkAcct2222", testEvents(models.EventDeposit))
	manager.Publish("SilkAcct3333", testEvents(models.EventDeposit))

	close(sink.release)
	require.NoError(t, manager.Stop())
	assert.GreaterOrEqual(t, manager.GetStats().Dropped, int64(1))
}

func TestPublishAfterStopIsNoop(t *testing.T) {
	sink := &captureSink{}
	manager := NewManager(&config.NotificationsConfig{QueueSize: 4}, sink)

	require.NoError(t, manager.Start(context.Background()))
	require.NoError(t, manager.Stop())

	manager.Publish("SilkAcct1111", testEvents(models.EventDeposit))
	assert.Empty(t, sink.notifications())
	assert.Equal(t, int64(0), manager.GetStats().Queued)
}

func TestWebhookSinkSendsPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []webhookPayload
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var payload webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		mu.Lock()
		payloads = append(payloads, payload)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewWebhookSink(&config.NotificationsConfig{
		WebhookURL:    server.URL,
		Timeout:       5 * time.Second,
		RetryAttempts: 1,
	})
	require.NoError(t, err)

	n := &Notification{
		Address:   "SilkAcct1111",
		Events:    testEvents(models.EventOperatorAdded),
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, sink.Send(context.Background(), n))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, payloads, 1)
	assert.Equal(t, "silk-indexer", payloads[0].Source)
	assert.Equal(t, "account_events", payloads[0].Type)
	require.NotNil(t, payloads[0].Data)
	assert.Equal(t, "SilkAcct1111", payloads[0].Data.Address)
	require.Len(t, payloads[0].Data.Events, 1)
	assert.Equal(t, models.EventOperatorAdded, payloads[0].Data.Events[0].EventType)
}

func TestWebhookSinkRetriesUntilSuccess(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		first := attempts == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewWebhookSink(&config.NotificationsConfig{
		WebhookURL:    server.URL,
		Timeout:       5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	})
	require.NoError(t, err)

	err = sink.Send(context.Background(), &Notification{
		Address: "SilkAcct1111",
		Events:  testEvents(models.EventDeposit),
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestWebhookSinkGivesUpAfterRetries(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink, err := NewWebhookSink(&config.NotificationsConfig{
		WebhookURL:    server.URL,
		Timeout:       5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	})
	require.NoError(t, err)

	err = sink.Send(context.Background(), &Notification{
		Address: "SilkAcct1111",
		Events:  testEvents(models.EventDeposit),
	})
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeConnection))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestWebhookSinkRequiresURL(t *testing.T) {
	_, err := NewWebhookSink(&config.NotificationsConfig{})
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))
}

func TestLogSinkAcceptsNotification(t *testing.T) {
	sink := NewLogSink()
	err := sink.Send(context.Background(), &Notification{
		Address: "SilkAcct1111",
		Events:  testEvents(models.EventPaused),
	})
	assert.NoError(t, err)
}
