package models

import (
	"time"
)

// EventType enumerates the classified occurrences recorded for a managed
// account.
type EventType string

const (
	EventAccountCreated  EventType = "ACCOUNT_CREATED"
	EventAccountClosed   EventType = "ACCOUNT_CLOSED"
	EventDeposit         EventType = "DEPOSIT"
	EventTransfer        EventType = "TRANSFER"
	EventOperatorAdded   EventType = "OPERATOR_ADDED"
	EventOperatorRemoved EventType = "OPERATOR_REMOVED"
	EventPaused          EventType = "PAUSED"
	EventUnpaused        EventType = "UNPAUSED"

	// EventPauseChanged is a provisional marker emitted by the log
	// classifier for the pause-toggle instruction. The direction depends on
	// post-transaction account state, so the reconciler resolves it to
	// EventPaused or EventUnpaused before anything is persisted.
	EventPauseChanged EventType = "PAUSE_CHANGED"
)

// IsValid reports whether t is a persistable event type. The provisional
// pause marker is deliberately excluded.
func (t EventType) IsValid() bool {
	switch t {
	case EventAccountCreated, EventAccountClosed, EventDeposit, EventTransfer,
		EventOperatorAdded, EventOperatorRemoved, EventPaused, EventUnpaused:
		return true
	}
	return false
}

// AccountEvent is one append-only audit record. Rows are immutable once
// written; (account_id, txid, event_type, seq) is unique so redelivery of a
// transaction cannot duplicate its trail.
type AccountEvent struct {
	ID        string                 `json:"id" db:"id"`
	AccountID string                 `json:"account_id" db:"account_id"`
	EventType EventType              `json:"event_type" db:"event_type"`
	Txid      string                 `json:"txid" db:"txid"`
	Seq       int                    `json:"seq" db:"seq"`
	Actor     string                 `json:"actor" db:"actor"`
	Data      map[string]interface{} `json:"data,omitempty" db:"data"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// EventFilter selects events for the read API. Results are ordered newest
// first.
type EventFilter struct {
	AccountID string     `json:"account_id"`
	EventType *EventType `json:"event_type,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}
