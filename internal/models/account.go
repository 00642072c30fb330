package models

import (
	"time"
)

// AccountStatus is the lifecycle state of a mirrored managed account.
// The transition is monotonic: ACTIVE -> CLOSED. A closed account is never
// reopened under the same address; the program allocates a fresh address on
// re-creation.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// ManagedAccount mirrors one on-chain delegated-signing account.
type ManagedAccount struct {
	ID        string        `json:"id" db:"id"`
	Address   string        `json:"address" db:"address"`
	Owner     string        `json:"owner" db:"owner"`
	Mint      string        `json:"mint" db:"mint"`
	Status    AccountStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`

	// Populated by owner/operator queries, not stored on the row itself.
	Operators []*Operator `json:"operators,omitempty" db:"-"`
}

// Operator is a delegated signer on a managed account. The per-transaction
// limit is kept as decimal text so arbitrary-precision amounts survive the
// round trip through storage.
type Operator struct {
	ID         string    `json:"id" db:"id"`
	AccountID  string    `json:"account_id" db:"account_id"`
	Operator   string    `json:"operator" db:"operator"`
	PerTxLimit string    `json:"per_tx_limit" db:"per_tx_limit"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
