package models

import (
	"time"
)

// APIKey binds a wallet public key to a hashed API credential. Only the
// sha-256 hash of the raw key is ever stored.
type APIKey struct {
	ID        string     `json:"id" db:"id"`
	Pubkey    string     `json:"pubkey" db:"pubkey"`
	KeyHash   string     `json:"-" db:"key_hash"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}
