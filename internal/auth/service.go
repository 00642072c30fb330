// File: internal/auth/service.go
package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/internal/storage"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// challengeTTL is how long a signing challenge stays valid
const challengeTTL = 60 * time.Second

type challenge struct {
	nonce     string
	expiresAt time.Time
}

// Service issues and validates API keys. Key issuance is proof-of-ownership:
// the caller signs a short-lived nonce with the wallet key, and a valid
// signature trades for a bearer API key. Only the key's hash is stored.
type Service struct {
	store  storage.Storage
	logger *logrus.Entry

	mu         sync.Mutex
	challenges map[string]challenge
}

// NewService creates a new auth service
func NewService(store storage.Storage) *Service {
	return &Service{
		store:      store,
		logger:     utils.ComponentLogger("auth"),
		challenges: make(map[string]challenge),
	}
}

// GenerateChallenge returns a nonce the wallet must sign to prove ownership
// of pubkey. The nonce expires after one minute and is single use.
func (s *Service) GenerateChallenge(pubkey string) (string, error) {
	if !utils.IsValidAddress(pubkey) {
		return "", utils.NewAppError(utils.ErrCodeValidation, "invalid public key", pubkey)
	}

	s.PruneExpiredChallenges()

	nonce := fmt.Sprintf("silk_%s", uuid.NewString())
	s.mu.Lock()
	s.challenges[pubkey] = challenge{nonce: nonce, expiresAt: time.Now().Add(challengeTTL)}
	s.mu.Unlock()
	return nonce, nil
}

// VerifyAndIssueKey checks the signature over the outstanding challenge and,
// if valid, issues a fresh API key for pubkey. The raw key is returned
// exactly once; only its hash is persisted. Re-issuing replaces any earlier
// key for the same pubkey.
func (s *Service) VerifyAndIssueKey(ctx context.Context, pubkey, signatureB64 string) (string, error) {
	s.mu.Lock()
	ch, found := s.challenges[pubkey]
	delete(s.challenges, pubkey)
	s.mu.Unlock()

	if !found {
		return "", utils.NewAppError(utils.ErrCodeUnauthorized, "no outstanding challenge for public key")
	}
	if time.Now().After(ch.expiresAt) {
		return "", utils.NewAppError(utils.ErrCodeUnauthorized, "challenge expired")
	}

	keyBytes, err := utils.Base58Decode(pubkey)
	if err != nil || len(keyBytes) != ed25519.PublicKeySize {
		return "", utils.NewAppError(utils.ErrCodeValidation, "invalid public key", pubkey)
	}
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeValidation, "invalid signature encoding", err.Error())
	}
	if !ed25519.Verify(ed25519.PublicKey(keyBytes), []byte(ch.nonce), signature) {
		s.logger.WithField("pubkey", pubkey).Warn("Challenge signature verification failed")
		return "", utils.NewAppError(utils.ErrCodeUnauthorized, "signature verification failed")
	}

	raw, hash, err := utils.NewAPIKey()
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeInternal, "failed to generate API key", err.Error())
	}

	key := &models.APIKey{
		ID:        utils.GenerateID(),
		Pubkey:    pubkey,
		KeyHash:   hash,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveAPIKey(ctx, key); err != nil {
		return "", err
	}

	s.logger.WithField("pubkey", pubkey).Info("Issued API key")
	return raw, nil
}

// ValidateKey resolves a raw bearer key to its stored record. Unknown and
// revoked keys both fail with an unauthorized error.
func (s *Service) ValidateKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	key, err := s.store.GetAPIKeyByHash(ctx, utils.HashAPIKey(rawKey))
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, utils.NewAppError(utils.ErrCodeUnauthorized, "unknown API key")
	}
	if key.RevokedAt != nil {
		return nil, utils.NewAppError(utils.ErrCodeUnauthorized, "API key revoked")
	}
	return key, nil
}

// RevokeKey revokes the given raw key
func (s *Service) RevokeKey(ctx context.Context, rawKey string) error {
	return s.store.RevokeAPIKey(ctx, utils.HashAPIKey(rawKey), time.Now().UTC())
}

// PruneExpiredChallenges drops challenges past their expiry
func (s *Service) PruneExpiredChallenges() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for pubkey, ch := range s.challenges {
		if now.After(ch.expiresAt) {
			delete(s.challenges, pubkey)
		}
	}
}
