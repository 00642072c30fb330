// File: internal/server/handlers.go
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"version":   s.version,
	})
}

// detailedHealthHandler returns per-component health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	storageHealth := s.storage.GetHealth()
	chainHealthy := s.connection != nil && s.connection.IsHealthy()
	feedRunning := s.poller != nil && s.poller.IsRunning()

	status := "healthy"
	if !storageHealth.Healthy || !chainHealthy {
		status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"version":   s.version,
		"components": map[string]interface{}{
			"storage": storageHealth,
			"chain":   chainHealthy,
			"feed":    feedRunning,
		},
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp": time.Now(),
		"storage":   storageStats,
	}
	if s.connection != nil {
		stats["chain"] = s.connection.Stats()
	}
	if s.poller != nil {
		stats["feed"] = s.poller.GetStats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// listAccountsHandler lists accounts for an owner
func (s *HTTPServer) listAccountsHandler(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		s.writeError(w, http.StatusBadRequest, "Missing required query parameter: owner", nil)
		return
	}
	if !utils.IsValidAddress(owner) {
		s.writeError(w, http.StatusBadRequest, "Invalid owner address", nil)
		return
	}

	accounts, err := s.storage.GetAccountsByOwner(r.Context(), owner)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve accounts", err)
		return
	}
	for _, account := range accounts {
		operators, err := s.storage.GetOperators(r.Context(), account.ID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to retrieve operators", err)
			return
		}
		account.Operators = operators
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// getAccountHandler returns one mirrored account with its operators
func (s *HTTPServer) getAccountHandler(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !utils.IsValidAddress(address) {
		s.writeError(w, http.StatusBadRequest, "Invalid account address", nil)
		return
	}

	account, err := s.storage.GetAccount(r.Context(), address)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve account", err)
		return
	}
	if account == nil {
		s.writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}

	operators, err := s.storage.GetOperators(r.Context(), account.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve operators", err)
		return
	}
	account.Operators = operators

	s.writeJSON(w, http.StatusOK, account)
}

// listEventsHandler returns the audit trail of one account, newest first
func (s *HTTPServer) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !utils.IsValidAddress(address) {
		s.writeError(w, http.StatusBadRequest, "Invalid account address", nil)
		return
	}

	account, err := s.storage.GetAccount(r.Context(), address)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve account", err)
		return
	}
	if account == nil {
		s.writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}

	filter := models.EventFilter{AccountID: account.ID, Limit: defaultEventLimit}

	if typeParam := r.URL.Query().Get("type"); typeParam != "" {
		eventType := models.EventType(typeParam)
		if !eventType.IsValid() {
			s.writeError(w, http.StatusBadRequest, "Invalid event type", nil)
			return
		}
		filter.EventType = &eventType
	}
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit parameter", nil)
			return
		}
		if limit > maxEventLimit {
			limit = maxEventLimit
		}
		filter.Limit = limit
	}
	if offsetParam := r.URL.Query().Get("offset"); offsetParam != "" {
		offset, err := strconv.Atoi(offsetParam)
		if err != nil || offset < 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid offset parameter", nil)
			return
		}
		filter.Offset = offset
	}

	events, err := s.storage.GetEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve events", err)
		return
	}
	total, err := s.storage.CountEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to count events", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// operatorAccountsHandler lists accounts delegated to an operator
func (s *HTTPServer) operatorAccountsHandler(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !utils.IsValidAddress(address) {
		s.writeError(w, http.StatusBadRequest, "Invalid operator address", nil)
		return
	}

	accounts, err := s.storage.GetAccountsByOperator(r.Context(), address)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve accounts", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// authChallengeHandler issues a signing challenge for a wallet
func (s *HTTPServer) authChallengeHandler(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		s.writeError(w, http.StatusNotImplemented, "Authentication is not enabled", nil)
		return
	}

	var req struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	nonce, err := s.auth.GenerateChallenge(req.Pubkey)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to generate challenge", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"challenge": nonce})
}

// authVerifyHandler trades a signed challenge for an API key
func (s *HTTPServer) authVerifyHandler(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		s.writeError(w, http.StatusNotImplemented, "Authentication is not enabled", nil)
		return
	}

	var req struct {
		Pubkey    string `json:"pubkey"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rawKey, err := s.auth.VerifyAndIssueKey(r.Context(), req.Pubkey, req.Signature)
	if err != nil {
		if appErr, ok := err.(*utils.AppError); ok && appErr.Code == utils.ErrCodeUnauthorized {
			s.writeError(w, http.StatusUnauthorized, "Verification failed", err)
			return
		}
		s.writeError(w, http.StatusBadRequest, "Verification failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"api_key": rawKey})
}

// authRevokeHandler revokes the key presented on the request
func (s *HTTPServer) authRevokeHandler(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		s.writeError(w, http.StatusNotImplemented, "Authentication is not enabled", nil)
		return
	}

	rawKey := bearerToken(r)
	if rawKey == "" {
		s.writeError(w, http.StatusUnauthorized, "Missing API key", nil)
		return
	}
	if err := s.auth.RevokeKey(r.Context(), rawKey); err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to revoke key", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"revoked": true})
}
