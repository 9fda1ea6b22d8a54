package api

import (
	"net/http"
)

// handleGetBalance handles GET /api/credits/balance
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := callerFrom(r.Context()).AccountID

	balance, err := s.credits.Balance(r.Context(), accountID)
	if err != nil {
		s.logger.WithField("account_id", accountID).ErrorWithErr("Failed to read balance", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"accountId": accountID,
		"balance":   balance,
	})
}

// handleGetHistory handles GET /api/credits/history
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	accountID := callerFrom(r.Context()).AccountID

	limit, err := intParam(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be an integer", nil)
		return
	}

	entries, err := s.credits.History(r.Context(), accountID, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"accountId": accountID,
		"entries":   entries,
		"count":     len(entries),
	})
}
