package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/outcomeops/outcomeops-analytics/internal/auth"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

type magicLinkRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type adminInfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type verifyResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	User        adminInfo `json:"user"`
}

// handleRequestMagicLink answers every well-formed request with the same
// message so the endpoint does not reveal which addresses are admins.
func (s *Server) handleRequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	err := s.links.Request(r.Context(), req.Email)
	if errors.Is(err, auth.ErrMissingEmail) {
		respondError(w, http.StatusBadRequest, "Missing email")
		return
	}
	if err != nil {
		logger.Ctx(r.Context()).Error("magic link request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": auth.RequestMessage})
}

// handleVerifyMagicLink exchanges a magic-link token for an access token.
// Every rejected token gets the same 401.
func (s *Server) handleVerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, "Missing token")
		return
	}

	session, err := s.links.Verify(r.Context(), req.Token)
	if errors.Is(err, auth.ErrInvalidToken) {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err != nil {
		logger.Ctx(r.Context()).Error("magic link verification failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondJSON(w, http.StatusOK, verifyResponse{
		AccessToken: session.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
		User:        adminInfo{Email: session.User.Email, Name: session.User.Name},
	})
}
