package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/types"
)

// handleLogin exchanges operator credentials for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.jwtService == nil || s.credentials == nil {
		s.errorResponse(w, http.StatusNotFound, "auth_disabled", "authentication is not enabled")
		return
	}

	var req types.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, validationError(err))
		return
	}

	if !s.credentials.VerifyPassword(req.Username, req.Password) {
		s.logger.Warn("operator login failed", zap.String("username", req.Username), zap.String("remote", clientID(r)))
		s.writeError(w, ErrInvalidCredentials)
		return
	}

	token, expiresAt, err := s.jwtService.GenerateToken(req.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, types.LoginResponse{Token: token, ExpiresAt: expiresAt})
}
