package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/garnizeh/initiatives/internal/auth"
	"github.com/garnizeh/initiatives/internal/obs"
	"github.com/garnizeh/initiatives/pkg/models"
	"github.com/garnizeh/initiatives/pkg/repository"
)

type AuthHandler struct {
	userRepo      repository.UserRepo
	jwtSecret     string
	tokenDuration time.Duration
	limiter       *LoginLimiter
	metrics       *obs.Metrics
}

// NewAuthHandler creates a new AuthHandler. limiter and metrics may be nil.
func NewAuthHandler(ur repository.UserRepo, jwtSecret string, tokenDuration time.Duration, limiter *LoginLimiter, metrics *obs.Metrics) *AuthHandler {
	return &AuthHandler{userRepo: ur, jwtSecret: jwtSecret, tokenDuration: tokenDuration, limiter: limiter, metrics: metrics}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signinResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    *models.User `json:"user"`
}

// Signin checks the credentials against the stored bcrypt hash. The email is
// trimmed the same way CreateUser trims it, then must match exactly.
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}

	if !h.limiter.Allow(req.Email, r) {
		h.metrics.Signin("limited")
		writeError(w, http.StatusTooManyRequests, "too many signin attempts")
		return
	}

	ctx := r.Context()
	user, err := h.userRepo.GetUserByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logger.Error("signin lookup failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to look up user")
		return
	}
	if user == nil || auth.VerifyPassword(user.PasswordHash, req.Password) != nil {
		h.metrics.Signin("rejected")
		writeError(w, http.StatusUnauthorized, repository.ErrInvalidCredentials.Error())
		return
	}

	token, err := auth.IssueToken(h.jwtSecret, user.ID, user.Email, h.tokenDuration)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "error signing token")
		return
	}

	h.metrics.Signin("ok")
	writeJSON(w, signinResponse{Success: true, Token: token, User: user}, http.StatusOK)
}

// Signout is client-side for stateless tokens; the endpoint only confirms
// the token was valid.
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"success": true, "message": "signed out"}, http.StatusOK)
}

func normalizeEmail(s string) string {
	return strings.TrimSpace(s)
}
