package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/garnizeh/initiatives/internal/aggregate"
	"github.com/garnizeh/initiatives/internal/auth"
	"github.com/garnizeh/initiatives/internal/catalog"
	"github.com/garnizeh/initiatives/pkg/models"
	"github.com/garnizeh/initiatives/pkg/repository"
)

// CatalogSource exposes the current catalog. *catalog.Store implements it.
type CatalogSource interface {
	Snapshot() *catalog.Snapshot
	Raw() []byte
}

type UsersHandler struct {
	userRepo repository.UserRepo
	partRepo repository.ParticipationRepo
	catalog  CatalogSource
}

func NewUsersHandler(ur repository.UserRepo, pr repository.ParticipationRepo, cs CatalogSource) *UsersHandler {
	return &UsersHandler{userRepo: ur, partRepo: pr, catalog: cs}
}

type userResponse struct {
	Success bool         `json:"success"`
	User    *models.User `json:"user"`
}

type usersResponse struct {
	Success bool          `json:"success"`
	Users   []models.User `json:"users"`
}

func (h *UsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userRepo.ListUsers(r.Context())
	if err != nil {
		logger.Error("list users", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, usersResponse{Success: true, Users: users}, http.StatusOK)
}

func (h *UsersHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
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

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "error hashing password")
		return
	}

	u := &models.User{Email: req.Email, PasswordHash: hash}
	id, err := h.userRepo.CreateUser(r.Context(), u)
	switch {
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "email already registered")
		return
	case err != nil:
		logger.Error("create user", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "error creating user")
		return
	}

	logger.Info("user created", slog.Int64("user_id", id))
	writeJSON(w, map[string]any{"success": true, "id": id}, http.StatusCreated)
}

func (h *UsersHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	u, ok := h.loadUser(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, userResponse{Success: true, User: u}, http.StatusOK)
}

// Friends ranks every other user by points, highest first.
func (h *UsersHandler) Friends(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	me, err := h.userRepo.GetUserByEmail(r.Context(), email)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		logger.Error("friends lookup", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to look up user")
		return
	}

	all, err := h.userRepo.ListUsers(r.Context())
	if err != nil {
		logger.Error("list users", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	friends := make([]models.User, 0, len(all))
	for _, u := range all {
		if u.ID != me.ID {
			friends = append(friends, u)
		}
	}
	sort.SliceStable(friends, func(i, j int) bool { return friends[i].Points > friends[j].Points })

	writeJSON(w, usersResponse{Success: true, Users: friends}, http.StatusOK)
}

// UpdateUser applies a partial update. Only the token's own user may be changed.
func (h *UsersHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var patch models.UserPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	u, ok := h.loadUser(w, r, id)
	if !ok {
		return
	}
	if patch.Empty() {
		writeJSON(w, userResponse{Success: true, User: u}, http.StatusOK)
		return
	}

	if patch.Email != nil {
		email := normalizeEmail(*patch.Email)
		if email == "" {
			writeError(w, http.StatusBadRequest, "email cannot be empty")
			return
		}
		u.Email = email
	}
	if patch.Password != nil {
		hash, err := auth.HashPassword(*patch.Password)
		if err != nil {
			writeError(w, http.StatusBadRequest, "password cannot be empty")
			return
		}
		u.PasswordHash = hash
	}

	err := h.userRepo.UpdateUser(r.Context(), u)
	switch {
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "email already registered")
		return
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return
	case err != nil:
		logger.Error("update user", slog.Int64("user_id", id), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	writeJSON(w, userResponse{Success: true, User: u}, http.StatusOK)
}

type participationRequest struct {
	InitiativeID     int    `json:"initiativeId"`
	DateParticipated string `json:"dateParticipated,omitempty"`
	PointsEarned     int64  `json:"pointsEarned"`
	Contribution     string `json:"contribution"`
}

// AddParticipation records a participation against the current catalog and
// credits its points to the user.
func (h *UsersHandler) AddParticipation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req participationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.PointsEarned < 0 {
		writeError(w, http.StatusBadRequest, "pointsEarned must not be negative")
		return
	}
	if _, found := h.catalog.Snapshot().Lookup(req.InitiativeID); !found {
		writeError(w, http.StatusUnprocessableEntity, "initiativeId is not in the catalog")
		return
	}
	if req.DateParticipated == "" {
		req.DateParticipated = time.Now().UTC().Format(time.DateOnly)
	}

	p := &models.Participation{
		UserID:           id,
		InitiativeID:     req.InitiativeID,
		DateParticipated: req.DateParticipated,
		PointsEarned:     req.PointsEarned,
		Contribution:     req.Contribution,
	}
	pid, err := h.partRepo.AddParticipation(r.Context(), p)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return
	case err != nil:
		logger.Error("add participation", slog.Int64("user_id", id), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to store participation")
		return
	}

	writeJSON(w, map[string]any{"success": true, "id": pid}, http.StatusCreated)
}

// Dashboard joins the user's participations with the current catalog.
// Broken joins are reported in the body rather than failing the request.
func (h *UsersHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	u, ok := h.loadUser(w, r, id)
	if !ok {
		return
	}

	d, err := aggregate.Build(u, h.catalog.Snapshot())
	if err != nil {
		logger.Warn("dashboard has broken joins", slog.Int64("user_id", id), slog.Int("count", len(d.BrokenJoins)))
	}
	writeJSON(w, d, http.StatusOK)
}

// authorize returns the path id when it matches the token's user.
func (h *UsersHandler) authorize(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	caller, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return 0, false
	}
	if caller != id {
		writeError(w, http.StatusForbidden, "token does not belong to this user")
		return 0, false
	}
	return id, true
}

func (h *UsersHandler) loadUser(w http.ResponseWriter, r *http.Request, id int64) (*models.User, bool) {
	u, err := h.userRepo.GetUserByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return nil, false
	}
	if err != nil {
		logger.Error("get user", slog.Int64("user_id", id), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return nil, false
	}
	return u, true
}
