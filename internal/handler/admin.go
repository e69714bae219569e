package handler

import (
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/ecd/internal/model"
	"github.com/pavelanni/ecd/internal/registry"
)

const maxRegistryBytes = 10 << 20

type createUserRequest struct {
	Username    string         `json:"username"`
	DisplayName string         `json:"displayName"`
	Password    string         `json:"password"`
	Role        model.UserRole `json:"role"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		slog.Error("failed to list users", "error", err)
		h.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		h.writeError(w, r, model.Validationf("username and password required"))
		return
	}
	switch req.Role {
	case "":
		req.Role = model.UserRoleStudent
	case model.UserRoleStudent, model.UserRoleTeacher, model.UserRoleAdmin:
	default:
		h.writeError(w, r, model.Validationf("unknown role %q", req.Role))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		h.writeError(w, r, err)
		return
	}

	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	u := model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	}
	id, err := h.store.CreateUser(r.Context(), u)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.store.GetUserByID(r.Context(), id)
	if err != nil || created == nil {
		u.ID = id
		created = &u
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	if err := h.store.ToggleUserActive(r.Context(), id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		h.writeError(w, r, err)
		return
	}
	u, err := h.store.GetUserByID(r.Context(), id)
	h.respond(w, r, u, err)
}

// handleUploadRegistry imports a registry bundle sent as the request body.
// The name query parameter identifies the file; a .yaml or .yml suffix selects YAML.
func (h *Handler) handleUploadRegistry(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		h.writeError(w, r, model.Validationf("name query parameter is required"))
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRegistryBytes))
	if err != nil {
		h.writeError(w, r, model.Validationf("failed to read body: %v", err))
		return
	}
	if len(data) == 0 {
		h.writeError(w, r, model.Validationf("empty registry file"))
		return
	}

	res, err := registry.Import(r.Context(), h.store, h.store, name, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("uploaded registry via admin", "filename", name, "count", res.Count, "skipped", res.Skipped)
	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}
