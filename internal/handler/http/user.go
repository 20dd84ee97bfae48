package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abenooo/elearning-identity/internal/authz"
	"github.com/abenooo/elearning-identity/internal/domain"
	"github.com/abenooo/elearning-identity/internal/service"
	apperrors "github.com/abenooo/elearning-identity/pkg/errors"
	"github.com/abenooo/elearning-identity/pkg/validator"
)

// UserHandler handles HTTP requests for user and role endpoints.
type UserHandler struct {
	service  *service.AuthService
	resolver *authz.Resolver
	logger   *slog.Logger
}

// NewUserHandler creates a new user HTTP handler.
func NewUserHandler(svc *service.AuthService, resolver *authz.Resolver, logger *slog.Logger) *UserHandler {
	return &UserHandler{service: svc, resolver: resolver, logger: logger}
}

// AssignRoleRequest is the JSON request body for assigning a role.
type AssignRoleRequest struct {
	Role      string     `json:"role" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// GetMe handles GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	roles, err := h.resolver.ActiveRoleNames(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Data: map[string]any{
			"user":  user,
			"roles": roles,
		},
	})
}

// ListRoles handles GET /api/v1/users/{id}/roles
func (h *UserHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	roles, err := h.resolver.ActiveRoles(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: roles})
}

// AssignRole handles POST /api/v1/users/{id}/roles
func (h *UserHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req AssignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequestBody(w, err)
		return
	}

	if err := validator.Validate(req); err != nil {
		writeValidationError(w, err)
		return
	}

	role, err := domain.ParseRoleName(req.Role)
	if err != nil {
		writeAppError(w, r, apperrors.InvalidInput(err.Error()), h.logger)
		return
	}

	actorID := UserIDFromContext(r.Context())
	userID := chi.URLParam(r, "id")

	if err := h.resolver.AssignRole(r.Context(), actorID, userID, role, req.ExpiresAt); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Data: map[string]string{"message": "role assigned"},
	})
}

// RemoveRole handles DELETE /api/v1/users/{id}/roles/{role}
func (h *UserHandler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	role, err := domain.ParseRoleName(chi.URLParam(r, "role"))
	if err != nil {
		writeAppError(w, r, apperrors.InvalidInput(err.Error()), h.logger)
		return
	}

	actorID := UserIDFromContext(r.Context())
	userID := chi.URLParam(r, "id")

	if err := h.resolver.RemoveRole(r.Context(), actorID, userID, role); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Data: map[string]string{"message": "role removed"},
	})
}
