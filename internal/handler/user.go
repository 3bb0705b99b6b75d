// Package handler contains the HTTP layer — request parsing and response writing.
//
// Handlers stay thin: decode the request, call the service, write the
// envelope. Every business decision (validation rules, the avatar flow,
// conflict detection) lives in the service layer; every persistence detail
// lives below that. A handler knows about HTTP and nothing else.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/user-directory/internal/apperror"
	"github.com/sakif/user-directory/internal/service"
)

// UserHandler maps the four user operations onto HTTP.
type UserHandler struct {
	users  *service.UserService
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users *service.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger,
	}
}

// createUserRequest is the expected body for POST /users.
type createUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// HandleCreate creates a user record.
//
// HTTP: POST /users
// BODY: {"email": "a@b.com", "name": "A"}
//
// Responses: 201 with the created record; 422 for malformed JSON or an
// invalid email; 409 when the email is already taken.
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid create user JSON", slog.String("error", err.Error()))
		// Malformed input is a validation failure, same as a bad email —
		// the body never made it past parsing.
		writeError(w, r, apperror.ValidationFailed("body", "invalid request body"))
		return
	}

	user, err := h.users.Create(r.Context(), req.Email, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user)
}

// HandleGetProfile returns the upstream directory's profile for an id.
//
// HTTP: GET /user/{id}
//
// The response data is the UPSTREAM profile (id, email, first_name,
// last_name, avatar URL) — not our local record.
func (h *UserHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.users.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, profile)
}

// HandleGetAvatar returns the user's avatar image, base64-encoded.
//
// HTTP: GET /user/{id}/avatar
func (h *UserHandler) HandleGetAvatar(w http.ResponseWriter, r *http.Request) {
	b64, err := h.users.GetAvatar(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, b64)
}

// HandleDeleteAvatar removes the local record and its cached avatar file.
//
// HTTP: DELETE /user/{id}/avatar
//
// 404 when no local record exists for the id (or the upstream doesn't know
// it); 200 with a confirmation message on success.
func (h *UserHandler) HandleDeleteAvatar(w http.ResponseWriter, r *http.Request) {
	msg, err := h.users.DeleteAvatar(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, msg)
}
