package handler

// RESPONSE ENVELOPE:
// Every response from this API — success or failure — has the same shape:
//
//	success: {"data": ..., "success": true, "message": "Successful"}
//	failure: {"success": false, "message": "...", "request_id": "..."}
//
// This makes it easy for clients to parse responses — they always know what
// fields to expect, regardless of whether it's a 201, 404, or 500. The
// request_id in failures is the correlation id the middleware attached to
// the request, so a client-reported error can be matched to our log lines.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/user-directory/internal/apperror"
)

// SuccessResponse is the uniform envelope for successful operations.
type SuccessResponse struct {
	Data    interface{} `json:"data"`
	Success bool        `json:"success"`
	Message string      `json:"message"`
}

// ErrorResponse is the uniform envelope for failed operations.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"` // Correlation id for log lookup
}

// writeSuccess wraps data in the success envelope and sends it.
//
// HEADER ORDER MATTERS:
// Headers and status code MUST be set BEFORE writing the body. Once
// json.Encode calls w.Write, the headers are sent and further changes are
// silently ignored.
//
// The cache headers exist because avatar responses carry user images as
// base64 — we never want an intermediary caching a user's (possibly since
// deleted) profile picture.
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("X-XSS-Protection", "1; mode=block")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(SuccessResponse{
		Data:    data,
		Success: true,
		Message: "Successful",
	}); err != nil {
		// Headers are already sent — we can only log it.
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it in the failure envelope.
//
// ERROR MAPPING:
//   - ErrValidation → 422 Unprocessable Entity
//   - ErrConflict   → 409 Conflict
//   - ErrNotFound   → 404 Not Found
//   - ErrUpstream   → the upstream's own status code, passed through
//   - anything else → 500, with the underlying message surfaced
//
// errors.Is() walks the entire chain (via Unwrap), so a service-wrapped
// error like fmt.Errorf("getting avatar: %w", apperror.Conflict(...)) still
// maps correctly.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusUnprocessableEntity // 422
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound // 404
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict // 409
		case errors.Is(err, apperror.ErrUpstream) && appErr.Status != 0:
			status = appErr.Status // pass the upstream's status through
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if encErr := json.NewEncoder(w).Encode(ErrorResponse{
		Success:   false,
		Message:   message,
		RequestID: chimiddleware.GetReqID(r.Context()),
	}); encErr != nil {
		slog.Error("failed to encode error response", slog.String("error", encErr.Error()))
	}
}
