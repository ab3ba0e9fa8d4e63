package httpadapter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInvalidConfiguration):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and hides internal details of 5xx
// responses behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	switch status {
	case http.StatusInternalServerError:
		message = "internal server error"
	case http.StatusServiceUnavailable:
		message = "upstream service unavailable"
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"status", status,
			"error", err.Error(),
		)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
