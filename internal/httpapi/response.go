// Package httpapi holds the JSON response helpers shared by the service
// handlers.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func WriteJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func WriteError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	WriteJSON(w, logger, status, ErrorResponse{Error: message})
}

// WriteDomainError maps err onto a status code and writes it with its stable
// reason code. Errors outside the domain taxonomy become a 500 and are logged.
func WriteDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		WriteError(w, logger, status, "internal server error")
		return
	}
	WriteJSON(w, logger, status, ErrorResponse{Error: err.Error(), Code: domain.Reason(err)})
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrCouponNotFound),
		errors.Is(err, domain.ErrCouponInactive),
		errors.Is(err, domain.ErrCouponExpired),
		errors.Is(err, domain.ErrCouponNotYetStarted),
		errors.Is(err, domain.ErrCouponBelowMinimum):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDriverUnavailable),
		errors.Is(err, domain.ErrOrderNotReady),
		errors.Is(err, domain.ErrAlreadyOffered),
		errors.Is(err, domain.ErrPreconditionMismatch),
		errors.Is(err, domain.ErrCouponUsageLimitReached):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidOptionSelection),
		errors.Is(err, domain.ErrMissingRequiredSelection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
