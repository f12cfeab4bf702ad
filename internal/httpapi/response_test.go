package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("order x: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{domain.ErrDriverUnavailable, http.StatusConflict},
		{domain.ErrOrderNotReady, http.StatusConflict},
		{domain.ErrAlreadyOffered, http.StatusConflict},
		{domain.ErrPreconditionMismatch, http.StatusConflict},
		{domain.ErrCouponUsageLimitReached, http.StatusConflict},
		{domain.ErrCouponNotFound, http.StatusUnprocessableEntity},
		{domain.ErrInvalidOptionSelection, http.StatusUnprocessableEntity},
		{domain.ErrMissingRequiredSelection, http.StatusUnprocessableEntity},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, got)
			}
		})
	}
}

func TestWriteDomainError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("domain error carries its reason code", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteDomainError(rec, logger, fmt.Errorf("offer: %w", domain.ErrAlreadyOffered))

		if rec.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rec.Code)
		}
		var resp ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Code != "AlreadyOffered" {
			t.Errorf("expected code AlreadyOffered, got %s", resp.Code)
		}
	})

	t.Run("unknown error is hidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteDomainError(rec, logger, errors.New("connection refused"))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
		var resp ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Error != "internal server error" {
			t.Errorf("expected 'internal server error', got %s", resp.Error)
		}
	})
}
