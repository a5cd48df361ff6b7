package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"homeboard/internal/aggregate"
	"homeboard/internal/auth"
	"homeboard/internal/backend"
	"homeboard/internal/briefing"
	"homeboard/internal/devices"
	"homeboard/internal/intake"
	"homeboard/internal/playback"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var refreshErr *aggregate.RefreshError
	var validationErr *briefing.ValidationError
	var statusErr *backend.StatusError
	switch {
	case errors.Is(err, aggregate.ErrSessionExpired), errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized, "SESSION_EXPIRED", "Session expired, sign in again", nil
	case errors.As(err, &refreshErr):
		return http.StatusServiceUnavailable, "REFRESH_FAILED", refreshErr.Error(),
			map[string]any{"resource": refreshErr.Resource, "retryable": refreshErr.Retryable()}
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(),
			map[string]any{"id": validationErr.ID, "field": validationErr.Field}
	case errors.Is(err, backend.ErrInvalidEvent), errors.Is(err, intake.ErrEmpty):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, intake.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "DOCUMENT_TOO_LARGE", "Document too large", nil
	case errors.Is(err, intake.ErrNoPending):
		return http.StatusConflict, "NO_PENDING_EVENT", "No pending event to confirm", nil
	case errors.Is(err, playback.ErrAlreadyPlaying):
		return http.StatusConflict, "ALREADY_PLAYING", "A briefing is already playing", nil
	case errors.Is(err, briefing.ErrUnknownBriefing), errors.Is(err, devices.ErrUnknownDevice):
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusBadRequest, "INVALID_TOKEN", err.Error(), nil
	case errors.Is(err, backend.ErrShape):
		return http.StatusBadGateway, "BAD_BACKEND_RESPONSE", err.Error(), nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "BACKEND_TIMEOUT", "Backend did not answer in time", nil
	case errors.As(err, &statusErr):
		if statusErr.Status == http.StatusNotFound {
			return http.StatusNotFound, "NOT_FOUND", statusErr.Message, nil
		}
		return http.StatusBadGateway, "BACKEND_ERROR", statusErr.Error(), map[string]any{"status": statusErr.Status}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
