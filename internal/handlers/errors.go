package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-inventory/internal/status"
)

// apiError maps an engine error onto the HTTP status of its kind.
func apiError(e *core.RequestEvent, err error) error {
	switch {
	case errors.Is(err, status.ErrInvalidInput):
		return apis.NewBadRequestError(err.Error(), nil)
	case errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError(err.Error(), nil)
	case errors.Is(err, status.ErrHoldExpired):
		return apis.NewApiError(http.StatusGone, err.Error(), nil)
	case errors.Is(err, status.ErrConflict):
		return apis.NewApiError(http.StatusConflict, err.Error(), nil)
	}
	slog.Error("Request failed", "method", e.Request.Method, "path", e.Request.URL.Path, "error", err)
	return apis.NewInternalServerError("Something went wrong", nil)
}

// queryInt reads a non-negative integer query parameter, 0 when absent.
func queryInt(e *core.RequestEvent, name string) (int, error) {
	raw := e.Request.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, status.Invalidf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// bind decodes the body into req and validates it.
func bind[T interface{ Validate() error }](e *core.RequestEvent, req *T) error {
	if err := e.BindBody(req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if err := (*req).Validate(); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	return nil
}
