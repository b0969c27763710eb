package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jkaninda/okapi"
	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/lifecycle"
	"github.com/jkaninda/ruhusa/internal/receipt"
	"github.com/jkaninda/ruhusa/internal/storage"
)

// statusFor maps a domain error to an HTTP status and a client-safe message.
// Unrecognized errors become 500 without leaking their text.
func statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, lifecycle.ErrTerminal),
		errors.Is(err, lifecycle.ErrNotPending),
		errors.Is(err, lifecycle.ErrInsufficientBalance),
		errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, receipt.ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, receipt.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, receipt.ErrUnreadable):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// abortWith writes err as a JSON error response.
func abortWith(c *okapi.Context, err error) error {
	code, msg := statusFor(err)
	return c.JSON(code, okapi.M{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
