// Package httpx holds the JSON codec and error mapping shared by the
// per-package HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gymdesk/internal/apperr"
)

const maxBodyBytes = 1 << 20

// APIError is the body of every error response.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ErrorEnvelope wraps APIError under an "error" key.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Status maps an error kind to its HTTP status.
func Status(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindInactiveMember:
		return http.StatusUnprocessableEntity
	case apperr.KindAlreadyCheckedIn, apperr.KindNoOpenSession, apperr.KindAllocationConflict,
		apperr.KindReferenced, apperr.KindSessionOpen:
		return http.StatusConflict
	case apperr.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as an ErrorEnvelope. Retryable errors carry a
// Retry-After hint.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	retryable := apperr.Retryable(err)
	if retryable {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, Status(kind), ErrorEnvelope{Error: APIError{
		Code:      kind.String(),
		Message:   apperr.Message(err),
		Retryable: retryable,
	}})
}

// Decode reads a JSON body into dst, rejecting unknown fields.
func Decode(r *http.Request, dst any) error {
	const op = "httpx.Decode"
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.E(apperr.KindInvalid, op, "request body is required")
		}
		return apperr.E(apperr.KindInvalid, op, "malformed request body: %v", err)
	}
	return nil
}

// IDParam parses a positive integer URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.E(apperr.KindInvalid, "httpx.IDParam", "invalid %s %q", name, raw)
	}
	return id, nil
}

// QueryInt64 parses an optional integer query parameter.
func QueryInt64(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperr.E(apperr.KindInvalid, "httpx.QueryInt64", "invalid %s %q", name, raw)
	}
	return &n, nil
}

// QueryInt parses an optional integer query parameter, returning 0 when absent.
func QueryInt(r *http.Request, name string) (int, error) {
	n, err := QueryInt64(r, name)
	if err != nil || n == nil {
		return 0, err
	}
	return int(*n), nil
}

// QueryBool parses an optional boolean query parameter.
func QueryBool(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.E(apperr.KindInvalid, "httpx.QueryBool", "invalid %s %q", name, raw)
	}
	return b, nil
}

// QueryTime parses an optional RFC 3339 timestamp or a YYYY-MM-DD date in loc.
func QueryTime(r *http.Request, name string, loc *time.Location) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, apperr.E(apperr.KindInvalid, "httpx.QueryTime",
			"invalid %s %q: want YYYY-MM-DD or RFC 3339", name, raw)
	}
	return t, nil
}
