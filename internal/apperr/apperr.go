// Package apperr defines the typed error results returned by the engine and
// its collaborators. The API surface maps each Kind to a transport status.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalid
	KindInactiveMember
	KindAlreadyCheckedIn
	KindNoOpenSession
	KindAllocationConflict
	KindStorageUnavailable
	KindReferenced
	KindSessionOpen
	KindUnauthorized
	KindRateLimited
)

var kindCodes = map[Kind]string{
	KindUnknown:            "internal",
	KindNotFound:           "not_found",
	KindInvalid:            "invalid",
	KindInactiveMember:     "inactive_member",
	KindAlreadyCheckedIn:   "already_checked_in",
	KindNoOpenSession:      "no_open_session",
	KindAllocationConflict: "allocation_conflict",
	KindStorageUnavailable: "storage_unavailable",
	KindReferenced:         "referenced",
	KindSessionOpen:        "session_open",
	KindUnauthorized:       "unauthorized",
	KindRateLimited:        "rate_limited",
}

// String returns the stable wire code of the kind.
func (k Kind) String() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[KindUnknown]
}

// ParseKind maps a wire code back to its Kind. Unknown codes yield
// KindUnknown.
func ParseKind(code string) Kind {
	for k, c := range kindCodes {
		if c == code {
			return k
		}
	}
	return KindUnknown
}

// Error is the engine's typed error.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an error of the given kind with a formatted message.
func E(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a caller may resubmit the request.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindAllocationConflict, KindStorageUnavailable:
		return true
	}
	return false
}

// Message returns the user-facing reason without the operation prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err != nil && e.Kind != KindStorageUnavailable && e.Kind != KindUnknown {
			return e.Err.Error()
		}
		return e.Kind.String()
	}
	return "internal error"
}
