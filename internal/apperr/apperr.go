// Package apperr defines the error taxonomy shared by the query engine and its transports.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindMissingParameter  Kind = "MissingParameter"
	KindInvalidParameter  Kind = "InvalidParameter"
	KindInvalidTimeframe  Kind = "InvalidTimeframe"
	KindInvalidRange      Kind = "InvalidRange"
	KindLocationNotFound  Kind = "LocationNotFound"
	KindAmbiguousLocation Kind = "AmbiguousLocation"
	KindStoreUnavailable  Kind = "StoreUnavailable"
)

// Error is a classified failure. Field names the offending parameter or hierarchy level.
type Error struct {
	Kind   Kind
	Field  string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Field != "" {
		msg += "(" + e.Field + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func MissingParameter(field string) *Error {
	return &Error{Kind: KindMissingParameter, Field: field, Detail: fmt.Sprintf("%s is required", field)}
}

func InvalidParameter(field, detail string) *Error {
	return &Error{Kind: KindInvalidParameter, Field: field, Detail: detail}
}

func InvalidTimeframe(value string) *Error {
	return &Error{Kind: KindInvalidTimeframe, Field: "timeframe", Detail: fmt.Sprintf("unknown timeframe %q", value)}
}

func InvalidRange(detail string) *Error {
	return &Error{Kind: KindInvalidRange, Field: "startDate", Detail: detail}
}

func LocationNotFound(level, name string) *Error {
	return &Error{Kind: KindLocationNotFound, Field: level, Detail: fmt.Sprintf("%s %q not found", level, name)}
}

func AmbiguousLocation(level, name string, matches int) *Error {
	return &Error{
		Kind:   KindAmbiguousLocation,
		Field:  level,
		Detail: fmt.Sprintf("%s %q matches %d locations, narrow it with a parent level", level, name, matches),
	}
}

func StoreUnavailable(err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Detail: "price store unavailable", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Retryable reports whether a caller may retry the request unchanged.
func Retryable(err error) bool {
	return Is(err, KindStoreUnavailable)
}

// Status maps an error onto the HTTP status convention of the API.
func Status(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case KindMissingParameter, KindInvalidParameter, KindInvalidTimeframe, KindInvalidRange, KindAmbiguousLocation:
		return http.StatusBadRequest
	case KindLocationNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
