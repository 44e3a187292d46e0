// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/cuido-tech/cuido-bff/core/logger"
)

// Kind classifies a request failure. Every error that reaches a route handler
// is mapped onto exactly one kind before it is written to the client.
type Kind string

const (
	// KindUnauthenticated means the bearer token is missing or invalid
	KindUnauthenticated Kind = "unauthenticated"
	// KindForbidden means the caller is authenticated but does not own the target row
	KindForbidden Kind = "forbidden"
	// KindNotFound means the target row is absent
	KindNotFound Kind = "not_found"
	// KindInvalidInput means validation of the request body or query failed
	KindInvalidInput Kind = "invalid_input"
	// KindConflict means the backing platform reported a uniqueness violation
	KindConflict Kind = "conflict"
	// KindRemoteFailed means a dependency returned an unexpected non-2xx status
	KindRemoteFailed Kind = "remote_failed"
	// KindInternal means an unexpected programmer error
	KindInternal Kind = "internal"
)

// Error is the client-facing error of the request pipeline.
//
// For KindRemoteFailed, RemoteStatus carries the status code of the backing
// platform and Message its response body text verbatim. The verbatim text is
// load-bearing: callers special-case provider error strings, e.g. uniqueness
// violations.
type Error struct {
	Kind         Kind
	Message      string
	RemoteStatus int
}

func (e *Error) Error() string {
	if e.Kind == KindRemoteFailed {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.RemoteStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf creates an Error with a formatted message
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// RemoteError creates a KindRemoteFailed error from a dependency response
func RemoteError(status int, body string) *Error {
	return &Error{Kind: KindRemoteFailed, Message: body, RemoteStatus: status}
}

// HTTPStatus maps the error kind to the response status code.
//
// Remote client errors (4xx from the platform) pass through as bad request with
// the remote message; everything else remote becomes a bad gateway.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindRemoteFailed:
		if e.RemoteStatus >= 400 && e.RemoteStatus <= 499 {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// WriteError writes err as a JSON error response. Errors that are not *Error
// are logged and reported as internal.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		logger.FromContext(r.Context()).Errorln("unexpected error:", err)
		e = Errorf(KindInternal, "internal server error")
	}
	status := e.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Errorln(e.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{StatusCode: status, Message: e.Message})
}

// WriteJSON writes payload as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
