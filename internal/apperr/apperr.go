// Package apperr is the server's error taxonomy: parse/format, crypto,
// anti-replay, capacity, routing, and infrastructure errors, each carrying
// an explicit or inferable HTTP status.
package apperr

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/moogar0880/problems"
)

// Known error titles, one per taxonomy bucket.
const (
	TitleParseError       = "parse_error"
	TitleCryptoError      = "crypto_error"
	TitleReplayError      = "replay_error"
	TitleCapacityError    = "capacity_error"
	TitleRoutingError     = "routing_error"
	TitleInfrastructure   = "infrastructure_error"
	TitleUnauthorized     = "unauthorized"
	TitleInternalServer   = "internal_server_error"
)

// Error carries a title, an optional wrapped error, and an optional
// explicit HTTP status.
type Error struct {
	Title      string `json:"title"`
	Err        error  `json:"-"`
	Details    any    `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Title, e.Err)
	}
	return e.Title
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with an explicit HTTP status.
func New(title string, status int, err error) *Error {
	return &Error{Title: title, Err: err, HTTPStatus: status}
}

// Wrap is New without a predetermined status; StatusCode infers one from
// the title.
func Wrap(title string, err error) *Error {
	return &Error{Title: title, Err: err}
}

// StatusCode resolves the HTTP status for err, honoring an explicit
// *Error.HTTPStatus first and falling back to title inference.
func StatusCode(err error) int {
	if appErr, ok := err.(*Error); ok {
		if appErr.HTTPStatus != 0 {
			return appErr.HTTPStatus
		}
		return inferFromTitle(appErr.Title)
	}
	return inferFromString(err.Error())
}

func inferFromTitle(title string) int {
	title = strings.ToLower(title)
	switch {
	case contains(title, TitleParseError):
		return http.StatusBadRequest
	case contains(title, TitleUnauthorized, "unauthorized", "authentication"):
		return http.StatusUnauthorized
	case contains(title, TitleCryptoError):
		return http.StatusInternalServerError
	case contains(title, TitleReplayError):
		return http.StatusConflict
	case contains(title, TitleCapacityError):
		return http.StatusTooManyRequests
	case contains(title, TitleRoutingError):
		return http.StatusUnprocessableEntity
	case contains(title, TitleInfrastructure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func inferFromString(s string) int {
	s = strings.ToLower(s)
	switch {
	case contains(s, "not found"):
		return http.StatusNotFound
	case contains(s, "unauthorized", "authentication"):
		return http.StatusUnauthorized
	case contains(s, "invalid", "malformed", "bad request"):
		return http.StatusBadRequest
	case contains(s, "rate limit", "too many"):
		return http.StatusTooManyRequests
	case contains(s, "no path", "outside polygon", "invalid connection"):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func contains(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// Problem404 builds an RFC 7807 problem-details body for a 404 response.
func Problem404() *problems.Problem {
	return problems.NewStatusProblem(http.StatusNotFound)
}

// Problem422 builds an RFC 7807 problem-details body for a routing error,
// with the offending detail attached.
func Problem422(detail string) *problems.Problem {
	p := problems.NewStatusProblem(http.StatusUnprocessableEntity)
	p.Detail = detail
	return p
}
