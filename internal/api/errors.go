package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Category groups classified failures for display and routing.
type Category string

const (
	CategoryNetwork Category = "network"
	CategoryAuth    Category = "auth"
	CategoryClient  Category = "client"
	CategoryServer  Category = "server"
)

// User-facing failure messages.
const (
	MsgNetwork    = "Network error. Please check your connection."
	MsgBadRequest = "Bad request. Please check your data."
	MsgSession    = "Session expired. Please log in again."
	MsgForbidden  = "You do not have permission to perform this action."
	MsgNotFound   = "Resource not found."
	MsgServer     = "Server error. Please try again later."
	MsgUnexpected = "An unexpected error occurred."
)

var (
	// Sentinel errors for errors.Is checks by callers.
	ErrNetwork      = errors.New("api: no response from server")
	ErrUnauthorized = errors.New("api: session expired")
	ErrClient       = errors.New("api: request rejected")
	ErrServer       = errors.New("api: server error")
)

// Failure is the user-facing description of a failed request. It is what
// gets published to failure subscribers.
type Failure struct {
	Message  string   `json:"message"`
	Category Category `json:"category"`
}

// Error is returned to the caller for every classified failure.
type Error struct {
	Failure
	Sentinel error
	Method   string
	Path     string
	Status   int    // 0 when no response was received
	Body     string // truncated response body, if any
	Err      error  // transport error, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("api: %s %s: %v", e.Method, e.Path, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Sentinel, e.Err}
	}
	return []error{e.Sentinel}
}

// classify maps an HTTP status to a failure. status 0 means no response.
// retried reports whether the request has already seen a 401.
func classify(status int, retried bool) (Failure, error) {
	switch {
	case status == 0:
		return Failure{MsgNetwork, CategoryNetwork}, ErrNetwork
	case status == http.StatusBadRequest:
		return Failure{MsgBadRequest, CategoryClient}, ErrClient
	case status == http.StatusUnauthorized && !retried:
		return Failure{MsgSession, CategoryAuth}, ErrUnauthorized
	case status == http.StatusForbidden:
		return Failure{MsgForbidden, CategoryClient}, ErrClient
	case status == http.StatusNotFound:
		return Failure{MsgNotFound, CategoryClient}, ErrClient
	case status >= 500:
		return Failure{MsgServer, CategoryServer}, ErrServer
	default:
		return Failure{MsgUnexpected, CategoryClient}, ErrClient
	}
}
