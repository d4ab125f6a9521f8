package api

import (
	"net/http"
	"net/url"
	"sync/atomic"
)

// Request is one logical API request. A Request may be passed to Client.Do
// more than once; it remembers whether it has already been answered with 401
// so the session-expiry side effects run only once per logical request.
type Request struct {
	Method string
	Path   string
	Body   any // JSON-encoded when non-nil
	Header http.Header
	Query  url.Values

	retried atomic.Bool
}

// RequestOption customizes a Request.
type RequestOption func(*Request)

// WithHeader sets a request header, overriding the client defaults.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) { r.Header.Set(key, value) }
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(r *Request) { r.Query.Add(key, value) }
}

// NewRequest builds a Request for method and path relative to the client's
// base URL.
func NewRequest(method, path string, body any, opts ...RequestOption) *Request {
	r := &Request{
		Method: method,
		Path:   path,
		Body:   body,
		Header: make(http.Header),
		Query:  make(url.Values),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retried reports whether the request has already been answered with 401.
func (r *Request) Retried() bool {
	return r.retried.Load()
}
