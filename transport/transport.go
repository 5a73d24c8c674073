// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport provides the HTTP round-trip layer of the request
// pipeline. It is deliberately dumb: no signing, no retries, no protocol
// knowledge. Those concerns live in the middleware chain above it.
package transport

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Request is the logical HTTP request produced by the protocol codec and
// decorated by middleware before hitting the wire.
type Request struct {
	// Method is the HTTP method (GET, POST, PUT, ...).
	Method string

	// URL is the fully resolved request URL including query parameters.
	URL *url.URL

	// Headers are the request headers. Signing middleware adds to these.
	Headers http.Header

	// Body is the buffered request body. Empty slice or nil means no body.
	Body []byte

	// Stream is a streaming request body. When set, Body is ignored and the
	// request is never retried once transmission begins.
	Stream io.Reader

	// ContentLength is the declared length of Stream; -1 when unknown.
	ContentLength int64

	// StreamResponse requests that the response body be left open for the
	// caller to consume instead of being buffered. Error responses are
	// buffered regardless so they can be decoded.
	StreamResponse bool
}

// NewRequest builds a request with initialised headers.
func NewRequest(method string, u *url.URL) *Request {
	return &Request{
		Method:        method,
		URL:           u,
		Headers:       make(http.Header),
		ContentLength: -1,
	}
}

// IsStreaming reports whether the request carries a streaming body.
func (r *Request) IsStreaming() bool { return r.Stream != nil }

// Clone returns a copy of the request with copied headers. The body slice is
// shared; callers must not mutate it.
func (r *Request) Clone() *Request {
	cp := *r
	cp.Headers = r.Headers.Clone()
	if cp.Headers == nil {
		cp.Headers = make(http.Header)
	}
	if r.URL != nil {
		u := *r.URL
		cp.URL = &u
	}
	return &cp
}

// Response is the logical HTTP response handed back up the middleware chain.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Headers contains the response headers.
	Headers http.Header

	// Body is the buffered response body. Nil when Stream is set.
	Body []byte

	// Stream is the open response body for streaming outputs. The consumer
	// owns closing it.
	Stream io.ReadCloser
}

// Header returns the first value of the named response header.
func (r *Response) Header(name string) string {
	return r.Headers.Get(name)
}

// RequestID extracts the service request ID from the response headers.
func (r *Response) RequestID() string {
	if id := r.Headers.Get("X-Amzn-Requestid"); id != "" {
		return id
	}
	return r.Headers.Get("X-Amz-Request-Id")
}

// Transport sends a single request and returns its response. Implementations
// must honour ctx cancellation and must not retry; retrying is middleware's
// job.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)

	// Shutdown releases connection pools and background resources. Idempotent.
	Shutdown() error
}

// RateLimiter gates request admission. Implementations block until a request
// is allowed or the context is cancelled.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Timeout applied when the service config declares none.
const DefaultTimeout = 30 * time.Second
