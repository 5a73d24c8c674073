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

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/cirrus/awserr"
)

// Config configures the default HTTP transport.
type Config struct {
	// Timeout is the per-request timeout. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxIdleConns bounds the connection pool. Zero means 100.
	MaxIdleConns int

	// MaxIdleConnsPerHost bounds per-host idle connections. Zero means 10.
	MaxIdleConnsPerHost int

	// RequestsPerSecond enables client-side rate limiting when positive.
	RequestsPerSecond float64

	// HTTPClient overrides the constructed client, mainly for tests.
	HTTPClient *http.Client
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative")
	}
	return nil
}

// Default is the net/http backed Transport used when the client is not given
// one explicitly.
type Default struct {
	client   *http.Client
	limiter  RateLimiter
	shutdown atomic.Bool
}

// New constructs a Default transport from cfg. A nil cfg uses defaults.
func New(cfg *Config) (*Default, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 100
	}
	maxIdlePerHost := cfg.MaxIdleConnsPerHost
	if maxIdlePerHost == 0 {
		maxIdlePerHost = 10
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        maxIdle,
				MaxIdleConnsPerHost: maxIdlePerHost,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	t := &Default{client: client}
	if cfg.RequestsPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return t, nil
}

// SetRateLimiter replaces the admission limiter. A nil limiter disables
// rate limiting.
func (t *Default) SetRateLimiter(l RateLimiter) { t.limiter = l }

// RoundTrip sends req and returns the response. The response body is buffered
// unless req.StreamResponse is set and the status is 2xx.
func (t *Default) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, &awserr.TransportError{
				Kind:    awserr.TransportCanceled,
				Message: "rate limiter wait aborted",
				Cause:   err,
			}
		}
	}

	var body io.Reader
	switch {
	case req.Stream != nil:
		body = req.Stream
	case len(req.Body) > 0:
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, awserr.NewClientError(awserr.KindInvalidURL, "building http request: %v", err)
	}
	httpReq.Header = req.Headers.Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}
	if req.Stream != nil && req.ContentLength >= 0 {
		httpReq.ContentLength = req.ContentLength
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
	}

	if req.StreamResponse && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Stream = resp.Body
		return out, nil
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &awserr.TransportError{
			Kind:    awserr.TransportConnection,
			Message: "reading response body",
			Cause:   err,
		}
	}
	out.Body = data
	return out, nil
}

// Shutdown closes idle connections. Safe to call more than once.
func (t *Default) Shutdown() error {
	if !t.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	if tr, ok := t.client.Transport.(*http.Transport); ok && tr != nil {
		tr.CloseIdleConnections()
	}
	return nil
}

// classify maps net/http errors onto the transport error taxonomy.
// Cancellation always wins: a request aborted by its context must never be
// reported as a retryable network failure.
func classify(ctx context.Context, err error) *awserr.TransportError {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return &awserr.TransportError{
			Kind:    awserr.TransportCanceled,
			Message: "request canceled",
			Cause:   err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &awserr.TransportError{
			Kind:    awserr.TransportTimeout,
			Message: "request timeout",
			Cause:   err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &awserr.TransportError{
			Kind:    awserr.TransportTimeout,
			Message: "request deadline exceeded",
			Cause:   err,
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return &awserr.TransportError{
			Kind:    awserr.TransportConnection,
			Message: "connection error",
			Cause:   err,
		}
	}

	return &awserr.TransportError{
		Kind:    awserr.TransportConnection,
		Message: msg,
		Cause:   err,
	}
}
