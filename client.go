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

package cirrus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/cirrus/awscfg"
	"github.com/tombee/cirrus/awserr"
	"github.com/tombee/cirrus/credentials"
	"github.com/tombee/cirrus/retry"
	"github.com/tombee/cirrus/transport"
)

// Config configures a Client. The zero value is not usable: Credentials is
// required.
type Config struct {
	// Credentials resolves the signing credential for each request. Wrap
	// expiring providers in credentials.NewCache.
	Credentials credentials.Provider

	// RetryPolicy decides backoff between attempts. Nil means retry.Jitter
	// with its defaults.
	RetryPolicy retry.Policy

	// Transport performs the HTTP round trips. Nil means a transport.New
	// with defaults, owned and shut down by the client.
	Transport transport.Transport

	// Middleware runs outermost, before any service or built-in middleware.
	Middleware []awscfg.Middleware

	// Logger receives pipeline logs. Nil means slog.Default().
	Logger *slog.Logger
}

// Client executes operations. It is safe for concurrent use; all mutable
// state is the request-ID counter and the shutdown flag.
type Client struct {
	creds      credentials.Provider
	policy     retry.Policy
	transport  transport.Transport
	ownsTP     bool
	middleware []awscfg.Middleware
	logger     *slog.Logger
	tracer     trace.Tracer

	builtin []awscfg.Middleware

	requestID atomic.Int64
	closed    atomic.Bool

	// test seams
	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// New builds a client. When cfg.Transport is nil the client creates and owns
// a default transport and Shutdown closes it.
func New(cfg Config) (*Client, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("cirrus: credentials provider is required")
	}

	c := &Client{
		creds:      cfg.Credentials,
		policy:     cfg.RetryPolicy,
		transport:  cfg.Transport,
		middleware: cfg.Middleware,
		logger:     cfg.Logger,
		tracer:     otel.Tracer("github.com/tombee/cirrus"),
		nowFn:      time.Now,
		sleepFn:    sleepContext,
	}
	if c.policy == nil {
		c.policy = retry.Jitter{}
	}
	if c.transport == nil {
		tp, err := transport.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cirrus: building default transport: %w", err)
		}
		c.transport = tp
		c.ownsTP = true
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	// Built-in chain, outermost first. The retry middleware re-enters
	// everything after it, so signing runs fresh on every attempt.
	c.builtin = []awscfg.Middleware{
		invocationIDMiddleware,
		c.errorMiddleware,
		c.retryMiddleware,
		contentMD5Middleware,
		c.signMiddleware,
	}
	return c, nil
}

// Shutdown releases the credential provider and, when owned, the transport.
// The second and subsequent calls fail with KindAlreadyShutdown; in-flight
// requests started before Shutdown complete normally.
func (c *Client) Shutdown() error {
	if !c.closed.CompareAndSwap(false, true) {
		return awserr.NewClientError(awserr.KindAlreadyShutdown, "client is already shut down")
	}

	if s, ok := c.creds.(credentials.Shutdowner); ok {
		if err := s.Shutdown(); err != nil {
			c.logger.Warn("credential provider shutdown failed", "error", err)
		}
	}
	if c.ownsTP {
		return c.transport.Shutdown()
	}
	return nil
}

// sleepContext sleeps for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
