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
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tombee/cirrus/awscfg"
	"github.com/tombee/cirrus/awserr"
	"github.com/tombee/cirrus/endpoints"
	"github.com/tombee/cirrus/logging"
	"github.com/tombee/cirrus/protocol"
	"github.com/tombee/cirrus/transport"
)

// Execute runs one operation: encode input, resolve the endpoint, fetch a
// credential, run the middleware chain, decode the response into output.
// A nil output discards the response body.
//
// input and output are pointers to operation-shaped structs whose fields
// carry protocol struct tags (locationName, location, flattened, ...).
func (c *Client) Execute(ctx context.Context, op *Operation, cfg *awscfg.ServiceConfig, input, output any) error {
	return c.run(ctx, op, cfg, c.encoder(op, cfg, input, op.StreamingOutput), func(resp *transport.Response) error {
		if output == nil {
			if resp.Stream != nil {
				resp.Stream.Close()
			}
			return nil
		}
		return protocol.DecodeResponse(cfg, op.Name, resp, output)
	})
}

// ExecuteStream runs one operation and feeds the raw response body to sink in
// sequential chunks. Backpressure is the sink itself: the next read waits for
// the previous sink call to return. A sink error abandons the stream.
func (c *Client) ExecuteStream(ctx context.Context, op *Operation, cfg *awscfg.ServiceConfig, input any, sink func([]byte) error) error {
	return c.run(ctx, op, cfg, c.encoder(op, cfg, input, true), func(resp *transport.Response) error {
		body := resp.Stream
		if body == nil {
			// Error responses and empty bodies arrive buffered.
			if len(resp.Body) > 0 {
				return sink(resp.Body)
			}
			return nil
		}
		defer body.Close()

		buf := make([]byte, 32*1024)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				if serr := sink(buf[:n]); serr != nil {
					return fmt.Errorf("stream sink: %w", serr)
				}
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return &awserr.TransportError{
					Kind:    awserr.TransportConnection,
					Message: "reading response stream",
					Cause:   err,
				}
			}
		}
	})
}

// Do runs a prebuilt request through the full middleware chain (signing,
// retry, error decoding) without the protocol codec. The caller owns the body
// encoding and the response. A request URL without a host is rebased onto the
// resolved endpoint.
func (c *Client) Do(ctx context.Context, op *Operation, cfg *awscfg.ServiceConfig, req *transport.Request) (*transport.Response, error) {
	var out *transport.Response
	build := func(endpoint string) (*transport.Request, error) {
		if req.URL == nil || req.URL.Host == "" {
			base, err := url.Parse(endpoint)
			if err != nil {
				return nil, awserr.NewClientError(awserr.KindInvalidURL, "invalid endpoint %q", endpoint)
			}
			if req.URL != nil {
				base.Path = req.URL.Path
				base.RawQuery = req.URL.RawQuery
			}
			req.URL = base
		}
		return req, nil
	}
	err := c.run(ctx, op, cfg, build, func(resp *transport.Response) error {
		out = resp
		return nil
	})
	return out, err
}

// encoder builds the request through the protocol codec.
func (c *Client) encoder(op *Operation, cfg *awscfg.ServiceConfig, input any, stream bool) func(string) (*transport.Request, error) {
	return func(endpoint string) (*transport.Request, error) {
		req, err := protocol.EncodeRequest(cfg, op.Name, op.method(), op.path(), endpoint, input)
		if err != nil {
			return nil, err
		}
		if op.HostPrefix != "" {
			req.URL.Host = op.HostPrefix + req.URL.Host
		}
		req.StreamResponse = stream
		return req, nil
	}
}

func (c *Client) run(ctx context.Context, op *Operation, cfg *awscfg.ServiceConfig, build func(string) (*transport.Request, error), consume func(*transport.Response) error) error {
	if c.closed.Load() {
		return awserr.NewClientError(awserr.KindAlreadyShutdown, "client is shut down")
	}

	id := c.requestID.Add(1)
	logger := logging.WithRequestID(logging.WithOperation(c.logger, cfg.ServiceName, op.Name), id)

	requestsTotal.WithLabelValues(cfg.ServiceName, op.Name).Inc()
	timer := prometheus.NewTimer(requestDuration.WithLabelValues(cfg.ServiceName, op.Name))
	defer timer.ObserveDuration()

	ctx, span := c.tracer.Start(ctx, cfg.ServiceName+"."+op.Name)
	defer span.End()
	span.SetAttributes(
		attribute.String("aws.service", cfg.ServiceName),
		attribute.String("aws.operation", op.Name),
		attribute.String("aws.region", cfg.Region),
	)

	start := c.nowFn()
	fail := func(err error) error {
		requestErrors.WithLabelValues(cfg.ServiceName, op.Name, errorKind(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("request failed",
			"error", logging.RedactAccessKeys(err.Error()),
			logging.DurationKey, c.nowFn().Sub(start).Milliseconds(),
		)
		return err
	}

	endpoint, signingRegion, err := c.resolveEndpoint(ctx, op, cfg)
	if err != nil {
		return fail(err)
	}

	req, err := build(endpoint)
	if err != nil {
		return fail(err)
	}

	if ctx.Err() != nil {
		return fail(&awserr.TransportError{
			Kind:    awserr.TransportCanceled,
			Message: "cancelled before dispatch",
			Cause:   ctx.Err(),
		})
	}

	cred, err := c.creds.Retrieve(ctx)
	if err != nil {
		return fail(fmt.Errorf("resolving credentials: %w", err))
	}

	mctx := &awscfg.MiddlewareContext{
		Operation:     op.Name,
		Config:        cfg,
		Credential:    cred,
		SigningRegion: signingRegion,
		Logger:        logger,
	}

	mws := slices.Clone(c.middleware)
	mws = append(mws, cfg.Middleware...)
	mws = append(mws, c.builtin...)

	resp, err := runChain(ctx, req, mctx, mws, c.terminalHandler(mctx))
	if err != nil {
		c.invalidateDiscovery(op, err)
		return fail(err)
	}

	if err := consume(resp); err != nil {
		return fail(err)
	}

	logger.Debug("request completed",
		"status", resp.StatusCode,
		logging.AttemptKey, mctx.Attempt+1,
		logging.DurationKey, c.nowFn().Sub(start).Milliseconds(),
	)
	return nil
}

// resolveEndpoint computes the static endpoint and, when the operation uses
// endpoint discovery, routes it through the cache.
func (c *Client) resolveEndpoint(ctx context.Context, op *Operation, cfg *awscfg.ServiceConfig) (endpoint, signingRegion string, err error) {
	resolved, err := endpoints.Resolve(cfg)
	if err != nil {
		return "", "", err
	}
	endpoint = resolved.URL

	if op.Discovery != nil {
		enabled := cfg.Options.Has(awscfg.OptEnableEndpointDiscovery)
		discovered, derr := op.Discovery.Endpoint(ctx, enabled, resolved.URL)
		if derr != nil {
			endpointDiscoveries.WithLabelValues(cfg.ServiceName, "error").Inc()
			return "", "", derr
		}
		if discovered != resolved.URL {
			endpointDiscoveries.WithLabelValues(cfg.ServiceName, "hit").Inc()
		}
		endpoint = discovered
	}
	return endpoint, resolved.SigningRegion, nil
}

// invalidateDiscovery drops a cached discovered endpoint when the service
// says it has gone stale.
func (c *Client) invalidateDiscovery(op *Operation, err error) {
	if op.Discovery == nil {
		return
	}
	var rf *awserr.RequestFailure
	if errors.As(err, &rf) && rf.Code == "InvalidEndpointException" {
		op.Discovery.Invalidate()
	}
}
