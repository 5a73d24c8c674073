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
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/cirrus/awscfg"
	"github.com/tombee/cirrus/awserr"
	"github.com/tombee/cirrus/protocol"
	"github.com/tombee/cirrus/retry"
	"github.com/tombee/cirrus/sigv4"
	"github.com/tombee/cirrus/transport"
)

// runChain threads req through mws in order (first middleware outermost) and
// finishes at terminal.
func runChain(ctx context.Context, req *transport.Request, mctx *awscfg.MiddlewareContext, mws []awscfg.Middleware, terminal awscfg.Handler) (*transport.Response, error) {
	h := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		next := h
		h = func(ctx context.Context, r *transport.Request) (*transport.Response, error) {
			return mw(ctx, r, mctx, next)
		}
	}
	return h(ctx, req)
}

// terminalHandler performs the actual round trip under the config's
// per-attempt timeout.
func (c *Client) terminalHandler(mctx *awscfg.MiddlewareContext) awscfg.Handler {
	return func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		timeout := mctx.Config.Timeout
		if timeout == 0 {
			timeout = transport.DefaultTimeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return c.transport.RoundTrip(ctx, req)
	}
}

// invocationIDMiddleware tags the whole execution (all attempts) with one
// Amz-Sdk-Invocation-Id, letting services correlate retries server-side.
func invocationIDMiddleware(ctx context.Context, req *transport.Request, mctx *awscfg.MiddlewareContext, next awscfg.Handler) (*transport.Response, error) {
	if req.Headers.Get("Amz-Sdk-Invocation-Id") == "" {
		req.Headers.Set("Amz-Sdk-Invocation-Id", uuid.NewString())
	}
	return next(ctx, req)
}

// errorMiddleware turns non-2xx responses into the error taxonomy: a typed
// error from the config's decoder when it recognises the code, a generic
// RequestFailure when the body parsed, a RawError otherwise.
func (c *Client) errorMiddleware(ctx context.Context, req *transport.Request, mctx *awscfg.MiddlewareContext, next awscfg.Handler) (*transport.Response, error) {
	resp, err := next(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	failure := buildError(mctx.Config, resp)
	if rf, ok := failure.(*awserr.RequestFailure); ok && mctx.Config.ErrorDecoder != nil {
		if typed := mctx.Config.ErrorDecoder(rf.Code, rf.Message, rf.StatusCode, rf.RequestID); typed != nil {
			return nil, typed
		}
	}
	return nil, failure
}

// retryMiddleware re-runs the inner chain per the retry policy. Each attempt
// clones the request so per-attempt headers (date, signature) never leak
// between attempts. Streaming request bodies are never retried: the reader
// may already be partially consumed.
func (c *Client) retryMiddleware(ctx context.Context, req *transport.Request, mctx *awscfg.MiddlewareContext, next awscfg.Handler) (*transport.Response, error) {
	policy := retry.WithThrottleCodes(c.policy, mctx.Config.ExtraThrottleCodes)

	for {
		attemptReq := req.Clone()
		attemptReq.Headers.Set("Amz-Sdk-Request", fmt.Sprintf("attempt=%d", mctx.Attempt+1))

		resp, err := next(ctx, attemptReq)

		// The error middleware sits outside this loop, so a non-2xx
		// response arrives here as a plain response. Classify it
		// provisionally to consult the policy; the final typed error is
		// built on the way out.
		classified := err
		if err == nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			classified = buildError(mctx.Config, resp)
		}

		if awserr.IsCanceled(classified) || req.IsStreaming() {
			return resp, err
		}

		delay, ok := policy.RetryDelay(classified, mctx.Attempt)
		if !ok {
			return resp, err
		}

		requestRetries.WithLabelValues(mctx.Config.ServiceName, mctx.Operation).Inc()
		mctx.Logger.Debug("retrying request",
			"attempt", mctx.Attempt+1,
			"delay", delay,
			"cause", classified.Error(),
		)

		if serr := c.sleepFn(ctx, delay); serr != nil {
			return nil, &awserr.TransportError{
				Kind:    awserr.TransportCanceled,
				Message: "cancelled while waiting to retry",
				Cause:   serr,
			}
		}
		mctx.Attempt++
	}
}

// contentMD5Middleware adds a Content-MD5 over buffered bodies when the
// service asks for one (S3 object lock, SQS). Runs inside retry but outside
// signing so the checksum is covered by the signature.
func contentMD5Middleware(ctx context.Context, req *transport.Request, mctx *awscfg.MiddlewareContext, next awscfg.Handler) (*transport.Response, error) {
	if mctx.Config.Options.Has(awscfg.OptCalculateMD5) && len(req.Body) > 0 && req.Headers.Get("Content-Md5") == "" {
		sum := md5.Sum(req.Body)
		req.Headers.Set("Content-Md5", base64.StdEncoding.EncodeToString(sum[:]))
	}
	return next(ctx, req)
}

// signMiddleware applies SigV4 with the credential resolved at the top of the
// execute. Streaming bodies sign as UNSIGNED-PAYLOAD since their content
// cannot be hashed without draining the reader.
func (c *Client) signMiddleware(ctx context.Context, req *transport.Request, mctx *awscfg.MiddlewareContext, next awscfg.Handler) (*transport.Response, error) {
	payloadHash := sigv4.PayloadHash(req.Body)
	if req.IsStreaming() {
		payloadHash = sigv4.UnsignedPayload
	}
	// S3 requires the payload hash on the wire; other services only sign it.
	if mctx.Config.SigningName == "s3" || req.IsStreaming() {
		req.Headers.Set("X-Amz-Content-Sha256", payloadHash)
	}

	signer := c.signerFor(mctx.Config)
	if err := signer.SignHTTP(mctx.Credential, req, payloadHash, mctx.Config.SigningName, mctx.SigningRegion, c.nowFn().UTC()); err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}
	return next(ctx, req)
}

// buildError classifies a non-2xx response into the generic taxonomy. Used
// both provisionally by the retry middleware and finally by the error
// middleware.
func buildError(cfg *awscfg.ServiceConfig, resp *transport.Response) error {
	code, message := protocol.ExtractError(cfg.Protocol, resp.Headers, resp.Body)
	retryAfter := parseRetryAfter(resp.Header("Retry-After"))
	requestID := resp.RequestID()

	if code == "" {
		return &awserr.RawError{
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
			Headers:    resp.Headers,
			Body:       resp.Body,
			RetryAfter: retryAfter,
		}
	}

	rf := awserr.NewRequestFailure(code, message, resp.StatusCode, requestID)
	rf.RetryAfter = retryAfter
	return rf
}

// parseRetryAfter reads a Retry-After header given in whole seconds. The
// HTTP-date form is rare on AWS endpoints and is ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
