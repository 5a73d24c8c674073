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
	"net/http"
	"net/url"
	"time"

	"github.com/tombee/cirrus/awscfg"
	"github.com/tombee/cirrus/sigv4"
	"github.com/tombee/cirrus/transport"
)

// SignHeaders signs an arbitrary request against the service config and
// returns the headers to send, Authorization included. Use it to call AWS
// endpoints outside the Execute pipeline (websockets, raw HTTP clients).
func (c *Client) SignHeaders(ctx context.Context, cfg *awscfg.ServiceConfig, method string, u *url.URL, headers http.Header, body []byte) (http.Header, error) {
	cred, err := c.creds.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials: %w", err)
	}

	req := transport.NewRequest(method, u)
	if headers != nil {
		req.Headers = headers.Clone()
	}
	req.Body = body

	signer := c.signerFor(cfg)
	if err := signer.SignHTTP(cred, req, sigv4.PayloadHash(body), cfg.SigningName, cfg.Region, c.nowFn().UTC()); err != nil {
		return nil, err
	}
	return req.Headers, nil
}

// PresignURL produces a presigned URL valid for the given duration, with the
// signature carried in query parameters. expires is clamped to SigV4's
// [1 second, 7 days] range.
func (c *Client) PresignURL(ctx context.Context, cfg *awscfg.ServiceConfig, method string, u *url.URL, expires time.Duration) (string, error) {
	cred, err := c.creds.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving credentials: %w", err)
	}

	req := transport.NewRequest(method, u)
	signer := c.signerFor(cfg)
	return signer.PresignHTTP(cred, req, cfg.SigningName, cfg.Region, expires, c.nowFn().UTC())
}

func (c *Client) signerFor(cfg *awscfg.ServiceConfig) *sigv4.Signer {
	return &sigv4.Signer{DisableURIPathEscaping: cfg.SigningName == "s3"}
}
