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

package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tombee/cirrus/awscfg"
)

const (
	imdsHost          = "http://169.254.169.254"
	imdsTokenPath     = "/latest/api/token/"
	imdsRolePath      = "/latest/meta-data/iam/security-credentials/"
	imdsTokenTTL      = "21600"
	imdsTokenTTLHdr   = "X-aws-ec2-metadata-token-ttl-seconds"
	imdsTokenHdr      = "X-aws-ec2-metadata-token"
	imdsClientTimeout = 5 * time.Second
)

// IMDS fetches expiring credentials from the EC2 Instance Metadata Service
// using the v2 (session token) flow: PUT a token request, list the instance
// role, then fetch the role's credential document.
type IMDS struct {
	// BaseURL overrides the link-local host, for tests.
	BaseURL string

	client   *http.Client
	shutdown atomic.Bool
}

// NewIMDS builds the provider.
func NewIMDS() *IMDS {
	return &IMDS{client: &http.Client{Timeout: imdsClientTimeout}}
}

func (p *IMDS) httpClient() *http.Client {
	if p.client == nil {
		return &http.Client{Timeout: imdsClientTimeout}
	}
	return p.client
}

func (p *IMDS) base() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return imdsHost
}

// Retrieve implements Provider.
func (p *IMDS) Retrieve(ctx context.Context) (awscfg.Credential, error) {
	token, err := p.fetchToken(ctx)
	if err != nil {
		return awscfg.Credential{}, err
	}

	role, err := p.fetchRole(ctx, token)
	if err != nil {
		return awscfg.Credential{}, err
	}

	doc, err := p.fetchCredential(ctx, token, role)
	if err != nil {
		return awscfg.Credential{}, err
	}
	cred := doc.credential()
	if !cred.HasKeys() {
		return awscfg.Credential{}, fmt.Errorf("credentials: imds response is missing keys")
	}
	return cred, nil
}

// fetchToken performs the IMDSv2 session-token PUT.
func (p *IMDS) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.base()+imdsTokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("credentials: building imds token request: %w", err)
	}
	req.Header.Set(imdsTokenTTLHdr, imdsTokenTTL)

	body, err := p.do(req)
	if err != nil {
		return "", fmt.Errorf("credentials: imds token: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// fetchRole lists the instance's IAM role; the first line is the role name.
func (p *IMDS) fetchRole(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base()+imdsRolePath, nil)
	if err != nil {
		return "", fmt.Errorf("credentials: building imds role request: %w", err)
	}
	req.Header.Set(imdsTokenHdr, token)

	body, err := p.do(req)
	if err != nil {
		return "", fmt.Errorf("credentials: imds role list: %w", err)
	}
	role, _, _ := strings.Cut(strings.TrimSpace(string(body)), "\n")
	if role == "" {
		return "", fmt.Errorf("credentials: instance has no IAM role")
	}
	return role, nil
}

func (p *IMDS) fetchCredential(ctx context.Context, token, role string) (credentialDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base()+imdsRolePath+role, nil)
	if err != nil {
		return credentialDoc{}, fmt.Errorf("credentials: building imds credential request: %w", err)
	}
	req.Header.Set(imdsTokenHdr, token)

	body, err := p.do(req)
	if err != nil {
		return credentialDoc{}, fmt.Errorf("credentials: imds credential: %w", err)
	}
	var doc credentialDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return credentialDoc{}, fmt.Errorf("credentials: decoding imds credential: %w", err)
	}
	return doc, nil
}

func (p *IMDS) do(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

// Shutdown releases the provider's HTTP client. Idempotent.
func (p *IMDS) Shutdown() error {
	if !p.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}
