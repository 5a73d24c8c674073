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
	"os"
	"sync/atomic"
	"time"

	"github.com/tombee/cirrus/awscfg"
)

// ecsHost is the fixed link-local address of the ECS credentials endpoint.
const ecsHost = "http://169.254.170.2"

// ECS fetches expiring credentials from the ECS container endpoint. It is
// enabled when AWS_CONTAINER_CREDENTIALS_RELATIVE_URI is set.
type ECS struct {
	// BaseURL overrides the link-local host, for tests.
	BaseURL string

	// RelativeURI overrides the environment variable.
	RelativeURI string

	client   *http.Client
	shutdown atomic.Bool
}

// NewECS builds the provider. Returns an error when the container relative
// URI is not configured, so the chain can skip it.
func NewECS() (*ECS, error) {
	uri := os.Getenv(EnvContainerURI)
	if uri == "" {
		return nil, fmt.Errorf("credentials: %s is not set", EnvContainerURI)
	}
	return &ECS{
		RelativeURI: uri,
		client:      &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// credentialDoc is the JSON document both ECS and IMDS return.
type credentialDoc struct {
	AccessKeyID     string    `json:"AccessKeyId"`
	SecretAccessKey string    `json:"SecretAccessKey"`
	Token           string    `json:"Token"`
	Expiration      time.Time `json:"Expiration"`
}

func (d credentialDoc) credential() awscfg.Credential {
	return awscfg.Credential{
		AccessKeyID:     d.AccessKeyID,
		SecretAccessKey: d.SecretAccessKey,
		SessionToken:    d.Token,
		Expiration:      d.Expiration,
	}
}

// Retrieve implements Provider.
func (p *ECS) Retrieve(ctx context.Context) (awscfg.Credential, error) {
	base := p.BaseURL
	if base == "" {
		base = ecsHost
	}
	client := p.client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+p.RelativeURI, nil)
	if err != nil {
		return awscfg.Credential{}, fmt.Errorf("credentials: building ecs request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return awscfg.Credential{}, fmt.Errorf("credentials: ecs endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return awscfg.Credential{}, fmt.Errorf("credentials: ecs endpoint returned %d: %s", resp.StatusCode, body)
	}

	var doc credentialDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return awscfg.Credential{}, fmt.Errorf("credentials: decoding ecs response: %w", err)
	}
	cred := doc.credential()
	if !cred.HasKeys() {
		return awscfg.Credential{}, fmt.Errorf("credentials: ecs response is missing keys")
	}
	return cred, nil
}

// Shutdown releases the provider's HTTP client. Idempotent.
func (p *ECS) Shutdown() error {
	if !p.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}
