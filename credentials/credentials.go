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

// Package credentials resolves AWS credentials on demand: static values,
// process environment, the shared credentials file, the ECS container
// endpoint and the EC2 instance metadata service, plus a chain that tries
// them in order. Wrap any expiring provider in a Cache to get coalesced
// refresh and a never-hand-out-expired guarantee.
package credentials

import (
	"context"
	"fmt"
	"os"

	"github.com/tombee/cirrus/awscfg"
)

// Provider resolves a credential. Retrieve may suspend (network providers)
// and must honour ctx cancellation.
type Provider interface {
	Retrieve(ctx context.Context) (awscfg.Credential, error)
}

// Shutdowner is implemented by providers holding releasable resources
// (HTTP clients, background refresh). Shutdown must be idempotent.
type Shutdowner interface {
	Shutdown() error
}

// Environment variable names consumed by the providers.
const (
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvSessionToken    = "AWS_SESSION_TOKEN"
	EnvProfile         = "AWS_PROFILE"
	EnvContainerURI    = "AWS_CONTAINER_CREDENTIALS_RELATIVE_URI"
)

// Static is a fixed, never-expiring credential.
type Static struct {
	Value awscfg.Credential
}

// NewStatic builds a static provider from raw key material.
func NewStatic(accessKeyID, secretAccessKey, sessionToken string) *Static {
	return &Static{Value: awscfg.Credential{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		SessionToken:    sessionToken,
	}}
}

// Retrieve implements Provider.
func (s *Static) Retrieve(context.Context) (awscfg.Credential, error) {
	if !s.Value.HasKeys() {
		return awscfg.Credential{}, fmt.Errorf("credentials: static provider is missing keys")
	}
	return s.Value, nil
}

// Env reads the AWS_* environment variables. Construction fails when the
// required variables are absent, so the chain can move on cheaply.
type Env struct {
	value awscfg.Credential
}

// NewEnv snapshots the environment. Returns an error when AWS_ACCESS_KEY_ID
// or AWS_SECRET_ACCESS_KEY is unset.
func NewEnv() (*Env, error) {
	id := os.Getenv(EnvAccessKeyID)
	secret := os.Getenv(EnvSecretAccessKey)
	if id == "" {
		return nil, fmt.Errorf("credentials: %s is not set", EnvAccessKeyID)
	}
	if secret == "" {
		return nil, fmt.Errorf("credentials: %s is not set", EnvSecretAccessKey)
	}
	return &Env{value: awscfg.Credential{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv(EnvSessionToken),
	}}, nil
}

// Retrieve implements Provider.
func (e *Env) Retrieve(context.Context) (awscfg.Credential, error) {
	return e.value, nil
}
