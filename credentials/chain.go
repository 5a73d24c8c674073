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
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/tombee/cirrus/awscfg"
)

// Chain tries providers in order and caches the first that succeeds.
// Subsequent retrieves go straight to the winning provider, so an expiring
// winner keeps refreshing without re-probing the losers.
type Chain struct {
	providers []Provider

	mu     sync.Mutex
	winner Provider
}

// NewChain builds a chain over the given providers.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// NewDefaultChain is the standard resolution order: environment, shared
// credentials file, ECS container endpoint, instance metadata. Environment
// and ECS construction fail fast when their variables are unset; those
// providers are simply left out.
func NewDefaultChain() *Chain {
	var providers []Provider
	if env, err := NewEnv(); err == nil {
		providers = append(providers, env)
	}
	providers = append(providers, &SharedFile{})
	if ecs, err := NewECS(); err == nil {
		providers = append(providers, ecs)
	}
	providers = append(providers, NewIMDS())
	return NewChain(providers...)
}

// Retrieve implements Provider.
func (c *Chain) Retrieve(ctx context.Context) (awscfg.Credential, error) {
	c.mu.Lock()
	winner := c.winner
	c.mu.Unlock()

	if winner != nil {
		return winner.Retrieve(ctx)
	}

	var errs *multierror.Error
	for _, p := range c.providers {
		cred, err := p.Retrieve(ctx)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		c.mu.Lock()
		c.winner = p
		c.mu.Unlock()
		return cred, nil
	}

	if errs == nil {
		return awscfg.Credential{}, fmt.Errorf("credentials: chain has no providers")
	}
	return awscfg.Credential{}, fmt.Errorf("credentials: no provider succeeded: %w", errs.ErrorOrNil())
}

// Shutdown releases every provider that holds resources. Idempotent because
// each provider's Shutdown is.
func (c *Chain) Shutdown() error {
	var errs *multierror.Error
	for _, p := range c.providers {
		if s, ok := p.(Shutdowner); ok {
			if err := s.Shutdown(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}
