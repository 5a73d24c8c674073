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
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tombee/cirrus/awscfg"
)

// RefreshWindow is how far before expiry a cached credential counts as
// expiring. A credential exactly at the threshold is refreshed, never
// handed to a signer.
const RefreshWindow = 3 * time.Minute

// Cache wraps a Provider with read-through caching. Reads are lock-cheap;
// concurrent retrieves during a refresh coalesce onto a single upstream
// fetch and all observe the same credential.
type Cache struct {
	upstream Provider

	mu    sync.RWMutex
	value awscfg.Credential
	has   bool

	group singleflight.Group

	// nowFn is a test seam.
	nowFn func() time.Time
}

// NewCache wraps upstream with caching.
func NewCache(upstream Provider) *Cache {
	return &Cache{upstream: upstream, nowFn: time.Now}
}

// Retrieve implements Provider. The cached credential is served until it is
// within RefreshWindow of expiry, then refreshed.
func (c *Cache) Retrieve(ctx context.Context) (awscfg.Credential, error) {
	c.mu.RLock()
	value, has := c.value, c.has
	c.mu.RUnlock()

	if has && !value.Expired(c.nowFn(), RefreshWindow) {
		return value, nil
	}

	fresh, err, _ := c.group.Do("refresh", func() (any, error) {
		// Another caller may have completed the refresh while this one
		// waited on the flight group.
		c.mu.RLock()
		value, has := c.value, c.has
		c.mu.RUnlock()
		if has && !value.Expired(c.nowFn(), RefreshWindow) {
			return value, nil
		}

		retrieved, err := c.upstream.Retrieve(ctx)
		if err != nil {
			return awscfg.Credential{}, err
		}
		c.mu.Lock()
		c.value, c.has = retrieved, true
		c.mu.Unlock()
		return retrieved, nil
	})
	if err != nil {
		return awscfg.Credential{}, err
	}
	return fresh.(awscfg.Credential), nil
}

// Invalidate drops the cached credential.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.has = false
	c.value = awscfg.Credential{}
	c.mu.Unlock()
}

// Shutdown forwards to the upstream provider when it holds resources.
func (c *Cache) Shutdown() error {
	if s, ok := c.upstream.(Shutdowner); ok {
		return s.Shutdown()
	}
	return nil
}
