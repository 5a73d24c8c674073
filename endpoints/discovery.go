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

package endpoints

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefreshWindow is how far before expiry a discovered endpoint counts as
// expiring and triggers a refresh.
const RefreshWindow = 3 * time.Minute

// DiscoveredEndpoint is one entry of a DescribeEndpoints-style response.
type DiscoveredEndpoint struct {
	Address              string `locationName:"Address"`
	CachePeriodInMinutes int64  `locationName:"CachePeriodInMinutes"`
}

// DiscoverFunc performs the runtime endpoint lookup RPC.
type DiscoverFunc func(ctx context.Context) ([]DiscoveredEndpoint, error)

// DiscoveryCache caches a runtime-discovered endpoint with a TTL. Concurrent
// refreshes coalesce onto a single in-flight discovery call; at most one
// discovery runs per cache at any time.
type DiscoveryCache struct {
	discover DiscoverFunc

	// Required marks services where discovery is mandatory: expiry blocks
	// callers and discovery errors are fatal. Optional discovery refreshes
	// in the background and tolerates failure.
	Required bool

	mu        sync.Mutex
	endpoint  string
	expiresAt time.Time

	group singleflight.Group

	// test seams
	nowFn  func() time.Time
	randFn func(n int) int
}

// NewDiscoveryCache builds a cache around a discovery call.
func NewDiscoveryCache(discover DiscoverFunc, required bool) *DiscoveryCache {
	return &DiscoveryCache{
		discover: discover,
		Required: required,
		nowFn:    time.Now,
		randFn:   rand.Intn,
	}
}

// Endpoint returns the endpoint to use for one request. enabled reflects the
// service config's discovery flag; when discovery is neither enabled nor
// required the fallback (statically resolved) endpoint wins.
//
// Behaviour on an expiring cached value: required discovery awaits the
// refresh synchronously; optional discovery kicks it off in the background
// and proceeds with the stale value. Optional discovery errors are non-fatal.
func (c *DiscoveryCache) Endpoint(ctx context.Context, enabled bool, fallback string) (string, error) {
	if !enabled && !c.Required {
		return fallback, nil
	}

	now := c.nowFn()
	c.mu.Lock()
	endpoint := c.endpoint
	expiring := endpoint == "" || !now.Add(RefreshWindow).Before(c.expiresAt)
	c.mu.Unlock()

	if !expiring {
		return endpoint, nil
	}

	if c.Required {
		fresh, err := c.refresh(ctx)
		if err != nil {
			return "", fmt.Errorf("endpoints: required discovery failed: %w", err)
		}
		return fresh, nil
	}

	// Optional: refresh without blocking the caller or inheriting its
	// cancellation.
	bg := context.WithoutCancel(ctx)
	go func() { _, _ = c.refresh(bg) }()

	if endpoint != "" {
		return endpoint, nil
	}
	return fallback, nil
}

// refresh performs one coalesced discovery call and stores the result.
func (c *DiscoveryCache) refresh(ctx context.Context) (string, error) {
	v, err, _ := c.group.Do("discover", func() (any, error) {
		found, err := c.discover(ctx)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("discovery returned no endpoints")
		}

		// One address chosen uniformly at random per refresh.
		chosen := found[c.randFn(len(found))]
		ttl := time.Duration(chosen.CachePeriodInMinutes) * time.Minute

		c.mu.Lock()
		c.endpoint = withScheme(chosen.Address)
		c.expiresAt = c.nowFn().Add(ttl)
		endpoint := c.endpoint
		c.mu.Unlock()
		return endpoint, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached endpoint, forcing rediscovery. Services signal
// this with InvalidEndpointException-style errors.
func (c *DiscoveryCache) Invalidate() {
	c.mu.Lock()
	c.endpoint = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
