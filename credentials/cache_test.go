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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/cirrus/awscfg"
)

// slowProvider blocks each retrieve briefly so concurrent callers pile up on
// the flight group.
type slowProvider struct {
	calls  atomic.Int32
	expiry time.Time
}

func (p *slowProvider) Retrieve(context.Context) (awscfg.Credential, error) {
	n := p.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	return awscfg.Credential{
		AccessKeyID:     "AKID",
		SecretAccessKey: "secret",
		SessionToken:    string(rune('a' + n - 1)),
		Expiration:      p.expiry,
	}, nil
}

func TestCache_ServesCachedValue(t *testing.T) {
	upstream := &countingProvider{value: awscfg.Credential{AccessKeyID: "AKID", SecretAccessKey: "s"}}
	cache := NewCache(upstream)

	for i := 0; i < 5; i++ {
		cred, err := cache.Retrieve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "AKID", cred.AccessKeyID)
	}
	assert.Equal(t, 1, upstream.calls)
}

func TestCache_ConcurrentRetrievesCoalesce(t *testing.T) {
	upstream := &slowProvider{expiry: time.Now().Add(time.Hour)}
	cache := NewCache(upstream)

	const n = 20
	creds := make([]awscfg.Credential, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := cache.Retrieve(context.Background())
			assert.NoError(t, err)
			creds[i] = cred
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), upstream.calls.Load(), "concurrent retrieves must coalesce onto one fetch")
	for i := 1; i < n; i++ {
		assert.Equal(t, creds[0], creds[i], "all callers observe the same credential")
	}
}

func TestCache_RefreshesInsideWindow(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(10 * time.Minute)

	upstream := &countingProvider{value: awscfg.Credential{
		AccessKeyID:     "AKID",
		SecretAccessKey: "s",
		Expiration:      expiry,
	}}
	cache := NewCache(upstream)
	cache.nowFn = func() time.Time { return now }

	_, err := cache.Retrieve(context.Background())
	require.NoError(t, err)
	_, err = cache.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.calls, "credential well before expiry is served from cache")

	// Step time to exactly the refresh threshold: expiry - RefreshWindow.
	cache.nowFn = func() time.Time { return expiry.Add(-RefreshWindow) }
	_, err = cache.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.calls, "credential at the threshold is refreshed, not served")
}

func TestCache_UpstreamErrorPropagates(t *testing.T) {
	boom := errors.New("upstream down")
	upstream := &countingProvider{err: boom}
	cache := NewCache(upstream)

	_, err := cache.Retrieve(context.Background())
	assert.ErrorIs(t, err, boom)

	// Errors are not cached; the next retrieve tries again.
	_, err = cache.Retrieve(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, upstream.calls)
}

func TestCache_Invalidate(t *testing.T) {
	upstream := &countingProvider{value: awscfg.Credential{AccessKeyID: "AKID", SecretAccessKey: "s"}}
	cache := NewCache(upstream)

	_, err := cache.Retrieve(context.Background())
	require.NoError(t, err)
	cache.Invalidate()
	_, err = cache.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.calls)
}

func TestCache_ShutdownForwards(t *testing.T) {
	// A provider without Shutdown is a no-op.
	assert.NoError(t, NewCache(&countingProvider{}).Shutdown())

	ecs := &ECS{RelativeURI: "/creds"}
	require.NoError(t, NewCache(ecs).Shutdown())
	assert.True(t, ecs.shutdown.Load())
}
