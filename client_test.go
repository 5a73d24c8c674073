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
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/cirrus/awscfg"
	"github.com/tombee/cirrus/awserr"
	"github.com/tombee/cirrus/credentials"
	"github.com/tombee/cirrus/retry"
	"github.com/tombee/cirrus/transport"
)

// fakeTransport replays a scripted sequence of responses and records every
// request it saw. The last script entry repeats once the script runs out.
type fakeTransport struct {
	mu       sync.Mutex
	script   []fakeResult
	requests []*transport.Request
	closed   int
}

type fakeResult struct {
	resp *transport.Response
	err  error
}

func (f *fakeTransport) RoundTrip(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req.Clone())

	i := len(f.requests) - 1
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	r := f.script[i]
	return r.resp, r.err
}

func (f *fakeTransport) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func jsonResponse(status int, body string) fakeResult {
	return fakeResult{resp: &transport.Response{
		StatusCode: status,
		Headers:    http.Header{"X-Amzn-Requestid": []string{"req-1"}},
		Body:       []byte(body),
	}}
}

// newTestClient builds a client over a scripted transport with recorded
// sleeps instead of real ones.
func newTestClient(t *testing.T, tp transport.Transport, policy retry.Policy) (*Client, *[]time.Duration) {
	t.Helper()
	c, err := New(Config{
		Credentials: credentials.NewStatic("AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", ""),
		Transport:   tp,
		RetryPolicy: policy,
	})
	require.NoError(t, err)

	sleeps := &[]time.Duration{}
	c.sleepFn = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return c, sleeps
}

func jsonServiceConfig(t *testing.T) *awscfg.ServiceConfig {
	t.Helper()
	cfg, err := awscfg.NewServiceConfig(awscfg.ServiceConfig{
		Region:      "us-east-1",
		ServiceName: "TestService",
		ServiceID:   "testservice",
		Protocol:    awscfg.ProtocolJSON,
		AmzTarget:   "TestService_20260101",
	})
	require.NoError(t, err)
	return cfg
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestShutdown_SecondCallFails(t *testing.T) {
	c, err := New(Config{Credentials: credentials.NewStatic("a", "b", "")})
	require.NoError(t, err)

	require.NoError(t, c.Shutdown())
	err = c.Shutdown()
	require.Error(t, err)
	assert.True(t, awserr.IsKind(err, awserr.KindAlreadyShutdown))
}

func TestShutdown_DoesNotCloseCallerTransport(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{jsonResponse(200, `{}`)}}
	c, _ := newTestClient(t, tp, nil)

	require.NoError(t, c.Shutdown())
	assert.Equal(t, 0, tp.closed, "a transport supplied by the caller stays open")
}

func TestExecute_AfterShutdown(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{jsonResponse(200, `{}`)}}
	c, _ := newTestClient(t, tp, nil)
	require.NoError(t, c.Shutdown())

	op := &Operation{Name: "ListTables"}
	err := c.Execute(context.Background(), op, jsonServiceConfig(t), &struct{}{}, nil)
	require.Error(t, err)
	assert.True(t, awserr.IsKind(err, awserr.KindAlreadyShutdown))
	assert.Equal(t, 0, tp.calls())
}

func TestExecute_CancelledBeforeDispatch(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{jsonResponse(200, `{}`)}}
	c, _ := newTestClient(t, tp, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op := &Operation{Name: "ListTables"}
	err := c.Execute(ctx, op, jsonServiceConfig(t), &struct{}{}, nil)
	require.Error(t, err)
	assert.True(t, awserr.IsCanceled(err))
	assert.Equal(t, 0, tp.calls(), "a cancelled context never reaches the wire")
}
