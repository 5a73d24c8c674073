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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/cirrus/awscfg"
	"github.com/tombee/cirrus/retry"
	"github.com/tombee/cirrus/transport"
)

func TestRunChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) awscfg.Middleware {
		return func(ctx context.Context, req *transport.Request, mctx *awscfg.MiddlewareContext, next awscfg.Handler) (*transport.Response, error) {
			order = append(order, name+" in")
			resp, err := next(ctx, req)
			order = append(order, name+" out")
			return resp, err
		}
	}

	tp := &fakeTransport{script: []fakeResult{jsonResponse(200, `{}`)}}
	c, _ := newTestClient(t, tp, nil)
	c.middleware = []awscfg.Middleware{mark("caller")}

	cfg := jsonServiceConfig(t).With(func(sc *awscfg.ServiceConfig) {
		sc.Middleware = []awscfg.Middleware{mark("service")}
	})

	err := c.Execute(context.Background(), &Operation{Name: "ListTables"}, cfg, &struct{}{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"caller in", "service in", "service out", "caller out"}, order,
		"caller middleware wraps service middleware which wraps the built-ins")
}

func TestInvocationIDStableAcrossAttempts(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{
		jsonResponse(500, `{"__type":"InternalServerError","message":"boom"}`),
		jsonResponse(200, `{}`),
	}}
	c, _ := newTestClient(t, tp, retry.Exponential{Base: time.Millisecond, MaxRetries: 2})

	err := c.Execute(context.Background(), &Operation{Name: "ListTables"}, jsonServiceConfig(t), &struct{}{}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, tp.calls())

	first := tp.requests[0].Headers.Get("Amz-Sdk-Invocation-Id")
	second := tp.requests[1].Headers.Get("Amz-Sdk-Invocation-Id")
	require.NotEmpty(t, first)
	assert.Equal(t, first, second, "one invocation ID spans all attempts of an execution")

	assert.Equal(t, "attempt=1", tp.requests[0].Headers.Get("Amz-Sdk-Request"))
	assert.Equal(t, "attempt=2", tp.requests[1].Headers.Get("Amz-Sdk-Request"))
}

func TestSignaturesDifferPerAttempt(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{
		jsonResponse(500, `{"__type":"InternalServerError","message":"boom"}`),
		jsonResponse(200, `{}`),
	}}
	c, _ := newTestClient(t, tp, retry.Exponential{Base: time.Millisecond, MaxRetries: 2})

	// Each attempt signs with its own timestamp.
	times := []time.Time{
		time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 24, 12, 0, 5, 0, time.UTC),
	}
	var call int
	c.nowFn = func() time.Time {
		t := times[call%len(times)]
		call++
		return t
	}

	err := c.Execute(context.Background(), &Operation{Name: "ListTables"}, jsonServiceConfig(t), &struct{}{}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, tp.calls())

	assert.NotEqual(t,
		tp.requests[0].Headers.Get("Authorization"),
		tp.requests[1].Headers.Get("Authorization"),
		"retried attempts are re-signed, not replayed")
}

func TestContentMD5Middleware(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{jsonResponse(200, `{}`)}}
	c, _ := newTestClient(t, tp, nil)

	cfg := jsonServiceConfig(t).With(awscfg.WithOptions(awscfg.OptCalculateMD5))
	err := c.Execute(context.Background(), &Operation{Name: "SendMessage"}, cfg, &listTablesInput{Limit: 1}, nil)
	require.NoError(t, err)

	got := tp.requests[0].Headers.Get("Content-Md5")
	require.NotEmpty(t, got)
	// base64(md5(`{"Limit":1}`))
	assert.Equal(t, "/K1h+DIqYI6EFY9m41IkhQ==", got)
}

func TestContentMD5_SkippedWithoutOption(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{jsonResponse(200, `{}`)}}
	c, _ := newTestClient(t, tp, nil)

	err := c.Execute(context.Background(), &Operation{Name: "SendMessage"}, jsonServiceConfig(t), &listTablesInput{Limit: 1}, nil)
	require.NoError(t, err)
	assert.Empty(t, tp.requests[0].Headers.Get("Content-Md5"))
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"2", 2 * time.Second},
		{"120", 2 * time.Minute},
		{"0", 0},
		{"-5", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseRetryAfter(tt.in), "parseRetryAfter(%q)", tt.in)
	}
}
