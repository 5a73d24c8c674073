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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/cirrus/awserr"
)

type tableDescription struct {
	Table struct {
		Status string
	}
	Statuses []string
}

func describeOut(status string, statuses ...string) *tableDescription {
	out := &tableDescription{Statuses: statuses}
	out.Table.Status = status
	return out
}

func TestMatchers(t *testing.T) {
	notFound := awserr.NewRequestFailure("ResourceNotFoundException", "no such table", 404, "")

	tests := []struct {
		name    string
		matcher Matcher
		output  any
		err     error
		want    bool
	}{
		{"path equal", PathMatcher{Path: "Table.Status", Expected: "ACTIVE"}, describeOut("ACTIVE"), nil, true},
		{"path not equal", PathMatcher{Path: "Table.Status", Expected: "ACTIVE"}, describeOut("CREATING"), nil, false},
		{"path missing", PathMatcher{Path: "Missing.Field", Expected: "x"}, describeOut("ACTIVE"), nil, false},
		{"path ignores errors", PathMatcher{Path: "Table.Status", Expected: "ACTIVE"}, nil, notFound, false},

		{"pathAny hit", PathAnyMatcher{Path: "Statuses", Expected: "DELETING"}, describeOut("", "ACTIVE", "DELETING"), nil, true},
		{"pathAny miss", PathAnyMatcher{Path: "Statuses", Expected: "DELETING"}, describeOut("", "ACTIVE"), nil, false},
		{"pathAny empty list", PathAnyMatcher{Path: "Statuses", Expected: "X"}, describeOut(""), nil, false},

		{"pathAll hit", PathAllMatcher{Path: "Statuses", Expected: "ACTIVE"}, describeOut("", "ACTIVE", "ACTIVE"), nil, true},
		{"pathAll one differs", PathAllMatcher{Path: "Statuses", Expected: "ACTIVE"}, describeOut("", "ACTIVE", "CREATING"), nil, false},
		{"pathAll empty list is no evidence", PathAllMatcher{Path: "Statuses", Expected: "ACTIVE"}, describeOut(""), nil, false},

		{"success on nil error", SuccessMatcher{}, describeOut("ACTIVE"), nil, true},
		{"success on error", SuccessMatcher{}, nil, notFound, false},

		{"error status hit", ErrorStatusMatcher{StatusCode: 404}, nil, notFound, true},
		{"error status miss", ErrorStatusMatcher{StatusCode: 500}, nil, notFound, false},
		{"error status raw", ErrorStatusMatcher{StatusCode: 502}, nil, &awserr.RawError{StatusCode: 502}, true},
		{"error status no error", ErrorStatusMatcher{StatusCode: 404}, describeOut("ACTIVE"), nil, false},

		{"error code hit", ErrorCodeMatcher{Code: "ResourceNotFoundException"}, nil, notFound, true},
		{"error code miss", ErrorCodeMatcher{Code: "Throttling"}, nil, notFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.matcher.Match(tt.output, tt.err))
		})
	}
}

// tableWaiter resolves on an active table, keeps polling through 404s, and
// fails fast on a 500.
func tableWaiter() *Waiter {
	return &Waiter{
		Name: "TableExists",
		Acceptors: []Acceptor{
			{State: WaiterSuccess, Matcher: PathMatcher{Path: "Table.Status", Expected: "ACTIVE"}},
			{State: WaiterRetry, Matcher: ErrorStatusMatcher{StatusCode: 404}},
			{State: WaiterFailure, Matcher: ErrorStatusMatcher{StatusCode: 500}},
		},
		MinDelay: time.Second,
		MaxDelay: time.Second,
	}
}

func TestWaitUntil_RetriesThenSucceeds(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{jsonResponse(200, `{}`)}}
	c, sleeps := newTestClient(t, tp, nil)

	notFound := awserr.NewRequestFailure("ResourceNotFoundException", "", 404, "")
	polls := 0
	err := c.WaitUntil(context.Background(), tableWaiter(), time.Minute, func(ctx context.Context) (any, error) {
		polls++
		if polls <= 2 {
			return nil, notFound
		}
		return describeOut("ACTIVE"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, polls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *sleeps,
		"two not-found polls cost one second of backoff each")
}

func TestWaitUntil_FailureState(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{jsonResponse(200, `{}`)}}
	c, _ := newTestClient(t, tp, nil)

	err := c.WaitUntil(context.Background(), tableWaiter(), time.Minute, func(ctx context.Context) (any, error) {
		return nil, awserr.NewRequestFailure("InternalError", "", 500, "")
	})
	require.Error(t, err)
	assert.True(t, awserr.IsKind(err, awserr.KindWaiterFailed))
}

func TestWaitUntil_UnclaimedErrorAborts(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{jsonResponse(200, `{}`)}}
	c, sleeps := newTestClient(t, tp, nil)

	boom := errors.New("credential provider exploded")
	err := c.WaitUntil(context.Background(), tableWaiter(), time.Minute, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom, "errors no acceptor claims are not waited out")
	assert.Empty(t, *sleeps)
}

func TestWaitUntil_MaxAttempts(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{jsonResponse(200, `{}`)}}
	c, _ := newTestClient(t, tp, nil)

	w := tableWaiter()
	w.MaxAttempts = 3

	polls := 0
	err := c.WaitUntil(context.Background(), w, 0, func(ctx context.Context) (any, error) {
		polls++
		return nil, awserr.NewRequestFailure("ResourceNotFoundException", "", 404, "")
	})
	require.Error(t, err)
	assert.True(t, awserr.IsKind(err, awserr.KindWaiterTimeout))
	assert.Equal(t, 3, polls)
}

func TestWaitUntil_DelayDoublesUpToCap(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{jsonResponse(200, `{}`)}}
	c, sleeps := newTestClient(t, tp, nil)

	w := &Waiter{
		Name: "Doubling",
		Acceptors: []Acceptor{
			{State: WaiterRetry, Matcher: ErrorStatusMatcher{StatusCode: 404}},
		},
		MinDelay:    time.Second,
		MaxDelay:    4 * time.Second,
		MaxAttempts: 5,
	}
	err := c.WaitUntil(context.Background(), w, 0, func(ctx context.Context) (any, error) {
		return nil, awserr.NewRequestFailure("NotFound", "", 404, "")
	})
	require.Error(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}, *sleeps,
		"backoff doubles until the cap")
}

func TestWaitUntil_DeadlineWouldBeExceeded(t *testing.T) {
	tp := &fakeTransport{script: []fakeResult{jsonResponse(200, `{}`)}}
	c, _ := newTestClient(t, tp, nil)

	w := tableWaiter()
	w.MinDelay = time.Hour
	w.MaxDelay = time.Hour

	err := c.WaitUntil(context.Background(), w, time.Second, func(ctx context.Context) (any, error) {
		return nil, awserr.NewRequestFailure("ResourceNotFoundException", "", 404, "")
	})
	require.Error(t, err)
	assert.True(t, awserr.IsKind(err, awserr.KindWaiterTimeout),
		"a sleep that would overshoot the deadline times out immediately instead")
}
