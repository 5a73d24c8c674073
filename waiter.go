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
	"fmt"
	"reflect"
	"time"

	"github.com/jmespath/go-jmespath"

	"github.com/tombee/cirrus/awserr"
)

// WaiterState is the verdict an acceptor renders when its matcher fires.
type WaiterState string

const (
	// WaiterSuccess ends the wait successfully.
	WaiterSuccess WaiterState = "success"
	// WaiterRetry polls again after the backoff.
	WaiterRetry WaiterState = "retry"
	// WaiterFailure ends the wait with a KindWaiterFailed error.
	WaiterFailure WaiterState = "failure"
)

// Matcher inspects one poll result. output is the decoded operation output;
// err is the poll error, nil on success. Exactly one of the two is meaningful
// per call.
type Matcher interface {
	Match(output any, err error) bool
}

// PathMatcher compares the value at a JMESPath against an expected value
// using stringified equality.
type PathMatcher struct {
	Path     string
	Expected any
}

// Match implements Matcher.
func (m PathMatcher) Match(output any, err error) bool {
	if err != nil {
		return false
	}
	got, serr := jmespath.Search(m.Path, output)
	if serr != nil || got == nil {
		return false
	}
	return tokenString(got) == fmt.Sprint(m.Expected)
}

// PathAnyMatcher matches when any element of the list at Path equals the
// expected value.
type PathAnyMatcher struct {
	Path     string
	Expected any
}

// Match implements Matcher.
func (m PathAnyMatcher) Match(output any, err error) bool {
	if err != nil {
		return false
	}
	list, ok := listAt(m.Path, output)
	if !ok {
		return false
	}
	want := fmt.Sprint(m.Expected)
	for _, v := range list {
		if tokenString(v) == want {
			return true
		}
	}
	return false
}

// PathAllMatcher matches when every element of the list at Path equals the
// expected value. An empty list does not match: "all of nothing" is treated
// as no evidence, not success.
type PathAllMatcher struct {
	Path     string
	Expected any
}

// Match implements Matcher.
func (m PathAllMatcher) Match(output any, err error) bool {
	if err != nil {
		return false
	}
	list, ok := listAt(m.Path, output)
	if !ok || len(list) == 0 {
		return false
	}
	want := fmt.Sprint(m.Expected)
	for _, v := range list {
		if tokenString(v) != want {
			return false
		}
	}
	return true
}

// listAt evaluates a JMESPath and normalises the result to a []any. Struct
// outputs yield concrete slice types, so this reflects rather than asserting.
func listAt(path string, output any) ([]any, bool) {
	got, err := jmespath.Search(path, output)
	if err != nil || got == nil {
		return nil, false
	}
	v := reflect.ValueOf(got)
	if v.Kind() != reflect.Slice {
		return nil, false
	}
	list := make([]any, v.Len())
	for i := range list {
		list[i] = v.Index(i).Interface()
	}
	return list, true
}

// SuccessMatcher matches any successful poll.
type SuccessMatcher struct{}

// Match implements Matcher.
func (SuccessMatcher) Match(_ any, err error) bool { return err == nil }

// ErrorStatusMatcher matches a poll that failed with the given HTTP status.
type ErrorStatusMatcher struct {
	StatusCode int
}

// Match implements Matcher.
func (m ErrorStatusMatcher) Match(_ any, err error) bool {
	var rf *awserr.RequestFailure
	if errors.As(err, &rf) {
		return rf.StatusCode == m.StatusCode
	}
	var re *awserr.RawError
	if errors.As(err, &re) {
		return re.StatusCode == m.StatusCode
	}
	return false
}

// ErrorCodeMatcher matches a poll that failed with the given service error
// code.
type ErrorCodeMatcher struct {
	Code string
}

// Match implements Matcher.
func (m ErrorCodeMatcher) Match(_ any, err error) bool {
	var rf *awserr.RequestFailure
	return errors.As(err, &rf) && rf.Code == m.Code
}

// Acceptor pairs a matcher with the state it produces.
type Acceptor struct {
	State   WaiterState
	Matcher Matcher
}

// Waiter polls an operation until an acceptor resolves it. Acceptors are
// evaluated in order; the first match wins. An error no acceptor claims
// aborts the wait immediately.
type Waiter struct {
	// Name appears in logs and error messages, e.g. "TableExists".
	Name string

	Acceptors []Acceptor

	// MinDelay is the first backoff. Zero means 2 seconds.
	MinDelay time.Duration

	// MaxDelay caps the growing backoff. Zero means 2 minutes.
	MaxDelay time.Duration

	// MaxAttempts bounds polling. Zero means bounded only by maxWait.
	MaxAttempts int
}

func (w *Waiter) minDelay() time.Duration {
	if w.MinDelay <= 0 {
		return 2 * time.Second
	}
	return w.MinDelay
}

func (w *Waiter) maxDelay() time.Duration {
	if w.MaxDelay <= 0 {
		return 2 * time.Minute
	}
	return w.MaxDelay
}

// WaitUntil polls via poll until the waiter resolves, the context is
// cancelled, maxWait elapses (KindWaiterTimeout) or MaxAttempts is exhausted.
// poll runs the watched operation and returns its decoded output.
func (c *Client) WaitUntil(ctx context.Context, w *Waiter, maxWait time.Duration, poll func(ctx context.Context) (any, error)) error {
	if maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}
	deadline, hasDeadline := ctx.Deadline()

	delay := w.minDelay()
	for attempt := 1; ; attempt++ {
		out, err := poll(ctx)

		matched := false
		for _, a := range w.Acceptors {
			if !a.Matcher.Match(out, err) {
				continue
			}
			matched = true
			switch a.State {
			case WaiterSuccess:
				return nil
			case WaiterFailure:
				return awserr.NewClientError(awserr.KindWaiterFailed,
					"waiter %s reached failure state after %d attempts", w.Name, attempt)
			case WaiterRetry:
			}
			break
		}
		if !matched && err != nil {
			// Unclaimed errors are real failures, not conditions to wait out.
			return err
		}

		if w.MaxAttempts > 0 && attempt >= w.MaxAttempts {
			return awserr.NewClientError(awserr.KindWaiterTimeout,
				"waiter %s exceeded %d attempts", w.Name, w.MaxAttempts)
		}
		if hasDeadline && c.nowFn().Add(delay).After(deadline) {
			return awserr.NewClientError(awserr.KindWaiterTimeout,
				"waiter %s would exceed its deadline waiting %s", w.Name, delay)
		}

		if serr := c.sleepFn(ctx, delay); serr != nil {
			if errors.Is(serr, context.DeadlineExceeded) {
				return awserr.NewClientError(awserr.KindWaiterTimeout,
					"waiter %s timed out after %d attempts", w.Name, attempt)
			}
			return &awserr.TransportError{
				Kind:    awserr.TransportCanceled,
				Message: "cancelled while waiting to poll",
				Cause:   serr,
			}
		}

		delay *= 2
		if delay > w.maxDelay() {
			delay = w.maxDelay()
		}
	}
}
