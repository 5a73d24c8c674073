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

// Package retry decides whether and how long to wait before re-attempting a
// failed request. Policies are pure: the sleeping happens in the retry
// middleware, which keeps policies trivially testable.
package retry

import (
	"math/rand"
	"slices"
	"time"

	"github.com/tombee/cirrus/awserr"
)

// Policy reports the backoff before attempt+1, or ok=false to give up.
// attempt is zero-based: the first failure consults RetryDelay(err, 0).
type Policy interface {
	RetryDelay(err error, attempt int) (delay time.Duration, ok bool)
}

// DefaultThrottleCodes are the service error codes treated as throttling
// across AWS services. ServiceConfig.ExtraThrottleCodes extends this set for
// services with bespoke codes.
var DefaultThrottleCodes = []string{
	"Throttling",
	"ThrottlingException",
	"RequestLimitExceeded",
	"TooManyRequestsException",
	"ProvisionedThroughputExceededException",
	"SlowDown",
}

// None never retries.
type None struct{}

// RetryDelay always gives up.
func (None) RetryDelay(error, int) (time.Duration, bool) { return 0, false }

// Exponential backs off base * 2^attempt, honouring Retry-After when the
// server supplied one.
type Exponential struct {
	// Base is the first backoff. Zero means 300ms.
	Base time.Duration

	// MaxRetries bounds the number of retries (not attempts). Zero means 3.
	MaxRetries int

	// ThrottleCodes extends DefaultThrottleCodes.
	ThrottleCodes []string
}

// RetryDelay implements Policy.
func (p Exponential) RetryDelay(err error, attempt int) (time.Duration, bool) {
	if attempt >= p.maxRetries() {
		return 0, false
	}
	if !Retryable(err, p.ThrottleCodes) {
		return 0, false
	}
	if after := retryAfter(err); after > 0 {
		return after, true
	}
	return p.base() << uint(attempt), true
}

func (p Exponential) base() time.Duration {
	if p.Base <= 0 {
		return 300 * time.Millisecond
	}
	return p.Base
}

func (p Exponential) maxRetries() int {
	if p.MaxRetries <= 0 {
		return 3
	}
	return p.MaxRetries
}

// Jitter backs off a random duration in [base*2^attempt/2, base*2^attempt),
// smoothing thundering herds after a shared outage.
type Jitter struct {
	// Base is the first backoff ceiling. Zero means 300ms.
	Base time.Duration

	// MaxRetries bounds the number of retries. Zero means 3.
	MaxRetries int

	// ThrottleCodes extends DefaultThrottleCodes.
	ThrottleCodes []string

	// Rand overrides the random source, for tests. Must return a value in
	// [0, n).
	Rand func(n int64) int64
}

// RetryDelay implements Policy.
func (p Jitter) RetryDelay(err error, attempt int) (time.Duration, bool) {
	if attempt >= p.maxRetries() {
		return 0, false
	}
	if !Retryable(err, p.ThrottleCodes) {
		return 0, false
	}
	if after := retryAfter(err); after > 0 {
		return after, true
	}

	ceiling := p.base() << uint(attempt)
	half := ceiling / 2
	randFn := p.Rand
	if randFn == nil {
		randFn = rand.Int63n
	}
	return half + time.Duration(randFn(int64(ceiling-half))), true
}

func (p Jitter) base() time.Duration {
	if p.Base <= 0 {
		return 300 * time.Millisecond
	}
	return p.Base
}

func (p Jitter) maxRetries() int {
	if p.MaxRetries <= 0 {
		return 3
	}
	return p.MaxRetries
}

// WithThrottleCodes derives a policy whose throttle-code set is extended with
// codes, for service configs that declare bespoke throttling errors. Policies
// that carry no code set are returned unchanged.
func WithThrottleCodes(p Policy, codes []string) Policy {
	if len(codes) == 0 {
		return p
	}
	switch pp := p.(type) {
	case Exponential:
		pp.ThrottleCodes = append(slices.Clone(pp.ThrottleCodes), codes...)
		return pp
	case Jitter:
		pp.ThrottleCodes = append(slices.Clone(pp.ThrottleCodes), codes...)
		return pp
	}
	return p
}

// Retryable classifies an error from the pipeline:
//   - transport timeouts and connection failures retry; cancellation never does
//   - HTTP 5xx and 429 retry
//   - throttling error codes retry
//   - everything else surfaces after the first attempt
func Retryable(err error, extraThrottleCodes []string) bool {
	switch e := err.(type) {
	case *awserr.TransportError:
		return e.Kind != awserr.TransportCanceled
	case *awserr.RequestFailure:
		if retryableStatus(e.StatusCode) {
			return true
		}
		if e.RetryAfter > 0 {
			return true
		}
		return isThrottleCode(e.Code, extraThrottleCodes)
	case *awserr.RawError:
		return retryableStatus(e.StatusCode) || e.RetryAfter > 0
	default:
		return false
	}
}

func retryableStatus(status int) bool {
	return status == 429 || (status >= 500 && status < 600)
}

func isThrottleCode(code string, extra []string) bool {
	for _, c := range DefaultThrottleCodes {
		if code == c {
			return true
		}
	}
	for _, c := range extra {
		if code == c {
			return true
		}
	}
	return false
}

// retryAfter surfaces a server-requested delay, used literally.
func retryAfter(err error) time.Duration {
	switch e := err.(type) {
	case *awserr.RequestFailure:
		return e.RetryAfter
	case *awserr.RawError:
		return e.RetryAfter
	}
	return 0
}
