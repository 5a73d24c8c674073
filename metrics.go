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
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/cirrus/awserr"
)

var (
	// requestsTotal counts executed operations by service and operation.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aws_requests_total",
			Help: "Total operations executed by service and operation",
		},
		[]string{"service", "operation"},
	)

	// requestErrors counts failed operations by service, operation and
	// error kind.
	requestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aws_request_errors_total",
			Help: "Total failed operations by service, operation and error kind",
		},
		[]string{"service", "operation", "kind"},
	)

	// requestDuration observes end-to-end operation latency including
	// retries.
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aws_request_duration_seconds",
			Help:    "End-to-end operation duration by service and operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)

	// requestRetries counts retry attempts by service and operation.
	requestRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aws_request_retries_total",
			Help: "Total retry attempts by service and operation",
		},
		[]string{"service", "operation"},
	)

	// endpointDiscoveries counts endpoint discovery refresh outcomes.
	endpointDiscoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aws_endpoint_discoveries_total",
			Help: "Total endpoint discovery lookups by service and outcome",
		},
		[]string{"service", "outcome"},
	)
)

// errorKind maps an execute error onto the metrics kind label.
func errorKind(err error) string {
	var (
		rf *awserr.RequestFailure
		re *awserr.RawError
		te *awserr.TransportError
		ce *awserr.ClientError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &rf):
		if rf.Fault == awserr.FaultServer {
			return "server"
		}
		return "client"
	case errors.As(err, &re):
		return "raw"
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &ce):
		return "sdk"
	default:
		return "other"
	}
}
