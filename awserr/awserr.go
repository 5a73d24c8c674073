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

// Package awserr defines the error taxonomy shared by the request pipeline.
//
// Three families exist: ClientError for failures produced locally before or
// after the wire (invalid URL, shutdown misuse, waiter outcomes), RequestFailure
// for error responses the service returned and the codec understood, and
// RawError for error responses that did not parse into a known service error.
// Transport-level failures (timeouts, connection resets) are TransportError.
package awserr

import (
	"fmt"
	"time"
)

// ClientErrorKind classifies locally-produced errors.
type ClientErrorKind string

const (
	// KindAlreadyShutdown indicates a second Shutdown call on a client.
	KindAlreadyShutdown ClientErrorKind = "already_shutdown"

	// KindInvalidURL indicates an endpoint or path that failed to parse.
	KindInvalidURL ClientErrorKind = "invalid_url"

	// KindBodyLengthMismatch indicates a streamed body shorter or longer
	// than its declared content length.
	KindBodyLengthMismatch ClientErrorKind = "body_length_mismatch"

	// KindWaiterFailed indicates a waiter acceptor reached the failure state.
	KindWaiterFailed ClientErrorKind = "waiter_failed"

	// KindWaiterTimeout indicates a waiter exceeded its maximum wait time.
	KindWaiterTimeout ClientErrorKind = "waiter_timeout"

	// KindFailedToAccessPayload indicates a payload member could not be read.
	KindFailedToAccessPayload ClientErrorKind = "failed_to_access_payload"

	// KindInvalidARN indicates a malformed Amazon Resource Name.
	KindInvalidARN ClientErrorKind = "invalid_arn"
)

// ClientError is a failure produced by the runtime itself rather than by the
// service or the network.
type ClientError struct {
	Kind    ClientErrorKind
	Message string
	Cause   error
}

// NewClientError builds a ClientError with a formatted message.
func NewClientError(kind ClientErrorKind, format string, args ...any) *ClientError {
	return &ClientError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *ClientError) Unwrap() error { return e.Cause }

// IsKind reports whether err is a ClientError of the given kind.
func IsKind(err error, kind ClientErrorKind) bool {
	ce, ok := err.(*ClientError)
	return ok && ce.Kind == kind
}

// Fault indicates which side of the wire produced a service error.
type Fault string

const (
	// FaultServer marks 5xx-class failures.
	FaultServer Fault = "server"
	// FaultClient marks 4xx-class failures.
	FaultClient Fault = "client"
)

// RequestFailure is an error response the service returned and the protocol
// codec decoded: it carries the wire error code, the human message, the HTTP
// status and the service request ID.
type RequestFailure struct {
	Code       string
	Message    string
	StatusCode int
	RequestID  string
	Fault      Fault

	// RetryAfter is the server-requested retry delay, parsed from the
	// Retry-After header. Zero when the header was absent.
	RetryAfter time.Duration
}

// NewRequestFailure builds a RequestFailure, deriving the fault from the
// HTTP status when not 5xx.
func NewRequestFailure(code, message string, statusCode int, requestID string) *RequestFailure {
	fault := FaultClient
	if statusCode >= 500 {
		fault = FaultServer
	}
	return &RequestFailure{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		RequestID:  requestID,
		Fault:      fault,
	}
}

func (e *RequestFailure) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s: %s (status %d, request id %s)", e.Code, e.Message, e.StatusCode, e.RequestID)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.StatusCode)
}

// IsStatusCode reports whether the failure carries the given HTTP status.
func (e *RequestFailure) IsStatusCode(code int) bool { return e.StatusCode == code }

// RawError is an error response whose body did not parse into a known service
// error shape. The raw body and headers are preserved for diagnosis.
type RawError struct {
	StatusCode int
	RequestID  string
	Headers    map[string][]string
	Body       []byte

	// RetryAfter mirrors RequestFailure.RetryAfter.
	RetryAfter time.Duration
}

func (e *RawError) Error() string {
	return fmt.Sprintf("unparsed service error (status %d, request id %q)", e.StatusCode, e.RequestID)
}

// Decoder turns a decoded wire error into a service-specific typed error.
// A nil return means the decoder does not recognise the code and the caller
// falls back to a generic RequestFailure.
type Decoder func(code, message string, statusCode int, requestID string) error

// TransportErrorKind classifies network-level failures.
type TransportErrorKind string

const (
	// TransportTimeout indicates the request exceeded its deadline.
	TransportTimeout TransportErrorKind = "timeout"
	// TransportConnection indicates DNS, dial or reset failures.
	TransportConnection TransportErrorKind = "connection"
	// TransportCanceled indicates the caller's context was cancelled.
	TransportCanceled TransportErrorKind = "canceled"
)

// TransportError is a failure raised below the HTTP layer.
type TransportError struct {
	Kind    TransportErrorKind
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Cause }

// IsCanceled reports whether err is a cancellation transport error.
// Cancellation is never classified as retryable.
func IsCanceled(err error) bool {
	te, ok := err.(*TransportError)
	return ok && te.Kind == TransportCanceled
}
