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
	"github.com/tombee/cirrus/endpoints"
)

// Operation describes one service operation: the wire name plus the HTTP
// binding the protocol codec needs. Operations are immutable descriptors;
// declare them once per service, typically as package-level variables.
type Operation struct {
	// Name is the operation's wire name, e.g. "DescribeInstances". It feeds
	// the X-Amz-Target header for json services and the Action parameter for
	// query services.
	Name string

	// HTTPMethod is the HTTP method. Empty means POST.
	HTTPMethod string

	// HTTPPath is the request path, with optional {label} and {label+}
	// placeholders bound to uri-located input members. Empty means "/".
	HTTPPath string

	// HostPrefix is prepended to the resolved endpoint host, for operations
	// that address a sub-host such as "data." or "streaming-".
	HostPrefix string

	// StreamingOutput leaves the response body open for the caller's
	// io.ReadCloser payload member instead of buffering it.
	StreamingOutput bool

	// Discovery, when set, routes the operation through the runtime
	// endpoint-discovery cache instead of the statically resolved endpoint.
	Discovery *endpoints.DiscoveryCache
}

func (op *Operation) method() string {
	if op.HTTPMethod == "" {
		return "POST"
	}
	return op.HTTPMethod
}

func (op *Operation) path() string {
	if op.HTTPPath == "" {
		return "/"
	}
	return op.HTTPPath
}
