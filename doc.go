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

// Package cirrus is a protocol-generic AWS request runtime. It executes
// operations against any AWS-shaped service given a ServiceConfig (region,
// protocol, endpoints) and an Operation descriptor (name, HTTP method, path),
// handling SigV4 signing, credential resolution, retries with backoff,
// endpoint resolution and discovery, and the six AWS wire protocols.
//
// A Client owns the transport and the credential provider and composes the
// middleware chain once; Execute runs one operation through it. Paginator and
// Waiter build on Execute for multi-request flows.
package cirrus
