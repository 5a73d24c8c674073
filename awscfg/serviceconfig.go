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

// Package awscfg holds the immutable per-service configuration and the value
// types (regions, partitions, credentials) shared across the pipeline.
package awscfg

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/tombee/cirrus/awserr"
	"github.com/tombee/cirrus/transport"
)

// Protocol selects the wire format for a service. The set is closed; codecs
// switch over it.
type Protocol string

const (
	ProtocolJSON     Protocol = "json"
	ProtocolRestJSON Protocol = "restJson"
	ProtocolXML      Protocol = "xml"
	ProtocolRestXML  Protocol = "restXml"
	ProtocolQuery    Protocol = "query"
	ProtocolEC2      Protocol = "ec2"
)

// Valid reports whether p is one of the known protocols.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolJSON, ProtocolRestJSON, ProtocolXML, ProtocolRestXML, ProtocolQuery, ProtocolEC2:
		return true
	}
	return false
}

// Options is a bitset of per-service behaviour flags.
type Options uint16

const (
	// OptS3ForceVirtualHost rewrites path-style bucket addressing to
	// virtual-host style.
	OptS3ForceVirtualHost Options = 1 << iota
	// OptS3UseTransferAccelerated selects the s3-accelerate endpoint.
	OptS3UseTransferAccelerated
	// OptS3DisableChunkedUploads disables aws-chunked streaming uploads.
	OptS3DisableChunkedUploads
	// OptCalculateMD5 adds a Content-MD5 header over the request body.
	OptCalculateMD5
	// OptS3Disable100Continue suppresses Expect: 100-continue on uploads.
	OptS3Disable100Continue
	// OptUseFIPSEndpoint selects the fips endpoint variant.
	OptUseFIPSEndpoint
	// OptUseDualStackEndpoint selects the dualstack endpoint variant.
	OptUseDualStackEndpoint
	// OptEnableEndpointDiscovery turns on runtime endpoint discovery for
	// operations that support it.
	OptEnableEndpointDiscovery
)

// Has reports whether all bits in flag are set.
func (o Options) Has(flag Options) bool { return o&flag == flag }

// MiddlewareContext is threaded through the middleware chain alongside each
// request.
type MiddlewareContext struct {
	// Operation is the name of the operation being executed.
	Operation string

	// Config is the service configuration the request runs under.
	Config *ServiceConfig

	// Credential is the resolved credential for this request.
	Credential Credential

	// SigningRegion is the region for the SigV4 credential scope. It differs
	// from Config.Region for partition-global endpoints.
	SigningRegion string

	// Logger carries the per-request logger (request ID already attached).
	Logger *slog.Logger

	// Attempt is the current attempt number, starting at 0. The retry
	// middleware bumps it before re-entering the inner chain.
	Attempt int
}

// Handler is the continuation a middleware forwards to.
type Handler func(ctx context.Context, req *transport.Request) (*transport.Response, error)

// Middleware transforms a request on the way down and a response on the way
// up. Middleware must be stateless or independently synchronized: the same
// composed chain serves concurrent requests.
type Middleware func(ctx context.Context, req *transport.Request, mctx *MiddlewareContext, next Handler) (*transport.Response, error)

// RegionalEndpoint is a host override carrying the region to sign against,
// used for partition-global services such as IAM.
type RegionalEndpoint struct {
	Host   string
	Region string
}

// ServiceConfig is the immutable per-service descriptor. Build one with
// NewServiceConfig and derive variants with With; never mutate in place.
type ServiceConfig struct {
	// Region the requests are signed for, e.g. "us-east-1".
	Region string

	// Partition containing Region. Derived from Region when zero.
	Partition Partition

	// ServiceName is the human-readable service name used in logs and
	// metrics, e.g. "DynamoDB".
	ServiceName string

	// ServiceID is the endpoint prefix, e.g. "dynamodb".
	ServiceID string

	// SigningName is the SigV4 credential-scope service name. Defaults to
	// ServiceID.
	SigningName string

	// Protocol selects the wire codec.
	Protocol Protocol

	// APIVersion is the service API version, e.g. "2012-08-10".
	APIVersion string

	// AmzTarget is the X-Amz-Target header prefix for json-protocol
	// services, e.g. "DynamoDB_20120810".
	AmzTarget string

	// JSONVersion selects the x-amz-json content type minor version for the
	// json protocol ("1.0" or "1.1"). Defaults to "1.1".
	JSONVersion string

	// Endpoint, when set, is used verbatim and disables resolution.
	Endpoint string

	// ServiceEndpoints maps region to a host override.
	ServiceEndpoints map[string]string

	// PartitionEndpoints maps partition ID to the global endpoint for
	// services that are not regional.
	PartitionEndpoints map[string]RegionalEndpoint

	// VariantEndpoints maps a variant tag ("fips", "dualstack",
	// "fips-dualstack") to a region-to-host table.
	VariantEndpoints map[string]map[string]string

	// ErrorDecoder builds service-specific typed errors. Nil falls back to
	// the generic taxonomy.
	ErrorDecoder awserr.Decoder

	// ExtraThrottleCodes extends the retry policy's throttle code set with
	// service-specific codes.
	ExtraThrottleCodes []string

	// Middleware is the service-specific middleware, run outside the
	// built-in chain.
	Middleware []Middleware

	// Timeout bounds each HTTP attempt. Zero means transport.DefaultTimeout.
	Timeout time.Duration

	// Options is the behaviour flag bitset.
	Options Options
}

// NewServiceConfig fills derived fields and validates the result.
func NewServiceConfig(cfg ServiceConfig) (*ServiceConfig, error) {
	if cfg.Partition == (Partition{}) {
		cfg.Partition = PartitionForRegion(cfg.Region)
	}
	if cfg.SigningName == "" {
		cfg.SigningName = cfg.ServiceID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration is complete enough to execute requests.
func (c *ServiceConfig) Validate() error {
	if c.ServiceID == "" {
		return fmt.Errorf("service id is required")
	}
	if !c.Protocol.Valid() {
		return fmt.Errorf("unknown service protocol %q", c.Protocol)
	}
	if c.Region == "" && c.Endpoint == "" && len(c.PartitionEndpoints) == 0 {
		return fmt.Errorf("region is required without an explicit endpoint")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}

// Patch mutates a copy of a ServiceConfig inside With.
type Patch func(*ServiceConfig)

// With derives a new ServiceConfig with the patches applied. The receiver is
// untouched; maps and slices are copied before patching so the two configs
// never alias.
func (c *ServiceConfig) With(patches ...Patch) *ServiceConfig {
	cp := *c
	cp.ServiceEndpoints = maps.Clone(c.ServiceEndpoints)
	cp.PartitionEndpoints = maps.Clone(c.PartitionEndpoints)
	if c.VariantEndpoints != nil {
		cp.VariantEndpoints = make(map[string]map[string]string, len(c.VariantEndpoints))
		for k, v := range c.VariantEndpoints {
			cp.VariantEndpoints[k] = maps.Clone(v)
		}
	}
	cp.ExtraThrottleCodes = slices.Clone(c.ExtraThrottleCodes)
	cp.Middleware = slices.Clone(c.Middleware)
	for _, p := range patches {
		p(&cp)
	}
	return &cp
}

// WithRegion patches the region and its derived partition.
func WithRegion(region string) Patch {
	return func(c *ServiceConfig) {
		c.Region = region
		c.Partition = PartitionForRegion(region)
	}
}

// WithEndpoint patches an explicit endpoint override.
func WithEndpoint(endpoint string) Patch {
	return func(c *ServiceConfig) { c.Endpoint = endpoint }
}

// WithTimeout patches the per-attempt timeout.
func WithTimeout(d time.Duration) Patch {
	return func(c *ServiceConfig) { c.Timeout = d }
}

// WithOptions patches additional option flags onto the bitset.
func WithOptions(flags Options) Patch {
	return func(c *ServiceConfig) { c.Options |= flags }
}
