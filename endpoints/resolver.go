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

// Package endpoints computes service URLs from region, partition and
// configured overrides, and provides the runtime endpoint-discovery cache.
package endpoints

import (
	"fmt"
	"strings"

	"github.com/tombee/cirrus/awscfg"
)

// Resolved is the outcome of static endpoint resolution. SigningRegion
// differs from the config region for partition-global services.
type Resolved struct {
	URL           string
	SigningRegion string
}

// Resolve computes the endpoint for a service config. Order: explicit
// endpoint verbatim, variant table (fips/dualstack), per-region service
// endpoints, partition global endpoint, then the default
// <serviceID>.<region>.<dnsSuffix> hostname. Hosts gain an https:// scheme.
func Resolve(cfg *awscfg.ServiceConfig) (Resolved, error) {
	if cfg.Endpoint != "" {
		return Resolved{URL: withScheme(cfg.Endpoint), SigningRegion: cfg.Region}, nil
	}

	if variant := variantTag(cfg.Options); variant != "" {
		if table, ok := cfg.VariantEndpoints[variant]; ok {
			if host, ok := table[cfg.Region]; ok {
				return Resolved{URL: withScheme(host), SigningRegion: cfg.Region}, nil
			}
		}
	}

	if host, ok := cfg.ServiceEndpoints[cfg.Region]; ok {
		return Resolved{URL: withScheme(host), SigningRegion: cfg.Region}, nil
	}

	if global, ok := cfg.PartitionEndpoints[cfg.Partition.ID]; ok {
		region := global.Region
		if region == "" {
			region = cfg.Region
		}
		return Resolved{URL: withScheme(global.Host), SigningRegion: region}, nil
	}

	if cfg.Region == "" {
		return Resolved{}, fmt.Errorf("endpoints: no region and no endpoint override for service %q", cfg.ServiceID)
	}

	host := fmt.Sprintf("%s.%s.%s", cfg.ServiceID, cfg.Region, cfg.Partition.DNSSuffix)
	return Resolved{URL: "https://" + host, SigningRegion: cfg.Region}, nil
}

// variantTag maps the option bits onto the variant table key.
func variantTag(o awscfg.Options) string {
	fips := o.Has(awscfg.OptUseFIPSEndpoint)
	dual := o.Has(awscfg.OptUseDualStackEndpoint)
	switch {
	case fips && dual:
		return "fips-dualstack"
	case fips:
		return "fips"
	case dual:
		return "dualstack"
	}
	return ""
}

func withScheme(host string) string {
	if strings.Contains(host, "://") {
		return host
	}
	return "https://" + host
}
