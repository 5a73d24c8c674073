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

package awscfg

import "strings"

// Partition is a disjoint AWS region group. Partitions differ in DNS suffix
// and in which regions they contain; the set is closed.
type Partition struct {
	// ID is the partition identifier, e.g. "aws" or "aws-cn".
	ID string

	// DNSSuffix terminates default endpoint hostnames, e.g. "amazonaws.com".
	DNSSuffix string
}

// The known partitions.
var (
	PartitionAWS   = Partition{ID: "aws", DNSSuffix: "amazonaws.com"}
	PartitionCN    = Partition{ID: "aws-cn", DNSSuffix: "amazonaws.com.cn"}
	PartitionUSGov = Partition{ID: "aws-us-gov", DNSSuffix: "amazonaws.com"}
	PartitionISO   = Partition{ID: "aws-iso", DNSSuffix: "c2s.ic.gov"}
	PartitionISOB  = Partition{ID: "aws-iso-b", DNSSuffix: "sc2s.sgov.gov"}
)

// PartitionForRegion maps a region identifier onto its partition by prefix.
// Unknown prefixes fall back to the commercial partition.
func PartitionForRegion(region string) Partition {
	switch {
	case strings.HasPrefix(region, "cn-"):
		return PartitionCN
	case strings.HasPrefix(region, "us-gov-"):
		return PartitionUSGov
	case strings.HasPrefix(region, "us-isob-"):
		return PartitionISOB
	case strings.HasPrefix(region, "us-iso-"):
		return PartitionISO
	default:
		return PartitionAWS
	}
}
