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

import "time"

// Credential is a set of AWS security credentials. A zero Expiration means
// the credential never expires.
type Credential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// HasKeys reports whether both key components are present.
func (c Credential) HasKeys() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// CanExpire reports whether the credential carries an expiry.
func (c Credential) CanExpire() bool { return !c.Expiration.IsZero() }

// Expired reports whether the credential is within window of its expiry at
// the given instant. A credential exactly at the threshold counts as expired
// so providers refresh rather than hand a signer a dying credential.
func (c Credential) Expired(at time.Time, window time.Duration) bool {
	if !c.CanExpire() {
		return false
	}
	return !at.Add(window).Before(c.Expiration)
}
