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

package protocol

import "encoding/json"

// Document is an arbitrary JSON value: string, number, bool, array, map or
// null. It round-trips through the JSON protocols untyped.
type Document struct {
	value any
}

// NewDocument wraps a Go value as a document. Accepted kinds mirror
// encoding/json: string, numeric types, bool, []any, map[string]any, nil.
func NewDocument(v any) Document { return Document{value: v} }

// Value returns the wrapped value.
func (d Document) Value() any { return d.value }

// IsNull reports whether the document holds JSON null.
func (d Document) IsNull() bool { return d.value == nil }

// MarshalJSON implements json.Marshaler.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.value)
}
