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

import (
	"encoding/base64"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"sync"
	"time"
)

// Shape metadata is declared with struct tags on the shape definition, the
// static equivalent of a per-field descriptor:
//
//	type GetItemInput struct {
//		TableName string    `locationName:"TableName"`
//		IfMatch   string    `location:"header" locationName:"If-Match"`
//		Marker    string    `location:"querystring" locationName:"marker"`
//		Key       string    `location:"uri" locationName:"Key"`
//		Body      []byte    `location:"payload"`
//		Expires   time.Time `type:"timestamp" timestampFormat:"rfc822"`
//	}
//
// Recognised tags: location (header, querystring, uri, payload, statusCode;
// empty means body), locationName (wire name; defaults to the field name),
// type (timestamp, blob; usually inferred from the Go type), timestampFormat
// (iso8601, unixTimestamp, rfc822), flattened (lists and maps), xmlURI /
// xmlPrefix (namespace, on an `_ struct{}` field).

// Field locations.
const (
	locBody        = ""
	locHeader      = "header"
	locQuerystring = "querystring"
	locURI         = "uri"
	locPayload     = "payload"
	locStatusCode  = "statusCode"
)

// member is the parsed descriptor of one shape field.
type member struct {
	index           int
	goName          string
	location        string
	name            string // wire name
	timestampFormat string
	flattened       bool
	fieldType       reflect.Type
}

// shapeMeta is the parsed descriptor of a whole shape.
type shapeMeta struct {
	members  []member
	xmlURI   string
	xmlPrefix string
}

var shapeCache sync.Map // reflect.Type -> *shapeMeta

// metaOf parses (and caches) the member descriptors of a shape type.
func metaOf(t reflect.Type) (*shapeMeta, error) {
	if cached, ok := shapeCache.Load(t); ok {
		return cached.(*shapeMeta), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("protocol: shape must be a struct, got %s", t.Kind())
	}

	meta := &shapeMeta{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Name == "_" {
			meta.xmlURI = f.Tag.Get("xmlURI")
			meta.xmlPrefix = f.Tag.Get("xmlPrefix")
			continue
		}
		if !f.IsExported() {
			continue
		}

		m := member{
			index:           i,
			goName:          f.Name,
			location:        f.Tag.Get("location"),
			name:            f.Tag.Get("locationName"),
			timestampFormat: f.Tag.Get("timestampFormat"),
			flattened:       f.Tag.Get("flattened") == "true",
			fieldType:       f.Type,
		}
		if m.name == "" {
			m.name = f.Name
		}
		switch m.location {
		case locBody, locHeader, locQuerystring, locURI, locPayload, locStatusCode:
		default:
			return nil, fmt.Errorf("protocol: field %s.%s has unknown location %q", t.Name(), f.Name, m.location)
		}
		meta.members = append(meta.members, m)
	}

	shapeCache.Store(t, meta)
	return meta, nil
}

// payloadMember returns the member marked location:"payload", if any.
func (s *shapeMeta) payloadMember() *member {
	for i := range s.members {
		if s.members[i].location == locPayload {
			return &s.members[i]
		}
	}
	return nil
}

// bodyMembers returns the members destined for the structured body.
func (s *shapeMeta) bodyMembers() []member {
	var out []member
	for _, m := range s.members {
		if m.location == locBody {
			out = append(out, m)
		}
	}
	return out
}

// deref follows pointers, reporting validity. A nil pointer is "absent".
func deref(v reflect.Value) (reflect.Value, bool) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return v, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

// isEmptyValue mirrors encoding/json's omitempty semantics; absent members
// are not serialized.
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	case reflect.Slice, reflect.Map:
		return v.IsNil()
	case reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Struct:
		if t, ok := v.Interface().(time.Time); ok {
			return t.IsZero()
		}
		return false
	}
	return false
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	byteSliceType  = reflect.TypeOf([]byte(nil))
	readCloserType = reflect.TypeOf((*io.ReadCloser)(nil)).Elem()
	readerType     = reflect.TypeOf((*io.Reader)(nil)).Elem()
	documentType   = reflect.TypeOf(Document{})
)

// stringifyScalar renders a scalar member for header, query or path use.
// Blobs render as base64; timestamps per the member's declared format, with
// location-appropriate defaults (headers use RFC 1123, the rest ISO 8601).
func stringifyScalar(v reflect.Value, m member, headerContext bool) (string, error) {
	v, ok := deref(v)
	if !ok {
		return "", nil
	}

	if v.Type() == timeType {
		format := m.timestampFormat
		if format == "" {
			if headerContext {
				format = FormatRFC822
			} else {
				format = FormatISO8601
			}
		}
		return FormatTime(v.Interface().(time.Time), format)
	}
	if v.Type() == byteSliceType {
		return base64.StdEncoding.EncodeToString(v.Bytes()), nil
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), nil
	}
	return "", fmt.Errorf("protocol: cannot stringify %s member %q", v.Kind(), m.goName)
}

// parseScalar assigns a wire string into a scalar member with type coercion:
// number to int or float, "true"/"false" to bool, otherwise string.
func parseScalar(dst reflect.Value, s string, m member) error {
	for dst.Kind() == reflect.Pointer {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}

	if dst.Type() == timeType {
		t, err := ParseTime(s, m.timestampFormat)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}
	if dst.Type() == byteSliceType {
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("protocol: decoding blob member %q: %w", m.goName, err)
		}
		dst.SetBytes(raw)
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		dst.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("protocol: parsing bool member %q: %w", m.goName, err)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("protocol: parsing int member %q: %w", m.goName, err)
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("protocol: parsing uint member %q: %w", m.goName, err)
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("protocol: parsing float member %q: %w", m.goName, err)
		}
		dst.SetFloat(f)
	default:
		return fmt.Errorf("protocol: cannot parse %s member %q from string", dst.Kind(), m.goName)
	}
	return nil
}
