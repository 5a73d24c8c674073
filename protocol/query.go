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
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"
)

// queryFlatten flattens a shape into form values per the Query protocol:
//
//	{k: [v1, v2]}     -> k.member.1=v1&k.member.2=v2   (k.1=v1&k.2=v2 on EC2)
//	{k: {a: 1, b: 2}} -> k.entry.1.key=a&k.entry.1.value=1&...
//
// Map entries are emitted in sorted key order so signatures are
// deterministic. url.Values.Encode later sorts the flattened keys themselves.
func queryFlatten(values url.Values, prefix string, v reflect.Value, m member, ec2 bool) error {
	v, ok := deref(v)
	if !ok || isEmptyValue(v) {
		return nil
	}

	if v.Type() == timeType || v.Type() == byteSliceType {
		s, err := stringifyScalar(v, m, false)
		if err != nil {
			return err
		}
		values.Set(prefix, s)
		return nil
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			key := fmt.Sprintf("%s.member.%d", prefix, i+1)
			if ec2 || m.flattened {
				key = fmt.Sprintf("%s.%d", prefix, i+1)
			}
			if err := queryFlatten(values, key, v.Index(i), member{goName: m.goName}, ec2); err != nil {
				return err
			}
		}
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("protocol: query map member %q must have string keys", m.goName)
		}
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		for i, k := range keys {
			entry := fmt.Sprintf("%s.entry.%d", prefix, i+1)
			if ec2 || m.flattened {
				entry = fmt.Sprintf("%s.%d", prefix, i+1)
			}
			values.Set(entry+".key", k)
			if err := queryFlatten(values, entry+".value", v.MapIndex(reflect.ValueOf(k)), member{goName: m.goName}, ec2); err != nil {
				return err
			}
		}
	case reflect.Struct:
		meta, err := metaOf(v.Type())
		if err != nil {
			return err
		}
		for _, sub := range meta.members {
			fv := v.Field(sub.index)
			if fv2, ok := deref(fv); !ok || isEmptyValue(fv2) {
				continue
			}
			if err := queryFlatten(values, prefix+"."+sub.name, fv, sub, ec2); err != nil {
				return err
			}
		}
	default:
		s, err := stringifyScalar(v, m, false)
		if err != nil {
			return err
		}
		values.Set(prefix, s)
	}
	return nil
}

// encodeQueryBody builds the form-urlencoded body for the query and ec2
// protocols: the flattened input plus Action and Version.
func encodeQueryBody(opName, apiVersion string, input reflect.Value, ec2 bool) (string, error) {
	values := url.Values{}
	values.Set("Action", opName)
	if apiVersion != "" {
		values.Set("Version", apiVersion)
	}

	if input.IsValid() {
		v, ok := deref(input)
		if ok {
			meta, err := metaOf(v.Type())
			if err != nil {
				return "", err
			}
			for _, m := range meta.members {
				if m.location != locBody {
					continue
				}
				fv := v.Field(m.index)
				if fv2, ok := deref(fv); !ok || isEmptyValue(fv2) {
					continue
				}
				if err := queryFlatten(values, m.name, fv, m, ec2); err != nil {
					return "", err
				}
			}
		}
	}

	return values.Encode(), nil
}

// querystringValues flattens querystring-located members (and, on GET/HEAD,
// body members) into URL query parameters.
func querystringValues(values url.Values, v reflect.Value, meta *shapeMeta, includeBody bool) error {
	for _, m := range meta.members {
		include := m.location == locQuerystring || (includeBody && m.location == locBody)
		if !include {
			continue
		}
		fv := v.Field(m.index)
		fv, ok := deref(fv)
		if !ok || isEmptyValue(fv) {
			continue
		}

		switch {
		case fv.Kind() == reflect.Slice && fv.Type() != byteSliceType:
			for i := 0; i < fv.Len(); i++ {
				s, err := stringifyScalar(fv.Index(i), m, false)
				if err != nil {
					return err
				}
				values.Add(m.name, s)
			}
		case fv.Kind() == reflect.Map:
			keys := make([]string, 0, fv.Len())
			for _, k := range fv.MapKeys() {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			for _, k := range keys {
				s, err := stringifyScalar(fv.MapIndex(reflect.ValueOf(k)), m, false)
				if err != nil {
					return err
				}
				values.Add(k, s)
			}
		default:
			s, err := stringifyScalar(fv, m, false)
			if err != nil {
				return err
			}
			values.Set(m.name, s)
		}
	}
	return nil
}

// uriPath substitutes {name} and {name+} placeholders in a path template.
// {name+} keeps '/' unescaped (greedy path segments); {name} escapes it.
func uriPath(template string, v reflect.Value, meta *shapeMeta) (string, error) {
	path := template
	for _, m := range meta.members {
		if m.location != locURI {
			continue
		}
		fv, ok := deref(v.Field(m.index))
		if !ok {
			return "", fmt.Errorf("protocol: uri member %q is required", m.goName)
		}
		s, err := stringifyScalar(fv, m, false)
		if err != nil {
			return "", err
		}
		if s == "" {
			return "", fmt.Errorf("protocol: uri member %q is required", m.goName)
		}

		path = strings.ReplaceAll(path, "{"+m.name+"+}", escapePathGreedy(s))
		path = strings.ReplaceAll(path, "{"+m.name+"}", escapePath(s))
	}
	return path, nil
}

// escapePath percent-encodes a path segment with the RFC 3986 unreserved set.
func escapePath(s string) string { return escapePathBytes(s, true) }

// escapePathGreedy is escapePath but retains '/'.
func escapePathGreedy(s string) string { return escapePathBytes(s, false) }

func escapePathBytes(s string, encodeSlash bool) string {
	out := make([]byte, 0, len(s))
	const hex = "0123456789ABCDEF"
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			out = append(out, c)
		case c == '/' && !encodeSlash:
			out = append(out, c)
		default:
			out = append(out, '%', hex[c>>4], hex[c&0xF])
		}
	}
	return string(out)
}
