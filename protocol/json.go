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
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// encodeJSONBody serializes the body members of a shape into a JSON object.
// Returns nil when the shape has no present body members, so the caller can
// omit the body entirely.
func encodeJSONBody(v reflect.Value) ([]byte, error) {
	obj, err := jsonObject(v, true)
	if err != nil {
		return nil, err
	}
	if len(obj) == 0 {
		return nil, nil
	}
	return json.Marshal(obj)
}

// jsonObject converts a shape into a map. topLevel restricts the walk to
// body members; nested shapes serialize every member.
func jsonObject(v reflect.Value, topLevel bool) (map[string]any, error) {
	v, ok := deref(v)
	if !ok {
		return nil, nil
	}
	meta, err := metaOf(v.Type())
	if err != nil {
		return nil, err
	}

	obj := make(map[string]any)
	for _, m := range meta.members {
		if topLevel && m.location != locBody {
			continue
		}
		fv, ok := deref(v.Field(m.index))
		if !ok || isEmptyValue(fv) {
			continue
		}
		encoded, err := jsonValue(fv, m)
		if err != nil {
			return nil, err
		}
		obj[m.name] = encoded
	}
	return obj, nil
}

// jsonValue converts one member value. Timestamps default to epoch seconds
// on the JSON protocols; blobs are base64 strings.
func jsonValue(v reflect.Value, m member) (any, error) {
	v, ok := deref(v)
	if !ok {
		return nil, nil
	}

	if v.Type() == documentType {
		return v.Interface().(Document).Value(), nil
	}
	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		switch m.timestampFormat {
		case "", FormatUnix:
			return t.Unix(), nil
		default:
			return FormatTime(t, m.timestampFormat)
		}
	}
	if v.Type() == byteSliceType {
		return base64.StdEncoding.EncodeToString(v.Bytes()), nil
	}

	switch v.Kind() {
	case reflect.Struct:
		return jsonObject(v, false)
	case reflect.Slice, reflect.Array:
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			item, err := jsonValue(v.Index(i), member{goName: m.goName})
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("protocol: json map member %q must have string keys", m.goName)
		}
		out := make(map[string]any, v.Len())
		for _, k := range v.MapKeys() {
			item, err := jsonValue(v.MapIndex(k), member{goName: m.goName})
			if err != nil {
				return nil, err
			}
			out[k.String()] = item
		}
		return out, nil
	default:
		return v.Interface(), nil
	}
}

// decodeJSONInto parses a JSON object body for payload-member assignment.
func decodeJSONInto(data []byte, dst *map[string]any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("protocol: parsing json payload: %w", err)
	}
	return nil
}

// decodeJSONBody parses a JSON body into the body members of a shape.
func decodeJSONBody(data []byte, dst reflect.Value) error {
	if len(data) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("protocol: parsing json body: %w", err)
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return fmt.Errorf("protocol: json body is not an object")
	}
	return assignJSONObject(dst, obj, true)
}

func assignJSONObject(dst reflect.Value, obj map[string]any, topLevel bool) error {
	for dst.Kind() == reflect.Pointer {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}
	meta, err := metaOf(dst.Type())
	if err != nil {
		return err
	}

	for _, m := range meta.members {
		if topLevel && m.location != locBody {
			continue
		}
		raw, present := obj[m.name]
		if !present || raw == nil {
			continue
		}
		if err := assignJSONValue(dst.Field(m.index), raw, m); err != nil {
			return err
		}
	}
	return nil
}

func assignJSONValue(dst reflect.Value, src any, m member) error {
	for dst.Kind() == reflect.Pointer {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}

	if dst.Type() == documentType {
		dst.Set(reflect.ValueOf(NewDocument(src)))
		return nil
	}
	if dst.Type() == timeType {
		switch t := src.(type) {
		case float64:
			dst.Set(reflect.ValueOf(epochTime(t)))
			return nil
		case string:
			parsed, err := ParseTime(t, m.timestampFormat)
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(parsed))
			return nil
		}
		return fmt.Errorf("protocol: member %q: cannot decode %T as timestamp", m.goName, src)
	}
	if dst.Type() == byteSliceType {
		s, ok := src.(string)
		if !ok {
			return fmt.Errorf("protocol: member %q: blob must be a base64 string", m.goName)
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("protocol: member %q: %w", m.goName, err)
		}
		dst.SetBytes(raw)
		return nil
	}

	switch dst.Kind() {
	case reflect.Struct:
		obj, ok := src.(map[string]any)
		if !ok {
			return fmt.Errorf("protocol: member %q: expected object, got %T", m.goName, src)
		}
		return assignJSONObject(dst, obj, false)
	case reflect.Slice:
		arr, ok := src.([]any)
		if !ok {
			return fmt.Errorf("protocol: member %q: expected array, got %T", m.goName, src)
		}
		out := reflect.MakeSlice(dst.Type(), len(arr), len(arr))
		for i, item := range arr {
			if item == nil {
				continue
			}
			if err := assignJSONValue(out.Index(i), item, member{goName: m.goName}); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	case reflect.Map:
		obj, ok := src.(map[string]any)
		if !ok {
			return fmt.Errorf("protocol: member %q: expected object, got %T", m.goName, src)
		}
		out := reflect.MakeMapWithSize(dst.Type(), len(obj))
		for k, item := range obj {
			ev := reflect.New(dst.Type().Elem()).Elem()
			if item != nil {
				if err := assignJSONValue(ev, item, member{goName: m.goName}); err != nil {
					return err
				}
			}
			out.SetMapIndex(reflect.ValueOf(k), ev)
		}
		dst.Set(out)
		return nil
	case reflect.String:
		s, ok := src.(string)
		if !ok {
			return fmt.Errorf("protocol: member %q: expected string, got %T", m.goName, src)
		}
		dst.SetString(s)
		return nil
	case reflect.Bool:
		b, ok := src.(bool)
		if !ok {
			return fmt.Errorf("protocol: member %q: expected bool, got %T", m.goName, src)
		}
		dst.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, ok := src.(float64)
		if !ok {
			return fmt.Errorf("protocol: member %q: expected number, got %T", m.goName, src)
		}
		dst.SetInt(int64(f))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, ok := src.(float64)
		if !ok {
			return fmt.Errorf("protocol: member %q: expected number, got %T", m.goName, src)
		}
		dst.SetUint(uint64(f))
		return nil
	case reflect.Float32, reflect.Float64:
		f, ok := src.(float64)
		if !ok {
			return fmt.Errorf("protocol: member %q: expected number, got %T", m.goName, src)
		}
		dst.SetFloat(f)
		return nil
	}
	return fmt.Errorf("protocol: member %q: unsupported kind %s", m.goName, dst.Kind())
}
