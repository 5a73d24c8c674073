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

// Package protocol maps typed operation shapes onto the six AWS wire formats
// (json, restJson, xml, restXml, query, ec2) and back. Shapes declare their
// member placement with struct tags; see fields.go for the vocabulary.
package protocol

import (
	"fmt"
	"io"
	"net/url"
	"reflect"
	"strings"

	"github.com/tombee/cirrus/awscfg"
	"github.com/tombee/cirrus/awserr"
	"github.com/tombee/cirrus/transport"
)

// EncodeRequest builds the logical HTTP request for one operation: method,
// resolved URL (endpoint + substituted path + query), headers and body per
// the service protocol. endpoint must carry a scheme. input may be nil for
// input-less operations.
func EncodeRequest(cfg *awscfg.ServiceConfig, opName, method, pathTemplate, endpoint string, input any) (*transport.Request, error) {
	base, err := url.Parse(endpoint)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, awserr.NewClientError(awserr.KindInvalidURL, "invalid endpoint %q", endpoint)
	}

	var (
		inputVal reflect.Value
		meta     = &shapeMeta{}
	)
	if input != nil {
		inputVal, _ = deref(reflect.ValueOf(input))
		if inputVal.IsValid() {
			meta, err = metaOf(inputVal.Type())
			if err != nil {
				return nil, err
			}
		}
	}

	// Path template substitution.
	path := pathTemplate
	if path == "" {
		path = "/"
	}
	if inputVal.IsValid() {
		path, err = uriPath(path, inputVal, meta)
		if err != nil {
			return nil, err
		}
	}
	if strings.Contains(path, "{") {
		return nil, awserr.NewClientError(awserr.KindInvalidURL, "unresolved path placeholders in %q", path)
	}
	u := *base
	u.RawPath = strings.TrimSuffix(u.RawPath, "/") + path
	u.Path = strings.TrimSuffix(u.Path, "/") + mustUnescape(path)

	req := transport.NewRequest(method, &u)

	// GET and HEAD discard the body; body members ride the query string,
	// which also makes URL signing possible.
	queryOnly := method == "GET" || method == "HEAD"

	query := u.Query()
	if inputVal.IsValid() {
		if err := querystringValues(query, inputVal, meta, queryOnly && cfg.Protocol != awscfg.ProtocolQuery && cfg.Protocol != awscfg.ProtocolEC2); err != nil {
			return nil, err
		}
		if err := applyHeaderMembers(req, inputVal, meta); err != nil {
			return nil, err
		}
	}

	switch cfg.Protocol {
	case awscfg.ProtocolJSON:
		version := cfg.JSONVersion
		if version == "" {
			version = "1.1"
		}
		req.Headers.Set("Content-Type", "application/x-amz-json-"+version)
		if cfg.AmzTarget != "" {
			req.Headers.Set("X-Amz-Target", cfg.AmzTarget+"."+opName)
		}
		if !queryOnly && inputVal.IsValid() {
			body, err := encodeJSONBody(inputVal)
			if err != nil {
				return nil, err
			}
			req.Body = body
		}

	case awscfg.ProtocolRestJSON:
		if err := encodeRestPayload(req, inputVal, meta, queryOnly, func(v reflect.Value) ([]byte, string, error) {
			body, err := encodeJSONBody(v)
			return body, "application/json", err
		}); err != nil {
			return nil, err
		}

	case awscfg.ProtocolXML:
		if !queryOnly && inputVal.IsValid() {
			body, err := encodeXMLBody(opName, inputVal, meta.xmlURI)
			if err != nil {
				return nil, err
			}
			req.Body = body
		}
		req.Headers.Set("Content-Type", "text/xml")

	case awscfg.ProtocolRestXML:
		if err := encodeRestPayload(req, inputVal, meta, queryOnly, func(v reflect.Value) ([]byte, string, error) {
			body, err := encodeXMLBody(opName+"Request", v, meta.xmlURI)
			return body, "text/xml", err
		}); err != nil {
			return nil, err
		}

	case awscfg.ProtocolQuery, awscfg.ProtocolEC2:
		ec2 := cfg.Protocol == awscfg.ProtocolEC2
		encoded, err := encodeQueryBody(opName, cfg.APIVersion, inputVal, ec2)
		if err != nil {
			return nil, err
		}
		if queryOnly {
			merged, err := url.ParseQuery(encoded)
			if err != nil {
				return nil, err
			}
			for k, vs := range merged {
				for _, v := range vs {
					query.Add(k, v)
				}
			}
		} else {
			req.Body = []byte(encoded)
			req.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
		}

	default:
		return nil, fmt.Errorf("protocol: unknown protocol %q", cfg.Protocol)
	}

	req.URL.RawQuery = query.Encode()
	return req, nil
}

// encodeRestPayload handles the REST protocols' body selection: a declared
// payload member becomes the body (raw for blobs, strings and streams;
// structured otherwise); absent that, the body members serialize structurally.
func encodeRestPayload(req *transport.Request, inputVal reflect.Value, meta *shapeMeta, queryOnly bool, structured func(reflect.Value) ([]byte, string, error)) error {
	if queryOnly || !inputVal.IsValid() {
		return nil
	}

	if pm := meta.payloadMember(); pm != nil {
		fv, ok := deref(inputVal.Field(pm.index))
		if !ok || isEmptyValue(fv) {
			return nil
		}
		switch {
		case fv.Type() == byteSliceType:
			req.Body = fv.Bytes()
			defaultContentType(req, "application/octet-stream")
		case fv.Kind() == reflect.String:
			req.Body = []byte(fv.String())
			defaultContentType(req, "text/plain")
		case fv.Type().Implements(readerType):
			req.Stream = fv.Interface().(io.Reader)
		case fv.Kind() == reflect.Struct:
			body, ct, err := structured(fv)
			if err != nil {
				return err
			}
			req.Body = body
			defaultContentType(req, ct)
		default:
			return awserr.NewClientError(awserr.KindFailedToAccessPayload,
				"payload member %q has unsupported type %s", pm.goName, fv.Type())
		}
		return nil
	}

	body, ct, err := structured(inputVal)
	if err != nil {
		return err
	}
	if body != nil {
		req.Body = body
		defaultContentType(req, ct)
	}
	return nil
}

// defaultContentType sets Content-Type unless a header-located member already
// declared one.
func defaultContentType(req *transport.Request, ct string) {
	if req.Headers.Get("Content-Type") == "" {
		req.Headers.Set("Content-Type", ct)
	}
}

// applyHeaderMembers writes header-located members onto the request. A
// map[string]string member spreads under its name prefix (metadata headers).
func applyHeaderMembers(req *transport.Request, v reflect.Value, meta *shapeMeta) error {
	for _, m := range meta.members {
		if m.location != locHeader {
			continue
		}
		fv, ok := deref(v.Field(m.index))
		if !ok || isEmptyValue(fv) {
			continue
		}
		if fv.Kind() == reflect.Map && fv.Type().Key().Kind() == reflect.String {
			for _, k := range fv.MapKeys() {
				s, err := stringifyScalar(fv.MapIndex(k), m, true)
				if err != nil {
					return err
				}
				req.Headers.Set(m.name+k.String(), s)
			}
			continue
		}
		s, err := stringifyScalar(fv, m, true)
		if err != nil {
			return err
		}
		req.Headers.Set(m.name, s)
	}
	return nil
}

// DecodeResponse fills output from a successful response: status-code and
// header members, then the payload member or structured body selected by the
// response content type. output must be a non-nil struct pointer; a nil
// output skips decoding entirely.
func DecodeResponse(cfg *awscfg.ServiceConfig, opName string, resp *transport.Response, output any) error {
	if output == nil {
		return nil
	}
	ptr := reflect.ValueOf(output)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() {
		return fmt.Errorf("protocol: output must be a non-nil pointer, got %T", output)
	}
	dst := ptr.Elem()
	meta, err := metaOf(dst.Type())
	if err != nil {
		return err
	}

	for _, m := range meta.members {
		switch m.location {
		case locStatusCode:
			f := dst.Field(m.index)
			for f.Kind() == reflect.Pointer {
				if f.IsNil() {
					f.Set(reflect.New(f.Type().Elem()))
				}
				f = f.Elem()
			}
			f.SetInt(int64(resp.StatusCode))
		case locHeader:
			if err := assignHeaderMember(dst.Field(m.index), resp, m); err != nil {
				return err
			}
		}
	}

	if pm := meta.payloadMember(); pm != nil {
		return assignPayloadMember(dst.Field(pm.index), resp, cfg, opName, *pm)
	}

	if len(resp.Body) == 0 {
		return nil
	}

	ct := resp.Header("Content-Type")
	switch {
	case strings.Contains(ct, "json"):
		return decodeJSONBody(resp.Body, dst)
	case strings.Contains(ct, "xml"):
		return decodeXMLBody(resp.Body, dst, opName)
	default:
		switch cfg.Protocol {
		case awscfg.ProtocolJSON, awscfg.ProtocolRestJSON:
			return decodeJSONBody(resp.Body, dst)
		default:
			return decodeXMLBody(resp.Body, dst, opName)
		}
	}
}

// assignHeaderMember coerces a response header into a member. Map members
// gather all headers sharing the member's name prefix.
func assignHeaderMember(dst reflect.Value, resp *transport.Response, m member) error {
	if dst.Kind() == reflect.Map && dst.Type().Key().Kind() == reflect.String {
		out := reflect.MakeMap(dst.Type())
		for name, values := range resp.Headers {
			if !strings.HasPrefix(strings.ToLower(name), strings.ToLower(m.name)) || len(values) == 0 {
				continue
			}
			key := name[len(m.name):]
			ev := reflect.New(dst.Type().Elem()).Elem()
			if err := parseScalar(ev, values[0], m); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(key), ev)
		}
		if out.Len() > 0 {
			dst.Set(out)
		}
		return nil
	}

	value := resp.Header(m.name)
	if value == "" {
		return nil
	}
	return parseScalar(dst, value, m)
}

// assignPayloadMember consumes the raw body (or open stream) into the
// declared payload member.
func assignPayloadMember(dst reflect.Value, resp *transport.Response, cfg *awscfg.ServiceConfig, opName string, m member) error {
	for dst.Kind() == reflect.Pointer {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}

	switch {
	case dst.Type() == readCloserType:
		if resp.Stream == nil {
			return awserr.NewClientError(awserr.KindFailedToAccessPayload,
				"streaming payload member %q but response was buffered", m.goName)
		}
		dst.Set(reflect.ValueOf(resp.Stream))
		return nil
	case dst.Type() == byteSliceType:
		dst.SetBytes(resp.Body)
		return nil
	case dst.Kind() == reflect.String:
		dst.SetString(string(resp.Body))
		return nil
	case dst.Kind() == reflect.Struct:
		if len(resp.Body) == 0 {
			return nil
		}
		switch cfg.Protocol {
		case awscfg.ProtocolJSON, awscfg.ProtocolRestJSON:
			var parsed map[string]any
			if err := decodeJSONInto(resp.Body, &parsed); err != nil {
				return err
			}
			return assignJSONObject(dst, parsed, false)
		default:
			root, err := parseXML(resp.Body)
			if err != nil {
				return err
			}
			if result := root.child(opName + "Result"); result != nil && root.name == opName+"Response" {
				root = result
			}
			return assignXMLNode(dst, root, false)
		}
	default:
		return awserr.NewClientError(awserr.KindFailedToAccessPayload,
			"payload member %q has unsupported type %s", m.goName, dst.Type())
	}
}

func mustUnescape(path string) string {
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return path
	}
	return unescaped
}
