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
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
)

// xmlNode is a short-lived parse tree node. Children hold only downward
// links, so the tree is acyclic and dies with the request.
type xmlNode struct {
	name     string
	text     string
	children []*xmlNode
}

// child returns the first child with the given name, or nil.
func (n *xmlNode) child(name string) *xmlNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// childText returns the text of the first child with the given name.
func (n *xmlNode) childText(name string) string {
	if c := n.child(name); c != nil {
		return c.text
	}
	return ""
}

// parseXML builds a node tree from an XML document.
func parseXML(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var root *xmlNode
	var stack []*xmlNode

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("protocol: parsing xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			node := &xmlNode{name: t.Name.Local}
			if len(stack) == 0 {
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("protocol: empty xml document")
	}
	return root, nil
}

// encodeXMLBody serializes the body members of a shape under the given root
// element. nsURI, when non-empty, becomes the root's xmlns attribute. Returns
// nil when no body members are present.
func encodeXMLBody(root string, v reflect.Value, nsURI string) ([]byte, error) {
	v, ok := deref(v)
	var body bytes.Buffer
	if ok {
		meta, err := metaOf(v.Type())
		if err != nil {
			return nil, err
		}
		for _, m := range meta.members {
			if m.location != locBody {
				continue
			}
			fv, ok := deref(v.Field(m.index))
			if !ok || isEmptyValue(fv) {
				continue
			}
			if err := writeXMLValue(&body, m.name, fv, m); err != nil {
				return nil, err
			}
		}
	}
	if body.Len() == 0 {
		return nil, nil
	}

	var out bytes.Buffer
	out.WriteByte('<')
	out.WriteString(root)
	if nsURI != "" {
		out.WriteString(` xmlns="`)
		xml.EscapeText(&out, []byte(nsURI))
		out.WriteByte('"')
	}
	out.WriteByte('>')
	out.Write(body.Bytes())
	out.WriteString("</" + root + ">")
	return out.Bytes(), nil
}

// writeXMLValue renders one member as an element. Lists wrap items in
// <member> unless flattened; maps use <entry><key/><value/></entry> with
// sorted keys.
func writeXMLValue(w *bytes.Buffer, name string, v reflect.Value, m member) error {
	v, ok := deref(v)
	if !ok {
		return nil
	}

	if v.Type() == timeType || v.Type() == byteSliceType {
		s, err := stringifyScalar(v, m, false)
		if err != nil {
			return err
		}
		writeXMLElement(w, name, s)
		return nil
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if m.flattened {
			for i := 0; i < v.Len(); i++ {
				if err := writeXMLValue(w, name, v.Index(i), member{goName: m.goName}); err != nil {
					return err
				}
			}
			return nil
		}
		w.WriteString("<" + name + ">")
		for i := 0; i < v.Len(); i++ {
			if err := writeXMLValue(w, "member", v.Index(i), member{goName: m.goName}); err != nil {
				return err
			}
		}
		w.WriteString("</" + name + ">")
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("protocol: xml map member %q must have string keys", m.goName)
		}
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		w.WriteString("<" + name + ">")
		for _, k := range keys {
			w.WriteString("<entry>")
			writeXMLElement(w, "key", k)
			if err := writeXMLValue(w, "value", v.MapIndex(reflect.ValueOf(k)), member{goName: m.goName}); err != nil {
				return err
			}
			w.WriteString("</entry>")
		}
		w.WriteString("</" + name + ">")
	case reflect.Struct:
		meta, err := metaOf(v.Type())
		if err != nil {
			return err
		}
		w.WriteString("<" + name + ">")
		for _, sub := range meta.members {
			fv, ok := deref(v.Field(sub.index))
			if !ok || isEmptyValue(fv) {
				continue
			}
			if err := writeXMLValue(w, sub.name, fv, sub); err != nil {
				return err
			}
		}
		w.WriteString("</" + name + ">")
	default:
		s, err := stringifyScalar(v, m, false)
		if err != nil {
			return err
		}
		writeXMLElement(w, name, s)
	}
	return nil
}

func writeXMLElement(w *bytes.Buffer, name, text string) {
	w.WriteString("<" + name + ">")
	xml.EscapeText(w, []byte(text))
	w.WriteString("</" + name + ">")
}

// decodeXMLBody parses an XML body into the body members of a shape. When
// the root is <OpResponse> wrapping an <OpResult>, the codec unwraps one
// level before assigning members.
func decodeXMLBody(data []byte, dst reflect.Value, opName string) error {
	if len(data) == 0 {
		return nil
	}
	root, err := parseXML(data)
	if err != nil {
		return err
	}
	if result := root.child(opName + "Result"); result != nil && root.name == opName+"Response" {
		root = result
	}
	return assignXMLNode(dst, root, true)
}

func assignXMLNode(dst reflect.Value, node *xmlNode, topLevel bool) error {
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
		if err := assignXMLMember(dst.Field(m.index), node, m); err != nil {
			return err
		}
	}
	return nil
}

func assignXMLMember(dst reflect.Value, parent *xmlNode, m member) error {
	for dst.Kind() == reflect.Pointer {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}

	switch dst.Kind() {
	case reflect.Slice:
		if dst.Type() == byteSliceType {
			break
		}
		var items []*xmlNode
		if m.flattened {
			for _, c := range parent.children {
				if c.name == m.name {
					items = append(items, c)
				}
			}
		} else if wrapper := parent.child(m.name); wrapper != nil {
			for _, c := range wrapper.children {
				if c.name == "member" || c.name == "item" {
					items = append(items, c)
				}
			}
		}
		if items == nil {
			return nil
		}
		out := reflect.MakeSlice(dst.Type(), len(items), len(items))
		for i, item := range items {
			if err := assignXMLLeaf(out.Index(i), item, member{goName: m.goName}); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	case reflect.Map:
		wrapper := parent.child(m.name)
		if wrapper == nil {
			return nil
		}
		out := reflect.MakeMap(dst.Type())
		entries := wrapper.children
		if m.flattened {
			entries = nil
			for _, c := range parent.children {
				if c.name == m.name {
					entries = append(entries, c)
				}
			}
		}
		for _, entry := range entries {
			key := entry.childText("key")
			if key == "" {
				continue
			}
			ev := reflect.New(dst.Type().Elem()).Elem()
			if valNode := entry.child("value"); valNode != nil {
				if err := assignXMLLeaf(ev, valNode, member{goName: m.goName}); err != nil {
					return err
				}
			}
			out.SetMapIndex(reflect.ValueOf(key), ev)
		}
		dst.Set(out)
		return nil
	}

	child := parent.child(m.name)
	if child == nil {
		return nil
	}
	return assignXMLLeaf(dst, child, m)
}

// assignXMLLeaf assigns a node to a scalar or nested structure member.
func assignXMLLeaf(dst reflect.Value, node *xmlNode, m member) error {
	for dst.Kind() == reflect.Pointer {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}

	if dst.Kind() == reflect.Struct && dst.Type() != timeType {
		return assignXMLNode(dst, node, false)
	}

	text := strings.TrimSpace(node.text)
	if text == "" && len(node.children) == 0 {
		return nil
	}

	if dst.Type() == timeType {
		t, err := ParseTime(text, m.timestampFormat)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}
	if dst.Type() == byteSliceType {
		raw, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return fmt.Errorf("protocol: decoding xml blob member %q: %w", m.goName, err)
		}
		dst.SetBytes(raw)
		return nil
	}
	return parseScalar(dst, text, m)
}
