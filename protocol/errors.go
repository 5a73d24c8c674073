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
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tombee/cirrus/awscfg"
)

// ExtractError pulls the wire error code and message out of a non-2xx
// response body, per protocol:
//
//	query, xml, restXml:  <Error><Code/><Message/></Error>
//	json:                 body["__type"], body["message"|"Message"]
//	restJson:             header x-amzn-ErrorType, message from body
//
// An empty code means the body did not parse into a known error shape and
// the caller should fall back to a RawError.
func ExtractError(p awscfg.Protocol, headers http.Header, body []byte) (code, message string) {
	switch p {
	case awscfg.ProtocolJSON:
		return extractJSONError(body, "")
	case awscfg.ProtocolRestJSON:
		return extractJSONError(body, headers.Get("X-Amzn-Errortype"))
	default:
		return extractXMLError(body)
	}
}

func extractJSONError(body []byte, headerCode string) (code, message string) {
	var parsed struct {
		Type     string `json:"__type"`
		Code     string `json:"code"`
		Message  string `json:"message"`
		MessageU string `json:"Message"`
	}
	_ = json.Unmarshal(body, &parsed)

	code = headerCode
	if code == "" {
		code = parsed.Type
	}
	if code == "" {
		code = parsed.Code
	}
	code = trimErrorCode(code)

	message = parsed.Message
	if message == "" {
		message = parsed.MessageU
	}
	return code, message
}

func extractXMLError(body []byte) (code, message string) {
	root, err := parseXML(body)
	if err != nil {
		return "", ""
	}

	node := root
	if root.name != "Error" {
		if e := findError(root); e != nil {
			node = e
		} else {
			return "", ""
		}
	}
	return node.childText("Code"), node.childText("Message")
}

// findError locates the first <Error> element in the tree. Query-protocol
// services wrap it in <ErrorResponse>, some REST-XML services nest it in
// <Errors>.
func findError(n *xmlNode) *xmlNode {
	for _, c := range n.children {
		if c.name == "Error" {
			return c
		}
		if found := findError(c); found != nil {
			return found
		}
	}
	return nil
}

// trimErrorCode strips the namespace prefix ("com.amazonaws.x#Code") and the
// URI suffix ("Code:http://...") some services attach to error codes.
func trimErrorCode(code string) string {
	if i := strings.Index(code, "#"); i >= 0 {
		code = code[i+1:]
	}
	if i := strings.Index(code, ":"); i >= 0 {
		code = code[:i]
	}
	return code
}
