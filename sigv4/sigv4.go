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

// Package sigv4 implements AWS Signature Version 4 request signing, both
// header-based (Authorization) and query-based (presigned URLs).
//
// Signing is a pure function of (credential, region, service, request, time);
// given a fixed clock the output is deterministic, which the tests rely on.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/cirrus/awscfg"
	"github.com/tombee/cirrus/transport"
)

const (
	// Algorithm is the SigV4 algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	// UnsignedPayload is the body-hash sentinel for presigned URLs and
	// unsigned streaming uploads.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// StreamingPayloadHash is the body-hash sentinel for chunk-signed
	// uploads. Per-chunk signature framing is not implemented; the codec
	// reserves this hook for callers that frame chunks themselves.
	StreamingPayloadHash = "STREAMING-AWS4-HMAC-SHA256-PAYLOAD"

	amzDateFormat  = "20060102T150405Z"
	shortDateFormat = "20060102"

	// Presign expiry bounds per the SigV4 definition.
	minPresignExpiry = 1 * time.Second
	maxPresignExpiry = 7 * 24 * time.Hour
)

// Headers never included in the signature. Authorization would be circular,
// the others are routinely rewritten by proxies.
var ignoredHeaders = map[string]struct{}{
	"authorization":   {},
	"user-agent":      {},
	"x-amzn-trace-id": {},
	"expect":          {},
}

// Signer computes SigV4 signatures.
type Signer struct {
	// DisableURIPathEscaping skips the second percent-encoding pass on the
	// canonical path. S3 requires this; every other service double-encodes.
	DisableURIPathEscaping bool
}

// PayloadHash returns the hex SHA-256 of body, the value SigV4 expects as the
// final canonical-request line. A nil body hashes as the empty string.
func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SignHTTP signs req in place: it sets Host, X-Amz-Date, optionally
// X-Amz-Security-Token, and the Authorization header. payloadHash must be the
// hex SHA-256 of the request body, or one of the sentinel values; it is signed
// but not sent. Services that want the hash on the wire (S3, streaming
// uploads) set X-Amz-Content-Sha256 themselves before signing.
func (s *Signer) SignHTTP(cred awscfg.Credential, req *transport.Request, payloadHash, service, region string, t time.Time) error {
	if !cred.HasKeys() {
		return fmt.Errorf("sigv4: credential is missing keys")
	}
	t = t.UTC()

	req.Headers.Set("Host", req.URL.Host)
	req.Headers.Set("X-Amz-Date", t.Format(amzDateFormat))
	if cred.SessionToken != "" {
		req.Headers.Set("X-Amz-Security-Token", cred.SessionToken)
	}

	canonical, signedHeaders := s.canonicalRequest(req, payloadHash)
	scope := credentialScope(t, region, service)
	stringToSign := buildStringToSign(t, scope, canonical)
	signature := hex.EncodeToString(hmacSHA256(deriveKey(cred.SecretAccessKey, t, region, service), []byte(stringToSign)))

	req.Headers.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, cred.AccessKeyID, scope, signedHeaders, signature,
	))
	return nil
}

// PresignHTTP computes a presigned URL for req. The body is unsigned; expires
// is clamped to [1s, 7d]. The request itself is not modified.
func (s *Signer) PresignHTTP(cred awscfg.Credential, req *transport.Request, service, region string, expires time.Duration, t time.Time) (string, error) {
	if !cred.HasKeys() {
		return "", fmt.Errorf("sigv4: credential is missing keys")
	}
	t = t.UTC()
	if expires < minPresignExpiry {
		expires = minPresignExpiry
	}
	if expires > maxPresignExpiry {
		expires = maxPresignExpiry
	}

	signed := req.Clone()
	signed.Headers.Set("Host", signed.URL.Host)

	scope := credentialScope(t, region, service)
	query := signed.URL.Query()
	query.Set("X-Amz-Algorithm", Algorithm)
	query.Set("X-Amz-Credential", cred.AccessKeyID+"/"+scope)
	query.Set("X-Amz-Date", t.Format(amzDateFormat))
	query.Set("X-Amz-Expires", strconv.FormatInt(int64(expires/time.Second), 10))
	if cred.SessionToken != "" {
		query.Set("X-Amz-Security-Token", cred.SessionToken)
	}

	_, signedHeaders := canonicalHeaders(signed.Headers)
	query.Set("X-Amz-SignedHeaders", signedHeaders)
	signed.URL.RawQuery = query.Encode()

	canonical, _ := s.canonicalRequest(signed, UnsignedPayload)
	stringToSign := buildStringToSign(t, scope, canonical)
	signature := hex.EncodeToString(hmacSHA256(deriveKey(cred.SecretAccessKey, t, region, service), []byte(stringToSign)))

	signed.URL.RawQuery += "&X-Amz-Signature=" + signature
	return signed.URL.String(), nil
}

// canonicalRequest assembles the six-line canonical form and returns it with
// the signed-headers list.
func (s *Signer) canonicalRequest(req *transport.Request, payloadHash string) (string, string) {
	headers, signedHeaders := canonicalHeaders(req.Headers)
	canonical := strings.Join([]string{
		req.Method,
		s.canonicalPath(req.URL),
		canonicalQuery(req.URL),
		headers,
		signedHeaders,
		payloadHash,
	}, "\n")
	return canonical, signedHeaders
}

// canonicalPath percent-encodes the request path per RFC 3986. The default
// double-encodes (the path is already URI-encoded on the wire and SigV4
// encodes it again); S3 signs the single-encoded path.
func (s *Signer) canonicalPath(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	if s.DisableURIPathEscaping {
		return path
	}
	return uriEncode(path, false)
}

// canonicalQuery sorts parameters by key then value, percent-encoding both.
func canonicalQuery(u *url.URL) string {
	values := u.Query()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		ek := uriEncode(k, true)
		for _, v := range vs {
			parts = append(parts, ek+"="+uriEncode(v, true))
		}
	}
	return strings.Join(parts, "&")
}

// canonicalHeaders lowercases and sorts header names, trims values and
// collapses internal whitespace runs, and returns the canonical block
// (newline-terminated) plus the semicolon-joined signed-headers list.
func canonicalHeaders(h http.Header) (string, string) {
	names := make([]string, 0, len(h))
	for name := range h {
		lower := strings.ToLower(name)
		if _, skip := ignoredHeaders[lower]; skip {
			continue
		}
		names = append(names, lower)
	}
	sort.Strings(names)

	var block strings.Builder
	for _, name := range names {
		values := h.Values(http.CanonicalHeaderKey(name))
		trimmed := make([]string, len(values))
		for i, v := range values {
			trimmed[i] = strings.Join(strings.Fields(v), " ")
		}
		block.WriteString(name)
		block.WriteByte(':')
		block.WriteString(strings.Join(trimmed, ","))
		block.WriteByte('\n')
	}
	return block.String(), strings.Join(names, ";")
}

func credentialScope(t time.Time, region, service string) string {
	return strings.Join([]string{
		t.Format(shortDateFormat), region, service, "aws4_request",
	}, "/")
}

func buildStringToSign(t time.Time, scope, canonicalRequest string) string {
	sum := sha256.Sum256([]byte(canonicalRequest))
	return strings.Join([]string{
		Algorithm,
		t.Format(amzDateFormat),
		scope,
		hex.EncodeToString(sum[:]),
	}, "\n")
}

// deriveKey walks the SigV4 key derivation chain.
func deriveKey(secret string, t time.Time, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(t.Format(shortDateFormat)))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// uriEncode percent-encodes s using the RFC 3986 unreserved set. When
// encodeSlash is false, '/' is preserved (path encoding); query components
// encode it.
func uriEncode(s string, encodeSlash bool) string {
	var buf strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			buf.WriteByte(c)
		case c == '/' && !encodeSlash:
			buf.WriteByte(c)
		default:
			fmt.Fprintf(&buf, "%%%02X", c)
		}
	}
	return buf.String()
}
