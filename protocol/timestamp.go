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
	"math"
	"strconv"
	"time"
)

// Timestamp formats a member may declare. The encoder emits exactly the
// declared format; the decoder is liberal and accepts every ISO 8601 variant,
// RFC 1123 and epoch numbers regardless of declaration.
const (
	// FormatISO8601 is ISO 8601 with millisecond precision, e.g.
	// 2015-08-30T12:36:00.000Z.
	FormatISO8601 = "iso8601"

	// FormatISO8601Short is ISO 8601 without fractional seconds.
	FormatISO8601Short = "iso8601short"

	// FormatRFC822 is the HTTP-header date form (RFC 1123 with GMT).
	FormatRFC822 = "rfc822"

	// FormatUnix is Unix epoch seconds.
	FormatUnix = "unixTimestamp"
)

const (
	iso8601MilliLayout = "2006-01-02T15:04:05.000Z"
	iso8601Layout      = "2006-01-02T15:04:05Z"
	rfc822Layout       = "Mon, 02 Jan 2006 15:04:05 GMT"
)

// FormatTime renders t in the named format. Times are always rendered in UTC.
func FormatTime(t time.Time, format string) (string, error) {
	t = t.UTC()
	switch format {
	case FormatISO8601, "":
		return t.Format(iso8601MilliLayout), nil
	case FormatISO8601Short:
		return t.Format(iso8601Layout), nil
	case FormatRFC822:
		return t.Format(rfc822Layout), nil
	case FormatUnix:
		return strconv.FormatInt(t.Unix(), 10), nil
	default:
		return "", fmt.Errorf("protocol: unknown timestamp format %q", format)
	}
}

// iso8601 layouts the decoder accepts, most specific first.
var parseLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999Z",
	iso8601Layout,
	"2006-01-02T15:04:05Z07:00",
	rfc822Layout,
	time.RFC1123,
	time.RFC1123Z,
}

// ParseTime parses a wire timestamp. The declared format is a hint only: the
// decoder accepts all ISO 8601 variants, RFC 1123 and epoch seconds
// (optionally fractional).
func ParseTime(s, declaredFormat string) (time.Time, error) {
	if declaredFormat == FormatUnix {
		if t, err := parseEpoch(s); err == nil {
			return t, nil
		}
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := parseEpoch(s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("protocol: unparseable timestamp %q", s)
}

// parseEpoch parses integer or fractional epoch seconds.
func parseEpoch(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
}

// epochTime converts a JSON number (float seconds) to a time.
func epochTime(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
