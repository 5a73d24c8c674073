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

package cirrus

import (
	"context"
	"fmt"
	"iter"
	"reflect"

	"github.com/jmespath/go-jmespath"

	"github.com/tombee/cirrus/awscfg"
)

// Paginator walks a paginated operation by threading the output's
// continuation token back into the next input. In and Out are the operation's
// input and output struct pointer types.
//
// Pagination stops when the output token is absent or empty, when MoreResults
// explicitly reports false, or when the service echoes the token it was given
// (some services repeat the final token instead of omitting it).
type Paginator[In, Out any] struct {
	Client    *Client
	Operation *Operation
	Config    *awscfg.ServiceConfig

	// Input is the first request. Later requests are Input with the token
	// applied via SetToken.
	Input In

	// NewOutput allocates an output for each page, e.g.
	// func() *ListTablesOutput { return &ListTablesOutput{} }.
	NewOutput func() Out

	// OutputToken is the JMESPath of the continuation token in the output.
	OutputToken string

	// MoreResults is an optional JMESPath of a boolean "more pages" flag.
	MoreResults string

	// SetToken applies a continuation token to the input for the next page.
	SetToken func(in In, token any) In
}

// Pages iterates the result pages. Iteration ends at the last page or at the
// first error; the error, if any, is yielded with a zero page.
func (p *Paginator[In, Out]) Pages(ctx context.Context) iter.Seq2[Out, error] {
	return func(yield func(Out, error) bool) {
		input := p.Input
		var prevToken string
		first := true

		for {
			out := p.NewOutput()
			if err := p.Client.Execute(ctx, p.Operation, p.Config, input, out); err != nil {
				var zero Out
				yield(zero, err)
				return
			}
			if !yield(out, nil) {
				return
			}

			token, err := jmespath.Search(p.OutputToken, out)
			if err != nil {
				var zero Out
				yield(zero, fmt.Errorf("paginator: evaluating output token %q: %w", p.OutputToken, err))
				return
			}
			if emptyToken(token) {
				return
			}

			if p.MoreResults != "" {
				more, merr := jmespath.Search(p.MoreResults, out)
				if merr == nil {
					if b, ok := boolValue(more); ok && !b {
						return
					}
				}
			}

			// A repeated token means the service has no further pages.
			tok := tokenString(token)
			if !first && tok == prevToken {
				return
			}
			prevToken = tok
			first = false

			input = p.SetToken(input, token)
		}
	}
}

// All collects every page, stopping at the first error.
func (p *Paginator[In, Out]) All(ctx context.Context) ([]Out, error) {
	var pages []Out
	for page, err := range p.Pages(ctx) {
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// tokenString renders a token for comparison, dereferencing pointer-typed
// shape members first.
func tokenString(v any) string {
	if v == nil {
		return ""
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	return fmt.Sprint(rv.Interface())
}

// boolValue unwraps a possibly pointer-typed JMESPath result to a bool.
// Shape members are often *bool; jmespath hands the pointer back as-is.
func boolValue(v any) (value, ok bool) {
	if v == nil {
		return false, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Bool {
		return false, false
	}
	return rv.Bool(), true
}

// emptyToken reports whether a continuation token means "no more pages":
// nil, empty string, or a nil/empty pointer, slice or map.
func emptyToken(token any) bool {
	if token == nil {
		return true
	}
	v := reflect.ValueOf(token)
	switch v.Kind() {
	case reflect.String:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil() || emptyToken(v.Elem().Interface())
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	}
	return false
}
