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

package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/cirrus"
	"github.com/tombee/cirrus/transport"
)

// newCallCommand invokes a raw operation: the body is passed through verbatim
// and the response body is printed, so the caller owns the shape encoding.
func newCallCommand(logger *slog.Logger) *cobra.Command {
	var (
		operation string
		method    string
		path      string
		bodyFile  string
	)

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Invoke one operation and print the response body",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServiceConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newRuntimeClient(cmd, logger)
			if err != nil {
				return err
			}
			defer client.Shutdown()

			var body []byte
			switch bodyFile {
			case "":
			case "-":
				body, err = io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading body from stdin: %w", err)
				}
			default:
				body, err = os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("reading body file: %w", err)
				}
			}

			req := transport.NewRequest(method, &url.URL{Path: path})
			req.Body = body
			if cfg.AmzTarget != "" {
				req.Headers.Set("X-Amz-Target", cfg.AmzTarget+"."+operation)
				version := cfg.JSONVersion
				if version == "" {
					version = "1.1"
				}
				req.Headers.Set("Content-Type", "application/x-amz-json-"+version)
			}

			op := &cirrus.Operation{Name: operation, HTTPMethod: method, HTTPPath: path}
			resp, err := client.Do(cmd.Context(), op, cfg, req)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "HTTP %d\n", resp.StatusCode)
			if len(resp.Body) > 0 {
				os.Stdout.Write(resp.Body)
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&operation, "operation", "", "operation name, e.g. ListTables")
	cmd.Flags().StringVar(&method, "method", "POST", "HTTP method")
	cmd.Flags().StringVar(&path, "path", "/", "request path")
	cmd.Flags().StringVar(&bodyFile, "body", "", "request body file, or - for stdin")
	cobra.CheckErr(cmd.MarkFlagRequired("operation"))
	return cmd
}

// newSignCommand signs an arbitrary request and prints the resulting headers.
func newSignCommand(logger *slog.Logger) *cobra.Command {
	var (
		rawURL string
		method string
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a request and print the headers to send",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServiceConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newRuntimeClient(cmd, logger)
			if err != nil {
				return err
			}
			defer client.Shutdown()

			u, err := url.Parse(rawURL)
			if err != nil || u.Host == "" {
				return fmt.Errorf("invalid --url %q", rawURL)
			}

			headers, err := client.SignHeaders(cmd.Context(), cfg, method, u, http.Header{}, nil)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(headers))
			for name := range headers {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s: %s\n", name, headers.Get(name))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rawURL, "url", "", "full request URL")
	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method")
	cobra.CheckErr(cmd.MarkFlagRequired("url"))
	return cmd
}

// newPresignCommand produces a presigned URL.
func newPresignCommand(logger *slog.Logger) *cobra.Command {
	var (
		rawURL  string
		method  string
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "presign",
		Short: "Produce a presigned URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServiceConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newRuntimeClient(cmd, logger)
			if err != nil {
				return err
			}
			defer client.Shutdown()

			u, err := url.Parse(rawURL)
			if err != nil || u.Host == "" {
				return fmt.Errorf("invalid --url %q", rawURL)
			}

			signed, err := client.PresignURL(cmd.Context(), cfg, method, u, expires)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&rawURL, "url", "", "full request URL")
	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method")
	cmd.Flags().DurationVar(&expires, "expires", 15*time.Minute, "how long the URL stays valid")
	cobra.CheckErr(cmd.MarkFlagRequired("url"))
	return cmd
}
