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

// cirrus is a command-line front end for the request runtime: it signs,
// presigns and invokes raw operations against any AWS-shaped service
// described by a YAML service file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/cirrus/logging"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	logger := logging.New(logging.FromEnv())

	rootCmd := &cobra.Command{
		Use:   "cirrus",
		Short: "Invoke and sign requests against AWS-shaped services",
		Long: `cirrus executes raw operations against any AWS service given a YAML
service descriptor: it resolves credentials through the standard chain
(environment, shared credentials file, ECS, instance metadata), signs with
SigV4 and speaks the service's wire protocol.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("service-file", "", "path to the YAML service descriptor")
	rootCmd.PersistentFlags().String("region", "", "override the descriptor's region")
	rootCmd.PersistentFlags().String("endpoint", "", "override the resolved endpoint URL")
	rootCmd.PersistentFlags().String("profile", "", "shared credentials profile to use")

	rootCmd.AddCommand(
		newCallCommand(logger),
		newSignCommand(logger),
		newPresignCommand(logger),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
