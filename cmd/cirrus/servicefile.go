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
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/cirrus"
	"github.com/tombee/cirrus/awscfg"
	"github.com/tombee/cirrus/credentials"
)

// serviceFile is the YAML service descriptor consumed by every subcommand.
//
//	service: DynamoDB
//	serviceId: dynamodb
//	signingName: dynamodb
//	region: us-east-1
//	protocol: json
//	apiVersion: "2012-08-10"
//	amzTarget: DynamoDB_20120810
//	endpoint: ""            # optional override
//	timeoutSeconds: 30
type serviceFile struct {
	Service        string `yaml:"service"`
	ServiceID      string `yaml:"serviceId"`
	SigningName    string `yaml:"signingName"`
	Region         string `yaml:"region"`
	Protocol       string `yaml:"protocol"`
	APIVersion     string `yaml:"apiVersion"`
	AmzTarget      string `yaml:"amzTarget"`
	JSONVersion    string `yaml:"jsonVersion"`
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// loadServiceConfig reads the descriptor named by --service-file and applies
// the --region and --endpoint overrides.
func loadServiceConfig(cmd *cobra.Command) (*awscfg.ServiceConfig, error) {
	path, _ := cmd.Flags().GetString("service-file")
	if path == "" {
		return nil, fmt.Errorf("--service-file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading service file: %w", err)
	}

	var sf serviceFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing service file %s: %w", path, err)
	}

	if region, _ := cmd.Flags().GetString("region"); region != "" {
		sf.Region = region
	}
	if sf.Region == "" {
		sf.Region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if endpoint, _ := cmd.Flags().GetString("endpoint"); endpoint != "" {
		sf.Endpoint = endpoint
	}

	name := sf.Service
	if name == "" {
		name = sf.ServiceID
	}
	return awscfg.NewServiceConfig(awscfg.ServiceConfig{
		Region:      sf.Region,
		ServiceName: name,
		ServiceID:   sf.ServiceID,
		SigningName: sf.SigningName,
		Protocol:    awscfg.Protocol(sf.Protocol),
		APIVersion:  sf.APIVersion,
		AmzTarget:   sf.AmzTarget,
		JSONVersion: sf.JSONVersion,
		Endpoint:    sf.Endpoint,
		Timeout:     time.Duration(sf.TimeoutSeconds) * time.Second,
	})
}

// newRuntimeClient builds the client used by the subcommands, resolving
// credentials through the default chain (or a named shared profile).
func newRuntimeClient(cmd *cobra.Command, logger *slog.Logger) (*cirrus.Client, error) {
	var provider credentials.Provider
	if profile, _ := cmd.Flags().GetString("profile"); profile != "" {
		provider = &credentials.SharedFile{Profile: profile}
	} else {
		provider = credentials.NewDefaultChain()
	}

	return cirrus.New(cirrus.Config{
		Credentials: credentials.NewCache(provider),
		Logger:      logger,
	})
}
