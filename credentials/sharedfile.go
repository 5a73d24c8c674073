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

package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/tombee/cirrus/awscfg"
)

// Shared credentials file errors, matchable with errors.Is.
var (
	ErrInvalidSyntax          = errors.New("credentials file has invalid syntax")
	ErrMissingProfile         = errors.New("credentials file is missing the profile")
	ErrMissingAccessKeyID     = errors.New("credentials file profile is missing aws_access_key_id")
	ErrMissingSecretAccessKey = errors.New("credentials file profile is missing aws_secret_access_key")
)

// SharedFile reads the AWS shared credentials INI file
// (~/.aws/credentials). The profile comes from AWS_PROFILE, defaulting to
// "default". Supports ';' and '#' comments and tilde expansion on the path.
type SharedFile struct {
	// Path of the credentials file. Empty means ~/.aws/credentials.
	Path string

	// Profile overrides the environment-selected profile.
	Profile string
}

// Retrieve implements Provider by re-reading the file, so rotated files are
// picked up on the next refresh.
func (p *SharedFile) Retrieve(context.Context) (awscfg.Credential, error) {
	path := p.Path
	if path == "" {
		path = filepath.Join("~", ".aws", "credentials")
	}
	path, err := expandTilde(path)
	if err != nil {
		return awscfg.Credential{}, err
	}

	profile := p.Profile
	if profile == "" {
		profile = os.Getenv(EnvProfile)
	}
	if profile == "" {
		profile = "default"
	}

	file, err := ini.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return awscfg.Credential{}, fmt.Errorf("credentials: %w", err)
		}
		return awscfg.Credential{}, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}

	section, err := file.GetSection(profile)
	if err != nil {
		return awscfg.Credential{}, fmt.Errorf("%w: %q in %s", ErrMissingProfile, profile, path)
	}

	id := section.Key("aws_access_key_id").String()
	if id == "" {
		return awscfg.Credential{}, fmt.Errorf("%w: profile %q", ErrMissingAccessKeyID, profile)
	}
	secret := section.Key("aws_secret_access_key").String()
	if secret == "" {
		return awscfg.Credential{}, fmt.Errorf("%w: profile %q", ErrMissingSecretAccessKey, profile)
	}

	return awscfg.Credential{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    section.Key("aws_session_token").String(),
	}, nil
}

// expandTilde resolves a leading ~ against the current user's home.
func expandTilde(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("credentials: resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
