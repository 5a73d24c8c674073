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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentialsFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

const sampleCredentials = `
; personal account
[default]
aws_access_key_id = AKIDDEFAULT
aws_secret_access_key = defaultsecret

# work account with a session
[work]
aws_access_key_id = AKIDWORK
aws_secret_access_key = worksecret
aws_session_token = worktoken

[broken]
aws_secret_access_key = nosuchkey
`

func TestSharedFile_DefaultProfile(t *testing.T) {
	t.Setenv(EnvProfile, "")
	p := &SharedFile{Path: writeCredentialsFile(t, sampleCredentials)}

	cred, err := p.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDDEFAULT", cred.AccessKeyID)
	assert.Equal(t, "defaultsecret", cred.SecretAccessKey)
	assert.Empty(t, cred.SessionToken)
}

func TestSharedFile_ProfileFromEnv(t *testing.T) {
	t.Setenv(EnvProfile, "work")
	p := &SharedFile{Path: writeCredentialsFile(t, sampleCredentials)}

	cred, err := p.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDWORK", cred.AccessKeyID)
	assert.Equal(t, "worktoken", cred.SessionToken)
}

func TestSharedFile_ExplicitProfileBeatsEnv(t *testing.T) {
	t.Setenv(EnvProfile, "default")
	p := &SharedFile{Path: writeCredentialsFile(t, sampleCredentials), Profile: "work"}

	cred, err := p.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDWORK", cred.AccessKeyID)
}

func TestSharedFile_TypedErrors(t *testing.T) {
	path := writeCredentialsFile(t, sampleCredentials)

	t.Run("missing profile", func(t *testing.T) {
		_, err := (&SharedFile{Path: path, Profile: "nonexistent"}).Retrieve(context.Background())
		assert.ErrorIs(t, err, ErrMissingProfile)
	})

	t.Run("missing access key id", func(t *testing.T) {
		_, err := (&SharedFile{Path: path, Profile: "broken"}).Retrieve(context.Background())
		assert.ErrorIs(t, err, ErrMissingAccessKeyID)
	})

	t.Run("missing secret", func(t *testing.T) {
		p := &SharedFile{Path: writeCredentialsFile(t, "[default]\naws_access_key_id = AKID\n")}
		t.Setenv(EnvProfile, "")
		_, err := p.Retrieve(context.Background())
		assert.ErrorIs(t, err, ErrMissingSecretAccessKey)
	})

	t.Run("missing file", func(t *testing.T) {
		p := &SharedFile{Path: filepath.Join(t.TempDir(), "nope")}
		_, err := p.Retrieve(context.Background())
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidSyntax)
	})
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandTilde("~/.aws/credentials")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".aws", "credentials"), got)

	got, err = expandTilde("/etc/aws/credentials")
	require.NoError(t, err)
	assert.Equal(t, "/etc/aws/credentials", got)
}
