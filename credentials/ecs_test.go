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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestECS_Retrieve(t *testing.T) {
	expiry := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/credentials/uuid-1234", r.URL.Path)
		fmt.Fprintf(w, `{
			"AccessKeyId": "AKIDECS",
			"SecretAccessKey": "ecssecret",
			"Token": "ecstoken",
			"Expiration": %q
		}`, expiry.Format(time.RFC3339))
	}))
	defer srv.Close()

	p := &ECS{BaseURL: srv.URL, RelativeURI: "/v2/credentials/uuid-1234"}
	cred, err := p.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDECS", cred.AccessKeyID)
	assert.Equal(t, "ecssecret", cred.SecretAccessKey)
	assert.Equal(t, "ecstoken", cred.SessionToken)
	assert.True(t, cred.Expiration.Equal(expiry))
}

func TestECS_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	p := &ECS{BaseURL: srv.URL, RelativeURI: "/creds"}
	_, err := p.Retrieve(context.Background())
	assert.ErrorContains(t, err, "403")
}

func TestECS_MissingKeysInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Token": "only-a-token"}`)
	}))
	defer srv.Close()

	p := &ECS{BaseURL: srv.URL, RelativeURI: "/creds"}
	_, err := p.Retrieve(context.Background())
	assert.ErrorContains(t, err, "missing keys")
}

func TestNewECS_RequiresEnv(t *testing.T) {
	t.Setenv(EnvContainerURI, "")
	_, err := NewECS()
	assert.Error(t, err)

	t.Setenv(EnvContainerURI, "/v2/credentials/uuid")
	p, err := NewECS()
	require.NoError(t, err)
	assert.Equal(t, "/v2/credentials/uuid", p.RelativeURI)
}

func TestECS_ShutdownIdempotent(t *testing.T) {
	t.Setenv(EnvContainerURI, "/creds")
	p, err := NewECS()
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown())
	assert.NoError(t, p.Shutdown())
}
