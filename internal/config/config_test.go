// Copyright 2025 Stacklok, Inc.
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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Provider:      "custom",
		IssuerURL:     "http://127.0.0.1:8080",
		ValidScopes:   []string{"read", "write"},
		DefaultScopes: []string{"read"},
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(*Config) {}},
		{name: "valid https issuer", mutate: func(c *Config) { c.IssuerURL = "https://auth.example.com" }},
		{name: "valid loopback localhost", mutate: func(c *Config) { c.IssuerURL = "http://localhost:8080" }},
		{name: "valid loopback ipv6", mutate: func(c *Config) { c.IssuerURL = "http://[::1]:8080" }},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider = "bogus" },
			wantErr: `unknown OAUTH_PROVIDER "bogus"`,
		},
		{
			name:    "google missing credentials",
			mutate:  func(c *Config) { c.Provider = "google" },
			wantErr: "requires OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET",
		},
		{
			name: "azure missing tenant",
			mutate: func(c *Config) {
				c.Provider, c.ClientID, c.ClientSecret = "azure", "id", "secret"
			},
			wantErr: "requires OAUTH_TENANT_ID",
		},
		{
			name:    "empty issuer URL",
			mutate:  func(c *Config) { c.IssuerURL = "" },
			wantErr: "OAUTH_ISSUER_URL is required",
		},
		{
			name:    "non-loopback http issuer rejected",
			mutate:  func(c *Config) { c.IssuerURL = "http://auth.example.com" },
			wantErr: "must use https outside of loopback development hosts",
		},
		{
			name:    "malformed issuer URL rejected",
			mutate:  func(c *Config) { c.IssuerURL = "://bad" },
			wantErr: "not a valid URL",
		},
		{
			name:    "default scope not in valid scopes",
			mutate:  func(c *Config) { c.DefaultScopes = []string{"admin"} },
			wantErr: `OAUTH_DEFAULT_SCOPES contains "admin"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
