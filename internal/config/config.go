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

// Package config reads and validates the authorization server's
// configuration (spec.md §4.F, §6 "Environment configuration"), following
// the teacher's pkg/authserver.Config shape (pure, fully-resolved struct,
// separate Validate/applyDefaults steps, structured debug logging) on top of
// github.com/spf13/viper for environment binding instead of the teacher's
// hand-assembled struct literal, since this server is configured entirely
// from the process environment rather than composed in Go by an embedding
// caller.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stacklok/mcp-authserver/internal/logging"
	"github.com/stacklok/mcp-authserver/internal/store"
)

// Config is the fully-resolved, validated configuration for one server
// instance (spec.md §4.F).
type Config struct {
	Enabled  bool
	Provider string // custom, google, azure

	IssuerURL string
	StoreDir  string

	ValidScopes   []string
	DefaultScopes []string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration

	ClientID     string
	ClientSecret string
	TenantID     string
}

// Load reads OAUTH_* environment variables via viper and returns a
// defaulted, validated Config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("OAUTH_ENABLED", true)
	v.SetDefault("OAUTH_PROVIDER", "custom")
	v.SetDefault("OAUTH_ISSUER_URL", "http://127.0.0.1:8080")
	v.SetDefault("OAUTH_STORE_DIR", "./data")
	v.SetDefault("OAUTH_VALID_SCOPES", "read,write")
	v.SetDefault("OAUTH_DEFAULT_SCOPES", "read")
	v.SetDefault("OAUTH_ACCESS_TOKEN_TTL", 3600)
	v.SetDefault("OAUTH_REFRESH_TOKEN_TTL", 24*3600)
	v.SetDefault("OAUTH_AUTH_CODE_TTL", 600)

	cfg := &Config{
		Enabled:         v.GetBool("OAUTH_ENABLED"),
		Provider:        v.GetString("OAUTH_PROVIDER"),
		IssuerURL:       v.GetString("OAUTH_ISSUER_URL"),
		StoreDir:        v.GetString("OAUTH_STORE_DIR"),
		ValidScopes:     splitCSV(v.GetString("OAUTH_VALID_SCOPES")),
		DefaultScopes:   splitCSV(v.GetString("OAUTH_DEFAULT_SCOPES")),
		AccessTokenTTL:  time.Duration(v.GetInt64("OAUTH_ACCESS_TOKEN_TTL")) * time.Second,
		RefreshTokenTTL: time.Duration(v.GetInt64("OAUTH_REFRESH_TOKEN_TTL")) * time.Second,
		AuthCodeTTL:     time.Duration(v.GetInt64("OAUTH_AUTH_CODE_TTL")) * time.Second,
		ClientID:        v.GetString("OAUTH_CLIENT_ID"),
		ClientSecret:    v.GetString("OAUTH_CLIENT_SECRET"),
		TenantID:        v.GetString("OAUTH_TENANT_ID"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the config is internally consistent (spec.md §4.F
// "Failure model at startup": an unknown provider type or a federated
// provider with missing credentials is fatal).
func (c *Config) Validate() error {
	logging.Debugw("validating authserver config", "provider", c.Provider, "issuer", c.IssuerURL)

	switch c.Provider {
	case "custom":
	case "google", "azure":
		if c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("provider %q requires OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET", c.Provider)
		}
		if c.Provider == "azure" && c.TenantID == "" {
			return fmt.Errorf("provider azure requires OAUTH_TENANT_ID")
		}
	default:
		return fmt.Errorf("unknown OAUTH_PROVIDER %q", c.Provider)
	}

	if c.IssuerURL == "" {
		return fmt.Errorf("OAUTH_ISSUER_URL is required")
	}
	if err := validateIssuerURL(c.IssuerURL); err != nil {
		return err
	}
	for _, s := range c.DefaultScopes {
		if !contains(c.ValidScopes, s) {
			return fmt.Errorf("OAUTH_DEFAULT_SCOPES contains %q, which is not in OAUTH_VALID_SCOPES", s)
		}
	}

	logging.Debugw("authserver config validated", "provider", c.Provider, "validScopes", c.ValidScopes)
	return nil
}

// validateIssuerURL enforces spec.md §4.F's startup check: the issuer URL
// must be HTTPS in production. A loopback host (127.0.0.1, ::1, localhost)
// is treated as local development and may stay plain http, matching the
// OAUTH_ISSUER_URL default; any other host must use https.
func validateIssuerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("OAUTH_ISSUER_URL is not a valid URL: %w", err)
	}
	if u.Scheme == "https" {
		return nil
	}
	if u.Scheme == "http" && store.IsLoopbackHost(u.Hostname()) {
		return nil
	}
	return fmt.Errorf("OAUTH_ISSUER_URL %q must use https outside of loopback development hosts", raw)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
