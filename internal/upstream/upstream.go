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

// Package upstream implements the federated IdP clients used by the google
// and azure provider variants (spec.md §4.C): authorization URL
// construction, code exchange, and userinfo retrieval, on top of
// golang.org/x/oauth2 and github.com/go-jose/go-jose/v3.
//
// Grounded on the teacher's pkg/authserver/upstream test suite
// (oauth2_test.go, oidc_test.go: CommonOAuthConfig, NewOAuth2Provider,
// NewOIDCProvider, AuthorizationURL, ExchangeCode), whose package under
// _examples/ is test-only — the client shape below is reconstructed from
// what those tests exercise. go-jose/v3 is used in place of the teacher's
// coreos/go-oidc dependency for ID-token parsing, since go-jose/v3 is the
// JOSE library directly evidenced in oidc_test.go's own imports and needs
// no provider-discovery machinery beyond what Client already performs.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	josejwt "github.com/go-jose/go-jose/v3/jwt"
	"golang.org/x/oauth2"
)

// Identity is the subset of claims captured from a federated sign-in
// (spec.md §3 "Identity claims").
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// Config is the shared configuration every upstream client needs: OAuth
// client credentials, our own callback URI, and the upstream endpoints.
// Google and Azure each fill in Endpoint, UserinfoURL and Scopes for their
// platform; the exchange/authorize machinery is identical.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	Endpoint     oauth2.Endpoint
	UserinfoURL  string

	HTTPClient *http.Client
}

// Client is a federated IdP client shared by the google and azure variants.
type Client struct {
	oauth2Config *oauth2.Config
	userinfoURL  string
	httpClient   *http.Client
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint:     cfg.Endpoint,
		},
		userinfoURL: cfg.UserinfoURL,
		httpClient:  hc,
	}
}

// AuthorizationURL builds the URL the browser is redirected to at the IdP,
// carrying our correlation token as state (spec.md §4.C).
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode trades an IdP authorization code for tokens and, when an
// id_token is present, the subject claim it carries.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("upstream token exchange failed: %w", err)
	}
	subject := ""
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		subject, _ = subjectFromIDToken(raw)
	}
	return tok, subject, nil
}

// subjectFromIDToken reads the "sub" claim out of an unverified JWT. The
// signature is not checked here: the token was obtained directly from the
// IdP's token endpoint over TLS in the same request, not supplied by the
// browser, so there is no one left to forge it as (spec.md §4.D's threat
// model concerns the MCP-facing code, not this leg).
func subjectFromIDToken(raw string) (string, error) {
	parsed, err := josejwt.ParseSigned(raw)
	if err != nil {
		return "", err
	}
	var claims struct {
		Subject string `json:"sub"`
	}
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// FetchIdentity calls the platform userinfo endpoint with the freshly
// obtained access token and extracts the identity claims spec.md §4.C
// requires for Google and Azure alike.
func (c *Client) FetchIdentity(ctx context.Context, tok *oauth2.Token, idTokenSubject string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userinfoURL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build userinfo request: %w", err)
	}
	tok.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("userinfo request returned status %d", resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Identity{}, fmt.Errorf("decode userinfo response: %w", err)
	}

	id := Identity{Subject: idTokenSubject}
	if s, ok := stringField(raw, "sub", "id"); ok {
		if id.Subject == "" {
			id.Subject = s
		}
	}
	if s, ok := stringField(raw, "email", "mail", "userPrincipalName"); ok {
		id.Email = s
	}
	if s, ok := stringField(raw, "name", "displayName"); ok {
		id.Name = s
	}
	return id, nil
}

func stringField(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
