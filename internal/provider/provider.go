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

// Package provider implements the provider abstraction of spec.md §4.C: one
// contract (start/exchange/refresh/introspect/revoke/info) behind a factory
// that instantiates exactly one of three variants (custom, google, azure)
// from configuration. Variants share the credential store; only
// StartAuthorization and the callback plumbing differ.
//
// Grounded on the teacher's pkg/authserver/oauth (provider_test.go,
// client_factory_test.go), whose source is test-only in this pack: the
// Provider shape below is reconstructed from the client-centric contract
// those tests exercise, adapted to the typed store records spec.md §3
// requires instead of a generic Requester/Session envelope.
package provider

import (
	"context"
	"time"
)

// AuthorizationRequest is the validated input to StartAuthorization,
// assembled by the /authorize handler from the incoming query string
// (spec.md §6 "Authorization request parameters").
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ConsentView is the data a local consent page is rendered with, whether
// reached directly (custom provider) or after a federated IdP round trip.
type ConsentView struct {
	ClientName string
	Scopes     []ScopeDescription
	Identity   string // captured subject/email, federated only; empty for custom

	// ApproveAction is the form action the approval button posts to:
	// /oauth/authorize/approve for the custom provider, /oauth/consent/approve
	// for a federated one. Set by the httpapi handler before rendering.
	ApproveAction string

	// Hidden fields the approval form round-trips verbatim.
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	// Code is set when a federated callback already minted the MCP
	// authorization code (identity is already captured); approval then only
	// needs to redirect, never mint again.
	Code string
}

// ScopeDescription pairs a scope identifier with the human text the consent
// page shows next to it.
type ScopeDescription struct {
	Scope       string
	Description string
}

// StartResult is what StartAuthorization returns: exactly one of RedirectURL
// (a 302 Location, for a federated provider targeting the IdP) or Consent
// (render this page at 200, for the custom provider or the rare case a
// federated provider needs a local render).
type StartResult struct {
	RedirectURL string
	Consent     *ConsentView
}

// Tokens is the response shape exchange_code and refresh produce (spec.md §6
// "Token response").
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Scope        string
}

// Info describes a provider variant for metadata documents and logs.
type Info struct {
	Type        string
	DisplayName string
	External    bool
}

// Provider is the single contract every variant satisfies (spec.md §4.C).
type Provider interface {
	// StartAuthorization begins an authorization request: either renders the
	// local consent page directly, or returns a redirect to an upstream IdP.
	StartAuthorization(ctx context.Context, req AuthorizationRequest) (StartResult, error)

	// ExchangeCode redeems a one-time MCP authorization code for tokens,
	// enforcing PKCE against the challenge stored with the code.
	ExchangeCode(ctx context.Context, code, verifier, redirectURI, clientID string) (Tokens, error)

	// Refresh rotates a refresh token, optionally narrowing scope per
	// spec.md §4.B / DESIGN.md's resolution of the S6 open question.
	Refresh(ctx context.Context, refreshToken, clientID string, requestedScopes []string) (Tokens, error)

	// Introspect resolves a bearer access token for the RequireBearer
	// middleware; ok is false when the token is unknown or expired.
	Introspect(ctx context.Context, token string) (subject string, clientID string, scopes []string, ok bool)

	// Revoke is best-effort: spec.md §6 /revoke always returns 200
	// regardless of whether the token existed.
	Revoke(ctx context.Context, token string)

	// Info reports the variant's metadata for logs and diagnostics.
	Info() Info
}

// Clock lets tests substitute a deterministic time source; defaults to
// time.Now via NewClock.
type Clock func() time.Time

// NewClock returns the default, real-time clock.
func NewClock() Clock { return time.Now }
