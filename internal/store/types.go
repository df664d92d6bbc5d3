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

// Package store implements the credential store of spec.md §4.A: durable
// JSON persistence for client registrations and refresh tokens, in-memory
// maps for authorization codes, access tokens and pending federated
// authorizations, and a background sweep of expired entries.
//
// The record shapes and the Stats/cleanup surface are grounded on
// github.com/stacklok/toolhive's pkg/authserver/storage test suite
// (MemoryStorage, UpstreamTokens.IsExpired, Stats{}), adapted to the typed
// records spec.md §3 and §6 require, and trimmed of the teacher's
// Users/ProviderIdentity/ClientAssertionJWT surface, which belongs to real
// user-account management and JWT-bearer client assertions — both explicit
// Non-goals of this server.
package store

import (
	"errors"
	"time"
)

// Sentinel errors. Wrapped with context via fmt.Errorf("...: %w", ErrX) at
// call sites so callers can still match with errors.Is.
var (
	// ErrNotFound is returned when a lookup finds no record for the given key.
	ErrNotFound = errors.New("not found")
	// ErrExpired is returned when a record exists but its expiry has passed.
	ErrExpired = errors.New("expired")
	// ErrConflict is returned by RegisterClient when the client id already exists.
	ErrConflict = errors.New("conflict")
	// ErrReused is returned by ConsumeCode when a code is presented a second
	// time (Invariant 2): the first redemption's tokens are revoked as a
	// side effect, and the caller should treat this the same as ErrNotFound.
	ErrReused = errors.New("authorization code already redeemed")
)

// Client is a long-lived, durable client registration (spec.md §3, §6).
// ClientSecretHash is omitted from JSON entirely when empty — never
// serialized as null — because some downstream validators reject a null
// hash field (spec.md §9 design note, reproduced from a real source bug).
type Client struct {
	ClientID                string   `json:"client_id"`
	ClientSecretHash         string   `json:"client_secret_hash,omitempty"`
	RedirectURIs             []string `json:"redirect_uris"`
	GrantTypes               []string `json:"grant_types"`
	ResponseTypes            []string `json:"response_types"`
	Scope                    string   `json:"scope"`
	TokenEndpointAuthMethod  string   `json:"token_endpoint_auth_method"`
	ClientName               string   `json:"client_name,omitempty"`
	IssuedAt                 int64    `json:"issued_at"`
}

// IsPublic reports whether this client has no secret on file, i.e. it must
// authenticate at the token endpoint using only PKCE (Invariant 6).
func (c *Client) IsPublic() bool {
	return c.ClientSecretHash == ""
}

// RefreshToken is a long-lived, durable, rotating credential (spec.md §3, §6).
type RefreshToken struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record is no longer valid at t (Invariant 9).
func (r *RefreshToken) Expired(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// IdentityClaims are the optional claims captured from a federated IdP and
// attached to an authorization code / access token for observability
// (spec.md §3 "Identity claims").
type IdentityClaims struct {
	Subject string `json:"subject,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}

// AuthorizationCode is an ephemeral, one-time credential (spec.md §3).
// Consumed and the two ConsumedXxxToken fields exist solely to honor
// Invariant 2's reuse-revocation clause (RFC 6749 §4.1.2): the record is
// retained past its first redemption, rather than deleted, so a second
// presentation can be recognized as a replay and revoke whatever it minted.
type AuthorizationCode struct {
	Code                string          `json:"code"`
	ClientID            string          `json:"client_id"`
	RedirectURI         string          `json:"redirect_uri"`
	Scopes              []string        `json:"scopes"`
	CodeChallenge       string          `json:"code_challenge"`
	CodeChallengeMethod string          `json:"code_challenge_method"`
	ExpiresAt           time.Time       `json:"expires_at"`
	Identity            *IdentityClaims `json:"identity,omitempty"`

	Consumed             bool   `json:"consumed,omitempty"`
	ConsumedAccessToken  string `json:"consumed_access_token,omitempty"`
	ConsumedRefreshToken string `json:"consumed_refresh_token,omitempty"`
}

// Expired reports whether the code is no longer redeemable at t.
func (a *AuthorizationCode) Expired(t time.Time) bool {
	return !t.Before(a.ExpiresAt)
}

// AccessToken is an ephemeral bearer credential (spec.md §3).
type AccessToken struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
	Subject   string    `json:"subject,omitempty"`
}

// Expired reports whether the token is no longer valid at t.
func (a *AccessToken) Expired(t time.Time) bool {
	return !t.Before(a.ExpiresAt)
}

// PendingAuthorization correlates a federated IdP round trip back to the
// MCP authorization request that started it (spec.md §3, §4.D).
type PendingAuthorization struct {
	State               string    `json:"state"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              []string  `json:"scopes"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	ClientState         string    `json:"client_state"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// Expired reports whether the pending authorization has timed out (10 min TTL).
func (p *PendingAuthorization) Expired(t time.Time) bool {
	return !t.Before(p.ExpiresAt)
}

// Stats is a point-in-time count of every bucket the store owns, used for
// operational logging at shutdown (spec.md §4.A supplement,
// grounded on storage.Stats in the teacher).
type Stats struct {
	Clients       int
	AuthCodes     int
	AccessTokens  int
	RefreshTokens int
	Pending       int
}
