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

// Package federated implements the federated-auth orchestrator of spec.md
// §4.D: the two-leg round trip that straddles the MCP client, this server,
// and an upstream IdP (Google or Azure). Token-level operations
// (exchange/refresh/introspect/revoke) are identical to the custom
// provider's — spec.md §4.C: "variants share the credential store;
// differences lie in start_authorization and the callback plumbing" — so
// Federated embeds *provider.Custom for those and only adds the IdP
// round trip.
package federated

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/mcp-authserver/internal/logging"
	"github.com/stacklok/mcp-authserver/internal/oautherr"
	"github.com/stacklok/mcp-authserver/internal/provider"
	"github.com/stacklok/mcp-authserver/internal/store"
	"github.com/stacklok/mcp-authserver/internal/token"
	"github.com/stacklok/mcp-authserver/internal/upstream"
)

// PendingTTL is the 10 minute window a correlation token stays valid
// (spec.md §4.D "Edge cases").
const PendingTTL = 10 * time.Minute

// Federated is the google/azure provider variant.
type Federated struct {
	*provider.Custom

	Variant     string // "google" or "azure"
	DisplayName string

	Upstream *upstream.Client
}

var _ provider.Provider = (*Federated)(nil)

// New constructs a federated provider variant wrapping an upstream IdP client.
func New(variant, displayName string, up *upstream.Client, custom *provider.Custom) *Federated {
	return &Federated{Custom: custom, Variant: variant, DisplayName: displayName, Upstream: up}
}

// Info reports this variant for metadata/logs.
func (f *Federated) Info() provider.Info {
	return provider.Info{Type: f.Variant, DisplayName: f.DisplayName, External: true}
}

// StartAuthorization records a pending authorization keyed by a fresh
// correlation token and redirects to the IdP (spec.md §4.D step 1).
func (f *Federated) StartAuthorization(ctx context.Context, req provider.AuthorizationRequest) (provider.StartResult, error) {
	client, err := f.Store.GetClient(ctx, req.ClientID)
	if err != nil {
		return provider.StartResult{}, oautherr.Wrap(oautherr.InvalidRequest, "unknown client_id", err)
	}
	if !client.MatchRedirectURI(req.RedirectURI) {
		return provider.StartResult{}, oautherr.New(oautherr.InvalidRequest, "redirect_uri does not match registration")
	}

	correlation := uuid.NewString()
	now := f.Clock()
	pending := store.PendingAuthorization{
		State:               correlation,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ClientState:         req.State,
		CreatedAt:           now,
		ExpiresAt:           now.Add(PendingTTL),
	}
	if err := f.Store.PutPending(ctx, correlation, pending); err != nil {
		return provider.StartResult{}, oautherr.Wrap(oautherr.ServerError, "failed to record pending authorization", err)
	}

	return provider.StartResult{RedirectURL: f.Upstream.AuthorizationURL(correlation)}, nil
}

// CallbackResult is what CompleteCallback returns: exactly one of Consent
// (render it, identity has been captured and an MCP code minted) or a
// Redirect target carrying error=access_denied (spec.md §4.D "Edge cases"),
// when a pending record was found but a later step in the round trip
// failed. When the pending lookup itself fails there is no known redirect
// target, and the caller renders a plain HTML error instead (spec.md §7:
// "rendered as HTML when no safe redirect URI is known").
type CallbackResult struct {
	Consent       *provider.ConsentView
	RedirectURI   string
	ClientState   string
	DeniedReason  string
}

// CompleteCallback consumes the pending authorization by correlation state,
// exchanges the IdP code, fetches identity, and mints the MCP authorization
// code (spec.md §4.D steps 2-4). idpErr carries an upstream-reported denial
// (e.g. the user declined consent at the IdP) when non-empty.
func (f *Federated) CompleteCallback(ctx context.Context, idpCode, correlationState, idpErr string) (CallbackResult, error) {
	pending, err := f.Store.TakePending(ctx, correlationState)
	if err != nil {
		// No known redirect target: caller must render an HTML error.
		return CallbackResult{}, oautherr.Wrap(oautherr.InvalidRequest, "no pending authorization for this state", err)
	}

	if idpErr != "" {
		return CallbackResult{RedirectURI: pending.RedirectURI, ClientState: pending.ClientState, DeniedReason: idpErr}, nil
	}

	tok, idTokenSubject, err := f.Upstream.ExchangeCode(ctx, idpCode)
	if err != nil {
		logging.Warnw("federated token exchange failed", "provider", f.Variant, "error", err)
		return CallbackResult{RedirectURI: pending.RedirectURI, ClientState: pending.ClientState, DeniedReason: "access_denied"}, nil
	}
	identity, err := f.Upstream.FetchIdentity(ctx, tok, idTokenSubject)
	if err != nil {
		logging.Warnw("federated userinfo fetch failed", "provider", f.Variant, "error", err)
		return CallbackResult{RedirectURI: pending.RedirectURI, ClientState: pending.ClientState, DeniedReason: "access_denied"}, nil
	}

	client, err := f.Store.GetClient(ctx, pending.ClientID)
	if err != nil {
		return CallbackResult{RedirectURI: pending.RedirectURI, ClientState: pending.ClientState, DeniedReason: "access_denied"}, nil
	}

	now := f.Clock()
	codeTok, err := token.Generate()
	if err != nil {
		return CallbackResult{}, oautherr.Wrap(oautherr.ServerError, "failed to generate authorization code", err)
	}
	rec := store.AuthorizationCode{
		Code:                codeTok,
		ClientID:            pending.ClientID,
		RedirectURI:         pending.RedirectURI,
		Scopes:              pending.Scopes,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		ExpiresAt:           now.Add(f.AuthCodeTTL),
		Identity: &store.IdentityClaims{
			Subject: identity.Subject,
			Email:   identity.Email,
			Name:    identity.Name,
		},
	}
	if err := f.Store.AddCode(ctx, rec); err != nil {
		return CallbackResult{}, oautherr.Wrap(oautherr.ServerError, "failed to store authorization code", err)
	}

	displayIdentity := identity.Email
	if displayIdentity == "" {
		displayIdentity = identity.Subject
	}

	return CallbackResult{Consent: &provider.ConsentView{
		ClientName:          client.ClientName,
		Scopes:              describeScopes(pending.Scopes),
		Identity:            displayIdentity,
		ClientID:            pending.ClientID,
		RedirectURI:         pending.RedirectURI,
		State:               pending.ClientState,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		Scope:               token.FormatScope(pending.Scopes),
		Code:                codeTok,
	}}, nil
}

// describeScopes lists each scope with its bare name as the description; the
// human-readable descriptions table in package provider is unexported and is
// not used here.
func describeScopes(scopes []string) []provider.ScopeDescription {
	out := make([]provider.ScopeDescription, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, provider.ScopeDescription{Scope: s, Description: s})
	}
	return out
}
