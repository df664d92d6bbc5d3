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

package provider

import (
	"context"
	"html/template"
	"time"

	"github.com/stacklok/mcp-authserver/internal/logging"
	"github.com/stacklok/mcp-authserver/internal/oautherr"
	"github.com/stacklok/mcp-authserver/internal/store"
	"github.com/stacklok/mcp-authserver/internal/token"
)

// scopeDescriptions gives the consent page human text for the scopes
// spec.md's OAUTH_VALID_SCOPES commonly carries; an undescribed scope falls
// back to its bare name.
var scopeDescriptions = map[string]string{
	"read":  "Read your data",
	"write": "Modify your data",
}

func describeScopes(scopes []string) []ScopeDescription {
	out := make([]ScopeDescription, 0, len(scopes))
	for _, s := range scopes {
		desc, ok := scopeDescriptions[s]
		if !ok {
			desc = s
		}
		out = append(out, ScopeDescription{Scope: s, Description: desc})
	}
	return out
}

// Custom is the non-federated provider variant of spec.md §4.C: consent is
// rendered and approved locally, with no IdP interposed. From NEW it jumps
// directly to AWAITING_CONSENT (spec.md §4.E state machine).
type Custom struct {
	Store *store.Store

	ValidScopes []string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration

	Clock Clock
}

var _ Provider = (*Custom)(nil)

// NewCustom constructs the custom provider variant.
func NewCustom(s *store.Store, validScopes []string, accessTTL, refreshTTL, codeTTL time.Duration) *Custom {
	return &Custom{
		Store:           s,
		ValidScopes:     validScopes,
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: refreshTTL,
		AuthCodeTTL:     codeTTL,
		Clock:           NewClock(),
	}
}

// Info reports this variant for metadata/logs.
func (*Custom) Info() Info {
	return Info{Type: "custom", DisplayName: "Local consent", External: false}
}

// StartAuthorization renders the local consent page with the requested
// scopes and the client's display name (spec.md §4.C "Custom variant").
func (c *Custom) StartAuthorization(ctx context.Context, req AuthorizationRequest) (StartResult, error) {
	client, err := c.Store.GetClient(ctx, req.ClientID)
	if err != nil {
		return StartResult{}, oautherr.Wrap(oautherr.InvalidRequest, "unknown client_id", err)
	}
	return StartResult{
		Consent: &ConsentView{
			ClientName:          clientDisplayName(client),
			Scopes:              describeScopes(req.Scopes),
			ClientID:            req.ClientID,
			RedirectURI:         req.RedirectURI,
			State:               req.State,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			Scope:               token.FormatScope(req.Scopes),
		},
	}, nil
}

func clientDisplayName(c store.Client) string {
	if c.ClientName != "" {
		return c.ClientName
	}
	return c.ClientID
}

// ApproveAuthorization mints an MCP authorization code once the user has
// approved the consent form at POST /oauth/authorize/approve. It is not
// part of the Provider interface (federated variants mint their code
// earlier, at the IdP callback) but is called directly by the httpapi
// handler for the custom provider.
func (c *Custom) ApproveAuthorization(ctx context.Context, v ConsentView) (code string, err error) {
	client, err := c.Store.GetClient(ctx, v.ClientID)
	if err != nil {
		return "", oautherr.Wrap(oautherr.InvalidRequest, "unknown client_id", err)
	}
	if !client.MatchRedirectURI(v.RedirectURI) {
		return "", oautherr.New(oautherr.InvalidRequest, "redirect_uri does not match registration")
	}

	now := c.Clock()
	codeTok, err := token.GenerateUnique(func(t string) bool {
		return c.Store.CodeExists(ctx, t)
	})
	if err != nil {
		return "", oautherr.Wrap(oautherr.ServerError, "failed to generate authorization code", err)
	}
	rec := store.AuthorizationCode{
		Code:                codeTok,
		ClientID:            v.ClientID,
		RedirectURI:         v.RedirectURI,
		Scopes:              token.ParseScope(v.Scope),
		CodeChallenge:       v.CodeChallenge,
		CodeChallengeMethod: v.CodeChallengeMethod,
		ExpiresAt:           now.Add(c.AuthCodeTTL),
	}
	if err := c.Store.AddCode(ctx, rec); err != nil {
		return "", oautherr.Wrap(oautherr.ServerError, "failed to store authorization code", err)
	}
	return codeTok, nil
}

// ExchangeCode redeems an authorization code for tokens (spec.md §4.C, §4.B).
func (c *Custom) ExchangeCode(ctx context.Context, code, verifier, redirectURI, clientID string) (Tokens, error) {
	rec, err := c.Store.ConsumeCode(ctx, code)
	if err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.InvalidGrant, "unknown, expired or already-redeemed code", err)
	}
	if rec.ClientID != clientID {
		return Tokens{}, oautherr.New(oautherr.InvalidGrant, "code was not issued to this client")
	}
	if rec.RedirectURI != redirectURI {
		return Tokens{}, oautherr.New(oautherr.InvalidGrant, "redirect_uri does not match the authorization request")
	}
	client, err := c.Store.GetClient(ctx, clientID)
	if err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.InvalidClient, "unknown client", err)
	}
	if err := token.VerifyPKCE(token.PKCEMethod(rec.CodeChallengeMethod), rec.CodeChallenge, verifier, client.IsPublic()); err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.InvalidGrant, "PKCE verification failed", err)
	}

	var subject string
	if rec.Identity != nil {
		subject = rec.Identity.Subject
	}
	tokens, err := c.mintTokens(ctx, clientID, rec.Scopes, subject)
	if err != nil {
		return Tokens{}, err
	}
	// Invariant 2 (RFC 6749 §4.1.2 reuse-revocation): link the tokens just
	// minted back to the code that authorized them, so a replay of this code
	// revokes them instead of silently minting a second, unrelated pair.
	if err := c.Store.RecordCodeRedemption(ctx, code, tokens.AccessToken, tokens.RefreshToken); err != nil {
		logging.Debugw("failed to record code redemption for reuse-revocation", "error", err)
	}
	return tokens, nil
}

// Refresh rotates a refresh token (spec.md §4.B, Invariant 3).
func (c *Custom) Refresh(ctx context.Context, refreshToken, clientID string, requestedScopes []string) (Tokens, error) {
	rec, err := c.Store.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.InvalidGrant, "unknown or expired refresh token", err)
	}
	if rec.ClientID != clientID {
		return Tokens{}, oautherr.New(oautherr.InvalidGrant, "refresh token was not issued to this client")
	}

	scopes, err := token.ResolveRequestedScopes(requestedScopes, rec.Scopes, c.ValidScopes)
	if err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.InvalidScope, "requested scope is not recognized", err)
	}

	now := c.Clock()
	accessTok, err := token.Generate()
	if err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.ServerError, "failed to generate access token", err)
	}
	newRefresh, err := token.Generate()
	if err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.ServerError, "failed to generate refresh token", err)
	}

	if err := c.Store.AddAccessToken(ctx, store.AccessToken{
		Token: accessTok, ClientID: clientID, Scopes: scopes, ExpiresAt: now.Add(c.AccessTokenTTL),
	}); err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.ServerError, "failed to store access token", err)
	}
	if err := c.Store.RotateRefreshToken(ctx, refreshToken, store.RefreshToken{
		Token: newRefresh, ClientID: clientID, Scopes: scopes, ExpiresAt: now.Add(c.RefreshTokenTTL),
	}); err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.InvalidGrant, "refresh token rotation failed", err)
	}

	return Tokens{
		AccessToken:  accessTok,
		RefreshToken: newRefresh,
		ExpiresIn:    int64(c.AccessTokenTTL.Seconds()),
		Scope:        token.FormatScope(scopes),
	}, nil
}

// Introspect resolves a bearer token for the RequireBearer middleware.
func (c *Custom) Introspect(ctx context.Context, tok string) (subject, clientID string, scopes []string, ok bool) {
	rec, err := c.Store.LoadAccessToken(ctx, tok)
	if err != nil {
		return "", "", nil, false
	}
	return rec.Subject, rec.ClientID, rec.Scopes, true
}

// Revoke best-effort removes a token whether it is an access or refresh token.
func (c *Custom) Revoke(ctx context.Context, tok string) {
	if err := c.Store.RevokeAccessToken(ctx, tok); err != nil {
		logging.Debugw("revoke: access token lookup failed", "error", err)
	}
	if err := c.Store.RevokeRefreshToken(ctx, tok); err != nil {
		logging.Debugw("revoke: refresh token lookup failed", "error", err)
	}
}

func (c *Custom) mintTokens(ctx context.Context, clientID string, scopes []string, subject string) (Tokens, error) {
	now := c.Clock()
	accessTok, err := token.Generate()
	if err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.ServerError, "failed to generate access token", err)
	}
	refreshTok, err := token.Generate()
	if err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.ServerError, "failed to generate refresh token", err)
	}

	if err := c.Store.AddAccessToken(ctx, store.AccessToken{
		Token: accessTok, ClientID: clientID, Scopes: scopes, ExpiresAt: now.Add(c.AccessTokenTTL), Subject: subject,
	}); err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.ServerError, "failed to store access token", err)
	}
	if err := c.Store.AddRefreshToken(ctx, store.RefreshToken{
		Token: refreshTok, ClientID: clientID, Scopes: scopes, ExpiresAt: now.Add(c.RefreshTokenTTL),
	}); err != nil {
		return Tokens{}, oautherr.Wrap(oautherr.ServerError, "failed to store refresh token", err)
	}

	return Tokens{
		AccessToken:  accessTok,
		RefreshToken: refreshTok,
		ExpiresIn:    int64(c.AccessTokenTTL.Seconds()),
		Scope:        token.FormatScope(scopes),
	}, nil
}

// ConsentTemplate is the html/template consent page shared by every
// variant; it is parsed once when this package is initialized, and httpapi
// executes it. Kept here, next to the
// ConsentView it renders, rather than in httpapi, so the view model and its
// template stay in lockstep.
var ConsentTemplate = template.Must(template.New("consent").Parse(consentHTML))

const consentHTML = `<!DOCTYPE html>
<html>
<head><title>Authorize {{.ClientName}}</title></head>
<body>
<h1>{{.ClientName}} is requesting access</h1>
{{if .Identity}}<p>Signed in as {{.Identity}}</p>{{end}}
<ul>
{{range .Scopes}}<li>{{.Description}}</li>{{end}}
</ul>
<form method="POST" action="{{.ApproveAction}}">
<input type="hidden" name="client_id" value="{{.ClientID}}">
<input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
<input type="hidden" name="state" value="{{.State}}">
<input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
<input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
<input type="hidden" name="scope" value="{{.Scope}}">
{{if .Code}}<input type="hidden" name="code" value="{{.Code}}">{{end}}
<button type="submit" name="decision" value="approve">Approve</button>
<button type="submit" name="decision" value="deny">Deny</button>
</form>
</body>
</html>
`

