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

package httpapi

import (
	"net/http"

	"github.com/stacklok/mcp-authserver/internal/oautherr"
	"github.com/stacklok/mcp-authserver/internal/provider"
	"github.com/stacklok/mcp-authserver/internal/token"
)

// handleAuthorize implements GET /authorize (spec.md §4.E, §6). Validation
// failures that occur before a registered, matching redirect_uri is known
// are rendered as HTML (spec.md §7); afterwards they are reported via
// redirect, always carrying state back unchanged.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")

	if clientID == "" || redirectURI == "" {
		writeHTMLError(w, oautherr.New(oautherr.InvalidRequest, "client_id and redirect_uri are required"))
		return
	}
	client, err := s.Store.GetClient(r.Context(), clientID)
	if err != nil {
		writeHTMLError(w, oautherr.Wrap(oautherr.InvalidRequest, "unknown client_id", err))
		return
	}
	if !client.MatchRedirectURI(redirectURI) {
		writeHTMLError(w, oautherr.New(oautherr.InvalidRequest, "redirect_uri does not match registration"))
		return
	}

	// From here the redirect target is trustworthy: every further failure
	// goes back to the MCP client via redirect, carrying state verbatim.
	if q.Get("response_type") != "code" {
		redirectError(w, r, redirectURI, oautherr.InvalidRequest, "only response_type=code is supported", state)
		return
	}
	if state == "" {
		redirectError(w, r, redirectURI, oautherr.InvalidRequest, "state is required", state)
		return
	}
	codeChallenge := q.Get("code_challenge")
	method := q.Get("code_challenge_method")
	if codeChallenge == "" {
		redirectError(w, r, redirectURI, oautherr.InvalidRequest, "code_challenge is required", state)
		return
	}
	if method != string(token.MethodS256) && method != string(token.MethodPlain) {
		redirectError(w, r, redirectURI, oautherr.InvalidRequest, "unsupported code_challenge_method", state)
		return
	}
	if method == string(token.MethodPlain) && client.IsPublic() {
		redirectError(w, r, redirectURI, oautherr.InvalidRequest, "plain PKCE method is not permitted for public clients", state)
		return
	}

	scopes := token.ParseScope(q.Get("scope"))
	if len(scopes) == 0 {
		scopes = s.DefaultScopes
	}
	for _, sc := range scopes {
		if !contains(s.ValidScopes, sc) {
			redirectError(w, r, redirectURI, oautherr.InvalidScope, "requested scope is not recognized", state)
			return
		}
	}

	result, err := s.Active.StartAuthorization(r.Context(), provider.AuthorizationRequest{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scopes:              scopes,
		State:               state,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: method,
	})
	if err != nil {
		redirectOAuthError(w, r, redirectURI, err, state)
		return
	}
	if result.RedirectURL != "" {
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
		return
	}
	result.Consent.ApproveAction = "/oauth/authorize/approve"
	renderConsent(w, result.Consent)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// redirectError sends the browser back to redirectURI with an OAuth error
// and the original state (spec.md §7 "Redirect URIs always carry state back
// unchanged").
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI string, code oautherr.Code, description, state string) {
	u, err := parseRedirectURI(redirectURI)
	if err != nil {
		writeHTMLError(w, oautherr.Wrap(oautherr.ServerError, "invalid redirect_uri", err))
		return
	}
	qs := u.Query()
	qs.Set("error", string(code))
	if description != "" {
		qs.Set("error_description", description)
	}
	if state != "" {
		qs.Set("state", state)
	}
	u.RawQuery = qs.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func redirectOAuthError(w http.ResponseWriter, r *http.Request, redirectURI string, err error, state string) {
	oe, ok := err.(*oautherr.Error)
	if !ok {
		oe = oautherr.Wrap(oautherr.ServerError, "internal error", err)
	}
	redirectError(w, r, redirectURI, oe.Code, oe.Description, state)
}

func renderConsent(w http.ResponseWriter, v *provider.ConsentView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := provider.ConsentTemplate.Execute(w, v); err != nil {
		logRequestError("consent template", err)
	}
}
