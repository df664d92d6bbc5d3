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
)

// handleApproveCustom implements POST /oauth/authorize/approve: the consent
// confirmation for the custom provider (spec.md §4.E). The code is minted
// here, on approval, never before.
func (s *Server) handleApproveCustom(w http.ResponseWriter, r *http.Request) {
	if s.Custom == nil {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeHTMLError(w, oautherr.Wrap(oautherr.InvalidRequest, "malformed form body", err))
		return
	}
	redirectURI := r.FormValue("redirect_uri")
	state := r.FormValue("state")

	if r.FormValue("decision") != "approve" {
		redirectError(w, r, redirectURI, oautherr.AccessDenied, "user denied consent", state)
		return
	}

	view := provider.ConsentView{
		ClientID:            r.FormValue("client_id"),
		RedirectURI:         redirectURI,
		State:               state,
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
		Scope:               r.FormValue("scope"),
	}
	code, err := s.Custom.ApproveAuthorization(r.Context(), view)
	if err != nil {
		redirectOAuthError(w, r, redirectURI, err, state)
		return
	}
	redirectSuccess(w, r, redirectURI, code, state)
}

// handleApproveFederated implements POST /oauth/consent/approve: the
// confirmation step after a federated callback has already captured
// identity and minted the MCP code (spec.md §4.D step 4).
func (s *Server) handleApproveFederated(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeHTMLError(w, oautherr.Wrap(oautherr.InvalidRequest, "malformed form body", err))
		return
	}
	redirectURI := r.FormValue("redirect_uri")
	state := r.FormValue("state")

	if r.FormValue("decision") != "approve" {
		redirectError(w, r, redirectURI, oautherr.AccessDenied, "user denied consent", state)
		return
	}
	code := r.FormValue("code")
	if code == "" {
		writeHTMLError(w, oautherr.New(oautherr.InvalidRequest, "missing code"))
		return
	}
	redirectSuccess(w, r, redirectURI, code, state)
}

func redirectSuccess(w http.ResponseWriter, r *http.Request, redirectURI, code, state string) {
	u, err := parseRedirectURI(redirectURI)
	if err != nil {
		writeHTMLError(w, oautherr.Wrap(oautherr.ServerError, "invalid redirect_uri", err))
		return
	}
	qs := u.Query()
	qs.Set("code", code)
	if state != "" {
		qs.Set("state", state)
	}
	u.RawQuery = qs.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}
