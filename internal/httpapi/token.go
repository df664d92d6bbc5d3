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

	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/mcp-authserver/internal/oautherr"
	"github.com/stacklok/mcp-authserver/internal/token"
)

// tokenResponse is the JSON shape of spec.md §6 "Token response".
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// handleToken implements POST /token (spec.md §4.E, §6): client
// authentication by HTTP Basic or body credentials for confidential
// clients, PKCE only for public clients, then either authorization_code or
// refresh_token grant handling.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oautherr.Wrap(oautherr.InvalidRequest, "malformed form body", err))
		return
	}

	clientID, err := s.authenticateClient(r)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	grantType := r.FormValue("grant_type")
	var tokens tokenResponse
	switch grantType {
	case "authorization_code":
		result, err := s.Active.ExchangeCode(r.Context(), r.FormValue("code"), r.FormValue("code_verifier"), r.FormValue("redirect_uri"), clientID)
		if err != nil {
			writeOAuthError(w, err)
			return
		}
		tokens = tokenResponse{
			AccessToken: result.AccessToken, TokenType: "Bearer", ExpiresIn: result.ExpiresIn,
			RefreshToken: result.RefreshToken, Scope: result.Scope,
		}
	case "refresh_token":
		scopes := token.ParseScope(r.FormValue("scope"))
		result, err := s.Active.Refresh(r.Context(), r.FormValue("refresh_token"), clientID, scopes)
		if err != nil {
			writeOAuthError(w, err)
			return
		}
		tokens = tokenResponse{
			AccessToken: result.AccessToken, TokenType: "Bearer", ExpiresIn: result.ExpiresIn,
			RefreshToken: result.RefreshToken, Scope: result.Scope,
		}
	default:
		writeOAuthError(w, oautherr.New(oautherr.UnsupportedGrantType, "grant_type must be authorization_code or refresh_token"))
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// authenticateClient resolves and, for confidential clients, verifies the
// caller's client credentials (spec.md §4.E: "Client authentication by HTTP
// Basic or by client_id/client_secret in the body for confidential clients;
// public clients authenticate by PKCE only").
func (s *Server) authenticateClient(r *http.Request) (string, error) {
	clientID, clientSecret, hasBasic := r.BasicAuth()
	if !hasBasic {
		clientID = r.FormValue("client_id")
		clientSecret = r.FormValue("client_secret")
	}
	if clientID == "" {
		return "", oautherr.New(oautherr.InvalidClient, "client_id is required")
	}

	client, err := s.Store.GetClient(r.Context(), clientID)
	if err != nil {
		return "", oautherr.Wrap(oautherr.InvalidClient, "unknown client_id", err)
	}
	if client.IsPublic() {
		return clientID, nil
	}
	if clientSecret == "" {
		return "", oautherr.New(oautherr.InvalidClient, "client_secret is required for a confidential client")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return "", oautherr.Wrap(oautherr.InvalidClient, "client_secret does not match", err)
	}
	return clientID, nil
}
