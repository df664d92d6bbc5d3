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
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/mcp-authserver/internal/oautherr"
	"github.com/stacklok/mcp-authserver/internal/store"
	"github.com/stacklok/mcp-authserver/internal/token"
)

// registerRequest is the dynamic client registration input of spec.md §4.E /register.
type registerRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
}

// registerResponse is the DCR output of spec.md §4.E /register.
type registerResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}

var validAuthMethods = map[string]bool{
	"none":                true,
	"client_secret_basic": true,
	"client_secret_post":  true,
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, oautherr.Wrap(oautherr.InvalidRequest, "malformed JSON body", err))
		return
	}

	if len(req.RedirectURIs) == 0 {
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "redirect_uris is required"))
		return
	}
	for _, u := range req.RedirectURIs {
		if err := validateRedirectURI(u); err != nil {
			writeOAuthError(w, oautherr.Wrap(oautherr.InvalidRequest, "invalid redirect_uris", err))
			return
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "none"
	}
	if !validAuthMethods[authMethod] {
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "unsupported token_endpoint_auth_method"))
		return
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}

	clientID, err := token.GenerateUnique(func(id string) bool {
		_, lookupErr := s.Store.GetClient(r.Context(), id)
		return lookupErr == nil
	})
	if err != nil {
		writeOAuthError(w, oautherr.Wrap(oautherr.ServerError, "failed to generate client_id", err))
		return
	}

	var plainSecret, secretHash string
	if authMethod != "none" {
		plainSecret, err = token.Generate()
		if err != nil {
			writeOAuthError(w, oautherr.Wrap(oautherr.ServerError, "failed to generate client_secret", err))
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(plainSecret), bcrypt.DefaultCost)
		if err != nil {
			writeOAuthError(w, oautherr.Wrap(oautherr.ServerError, "failed to hash client_secret", err))
			return
		}
		secretHash = string(hash)
	}

	now := time.Now()
	client := store.Client{
		ClientID:                clientID,
		ClientSecretHash:        secretHash,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   req.Scope,
		TokenEndpointAuthMethod: authMethod,
		ClientName:              req.ClientName,
		IssuedAt:                now.Unix(),
	}
	if err := s.Store.RegisterClient(r.Context(), client); err != nil {
		writeOAuthError(w, oautherr.Wrap(oautherr.ServerError, "failed to register client", err))
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ClientID:                clientID,
		ClientSecret:            plainSecret,
		ClientIDIssuedAt:        client.IssuedAt,
		RedirectURIs:            client.RedirectURIs,
		ClientName:              client.ClientName,
		Scope:                   client.Scope,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
	})
}

// validateRedirectURI requires https, or http restricted to a loopback host
// per RFC 8252 §7.3 (store.IsLoopbackHost), matching the teacher's DCR
// validation (dcr_handler_test.go: https allowed for any host, http only
// for loopback).
func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if store.IsLoopbackHost(u.Hostname()) {
			return nil
		}
		return oautherr.New(oautherr.InvalidRequest, "http redirect_uri is only permitted for loopback hosts")
	default:
		return oautherr.New(oautherr.InvalidRequest, "redirect_uri must use https or a loopback http address")
	}
}
