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

// Package httpapi implements the HTTP surface of spec.md §4.E: the
// metadata document, dynamic client registration, the authorization and
// token endpoints, the federated callback routes, consent approval, and the
// bearer-token middleware protecting downstream tool routes.
//
// Grounded on the teacher's pkg/authserver (authserver.go, dcr_handler_test.go)
// for the route shapes and net/http/ServeMux wiring style; the handler
// bodies themselves implement spec.md §4.D/§4.E/§6 against this module's own
// store/provider/federated packages rather than the teacher's storage and
// fosite.compose-engine wiring, which the pack only exercises through tests
// (see DESIGN.md).
package httpapi

import (
	"net/http"

	"github.com/stacklok/mcp-authserver/internal/federated"
	"github.com/stacklok/mcp-authserver/internal/logging"
	"github.com/stacklok/mcp-authserver/internal/provider"
	"github.com/stacklok/mcp-authserver/internal/store"
)

// Server wires the credential store and the active provider variant to the
// HTTP surface. Exactly one of Federated or (Custom-only) applies depending
// on the configured variant; Active is always set and is what generic token
// operations (exchange/refresh/introspect/revoke) go through.
type Server struct {
	Store  *store.Store
	Active provider.Provider

	// Custom is non-nil only for the custom provider variant; it exposes
	// ApproveAuthorization, which mints the code on local consent approval.
	Custom *provider.Custom
	// Federated is non-nil only for the google/azure variants; it exposes
	// CompleteCallback, the IdP-round-trip half of StartAuthorization.
	Federated *federated.Federated

	Issuer        string
	ValidScopes   []string
	DefaultScopes []string
}

// Routes registers every path of spec.md §4.E on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", s.handleMetadata)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("GET /authorize", s.handleAuthorize)
	mux.HandleFunc("POST /oauth/authorize/approve", s.handleApproveCustom)
	mux.HandleFunc("GET /oauth/google/callback", s.handleCallback("google"))
	mux.HandleFunc("GET /oauth/azure/callback", s.handleCallback("azure"))
	mux.HandleFunc("POST /oauth/consent/approve", s.handleApproveFederated)
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("POST /revoke", s.handleRevoke)

	mux.Handle("GET /mcp/tools", s.RequireBearer(http.HandlerFunc(s.handleListTools)))
}

// handleListTools is a minimal protected stub route that exercises
// RequireBearer end to end (spec.md §4.E bearer middleware); a real MCP tool
// surface is out of this server's scope (spec.md §1 Non-goals).
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":     []string{},
		"client_id": id.ClientID,
		"scopes":    id.Scopes,
	})
}

func logRequestError(route string, err error) {
	logging.Warnw("request failed", "route", route, "error", err)
}
