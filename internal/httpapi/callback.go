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
)

// handleCallback implements GET /oauth/google/callback and
// /oauth/azure/callback (spec.md §4.D steps 2-4). A pending-authorization
// lookup failure has no known redirect target and is rendered as HTML
// (spec.md §7); every later failure is reported by redirecting the MCP
// client to its own redirect_uri with error=access_denied, per spec.md
// §4.D's edge cases, never leaving the user stranded on the IdP's domain.
func (s *Server) handleCallback(variant string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Federated == nil || s.Federated.Variant != variant {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		state := q.Get("state")
		code := q.Get("code")
		idpErr := q.Get("error")

		result, err := s.Federated.CompleteCallback(r.Context(), code, state, idpErr)
		if err != nil {
			writeHTMLError(w, err)
			return
		}
		if result.DeniedReason != "" {
			redirectError(w, r, result.RedirectURI, oautherr.AccessDenied, result.DeniedReason, result.ClientState)
			return
		}
		result.Consent.ApproveAction = "/oauth/consent/approve"
		renderConsent(w, result.Consent)
	}
}
