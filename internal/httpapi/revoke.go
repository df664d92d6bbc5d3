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

import "net/http"

// handleRevoke implements POST /revoke (spec.md §6): accepts either an
// access or refresh token and always returns 200, revocation being
// best-effort regardless of whether the token existed.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	tok := r.FormValue("token")
	if tok != "" {
		s.Active.Revoke(r.Context(), tok)
	}
	w.WriteHeader(http.StatusOK)
}
