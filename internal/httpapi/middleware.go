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
	"context"
	"net/http"
	"strings"
)

// Identity is the authenticated caller attached to the request context by
// RequireBearer (spec.md §4.E bearer middleware).
type Identity struct {
	ClientID string
	Scopes   []string
	Subject  string
}

type identityContextKey struct{}

// IdentityFromContext retrieves the Identity RequireBearer attached, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// RequireBearer implements spec.md §4.E: look up the Authorization: Bearer
// header, introspect it, and on success attach the identity to the request
// context; on failure return 401 with WWW-Authenticate: Bearer
// error="invalid_token".
func (s *Server) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			unauthorized(w)
			return
		}
		tok := strings.TrimPrefix(auth, prefix)

		subject, clientID, scopes, ok := s.Active.Introspect(r.Context(), tok)
		if !ok {
			unauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey{}, Identity{
			ClientID: clientID, Scopes: scopes, Subject: subject,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
}
