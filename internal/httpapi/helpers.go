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

	"github.com/stacklok/mcp-authserver/internal/oautherr"
)

func parseRedirectURI(raw string) (*url.URL, error) {
	return url.Parse(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOAuthError renders err as the JSON error body spec.md §6 defines. A
// non-*oautherr.Error is treated as an opaque server_error: never leak
// internal error text to the wire (spec.md §7 recovery policy).
func writeOAuthError(w http.ResponseWriter, err error) {
	oe, ok := err.(*oautherr.Error)
	if !ok {
		oe = oautherr.Wrap(oautherr.ServerError, "internal error", err)
	}
	writeJSON(w, oe.HTTPStatus(), oe.AsBody())
}

// writeHTMLError renders a plain HTML error page for requests with no known
// safe redirect URI (spec.md §7 "User-visible behavior").
func writeHTMLError(w http.ResponseWriter, err error) {
	oe, ok := err.(*oautherr.Error)
	if !ok {
		oe = oautherr.Wrap(oautherr.ServerError, "internal error", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(oe.HTTPStatus())
	_, _ = w.Write([]byte("<!DOCTYPE html><html><body><h1>" + string(oe.Code) + "</h1><p>" + oe.Description + "</p></body></html>"))
}
