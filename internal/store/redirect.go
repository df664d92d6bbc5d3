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

package store

import (
	"net"
	"net/url"
	"strings"
)

// MatchRedirectURI reports whether requestedURI is an acceptable redirect
// target for this client (spec.md §3 "Redirect URI validation"): either an
// exact match against a registered URI, or — per RFC 8252 §7.3 — a loopback
// URI that matches a registered loopback URI on everything but port.
//
// Adapted from the teacher's pkg/authserver/client.go LoopbackClient, which
// wraps fosite.DefaultClient to extend fosite's built-in loopback matching to
// also accept "localhost" with a dynamic port. Here the same rule applies
// directly to a registered Client, since native/public clients commonly
// register "http://127.0.0.1/callback" or "http://localhost/callback" and
// pick an ephemeral port only at request time.
func (c *Client) MatchRedirectURI(requestedURI string) bool {
	for _, registered := range c.RedirectURIs {
		if requestedURI == registered {
			return true
		}
		if matchesAsLoopback(requestedURI, registered) {
			return true
		}
	}
	return false
}

const schemeHTTP = "http"

// matchesAsLoopback implements RFC 8252 §7.3: loopback redirect URIs use the
// http scheme, the host must be a loopback host (see IsLoopbackHost), the
// authorization server must allow any port, and the path/query must match
// exactly.
func matchesAsLoopback(requestedURI, registeredURI string) bool {
	requested, err := url.Parse(requestedURI)
	if err != nil {
		return false
	}
	registered, err := url.Parse(registeredURI)
	if err != nil {
		return false
	}

	if requested.Scheme != schemeHTTP || registered.Scheme != schemeHTTP {
		return false
	}
	if !IsLoopbackHost(requested.Hostname()) || !IsLoopbackHost(registered.Hostname()) {
		return false
	}
	if !hostnamesMatch(requested.Hostname(), registered.Hostname()) {
		return false
	}
	if requested.Path != registered.Path {
		return false
	}
	if requested.RawQuery != registered.RawQuery {
		return false
	}
	return true
}

// IsLoopbackHost reports whether hostname is a loopback host: "localhost"
// (case-insensitive) or any loopback IP literal, which covers all of
// 127.0.0.0/8 as well as "::1". Exported for reuse by dynamic client
// registration validation.
func IsLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

// hostnamesMatch reports whether two loopback hostnames should be treated as
// equivalent. localhost matches localhost case-insensitively; IP literals
// must match exactly (a client registered with 127.0.0.1 does not match a
// request to localhost, and vice versa).
func hostnamesMatch(requested, registered string) bool {
	if strings.EqualFold(requested, "localhost") && strings.EqualFold(registered, "localhost") {
		return true
	}
	return requested == registered
}
