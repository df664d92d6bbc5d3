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

package token

import (
	"errors"
	"strings"
)

// ErrInvalidScope is returned when a refresh request asks for a scope
// outside the configured valid set.
var ErrInvalidScope = errors.New("invalid_scope")

// ParseScope splits a space-separated OAuth scope string (spec.md §6).
func ParseScope(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// FormatScope joins scopes back into the space-separated wire form.
func FormatScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// ResolveRequestedScopes implements the scope policy of spec.md §4.B,
// resolving the Open Question spec.md §9 leaves to the implementation (see
// DESIGN.md, scenario S6): if the request omits scopes, inherit the
// originally granted set unchanged. Otherwise, every requested scope must be
// in the configured valid set or rejected outright (ErrInvalidScope) — an
// unknown scope is never silently dropped. Scopes that are valid but were
// not part of the original grant are accepted by the valid-set check and
// then narrowed away by the final intersection step, so the granted set can
// shrink but never grow on refresh (Invariant 4): the response scope is
// requested ∩ granted.
func ResolveRequestedScopes(requested, granted, valid []string) ([]string, error) {
	if len(requested) == 0 {
		return granted, nil
	}
	for _, s := range requested {
		if !contains(valid, s) {
			return nil, ErrInvalidScope
		}
	}
	out := make([]string, 0, len(requested))
	for _, s := range requested {
		if contains(granted, s) {
			out = append(out, s)
		}
	}
	return out, nil
}
