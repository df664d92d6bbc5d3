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

// Package token implements token minting and validation (spec.md §4.B):
// opaque, cryptographically random bearer tokens and PKCE verification.
//
// Token generation is adapted from the teacher's pkg/auth/oauth.GeneratePKCEParams/
// GenerateState (crypto/rand + base64.RawURLEncoding), generalized into a single
// Generate helper reused for authorization codes, access tokens and refresh
// tokens alike, so every token satisfies Invariant 5 (≥256 bits, base64url,
// never guessable from client-controlled data) and Testable Property 1
// (length(decode_base64url(T)) >= 32).
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// ByteLength is the number of random bytes drawn per token (256 bits).
const ByteLength = 32

// Generate draws ByteLength bytes from a cryptographic RNG and returns them
// base64url-encoded without padding.
func Generate() (string, error) {
	buf := make([]byte, ByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateUnique calls Generate until it returns a value for which
// exists reports false, retrying once on a collision (spec.md §4.B: "any
// collision check is performed against the store ... a collision triggers a
// single retry"). With 256 bits of entropy a second collision is not
// expected; a second collision is treated as a server error.
func GenerateUnique(exists func(string) bool) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		tok, err := Generate()
		if err != nil {
			return "", err
		}
		if !exists(tok) {
			return tok, nil
		}
	}
	return "", fmt.Errorf("generate unique token: exhausted retries on collision")
}
