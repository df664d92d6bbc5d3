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
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// PKCEMethod is one of the two code_challenge_method values spec.md §3/§6 recognizes.
type PKCEMethod string

const (
	// MethodS256 hashes the verifier with SHA-256 before comparing (required, Invariant 6).
	MethodS256 PKCEMethod = "S256"
	// MethodPlain compares the verifier verbatim; only permitted for confidential clients.
	MethodPlain PKCEMethod = "plain"
)

// ChallengeFromVerifier computes the S256 code_challenge for a given
// code_verifier, the same transform the teacher's GeneratePKCEParams applies
// when acting as an OAuth client.
func ChallengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE checks a presented code_verifier against the stored
// code_challenge/method pair (Invariant 6). The plain method is rejected
// outright for public clients: PKCE's entire value for a public client is
// that the challenge is unguessable without the verifier, which plain
// forfeits.
func VerifyPKCE(method PKCEMethod, challenge, verifier string, clientIsPublic bool) error {
	if verifier == "" {
		return fmt.Errorf("missing code_verifier")
	}
	switch method {
	case MethodS256:
		computed := ChallengeFromVerifier(verifier)
		if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
			return fmt.Errorf("code_verifier does not match code_challenge")
		}
		return nil
	case MethodPlain:
		if clientIsPublic {
			return fmt.Errorf("plain PKCE method is not permitted for public clients")
		}
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return fmt.Errorf("code_verifier does not match code_challenge")
		}
		return nil
	default:
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}
}
