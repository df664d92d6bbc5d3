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

// Package oautherr defines the OAuth error taxonomy used across the token,
// authorize, and registration handlers. Its shape (typed Code, Unwrap-able
// Cause, constructor-per-kind) mirrors the teacher's pkg/errors.Error, with
// the error codes fixed to the RFC 6749 vocabulary spec.md §7 requires
// rather than the teacher's container-runtime vocabulary.
package oautherr

import "fmt"

// Code is one of the RFC 6749 / RFC 7591 error codes this server emits.
type Code string

// Error codes defined by spec.md §7.
const (
	InvalidRequest          Code = "invalid_request"
	InvalidClient           Code = "invalid_client"
	InvalidGrant            Code = "invalid_grant"
	UnauthorizedClient      Code = "unauthorized_client"
	UnsupportedGrantType    Code = "unsupported_grant_type"
	InvalidScope            Code = "invalid_scope"
	AccessDenied            Code = "access_denied"
	ServerError             Code = "server_error"
	TemporarilyUnavailable  Code = "temporarily_unavailable"
)

// Error is a typed OAuth protocol error, optionally wrapping an underlying
// cause for logging without leaking internals to the wire response.
type Error struct {
	Code        Code
	Description string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no underlying cause.
func New(code Code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Wrap builds an Error around an underlying cause.
func Wrap(code Code, description string, cause error) *Error {
	return &Error{Code: code, Description: description, Cause: cause}
}

// HTTPStatus maps an error code to the HTTP status spec.md §6/§7 implies.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case InvalidClient:
		return 401
	case ServerError:
		return 500
	case TemporarilyUnavailable:
		return 503
	default:
		return 400
	}
}

// Body is the JSON wire shape from spec.md §6: {error, error_description?, error_uri?}.
type Body struct {
	Error            Code   `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// AsBody renders the error as its JSON wire representation.
func (e *Error) AsBody() Body {
	return Body{Error: e.Code, ErrorDescription: e.Description}
}
