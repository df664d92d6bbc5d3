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

package upstream

import "golang.org/x/oauth2"

// GoogleEndpoint is Google's fixed OAuth 2.0 / OIDC endpoint pair; unlike
// Azure's, it does not vary per deployment, so there is no discovery step to
// cache (spec.md §4.C only requires discovery caching, it does not forbid
// skipping it where the endpoints are already well known).
var GoogleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

const googleUserinfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// NewGoogle constructs the Google upstream client (spec.md §4.C "Google variant").
func NewGoogle(clientID, clientSecret, redirectURI string) *Client {
	return New(Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		Scopes:       []string{"openid", "profile", "email"},
		Endpoint:     GoogleEndpoint,
		UserinfoURL:  googleUserinfoURL,
	})
}
