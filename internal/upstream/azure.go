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

import (
	"fmt"

	"golang.org/x/oauth2"
)

const azureGraphUserinfoURL = "https://graph.microsoft.com/v1.0/me"

// AzureEndpoint builds the Microsoft identity platform endpoint pair for the
// given tenant (spec.md §4.C: "common", "organizations", "consumers", or a
// specific tenant id).
func AzureEndpoint(tenant string) oauth2.Endpoint {
	base := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0", tenant)
	return oauth2.Endpoint{
		AuthURL:  base + "/authorize",
		TokenURL: base + "/token",
	}
}

// NewAzure constructs the Azure upstream client (spec.md §4.C "Azure
// variant"), requiring the scopes the spec names explicitly: openid,
// profile, email, offline_access, User.Read.
func NewAzure(clientID, clientSecret, redirectURI, tenant string) *Client {
	return New(Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		Scopes:       []string{"openid", "profile", "email", "offline_access", "User.Read"},
		Endpoint:     AzureEndpoint(tenant),
		UserinfoURL:  azureGraphUserinfoURL,
	})
}
