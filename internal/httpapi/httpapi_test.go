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
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/stacklok/mcp-authserver/internal/federated"
	"github.com/stacklok/mcp-authserver/internal/provider"
	"github.com/stacklok/mcp-authserver/internal/store"
	"github.com/stacklok/mcp-authserver/internal/token"
	"github.com/stacklok/mcp-authserver/internal/upstream"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	custom := provider.NewCustom(s, []string{"read", "write"}, time.Hour, 24*time.Hour, 10*time.Minute)
	srv := &Server{
		Store: s, Active: custom, Custom: custom,
		Issuer: "https://auth.example.com", ValidScopes: []string{"read", "write"}, DefaultScopes: []string{"read"},
	}

	mux := http.NewServeMux()
	srv.Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, s
}

func registerClient(t *testing.T, ts *httptest.Server, redirectURI string) (clientID string) {
	t.Helper()
	body := strings.NewReader(`{"redirect_uris":["` + redirectURI + `"]}`)
	resp, err := http.Post(ts.URL+"/register", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out["client_id"].(string)
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
}

// TestS1_CustomHappyPath walks the full authorization-code + PKCE flow for
// the custom (non-federated) provider end to end.
func TestS1_CustomHappyPath(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	clientID := registerClient(t, ts, "http://127.0.0.1:9999/cb")

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := token.ChallengeFromVerifier(verifier)

	authorizeURL := ts.URL + "/authorize?" + url.Values{
		"client_id": {clientID}, "redirect_uri": {"http://127.0.0.1:9999/cb"},
		"response_type": {"code"}, "state": {"xyz"},
		"code_challenge": {challenge}, "code_challenge_method": {"S256"}, "scope": {"read"},
	}.Encode()

	resp, err := http.Get(authorizeURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := readAll(resp)
	require.NoError(t, err)
	assert.Contains(t, body, "/oauth/authorize/approve")

	client := noRedirectClient()
	approveResp, err := client.PostForm(ts.URL+"/oauth/authorize/approve", url.Values{
		"decision": {"approve"}, "client_id": {clientID}, "redirect_uri": {"http://127.0.0.1:9999/cb"},
		"state": {"xyz"}, "code_challenge": {challenge}, "code_challenge_method": {"S256"}, "scope": {"read"},
	})
	require.NoError(t, err)
	defer approveResp.Body.Close()
	require.Equal(t, http.StatusFound, approveResp.StatusCode)

	loc, err := approveResp.Location()
	require.NoError(t, err)
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	tokenResp, err := http.PostForm(ts.URL+"/token", url.Values{
		"grant_type": {"authorization_code"}, "code": {code}, "code_verifier": {verifier},
		"redirect_uri": {"http://127.0.0.1:9999/cb"}, "client_id": {clientID},
	})
	require.NoError(t, err)
	defer tokenResp.Body.Close()
	require.Equal(t, http.StatusOK, tokenResp.StatusCode)

	var tr tokenResponse
	require.NoError(t, json.NewDecoder(tokenResp.Body).Decode(&tr))
	assert.NotEmpty(t, tr.AccessToken)
	assert.NotEmpty(t, tr.RefreshToken)

	toolsReq, err := http.NewRequest(http.MethodGet, ts.URL+"/mcp/tools", nil)
	require.NoError(t, err)
	toolsReq.Header.Set("Authorization", "Bearer "+tr.AccessToken)
	toolsResp, err := http.DefaultClient.Do(toolsReq)
	require.NoError(t, err)
	defer toolsResp.Body.Close()
	assert.Equal(t, http.StatusOK, toolsResp.StatusCode)
}

// TestS2_RefreshRotatesToken covers the refresh grant: old token dies, new one works.
func TestS2_RefreshRotatesToken(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	clientID := registerClient(t, ts, "http://127.0.0.1:9999/cb")
	code := completeAuthorization(t, ts, clientID, "http://127.0.0.1:9999/cb", "read write")

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	first := exchangeCode(t, ts, clientID, code.code, verifier, "http://127.0.0.1:9999/cb")

	second, err := http.PostForm(ts.URL+"/token", url.Values{
		"grant_type": {"refresh_token"}, "refresh_token": {first.RefreshToken}, "client_id": {clientID},
	})
	require.NoError(t, err)
	defer second.Body.Close()
	require.Equal(t, http.StatusOK, second.StatusCode)
	var tr tokenResponse
	require.NoError(t, json.NewDecoder(second.Body).Decode(&tr))
	assert.NotEqual(t, first.RefreshToken, tr.RefreshToken)

	reuse, err := http.PostForm(ts.URL+"/token", url.Values{
		"grant_type": {"refresh_token"}, "refresh_token": {first.RefreshToken}, "client_id": {clientID},
	})
	require.NoError(t, err)
	defer reuse.Body.Close()
	assert.Equal(t, http.StatusBadRequest, reuse.StatusCode)
}

// TestS3_PKCEMismatchRejected: wrong verifier at the token endpoint is a protocol error.
func TestS3_PKCEMismatchRejected(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	clientID := registerClient(t, ts, "http://127.0.0.1:9999/cb")
	code := completeAuthorization(t, ts, clientID, "http://127.0.0.1:9999/cb", "read")

	resp, err := http.PostForm(ts.URL+"/token", url.Values{
		"grant_type": {"authorization_code"}, "code": {code.code}, "code_verifier": {"totally-wrong"},
		"redirect_uri": {"http://127.0.0.1:9999/cb"}, "client_id": {clientID},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_grant", body["error"])
}

// TestS4_RestartDurability: clients and refresh tokens survive a store restart.
func TestS4_RestartDurability(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s1, err := store.New(dir)
	require.NoError(t, err)

	custom1 := provider.NewCustom(s1, []string{"read"}, time.Hour, 24*time.Hour, 10*time.Minute)
	srv1 := &Server{Store: s1, Active: custom1, Custom: custom1, Issuer: "https://auth.example.com", ValidScopes: []string{"read"}, DefaultScopes: []string{"read"}}
	mux1 := http.NewServeMux()
	srv1.Routes(mux1)
	ts1 := httptest.NewServer(mux1)
	clientID := registerClient(t, ts1, "http://127.0.0.1:9999/cb")
	code := completeAuthorization(t, ts1, clientID, "http://127.0.0.1:9999/cb", "read")
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	tokens := exchangeCode(t, ts1, clientID, code.code, verifier, "http://127.0.0.1:9999/cb")
	ts1.Close()
	require.NoError(t, s1.Close())

	s2, err := store.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })
	custom2 := provider.NewCustom(s2, []string{"read"}, time.Hour, 24*time.Hour, 10*time.Minute)
	srv2 := &Server{Store: s2, Active: custom2, Custom: custom2, Issuer: "https://auth.example.com", ValidScopes: []string{"read"}, DefaultScopes: []string{"read"}}
	mux2 := http.NewServeMux()
	srv2.Routes(mux2)
	ts2 := httptest.NewServer(mux2)
	t.Cleanup(ts2.Close)

	resp, err := http.PostForm(ts2.URL+"/token", url.Values{
		"grant_type": {"refresh_token"}, "refresh_token": {tokens.RefreshToken}, "client_id": {clientID},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestS5_FederatedCallbackUnknownState: no pending record means no known
// redirect target, so the response is an HTML error page, not a redirect.
func TestS5_FederatedCallbackUnknownState(t *testing.T) {
	t.Parallel()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	custom := provider.NewCustom(s, []string{"read"}, time.Hour, 24*time.Hour, 10*time.Minute)
	srv := &Server{
		Store: s, Active: custom, Custom: custom, Federated: newGoogleFederated(t, s, custom),
		Issuer: "https://auth.example.com", ValidScopes: []string{"read"}, DefaultScopes: []string{"read"},
	}
	mux := http.NewServeMux()
	srv.Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	resp, err := noRedirectClient().Get(ts.URL + "/oauth/google/callback?code=foo&state=never-issued")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ct := resp.Header.Get("Content-Type")
	assert.Contains(t, ct, "text/html")
}

// TestS5b_FederatedCallbackNilOnCustomOnlyServer: the google/azure routes
// 404 on a server configured for the custom-only provider variant.
func TestS5b_FederatedCallbackNilOnCustomOnlyServer(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := noRedirectClient().Get(ts.URL + "/oauth/google/callback?code=foo&state=unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func newGoogleFederated(t *testing.T, s *store.Store, custom *provider.Custom) *federated.Federated {
	t.Helper()
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(idp.Close)
	up := upstream.New(upstream.Config{
		ClientID: "google-client", ClientSecret: "google-secret",
		RedirectURI: "https://auth.example.com/oauth/google/callback", Scopes: []string{"openid", "email"},
		Endpoint:    oauth2.Endpoint{AuthURL: idp.URL + "/authorize", TokenURL: idp.URL + "/token"},
		UserinfoURL: idp.URL + "/userinfo",
	})
	return federated.New("google", "Google", up, custom)
}

// TestS6_ScopeNarrowingOnRefresh exercises the scope policy directly through
// the HTTP surface: a previously granted scope can be dropped, but a scope
// never granted (even if valid) cannot be added back in.
func TestS6_ScopeNarrowingOnRefresh(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	clientID := registerClient(t, ts, "http://127.0.0.1:9999/cb")
	code := completeAuthorization(t, ts, clientID, "http://127.0.0.1:9999/cb", "read")
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	tokens := exchangeCode(t, ts, clientID, code.code, verifier, "http://127.0.0.1:9999/cb")

	resp, err := http.PostForm(ts.URL+"/token", url.Values{
		"grant_type": {"refresh_token"}, "refresh_token": {tokens.RefreshToken}, "client_id": {clientID}, "scope": {"write"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tr tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	assert.Empty(t, tr.Scope) // "write" is valid but was never granted, so it narrows to nothing.
}

type authorizedCode struct{ code string }

func completeAuthorization(t *testing.T, ts *httptest.Server, clientID, redirectURI, scope string) authorizedCode {
	t.Helper()
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := token.ChallengeFromVerifier(verifier)

	client := noRedirectClient()
	resp, err := client.PostForm(ts.URL+"/oauth/authorize/approve", url.Values{
		"decision": {"approve"}, "client_id": {clientID}, "redirect_uri": {redirectURI},
		"state": {"s"}, "code_challenge": {challenge}, "code_challenge_method": {"S256"}, "scope": {scope},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := resp.Location()
	require.NoError(t, err)
	return authorizedCode{code: loc.Query().Get("code")}
}

func exchangeCode(t *testing.T, ts *httptest.Server, clientID, code, verifier, redirectURI string) tokenResponse {
	t.Helper()
	resp, err := http.PostForm(ts.URL+"/token", url.Values{
		"grant_type": {"authorization_code"}, "code": {code}, "code_verifier": {verifier},
		"redirect_uri": {redirectURI}, "client_id": {clientID},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	return tr
}

func readAll(resp *http.Response) (string, error) {
	buf, err := io.ReadAll(resp.Body)
	return string(buf), err
}
