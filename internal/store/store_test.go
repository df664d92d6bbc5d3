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
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireNotFoundError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew_EmptyDirYieldsEmptyStore(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, Stats{}, stats)
}

func TestRegisterClient_ConflictOnDuplicateID(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	c := Client{ClientID: "client-1", RedirectURIs: []string{"https://example.com/cb"}}
	require.NoError(t, s.RegisterClient(ctx, c))

	err = s.RegisterClient(ctx, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRegisterClient_PersistsAcrossRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := New(dir)
	require.NoError(t, err)
	c := Client{
		ClientID: "client-1", RedirectURIs: []string{"https://example.com/cb"}, ClientName: "Test Client",
		GrantTypes: []string{"authorization_code", "refresh_token"}, ResponseTypes: []string{"code"}, Scope: "read write",
	}
	require.NoError(t, s1.RegisterClient(ctx, c))
	require.NoError(t, s1.Close())

	s2, err := New(dir)
	require.NoError(t, err)
	got, err := s2.GetClient(ctx, "client-1")
	require.NoError(t, err)
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("client round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGetClient_NotFound(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.GetClient(context.Background(), "missing")
	requireNotFoundError(t, err)
}

func TestConsumeCode_OneTimeUse(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	rec := AuthorizationCode{Code: "abc", ClientID: "client-1", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.AddCode(ctx, rec))

	got, err := s.ConsumeCode(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "client-1", got.ClientID)

	_, err = s.ConsumeCode(ctx, "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReused)
}

// TestConsumeCode_ReuseRevokesIssuedTokens covers Invariant 2's
// reuse-revocation clause (RFC 6749 §4.1.2): redeeming an already-consumed
// code must revoke whatever access/refresh tokens were minted on the first
// redemption, not just fail the second attempt.
func TestConsumeCode_ReuseRevokesIssuedTokens(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	rec := AuthorizationCode{Code: "abc", ClientID: "client-1", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.AddCode(ctx, rec))
	_, err = s.ConsumeCode(ctx, "abc")
	require.NoError(t, err)

	require.NoError(t, s.AddAccessToken(ctx, AccessToken{Token: "at1", ClientID: "client-1", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, s.AddRefreshToken(ctx, RefreshToken{Token: "rt1", ClientID: "client-1", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, s.RecordCodeRedemption(ctx, "abc", "at1", "rt1"))

	_, err = s.ConsumeCode(ctx, "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReused)

	_, err = s.LoadAccessToken(ctx, "at1")
	requireNotFoundError(t, err)
	_, err = s.GetRefreshToken(ctx, "rt1")
	requireNotFoundError(t, err)
}

func TestCodeExists_DoesNotConsume(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, s.CodeExists(ctx, "abc"))

	rec := AuthorizationCode{Code: "abc", ClientID: "client-1", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.AddCode(ctx, rec))
	assert.True(t, s.CodeExists(ctx, "abc"))

	// A second existence check must not have consumed it.
	assert.True(t, s.CodeExists(ctx, "abc"))
	_, err = s.ConsumeCode(ctx, "abc")
	require.NoError(t, err)
}

func TestConsumeCode_Expired(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	rec := AuthorizationCode{Code: "abc", ClientID: "client-1", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, s.AddCode(ctx, rec))

	_, err = s.ConsumeCode(ctx, "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestConsumeCode_ConcurrentRedemptionExactlyOneWins(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	rec := AuthorizationCode{Code: "race", ClientID: "client-1", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.AddCode(ctx, rec))

	const n = 20
	results := make(chan error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			<-start
			_, err := s.ConsumeCode(ctx, "race")
			results <- err
		}()
	}
	close(start)

	successes := 0
	for i := 0; i < n; i++ {
		if err := <-results; err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestRefreshToken_RotateIsAtomic(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	old := RefreshToken{Token: "old", ClientID: "client-1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.AddRefreshToken(ctx, old))

	require.NoError(t, s.RotateRefreshToken(ctx, "old", RefreshToken{
		Token: "new", ClientID: "client-1", ExpiresAt: time.Now().Add(time.Hour),
	}))

	_, err = s.GetRefreshToken(ctx, "old")
	requireNotFoundError(t, err)

	got, err := s.GetRefreshToken(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "client-1", got.ClientID)
}

func TestRefreshToken_RotatePersistsAcrossRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s1.AddRefreshToken(ctx, RefreshToken{Token: "rt1", ClientID: "c1", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, s1.RotateRefreshToken(ctx, "rt1", RefreshToken{Token: "rt2", ClientID: "c1", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, s1.Close())

	s2, err := New(dir)
	require.NoError(t, err)
	_, err = s2.GetRefreshToken(ctx, "rt1")
	requireNotFoundError(t, err)
	got, err := s2.GetRefreshToken(ctx, "rt2")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ClientID)
}

func TestNew_DropsExpiredRefreshTokensOnLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s1.AddRefreshToken(ctx, RefreshToken{Token: "expired", ClientID: "c1", ExpiresAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, s1.Close())

	s2, err := New(dir)
	require.NoError(t, err)
	_, err = s2.GetRefreshToken(ctx, "expired")
	requireNotFoundError(t, err)
}

func TestRevokeRefreshToken_MissingIsNotAnError(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, s.RevokeRefreshToken(context.Background(), "never-existed"))
}

func TestAccessToken_LoadPrunesExpired(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.AddAccessToken(ctx, AccessToken{Token: "tok", ClientID: "c1", ExpiresAt: time.Now().Add(-time.Second)}))
	_, err = s.LoadAccessToken(ctx, "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExpired)

	// Pruned on first lookup: a second lookup sees NotFound, not Expired.
	_, err = s.LoadAccessToken(ctx, "tok")
	requireNotFoundError(t, err)
}

func TestPendingAuthorization_TakeIsOneShot(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	rec := PendingAuthorization{State: "corr-1", ClientID: "c1", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.PutPending(ctx, "corr-1", rec))

	got, err := s.TakePending(ctx, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ClientID)

	_, err = s.TakePending(ctx, "corr-1")
	requireNotFoundError(t, err)
}

func TestCleanupExpired_RemovesEveryExpiredBucket(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	require.NoError(t, s.AddCode(ctx, AuthorizationCode{Code: "c", ExpiresAt: past}))
	require.NoError(t, s.AddAccessToken(ctx, AccessToken{Token: "a", ExpiresAt: past}))
	require.NoError(t, s.AddRefreshToken(ctx, RefreshToken{Token: "r", ExpiresAt: past}))
	require.NoError(t, s.PutPending(ctx, "p", PendingAuthorization{State: "p", ExpiresAt: past}))

	s.CleanupExpired(time.Now())

	assert.Equal(t, Stats{}, s.Stats())
}

func TestStart_SweepsOnInterval(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir(), WithSweepInterval(10*time.Millisecond))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.AddAccessToken(ctx, AccessToken{Token: "a", ExpiresAt: time.Now().Add(-time.Second)}))

	s.Start()
	defer func() { require.NoError(t, s.Close()) }()

	require.Eventually(t, func() bool {
		return s.Stats().AccessTokens == 0
	}, time.Second, 5*time.Millisecond)
}
