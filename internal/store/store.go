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
	"fmt"
	"sync"
	"time"

	"github.com/stacklok/mcp-authserver/internal/logging"
)

// Store is the credential store of spec.md §4.A. One mutex guards every
// bucket; operations are short map accesses so contention is negligible at
// the expected token rates. Clients and refresh tokens are durable (flushed
// to disk inside the critical section via an atomic rename); authorization
// codes, access tokens and pending federated authorizations live only in
// memory (Invariant 8).
type Store struct {
	mu sync.Mutex

	dir string

	clients       map[string]Client
	refreshTokens map[string]RefreshToken
	authCodes     map[string]AuthorizationCode
	accessTokens  map[string]AccessToken
	pending       map[string]PendingAuthorization

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepDone     chan struct{}
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithSweepInterval overrides the default 60s expiry sweep interval (spec.md §4.A).
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepInterval = d }
}

// New creates a Store rooted at dir, hydrating clients.json and
// refresh_tokens.json if present. A missing or malformed file is logged and
// treated as empty (spec.md §4.F failure model); it is rewritten on first
// change. Call Start to begin the background sweeper.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:           dir,
		clients:       make(map[string]Client),
		refreshTokens: make(map[string]RefreshToken),
		authCodes:     make(map[string]AuthorizationCode),
		accessTokens:  make(map[string]AccessToken),
		pending:       make(map[string]PendingAuthorization),
		sweepInterval: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	clients, err := loadJSONMap[Client](s.clientsPath())
	if err != nil {
		logging.Warnw("failed to load clients.json, starting empty", "error", err)
	} else {
		now := time.Now()
		for id, c := range clients {
			s.clients[id] = c
			_ = now // clients have no expiry; kept for symmetry with refresh tokens
		}
	}

	refresh, err := loadJSONMap[RefreshToken](s.refreshTokensPath())
	if err != nil {
		logging.Warnw("failed to load refresh_tokens.json, starting empty", "error", err)
	} else {
		now := time.Now()
		for tok, r := range refresh {
			if r.Expired(now) {
				continue // Invariant 9: expired entries dropped silently on load.
			}
			s.refreshTokens[tok] = r
		}
	}

	return s, nil
}

// Start begins the background expiry sweeper (spec.md §4.A). Call Close to
// stop it and flush durable state one last time.
func (s *Store) Start() {
	s.stopSweep = make(chan struct{})
	s.sweepDone = make(chan struct{})
	go s.sweepLoop()
}

func (s *Store) sweepLoop() {
	defer close(s.sweepDone)
	t := time.NewTicker(s.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.CleanupExpired(time.Now())
		case <-s.stopSweep:
			return
		}
	}
}

// Close stops the sweeper (if started) and flushes durable state.
func (s *Store) Close() error {
	if s.stopSweep != nil {
		close(s.stopSweep)
		<-s.sweepDone
	}
	return s.flushAll()
}

// Stats returns a point-in-time count of every bucket.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Clients:       len(s.clients),
		AuthCodes:     len(s.authCodes),
		AccessTokens:  len(s.accessTokens),
		RefreshTokens: len(s.refreshTokens),
		Pending:       len(s.pending),
	}
}

// CleanupExpired removes every expired refresh token, access token,
// authorization code and pending authorization as of t. Durable state
// (clients and refresh tokens) is flushed to disk on every call.
func (s *Store) CleanupExpired(t time.Time) {
	s.mu.Lock()
	for tok, r := range s.refreshTokens {
		if r.Expired(t) {
			delete(s.refreshTokens, tok)
		}
	}
	for code, a := range s.authCodes {
		if a.Expired(t) {
			delete(s.authCodes, code)
		}
	}
	for tok, a := range s.accessTokens {
		if a.Expired(t) {
			delete(s.accessTokens, tok)
		}
	}
	for state, p := range s.pending {
		if p.Expired(t) {
			delete(s.pending, state)
		}
	}
	s.mu.Unlock()

	// Rewriting both durable files on every sweep re-attempts any write that
	// failed earlier (RegisterClient, AddRefreshToken).
	if err := s.flushAll(); err != nil {
		logging.Errorw("sweep: failed to flush durable state", "error", err)
	}
}

// --- Clients ---

// RegisterClient persists a new client registration. Returns ErrConflict if
// the client id already exists (registrations are never mutated after
// creation, spec.md §3).
func (s *Store) RegisterClient(_ context.Context, c Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ClientID]; ok {
		return fmt.Errorf("register client %s: %w", c.ClientID, ErrConflict)
	}
	s.clients[c.ClientID] = c
	// spec.md §7: a disk write failure logs and the in-memory record is kept
	// regardless; the next successful flush (sweep, or the following write)
	// re-persists it. The caller sees success because the registration is
	// valid and usable immediately.
	if err := s.flushClientsLocked(); err != nil {
		logging.Errorw("failed to persist client registration", "client_id", c.ClientID, "error", err)
	}
	return nil
}

// GetClient looks up a client registration by id.
func (s *Store) GetClient(_ context.Context, id string) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return Client{}, fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// --- Authorization codes ---

// AddCode stores a freshly issued authorization code.
func (s *Store) AddCode(_ context.Context, rec AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[rec.Code] = rec
	return nil
}

// CodeExists reports whether code is currently on file (redeemed or not),
// without consuming it. Used to probe for collisions when generating a new
// code; unlike ConsumeCode, a collision check must never destroy or mark the
// code it inspects.
func (s *Store) CodeExists(_ context.Context, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.authCodes[code]
	return ok
}

// ConsumeCode atomically marks an authorization code redeemed and returns
// it. Two concurrent redemptions of the same code observe exactly one
// success (Invariant 2): the mutex makes check-then-mark atomic across
// goroutines. The record is retained (not deleted) past the first
// redemption, because a second presentation of an already-consumed code
// must revoke the tokens minted from the first one (Invariant 2, RFC 6749
// §4.1.2 reuse-revocation) rather than simply fail as if the code never
// existed.
func (s *Store) ConsumeCode(_ context.Context, code string) (AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.authCodes[code]
	if !ok {
		return AuthorizationCode{}, fmt.Errorf("code: %w", ErrNotFound)
	}
	if rec.Expired(time.Now()) {
		delete(s.authCodes, code)
		return AuthorizationCode{}, fmt.Errorf("code: %w", ErrExpired)
	}
	if rec.Consumed {
		s.revokeCodeIssuedTokensLocked(rec)
		return AuthorizationCode{}, fmt.Errorf("code: %w", ErrReused)
	}
	rec.Consumed = true
	s.authCodes[code] = rec
	return rec, nil
}

// RecordCodeRedemption links the access/refresh tokens minted from a
// just-consumed authorization code back to it, so that a later reuse of the
// same code (Invariant 2) knows what to revoke. Call once, immediately
// after ConsumeCode succeeds and the tokens have been minted; a
// redemption that never reaches this call (e.g. token minting fails) simply
// leaves nothing to revoke on replay.
func (s *Store) RecordCodeRedemption(_ context.Context, code, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.authCodes[code]
	if !ok {
		return fmt.Errorf("code: %w", ErrNotFound)
	}
	rec.ConsumedAccessToken = accessToken
	rec.ConsumedRefreshToken = refreshToken
	s.authCodes[code] = rec
	return nil
}

// revokeCodeIssuedTokensLocked removes the access/refresh tokens a consumed
// code's first redemption minted. Called with s.mu already held.
func (s *Store) revokeCodeIssuedTokensLocked(rec AuthorizationCode) {
	if rec.ConsumedAccessToken != "" {
		delete(s.accessTokens, rec.ConsumedAccessToken)
	}
	if rec.ConsumedRefreshToken != "" {
		if _, ok := s.refreshTokens[rec.ConsumedRefreshToken]; ok {
			delete(s.refreshTokens, rec.ConsumedRefreshToken)
			if err := s.flushRefreshTokensLocked(); err != nil {
				logging.Errorw("failed to persist refresh token revocation on code reuse", "error", err)
			}
		}
	}
}

// --- Access tokens ---

// AddAccessToken stores a freshly minted access token.
func (s *Store) AddAccessToken(_ context.Context, rec AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[rec.Token] = rec
	return nil
}

// LoadAccessToken looks up an access token, pruning it opportunistically if expired.
func (s *Store) LoadAccessToken(_ context.Context, tok string) (AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.accessTokens[tok]
	if !ok {
		return AccessToken{}, fmt.Errorf("access token: %w", ErrNotFound)
	}
	if rec.Expired(time.Now()) {
		delete(s.accessTokens, tok)
		return AccessToken{}, fmt.Errorf("access token: %w", ErrExpired)
	}
	return rec, nil
}

// RevokeAccessToken removes an access token if present. Best-effort: a
// missing token is not an error (spec.md §6 /revoke always returns 200).
func (s *Store) RevokeAccessToken(_ context.Context, tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accessTokens, tok)
	return nil
}

// --- Refresh tokens ---

// AddRefreshToken persists a freshly minted refresh token.
func (s *Store) AddRefreshToken(_ context.Context, rec RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[rec.Token] = rec
	if err := s.flushRefreshTokensLocked(); err != nil {
		logging.Errorw("failed to persist refresh token", "client_id", rec.ClientID, "error", err)
	}
	return nil
}

// GetRefreshToken looks up a refresh token without consuming it.
func (s *Store) GetRefreshToken(_ context.Context, tok string) (RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refreshTokens[tok]
	if !ok {
		return RefreshToken{}, fmt.Errorf("refresh token: %w", ErrNotFound)
	}
	if rec.Expired(time.Now()) {
		return RefreshToken{}, fmt.Errorf("refresh token: %w", ErrExpired)
	}
	return rec, nil
}

// RotateRefreshToken atomically replaces old with newTok: no reader can ever
// observe both as valid (Invariant 3, spec.md §5 ordering guarantees). The
// old token is removed and the new one inserted inside the same critical
// section, and both are a single durable flush.
func (s *Store) RotateRefreshToken(_ context.Context, old string, newTok RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.refreshTokens[old]
	if !ok {
		return fmt.Errorf("refresh token: %w", ErrNotFound)
	}
	if existing.Expired(time.Now()) {
		delete(s.refreshTokens, old)
		_ = s.flushRefreshTokensLocked()
		return fmt.Errorf("refresh token: %w", ErrExpired)
	}
	delete(s.refreshTokens, old)
	s.refreshTokens[newTok.Token] = newTok
	if err := s.flushRefreshTokensLocked(); err != nil {
		logging.Errorw("failed to persist rotated refresh token", "client_id", newTok.ClientID, "error", err)
	}
	return nil
}

// RevokeRefreshToken removes a refresh token if present (best-effort, spec.md §6 /revoke).
func (s *Store) RevokeRefreshToken(_ context.Context, tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshTokens[tok]; !ok {
		return nil
	}
	delete(s.refreshTokens, tok)
	if err := s.flushRefreshTokensLocked(); err != nil {
		logging.Errorw("failed to persist refresh token revocation", "error", err)
	}
	return nil
}

// --- Pending federated authorizations ---

// PutPending stores a pending authorization keyed by its correlation state (spec.md §4.D).
func (s *Store) PutPending(_ context.Context, state string, rec PendingAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[state] = rec
	return nil
}

// TakePending atomically removes and returns a pending authorization. The
// callback handler is the sole consumer keyed by correlation token; a
// duplicate IdP callback observes ErrNotFound (spec.md §5 ordering guarantees).
func (s *Store) TakePending(_ context.Context, state string) (PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pending[state]
	if !ok {
		return PendingAuthorization{}, fmt.Errorf("pending authorization: %w", ErrNotFound)
	}
	delete(s.pending, state)
	if rec.Expired(time.Now()) {
		return PendingAuthorization{}, fmt.Errorf("pending authorization: %w", ErrExpired)
	}
	return rec, nil
}
