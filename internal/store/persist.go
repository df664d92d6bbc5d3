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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/stacklok/mcp-authserver/internal/logging"
)

const (
	clientsFile       = "clients.json"
	refreshTokensFile = "refresh_tokens.json"
)

func (s *Store) clientsPath() string       { return filepath.Join(s.dir, clientsFile) }
func (s *Store) refreshTokensPath() string { return filepath.Join(s.dir, refreshTokensFile) }

// loadJSONMap reads a JSON document holding a map keyed by id/token. A
// missing file yields an empty map with no error, per spec.md §4.A ("readers
// of JSON files on startup tolerate a missing or empty file").
func loadJSONMap[T any](path string) (map[string]T, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.Infow("store file not found, starting empty", "path", path)
		return map[string]T{}, nil
	}
	if err != nil {
		return map[string]T{}, err
	}
	if len(data) == 0 {
		return map[string]T{}, nil
	}
	var m map[string]T
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]T{}, err
	}
	if m == nil {
		m = map[string]T{}
	}
	return m, nil
}

// atomicWriteJSON writes data to a temp file in dir and renames it over
// path, so a concurrent reader never observes a torn write (spec.md §4.A,
// §5). An advisory file lock on path+".lock" serializes writers across
// processes sharing the same store directory.
func atomicWriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock() //nolint:errcheck

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	return nil
}

func (s *Store) flushClientsLocked() error {
	return atomicWriteJSON(s.clientsPath(), s.clients)
}

func (s *Store) flushRefreshTokensLocked() error {
	return atomicWriteJSON(s.refreshTokensPath(), s.refreshTokens)
}

func (s *Store) flushRefreshTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushRefreshTokensLocked()
}

// flushAll persists every durable bucket; called by every sweep and at shutdown.
func (s *Store) flushAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flushClientsLocked(); err != nil {
		return err
	}
	return s.flushRefreshTokensLocked()
}
