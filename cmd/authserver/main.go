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

// Command authserver runs the MCP OAuth 2.1 authorization server (spec.md
// §4.F "Startup"/"Shutdown"): read configuration, build the provider
// variant, hydrate the credential store from disk, start the sweeper,
// register routes, and serve until SIGINT/SIGTERM.
//
// Grounded on the teacher's cmd/thv-registry-api/app/serve.go lifecycle
// (listen in a goroutine, signal.Notify, graceful server.Shutdown with a
// bounded timeout) adapted to this server's own store/provider/httpapi
// packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stacklok/mcp-authserver/internal/config"
	"github.com/stacklok/mcp-authserver/internal/federated"
	"github.com/stacklok/mcp-authserver/internal/httpapi"
	"github.com/stacklok/mcp-authserver/internal/logging"
	"github.com/stacklok/mcp-authserver/internal/provider"
	"github.com/stacklok/mcp-authserver/internal/store"
	"github.com/stacklok/mcp-authserver/internal/upstream"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
	listenAddr             = ":8080"
)

func main() {
	if err := run(); err != nil {
		logging.Errorw("authserver exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		logging.Infow("OAUTH_ENABLED is false, nothing to do")
		return nil
	}

	credStore, err := store.New(cfg.StoreDir)
	if err != nil {
		return err
	}
	credStore.Start()

	active, custom, fed, err := buildProvider(cfg, credStore)
	if err != nil {
		return err
	}

	srv := &httpapi.Server{
		Store:         credStore,
		Active:        active,
		Custom:        custom,
		Federated:     fed,
		Issuer:        cfg.IssuerURL,
		ValidScopes:   cfg.ValidScopes,
		DefaultScopes: cfg.DefaultScopes,
	}
	mux := http.NewServeMux()
	srv.Routes(mux)

	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logging.Infow("authserver listening", "addr", listenAddr, "provider", cfg.Provider, "issuer", cfg.IssuerURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorw("listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Infow("shutting down authserver")

	ctx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logging.Errorw("server forced to shut down", "error", err)
	}

	logging.Infow("credential store stats at shutdown", "stats", credStore.Stats())
	return credStore.Close()
}

// buildProvider implements the factory of spec.md §4.C: exactly one variant
// is instantiated from configuration. An unknown provider type is fatal
// (spec.md §4.F), already enforced by config.Load's validation, so the
// default case here can only be reached by a programming error.
func buildProvider(cfg *config.Config, s *store.Store) (provider.Provider, *provider.Custom, *federated.Federated, error) {
	custom := provider.NewCustom(s, cfg.ValidScopes, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.AuthCodeTTL)

	switch cfg.Provider {
	case "custom":
		return custom, custom, nil, nil
	case "google":
		up := upstream.NewGoogle(cfg.ClientID, cfg.ClientSecret, cfg.IssuerURL+"/oauth/google/callback")
		fed := federated.New("google", "Google", up, custom)
		return fed, nil, fed, nil
	case "azure":
		up := upstream.NewAzure(cfg.ClientID, cfg.ClientSecret, cfg.IssuerURL+"/oauth/azure/callback", cfg.TenantID)
		fed := federated.New("azure", "Microsoft", up, custom)
		return fed, nil, fed, nil
	default:
		return nil, nil, nil, errors.New("unknown provider type: " + cfg.Provider)
	}
}
