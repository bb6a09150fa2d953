package hydra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hydranotes/hydra/pkg/identity"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the HTTP handler.
//
// Health:
//
//	GET    /health, /api/health          - service health, no auth
//	GET    /metrics                      - Prometheus metrics, no auth
//	POST   /api/auth/logout              - acknowledge sign-out, no auth
//
// Authenticated (Bearer token):
//
//	GET    /api/auth/me                  - current user
//	POST   /api/auth/verify              - confirm token after sign-in
//	GET    /api/blocks                   - list blocks (parent_id, limit, offset)
//	POST   /api/blocks                   - create block
//	GET    /api/blocks/events            - change feed (WebSocket, token query allowed)
//	GET    /api/blocks/{id}              - get block
//	PATCH  /api/blocks/{id}              - update block
//	DELETE /api/blocks/{id}              - delete block and its subtree
//	GET    /api/blocks/{id}/tree         - block with descendants (max_depth)
//	GET    /api/blocks/{id}/children     - direct children
//	POST   /api/blocks/{id}/move         - move block
func (a *App) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(a.instrument)

	router.HandleFunc("/health", a.handleHealth).Methods("GET")
	router.HandleFunc("/api/health", a.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/api/auth/logout", a.handleLogout).Methods("POST")

	// The change feed authenticates on its own so browsers can pass the token as a
	// query parameter. It must be registered before /blocks/{id}.
	router.Handle("/api/blocks/events", a.hub.Handler(a.verifier, a.config.AllowedOrigins())).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(identity.Middleware(a.verifier))

	api.HandleFunc("/auth/me", a.handleMe).Methods("GET")
	api.HandleFunc("/auth/verify", a.handleVerify).Methods("POST")

	api.HandleFunc("/blocks", a.handleListBlocks).Methods("GET")
	api.HandleFunc("/blocks", a.handleCreateBlock).Methods("POST")
	api.HandleFunc("/blocks/{id}", a.handleGetBlock).Methods("GET")
	api.HandleFunc("/blocks/{id}", a.handleUpdateBlock).Methods("PATCH")
	api.HandleFunc("/blocks/{id}", a.handleDeleteBlock).Methods("DELETE")
	api.HandleFunc("/blocks/{id}/tree", a.handleGetBlockTree).Methods("GET")
	api.HandleFunc("/blocks/{id}/children", a.handleGetChildren).Methods("GET")
	api.HandleFunc("/blocks/{id}/move", a.handleMoveBlock).Methods("POST")

	return cors(a.config.AllowedOrigins(), router)
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests for at most
// the configured shutdown timeout.
func (a *App) Run(ctx context.Context, cmd *RunCommand) error {
	port := a.config.Server.Port
	if cmd.Port != "" {
		port = cmd.Port
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.log.Info().
		Str("addr", server.Addr).
		Str("store", a.config.Store.Backend).
		Bool("read_only", a.IsReadOnly()).
		Msg("starting hydra server")

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutting down server")
		timeout := a.config.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}
