package hydra

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/hydranotes/hydra/pkg/identity"
	"github.com/hydranotes/hydra/pkg/metrics"
	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/projection"
	"github.com/hydranotes/hydra/pkg/tree"
)

// Error kinds that do not come from the tree package.
const (
	kindValidation     = "validation_error"
	kindInvalidRequest = "invalid_request"
	kindInternal       = "internal"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, map[string]string{"error": message, "kind": kind})
}

// respondTreeError maps a tree error to its status. Only the error's own message is
// sent; the wrapped cause is logged for store and unknown failures.
func (a *App) respondTreeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := tree.KindOf(err)
	metrics.RecordOperation(op, kind.String())

	var status int
	switch kind {
	case tree.KindNotFound:
		status = http.StatusNotFound
	case tree.KindInvalidReference, tree.KindInvalidOperation:
		status = http.StatusBadRequest
	case tree.KindStoreUnavailable:
		status = http.StatusServiceUnavailable
	default:
		a.log.Error().Err(err).Str("op", op).Str("path", r.URL.Path).Msg("internal error")
		respondError(w, http.StatusInternalServerError, kindInternal, "Internal server error")
		return
	}
	if kind == tree.KindStoreUnavailable {
		a.log.Error().Err(err).Str("op", op).Str("path", r.URL.Path).Msg("store unavailable")
	}

	message := err.Error()
	var te *tree.Error
	if errors.As(err, &te) {
		message = te.Message
	}
	respondError(w, status, kind.String(), message)
}

func respondValidation(w http.ResponseWriter, op string, err error) {
	metrics.RecordOperation(op, kindValidation)
	respondError(w, http.StatusUnprocessableEntity, kindValidation, validationMessage(err))
}

// validationMessage renders validator errors as "field: rule" pairs.
func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), rule))
	}
	return "Invalid request: " + strings.Join(parts, ", ")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, kindInvalidRequest, "Invalid request body")
		return false
	}
	return true
}

// queryInt reads an integer query parameter. An absent parameter yields def.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func caller(r *http.Request) models.UserID {
	user, _ := identity.FromContext(r.Context())
	if user == nil {
		return ""
	}
	return user.ID
}

// Health handler

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"version":   Version,
		"store":     a.config.Store.Backend,
		"read_only": a.IsReadOnly(),
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}

// Auth handlers

func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "Authorization header required")
		return
	}
	respondJSON(w, http.StatusOK, userBody(user))
}

// handleVerify confirms the caller's token after sign-in. A user with no blocks yet
// is reported as new.
func (a *App) handleVerify(w http.ResponseWriter, r *http.Request) {
	const op = "verify"
	user, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "Authorization header required")
		return
	}
	_, total, err := a.manager.ListBlocks(r.Context(), user.ID, tree.ParentFilterAll, 1, 0)
	if err != nil {
		a.respondTreeError(w, r, op, err)
		return
	}
	metrics.RecordOperation(op, "")
	respondJSON(w, http.StatusOK, map[string]any{
		"user":        userBody(user),
		"is_new_user": total == 0,
	})
}

// handleLogout exists for clients that call it. Tokens are stateless, so there is
// nothing to revoke.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func userBody(user *identity.User) map[string]string {
	return map[string]string{
		"id":    user.ID.String(),
		"email": user.Email,
		"name":  user.Name,
	}
}

// Block handlers

func (a *App) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	const op = "list"
	limit, err := queryInt(r, "limit", tree.DefaultListLimit)
	if err != nil {
		respondValidation(w, op, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		respondValidation(w, op, err)
		return
	}
	if offset < 0 {
		respondValidation(w, op, errors.New("offset must be at least 0"))
		return
	}

	blocks, total, err := a.manager.ListBlocks(r.Context(), caller(r), r.URL.Query().Get("parent_id"), limit, offset)
	if err != nil {
		a.respondTreeError(w, r, op, err)
		return
	}
	metrics.RecordOperation(op, "")
	respondJSON(w, http.StatusOK, projection.List(blocks, total))
}

func (a *App) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	const op = "get"
	block, err := a.manager.GetBlock(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		a.respondTreeError(w, r, op, err)
		return
	}
	metrics.RecordOperation(op, "")
	respondJSON(w, http.StatusOK, projection.Block(block))
}

func (a *App) handleGetBlockTree(w http.ResponseWriter, r *http.Request) {
	const op = "tree"
	maxDepth, err := queryInt(r, "max_depth", tree.DefaultTreeDepth)
	if err != nil {
		respondValidation(w, op, err)
		return
	}
	root, descendants, err := a.manager.GetBlockTree(r.Context(), caller(r), mux.Vars(r)["id"], maxDepth)
	if err != nil {
		a.respondTreeError(w, r, op, err)
		return
	}
	metrics.RecordOperation(op, "")
	respondJSON(w, http.StatusOK, projection.Tree(root, descendants))
}

func (a *App) handleGetChildren(w http.ResponseWriter, r *http.Request) {
	const op = "children"
	children, total, err := a.manager.GetChildren(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		a.respondTreeError(w, r, op, err)
		return
	}
	metrics.RecordOperation(op, "")
	respondJSON(w, http.StatusOK, projection.List(children, total))
}

func (a *App) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	const op = "create"
	var req tree.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		respondValidation(w, op, err)
		return
	}

	block, err := a.manager.CreateBlock(r.Context(), caller(r), req)
	if err != nil {
		a.respondTreeError(w, r, op, err)
		return
	}
	metrics.RecordOperation(op, "")
	respondJSON(w, http.StatusCreated, projection.Block(block))
}

func (a *App) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	const op = "update"
	var req tree.UpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		respondValidation(w, op, err)
		return
	}

	block, err := a.manager.UpdateBlock(r.Context(), caller(r), mux.Vars(r)["id"], req)
	if err != nil {
		a.respondTreeError(w, r, op, err)
		return
	}
	metrics.RecordOperation(op, "")
	respondJSON(w, http.StatusOK, projection.Block(block))
}

func (a *App) handleMoveBlock(w http.ResponseWriter, r *http.Request) {
	const op = "move"
	var req tree.MoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		respondValidation(w, op, err)
		return
	}

	block, err := a.manager.MoveBlock(r.Context(), caller(r), mux.Vars(r)["id"], req)
	if err != nil {
		a.respondTreeError(w, r, op, err)
		return
	}
	metrics.RecordOperation(op, "")
	respondJSON(w, http.StatusOK, projection.Block(block))
}

func (a *App) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	const op = "delete"
	if err := a.manager.DeleteBlock(r.Context(), caller(r), mux.Vars(r)["id"]); err != nil {
		a.respondTreeError(w, r, op, err)
		return
	}
	metrics.RecordOperation(op, "")
	w.WriteHeader(http.StatusNoContent)
}
