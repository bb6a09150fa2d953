package identity

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// TokenFromRequest extracts the bearer token. When allowQuery is set the token query
// parameter is accepted as well, which browsers need for WebSocket upgrades.
func TokenFromRequest(r *http.Request, allowQuery bool) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if allowQuery {
			if t := r.URL.Query().Get("token"); t != "" {
				return t, nil
			}
		}
		return "", errors.New("Authorization header required")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("Invalid authorization format. Use: Bearer <token>")
	}
	return strings.TrimSpace(token), nil
}

// Middleware authenticates every request with v and stores the user in the request
// context. Unauthenticated requests get a 401 with a JSON error body.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := TokenFromRequest(r, false)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}
			user, err := v.Verify(r.Context(), token)
			if err != nil {
				unauthorized(w, strings.TrimPrefix(err.Error(), ErrUnauthenticated.Error()+": "))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": "unauthenticated"})
}
