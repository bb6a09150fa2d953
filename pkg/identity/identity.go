// Package identity resolves a bearer credential to the user it was issued for.
//
// The resolved user's ID is the owner of every block operation performed on the
// user's behalf. Two verifiers are provided: [JWTVerifier] checks HMAC signed JWTs,
// and [DevVerifier] trusts the token itself as the user id for local development.
package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hydranotes/hydra/pkg/models"
)

// ErrUnauthenticated is wrapped by every verification failure.
var ErrUnauthenticated = errors.New("unauthenticated")

// User is an authenticated caller.
type User struct {
	ID    models.UserID `json:"id"`
	Email string        `json:"email"`
	Name  string        `json:"name,omitempty"`
}

// Verifier turns a bearer token into a user.
type Verifier interface {
	Verify(ctx context.Context, token string) (*User, error)
}

// HMACAlgorithms lists the signing algorithms JWTVerifier and Issuer accept.
var HMACAlgorithms = []string{"HS256", "HS384", "HS512"}

// IsHMAC reports whether alg is one of HMACAlgorithms.
func IsHMAC(alg string) bool {
	return slices.Contains(HMACAlgorithms, alg)
}

// Claims is the JWT payload issued for a user.
type Claims struct {
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

type UserMetadata struct {
	FullName string `json:"full_name,omitempty"`
}

// JWTVerifier validates HMAC signed tokens. The expiry claim is required, the audience
// is not checked.
type JWTVerifier struct {
	secret []byte
	alg    string
	parser *jwt.Parser
}

func NewJWTVerifier(secret, alg string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if !IsHMAC(alg) {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", alg)
	}
	return &JWTVerifier{
		secret: []byte(secret),
		alg:    alg,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{alg}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (*User, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: token has expired", ErrUnauthenticated)
		default:
			return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
		}
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token: missing subject", ErrUnauthenticated)
	}
	return &User{
		ID:    models.UserID(claims.Subject),
		Email: claims.Email,
		Name:  claims.UserMetadata.FullName,
	}, nil
}

// DevVerifier accepts any non-empty token and uses it as the user id.
type DevVerifier struct{}

func (DevVerifier) Verify(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthenticated)
	}
	return &User{ID: models.UserID(token), Email: token + "@dev.local"}, nil
}

// Issuer mints tokens JWTVerifier accepts.
type Issuer struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
}

// NewIssuer creates an issuer. A non-positive ttl defaults to 24 hours.
func NewIssuer(secret, alg string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if !IsHMAC(alg) {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", alg)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{
		secret: []byte(secret),
		method: jwt.GetSigningMethod(alg),
		ttl:    ttl,
	}, nil
}

// Issue signs a token for user, valid from now.
func (i *Issuer) Issue(user User) (string, error) {
	return i.IssueAt(user, time.Now())
}

// IssueAt signs a token for user as if issued at now.
func (i *Issuer) IssueAt(user User, now time.Time) (string, error) {
	claims := Claims{
		Email:        user.Email,
		UserMetadata: UserMetadata{FullName: user.Name},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

type contextKey struct{}

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// FromContext returns the user stored by WithUser.
func FromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(contextKey{}).(*User)
	return u, ok && u != nil
}
