// Package auth guards the HTTP API with a static bearer token and scoped
// HS256 tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ScopeRead   = "read"
	ScopeDeploy = "deploy"
)

// Claims carries a space separated scope list, as in OAuth.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Allows reports whether the token grants scope. deploy implies read.
func (c *Claims) Allows(scope string) bool {
	for _, s := range strings.Fields(c.Scope) {
		if s == scope || (s == ScopeDeploy && scope == ScopeRead) {
			return true
		}
	}
	return false
}

// TokenValidator issues and checks HS256 tokens.
type TokenValidator struct {
	secret []byte
	issuer string
}

func NewTokenValidator(secret, issuer string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret), issuer: issuer}
}

// Issue signs a token for subject with the given scope.
func (v *TokenValidator) Issue(subject, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Validate parses tokenString and checks signature, issuer and expiry.
func (v *TokenValidator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithExpirationRequired(), jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

type ctxKey struct{}

// Subject returns the authenticated caller stored by Middleware, if any.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(ctxKey{}).(string)
	return s
}

// public paths never require a token.
var public = map[string]bool{
	"/api/health":  true,
	"/api/version": true,
	"/metrics":     true,
}

// Middleware accepts either the static token (full access) or a signed
// token from v. Read requests need the read scope, anything else needs
// deploy. With neither configured every request passes.
func Middleware(staticToken string, v *TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if (staticToken == "" && v == nil) || public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			token := header[len("Bearer "):]

			if staticToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(staticToken)) == 1 {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, "api-token")))
				return
			}
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			claims, err := v.Validate(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			need := ScopeDeploy
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				need = ScopeRead
			}
			if !claims.Allows(need) {
				http.Error(w, "token lacks "+need+" scope", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims.Subject)))
		})
	}
}
