// package auth extracts the acting user from a request and exposes the
// capability checks the orchestrator guards depend on. The actor is an
// explicit parameter on every orchestrator call; this package only puts
// it into the request context at the HTTP boundary.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Capability names consumed by the workflow core.
const (
	CapAuthenticated = "authenticated"
	CapApprover      = "approver"
	CapFinance       = "finance"
)

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Capabilities []string `json:"capabilities"`
}

// Has reports whether the actor holds the given capability. Every
// authenticated actor implicitly holds CapAuthenticated.
func (a Actor) Has(capability string) bool {
	if capability == CapAuthenticated && a.ID != "" {
		return true
	}
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

type ctxKey string

const ctxKeyActor ctxKey = "forwarding.actor"

// FromContext returns the Actor stored in the request context. ok is
// false when no authenticated actor is present.
func FromContext(ctx context.Context) (Actor, bool) {
	v := ctx.Value(ctxKeyActor)
	if v == nil {
		return Actor{}, false
	}
	a, ok := v.(Actor)
	return a, ok
}

// WithActor returns a context carrying the actor. Used by the middleware
// and by tests that bypass HTTP.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, a)
}

// claims is the token shape issued by the identity collaborator.
type claims struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

// ParseToken validates an HMAC-signed bearer token and returns the actor
// it describes.
func ParseToken(token, secret string) (Actor, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Actor{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid || c.Subject == "" {
		return Actor{}, fmt.Errorf("invalid token")
	}
	return Actor{ID: c.Subject, Name: c.Name, Capabilities: c.Capabilities}, nil
}

// Middleware authenticates requests via Bearer tokens and stores the
// resulting Actor in the request context. Requests without a valid token
// get 401; capability enforcement happens inside the orchestrator, not
// here, so a failed guard can name what was missing.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			actor, err := ParseToken(strings.TrimSpace(authz[7:]), secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
