package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret, subject string, capabilities []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name:         "Test User",
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestParseToken(t *testing.T) {
	signed := mintToken(t, testSecret, "user-1", []string{CapApprover})

	actor, err := ParseToken(signed, testSecret)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.ID != "user-1" || actor.Name != "Test User" {
		t.Fatalf("actor = %+v", actor)
	}
	if !actor.Has(CapApprover) || actor.Has(CapFinance) {
		t.Fatalf("capabilities = %v", actor.Capabilities)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	signed := mintToken(t, "other-secret", "user-1", nil)
	if _, err := ParseToken(signed, testSecret); err == nil {
		t.Fatalf("token signed with the wrong secret must be rejected")
	}
}

func TestParseTokenRequiresSubject(t *testing.T) {
	signed := mintToken(t, testSecret, "", nil)
	if _, err := ParseToken(signed, testSecret); err == nil {
		t.Fatalf("token without a subject must be rejected")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := ParseToken(signed, testSecret); err == nil {
		t.Fatalf("expired token must be rejected")
	}
}

func TestActorHas(t *testing.T) {
	anon := Actor{}
	if anon.Has(CapAuthenticated) {
		t.Fatalf("anonymous actor must not count as authenticated")
	}
	actor := Actor{ID: "user-1"}
	if !actor.Has(CapAuthenticated) {
		t.Fatalf("any identified actor is authenticated")
	}
	if actor.Has(CapFinance) {
		t.Fatalf("capabilities must be explicit")
	}
}

func TestMiddleware(t *testing.T) {
	var got Actor
	handler := Middleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/shipments", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("malformed token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/shipments", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/shipments", nil)
		req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, "user-1", []string{CapFinance}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if got.ID != "user-1" || !got.Has(CapFinance) {
			t.Fatalf("actor from context = %+v", got)
		}
	})
}
