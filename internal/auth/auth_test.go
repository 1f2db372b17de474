package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestVerifier_GenerateAndParse(t *testing.T) {
	v := NewVerifier("test-secret")
	userID := uuid.New()

	token, err := v.Generate(userID, time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	got, err := v.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != userID {
		t.Errorf("expected %s, got %s", userID, got)
	}
}

func TestVerifier_ParseRejects(t *testing.T) {
	v := NewVerifier("test-secret")
	userID := uuid.New()

	expired, _ := v.Generate(userID, -time.Minute)
	foreign, _ := NewVerifier("other-secret").Generate(userID, time.Hour)

	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong secret", foreign},
		{"none algorithm", noneAlg},
		{"non-uuid subject", badSubject},
		{"garbage", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Parse(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestVerifier_FromRequest(t *testing.T) {
	v := NewVerifier("test-secret")
	userID := uuid.New()
	token, _ := v.Generate(userID, time.Hour)

	header := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
	header.Header.Set("Authorization", "Bearer "+token)
	if got, err := v.FromRequest(header); err != nil || got != userID {
		t.Errorf("header token: got %s, %v", got, err)
	}

	query := httptest.NewRequest(http.MethodGet, "/v1/ws?token="+token, nil)
	if got, err := v.FromRequest(query); err != nil || got != userID {
		t.Errorf("query token: got %s, %v", got, err)
	}

	missing := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
	if _, err := v.FromRequest(missing); !errors.Is(err, ErrMissingToken) {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("test-secret")
	userID := uuid.New()
	token, _ := v.Generate(userID, time.Hour)

	var seen uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(v, zap.NewNop())(next)

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if seen != userID {
			t.Errorf("expected user %s in context, got %s", userID, seen)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Errorf("expected problem+json, got %s", ct)
		}
	})
}

func TestUserFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := UserFromContext(req.Context()); ok {
		t.Error("expected no user in bare context")
	}
}
