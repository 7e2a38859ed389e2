package api

import (
	"context"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestGetAuthUserID_RoundTripsThroughContext(t *testing.T) {
	userID := uuid.New()
	ctx := context.WithValue(context.Background(), authUserIDKey, userID)

	got, ok := GetAuthUserID(ctx)
	if !ok || got != userID {
		t.Fatalf("expected %s from context, got %s (ok=%v)", userID, got, ok)
	}

	if _, ok := GetAuthUserID(context.Background()); ok {
		t.Fatal("expected missing user id on empty context")
	}
}

func TestGetAuthRole_RoundTripsThroughContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), authRoleKey, "freelancer")

	role, ok := GetAuthRole(ctx)
	if !ok || role != "freelancer" {
		t.Fatalf("expected freelancer role, got %q (ok=%v)", role, ok)
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name string
		role string
		want int
	}{
		{name: "admin passes", role: "admin", want: http.StatusOK},
		{name: "client rejected", role: "client", want: http.StatusForbidden},
		{name: "freelancer rejected", role: "freelancer", want: http.StatusForbidden},
		{name: "missing role rejected", role: "", want: http.StatusForbidden},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/consistency/validate", nil)
			if tc.role != "" {
				req = req.WithContext(context.WithValue(req.Context(), authRoleKey, tc.role))
			}

			recorder := httptest.NewRecorder()
			RequireAdmin(next).ServeHTTP(recorder, req)
			if recorder.Code != tc.want {
				t.Fatalf("expected status %d for role %q, got %d", tc.want, tc.role, recorder.Code)
			}
		})
	}
}

func TestAuthMiddleware_RejectsMissingOrMalformedHeader(t *testing.T) {
	handler := AuthMiddleware("http://localhost/jwks")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a valid token")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "not bearer", header: "Basic dXNlcjpwYXNz"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/payments/history", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, req)
			if recorder.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", recorder.Code)
			}
		})
	}
}

func TestParseRSAPublicKey_StandardExponent(t *testing.T) {
	// 65537 encoded as AQAB, modulus is an arbitrary base64url value.
	key, err := parseRSAPublicKey("sXchDaQebHnPiGvyDOAT4saGEUetSyo9MKLOoWFsueri23bOdgWp4Dy1Wl", "AQAB")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", key)
	}
	if pub.E != 65537 {
		t.Fatalf("expected exponent 65537, got %d", pub.E)
	}
	if pub.N.Sign() <= 0 {
		t.Fatal("expected positive modulus")
	}
}

func TestParseRSAPublicKey_RejectsBadEncoding(t *testing.T) {
	if _, err := parseRSAPublicKey("not base64!!", "AQAB"); err == nil {
		t.Fatal("expected error for invalid modulus encoding")
	}
	if _, err := parseRSAPublicKey("AQAB", "not base64!!"); err == nil {
		t.Fatal("expected error for invalid exponent encoding")
	}
}
