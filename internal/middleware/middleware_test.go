package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return body
}

func signToken(t *testing.T, key string, claims AdminClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAdminAuth(t *testing.T) {
	auth := NewAdminAuth("signing-key", nil)
	var subject string
	handler := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = AdminSubject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// Missing header.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing token should be 403, got %d", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if body["success"] != false {
		t.Fatalf("rejection should carry the error envelope, got %v", body)
	}

	// Wrong signing key.
	forged := signToken(t, "other-key", AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("forged token should be 403, got %d", rec.Code)
	}

	// Expired token.
	expired := signToken(t, "signing-key", AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	})
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expired token should be 403, got %d", rec.Code)
	}

	// Valid token passes and exposes the subject.
	valid := signToken(t, "signing-key", AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token should pass, got %d: %s", rec.Code, rec.Body.String())
	}
	if subject != "ops" {
		t.Fatalf("subject should be exposed on the context, got %q", subject)
	}
}

func TestAdminAuthDisabledWithoutKey(t *testing.T) {
	auth := NewAdminAuth("", nil)
	handler := auth.Handler(okHandler())

	valid := signToken(t, "", AdminClaims{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin routes without a key are closed, got %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	handler := rl.Handler(okHandler())

	send := func(addr string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/user/create", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// The burst admits two requests, the third is rejected.
	if code := send("10.0.0.1:1111"); code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", code)
	}
	if code := send("10.0.0.1:2222"); code != http.StatusOK {
		t.Fatalf("second request should pass, got %d", code)
	}
	if code := send("10.0.0.1:3333"); code != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited, got %d", code)
	}

	// A different client has its own bucket.
	if code := send("10.0.0.2:1111"); code != http.StatusOK {
		t.Fatalf("other client should pass, got %d", code)
	}
}

func TestRateLimiterEnvelope(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	handler := rl.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/user/create", nil)
	req.RemoteAddr = "10.0.0.3:1111"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	errObj, _ := body["error"].(map[string]interface{})
	if errObj["code"] != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("expected rate limit envelope, got %v", body)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.limiterFor("stale")
	rl.limiters["stale"].lastSeen = time.Now().Add(-time.Hour)
	rl.limiterFor("fresh")

	rl.Cleanup(time.Minute)

	if _, ok := rl.limiters["stale"]; ok {
		t.Fatalf("idle limiter should be pruned")
	}
	if _, ok := rl.limiters["fresh"]; !ok {
		t.Fatalf("active limiter should survive cleanup")
	}
}

func TestRequestID(t *testing.T) {
	m := NewRequestID(nil)
	var seen string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("response should echo a request id")
	}
	if seen != rec.Header().Get("X-Request-ID") {
		t.Fatalf("context id should match the header, got %q vs %q", seen, rec.Header().Get("X-Request-ID"))
	}

	// A caller-provided id is preserved.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "trace-123" {
		t.Fatalf("provided id should be echoed, got %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestCORS(t *testing.T) {
	handler := NewCORS([]string{"*"}).Handler(okHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/resolve/touch", nil)
	req.Header.Set("Origin", "https://app.example.com")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight should short-circuit with 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("wildcard config should reflect the origin, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	restricted := NewCORS([]string{"https://allowed.example.com"}).Handler(okHandler())
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://blocked.example.org")
	restricted.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unlisted origin must not be allowed")
	}
}
