package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseAllowedOrigins(t *testing.T) {
	got := ParseAllowedOrigins(" https://school.example/ ,https://other.example,, ")
	if len(got) != 2 {
		t.Fatalf("expected 2 origins, got %v", got)
	}
	if _, ok := got["https://school.example"]; !ok {
		t.Error("trailing slash should be trimmed")
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(ParseAllowedOrigins("https://school.example"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantOrigin string
		wantStatus int
	}{
		{"allowed origin", http.MethodGet, "https://school.example", "https://school.example", http.StatusOK},
		{"localhost", http.MethodGet, "http://localhost:5173", "http://localhost:5173", http.StatusOK},
		{"loopback", http.MethodGet, "http://127.0.0.1:8080", "http://127.0.0.1:8080", http.StatusOK},
		{"lookalike host", http.MethodGet, "http://localhost.evil.example", "", http.StatusOK},
		{"unknown origin", http.MethodGet, "https://evil.example", "", http.StatusOK},
		{"preflight", http.MethodOptions, "https://school.example", "https://school.example", http.StatusNoContent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/v1/students", nil)
			req.Header.Set("Origin", tc.origin)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tc.wantOrigin)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options")
	}
	if w.Header().Get("Permissions-Policy") != "camera=(self)" {
		t.Error("missing Permissions-Policy")
	}
}
