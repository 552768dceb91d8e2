package util

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithSecurityHeaders(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		prepare  func(*http.Request)
		wantHSTS bool
	}{
		{name: "plain http", prepare: func(*http.Request) {}},
		{name: "direct tls", prepare: func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, wantHSTS: true},
		{name: "forwarded https", prepare: func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", " HTTPS ") }, wantHSTS: true},
		{name: "forwarded http", prepare: func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "http") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
			tc.prepare(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			// Document listings must never be cached by browsers or proxies.
			for header, want := range map[string]string{
				"Cache-Control":          "no-store",
				"Pragma":                 "no-cache",
				"X-Content-Type-Options": "nosniff",
				"X-Frame-Options":        "DENY",
				"Referrer-Policy":        "no-referrer",
			} {
				if got := rec.Header().Get(header); got != want {
					t.Fatalf("%s = %q, want %q", header, got, want)
				}
			}
			if rec.Header().Get("Content-Security-Policy") == "" || rec.Header().Get("Permissions-Policy") == "" {
				t.Fatalf("expected CSP and permissions policy, got %v", rec.Header())
			}
			if got := rec.Header().Get("Strict-Transport-Security") != ""; got != tc.wantHSTS {
				t.Fatalf("hsts present = %v, want %v", got, tc.wantHSTS)
			}
			if rec.Header().Get("Content-Type") != "application/json" {
				t.Fatalf("handler headers must pass through")
			}
		})
	}
}
