package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveCORS(origins []string, method, origin string, preflight bool) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	req := httptest.NewRequest(method, "/api/session", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	w := httptest.NewRecorder()
	CORS(origins)(next).ServeHTTP(w, req)
	return w
}

func TestCORSAllowedOrigin(t *testing.T) {
	w := serveCORS([]string{"http://localhost:5173"}, http.MethodGet, "http://localhost:5173", false)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Expected origin echoed, got %q", got)
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected next handler to run, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("Credentials must not be allowed")
	}
}

func TestCORSRejectedOrigin(t *testing.T) {
	w := serveCORS([]string{"http://localhost:5173"}, http.MethodGet, "http://evil.example", false)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS header, got %q", got)
	}
}

func TestCORSWildcard(t *testing.T) {
	w := serveCORS([]string{"*"}, http.MethodGet, "http://anywhere.example", false)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://anywhere.example" {
		t.Errorf("Expected origin echoed, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	w := serveCORS([]string{"*"}, http.MethodOptions, "http://localhost:5173", true)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
}
