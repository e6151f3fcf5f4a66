package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var pass = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func call(h http.Handler, target string, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestAPIKey_ModeNone_PassesThrough(t *testing.T) {
	h := APIKey("none", "X-API-Key", "secret", pass)
	if code := call(h, "/api/v1/health", nil); code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", code)
	}
}

func TestAPIKey_EmptyKey_PassesThrough(t *testing.T) {
	h := APIKey(ModeAPIKey, "X-API-Key", "", pass)
	if code := call(h, "/api/v1/health", nil); code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", code)
	}
}

func TestAPIKey(t *testing.T) {
	h := APIKey(ModeAPIKey, "X-API-Key", "supersecret", pass)
	cases := []struct {
		name    string
		target  string
		headers map[string]string
		want    int
	}{
		{"correct header", "/api/v1/health", map[string]string{"X-API-Key": "supersecret"}, http.StatusNoContent},
		{"header case-insensitive", "/api/v1/health", map[string]string{"x-api-key": "supersecret"}, http.StatusNoContent},
		{"query param", "/ws?api_key=supersecret", nil, http.StatusNoContent},
		{"wrong key", "/api/v1/health", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"wrong header name", "/api/v1/health", map[string]string{"Authorization": "supersecret"}, http.StatusUnauthorized},
		{"missing", "/api/v1/health", nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code := call(h, tc.target, tc.headers); code != tc.want {
				t.Errorf("status = %d, want %d", code, tc.want)
			}
		})
	}
}

func TestEnforced(t *testing.T) {
	cases := []struct {
		mode, key string
		want      bool
	}{
		{ModeAPIKey, "secret", true},
		{ModeAPIKey, "", false},
		{"none", "secret", false},
		{"", "", false},
	}
	for _, tc := range cases {
		if got := Enforced(tc.mode, tc.key); got != tc.want {
			t.Errorf("Enforced(%q, %q) = %v, want %v", tc.mode, tc.key, got, tc.want)
		}
	}
}
