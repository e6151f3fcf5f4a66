package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// ModeAPIKey enables key checking; any other mode passes requests through.
const ModeAPIKey = "apikey"

// Enforced reports whether APIKey will check requests for this mode and key.
func Enforced(mode, key string) bool {
	return mode == ModeAPIKey && key != ""
}

// APIKey wraps next so every request must carry key in header.
//
// If mode != "apikey" or key == "", next is returned unchanged. A missing or
// wrong key gets 401 with a JSON error body. Browsers cannot set headers on
// WebSocket upgrades, so the api_key query parameter is accepted as well.
func APIKey(mode, header, key string, next http.Handler) http.Handler {
	if !Enforced(mode, key) {
		return next
	}
	want := []byte(key)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(header)
		if got == "" {
			got = r.URL.Query().Get("api_key")
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}
