package shield

import "net/http"

// MaxJSONBody caps request bodies of writes (POST, PUT, PATCH) at maxBytes.
// Reads past the cap fail with *http.MaxBytesError. maxBytes <= 0 disables
// the cap.
func MaxJSONBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
