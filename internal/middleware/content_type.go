package middleware

import (
	"mime"
	"net/http"

	"stamp-cli/pkg/httputil"
)

// RequireJSON は状態を変更するリクエストに Content-Type: application/json を要求する。
// 他オリジンのページからはプリフライトなしに送れないリクエストだけを通す。
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			httputil.Error(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "requests that change state must send Content-Type: application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}
