package i18n

import "net/http"

// Middleware injects a localizer into every request context. The language is
// taken from the lang query parameter, then Accept-Language, then fallback.
func Middleware(fallback string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tag := Match(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), fallback)
			w.Header().Set("Content-Language", tag.String())
			ctx := WithLocalizer(r.Context(), NewLocalizer(tag.String(), fallback))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
