// middleware.go — HTTP middleware для определения языка.
// Приоритет: query-параметр "lang" → Accept-Language → "fr".
package i18n

import "net/http"

// Middleware помещает язык запроса в контекст.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithLang(r.Context(), detectLanguage(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLanguage(r *http.Request) string {
	if lang := r.URL.Query().Get("lang"); lang == "fr" || lang == "en" {
		return lang
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		return MatchLanguage(accept)
	}
	return DefaultLang
}
