// headers.go — декорирование успешных ответов публичной выдачи.
// Для 2xx под /dl/ и /watch/ добавляет Cache-Control (если обработчик его
// не задал) и X-Content-Type-Options: nosniff.
package middleware

import (
	"net/http"
	"strings"
)

// publicCacheControl — Cache-Control по умолчанию для публичной выдачи.
const publicCacheControl = "public, max-age=86400"

// decoratedPrefixes — пути, ответы которых декорируются.
var decoratedPrefixes = []string{"/dl/", "/watch/"}

// headersResponseWriter добавляет заголовки перед отправкой статуса.
type headersResponseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (rw *headersResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
		if code >= 200 && code < 300 {
			h := rw.Header()
			if h.Get("Cache-Control") == "" {
				h.Set("Cache-Control", publicCacheControl)
			}
			h.Set("X-Content-Type-Options", "nosniff")
		}
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *headersResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *headersResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// PublicHeaders возвращает middleware декорирования ответов /dl/ и /watch/.
func PublicHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range decoratedPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(&headersResponseWriter{ResponseWriter: w}, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
