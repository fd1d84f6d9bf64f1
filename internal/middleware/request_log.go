package middleware

import (
	"net/http"
	"time"

	"github.com/chatcore/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path, статус и время выполнения (асинхронно, не блокирует).
// Медленные запросы пишутся на уровне info, остальные только в debug.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		next.ServeHTTP(rw, r)
		if rw.status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s -> %d in %v", r.Method, r.URL.Path, rw.status, time.Since(start))
			return
		}
		logger.LogDuration("http "+r.Method+" "+r.URL.Path, start)
	})
}
