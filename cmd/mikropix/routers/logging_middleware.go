package routers

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rw := &responseWriterWithStatus{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.Int("status", rw.status),
				zap.Duration("latency", time.Since(started)),
			}
			if rw.status >= http.StatusInternalServerError {
				logger.Error("Внутренняя ошибка сервера", fields...)
				return
			}
			logger.Debug("Request served", fields...)
		})
	}
}

type responseWriterWithStatus struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriterWithStatus) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
