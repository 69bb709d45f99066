package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fount-network/fount/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID tags every request with an identifier, echoes it in the
// response and emits one access log line per request.
type RequestID struct {
	log *logger.Logger
}

func NewRequestID(log *logger.Logger) *RequestID {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &RequestID{log: log}
}

func (m *RequestID) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		m.log.WithFields(map[string]interface{}{
			"requestID": id,
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    rec.status,
			"duration":  time.Since(start).String(),
		}).Info("request handled")
	})
}

// GetRequestID returns the identifier assigned to the request, if any.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
