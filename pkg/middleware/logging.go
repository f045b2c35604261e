// Package middleware provides HTTP middleware for the facilitator server:
// request logging and per-IP rate limiting.
package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// ResponseRecorder wraps http.ResponseWriter to capture the status code
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode int
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{
		ResponseWriter: w,
		StatusCode:     200,
	}
}

func (r *ResponseRecorder) WriteHeader(statusCode int) {
	r.StatusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// LoggingMiddleware logs requests in a single line (like nginx)
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := NewResponseRecorder(w)
		next.ServeHTTP(recorder, r)

		log.Printf("%s %s %d %s %s",
			r.Method,
			r.URL.Path,
			recorder.StatusCode,
			time.Since(start),
			r.RemoteAddr,
		)
	})
}

// StructuredLoggingMiddleware logs in JSON format
func StructuredLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := NewResponseRecorder(w)
		next.ServeHTTP(recorder, r)

		// Metadata only, never bodies: payment payloads carry signatures
		logEntry := map[string]interface{}{
			"timestamp":      start.Format(time.RFC3339),
			"method":         r.Method,
			"path":           r.URL.Path,
			"status":         recorder.StatusCode,
			"duration_ms":    time.Since(start).Milliseconds(),
			"remote_addr":    r.RemoteAddr,
			"user_agent":     r.UserAgent(),
			"content_length": r.ContentLength,
		}

		logJSON, _ := json.Marshal(logEntry)
		log.Println(string(logJSON))
	})
}
