package admin

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const maxAuditBodyBytes = 1024 // 1KB summary limit

// redactedFields are replaced in audit body summaries.
var redactedFields = []string{"password"}

// AuditMiddleware logs every mutating request (POST, PUT, DELETE) with a
// redacted body summary and the response status.
func AuditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	auditLogger := logger.With("component", "admin_audit")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		requestID := uuid.NewString()
		user, _, _ := r.BasicAuth()

		var bodySummary string
		if r.Body != nil {
			bodyBytes, err := io.ReadAll(r.Body)
			if err == nil {
				bodySummary = summarizeBody(bodyBytes)
				r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			}
		}

		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		auditLogger.Info("admin API audit",
			"request_id", requestID,
			"timestamp", start.UTC().Format(time.RFC3339),
			"user", user,
			"remote_addr", r.RemoteAddr,
			"method", r.Method,
			"path", r.URL.Path,
			"idempotency_key", r.Header.Get("Idempotency-Key"),
			"body_summary", bodySummary,
			"response_status", sw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// summarizeBody redacts secrets of a JSON object body and truncates the
// result to maxAuditBodyBytes.
func summarizeBody(body []byte) string {
	summary := body
	var obj map[string]json.RawMessage
	if json.Unmarshal(body, &obj) == nil {
		redacted := false
		for _, f := range redactedFields {
			if _, ok := obj[f]; ok {
				obj[f] = json.RawMessage(`"***"`)
				redacted = true
			}
		}
		if redacted {
			if out, err := json.Marshal(obj); err == nil {
				summary = out
			}
		}
	}
	if len(summary) > maxAuditBodyBytes {
		return string(summary[:maxAuditBodyBytes]) + "...(truncated)"
	}
	return string(summary)
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.written = true
	}
	return sw.ResponseWriter.Write(b)
}
