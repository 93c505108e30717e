package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

const filingLogKey contextKey = "filing_log"

// filingLog collects the retrieval attributes a handler only knows after
// decoding its request: which index was addressed and which snapshot
// served it. AccessLog seeds an empty record into the context and reads
// it back once the handler returns.
type filingLog struct {
	ticker      string
	section     string
	contentHash string
	stale       bool
}

// LogFilingKey records the document key a request addressed so the
// access log line can be correlated with one index.
func LogFilingKey(ctx context.Context, ticker, section string) {
	if fl, ok := ctx.Value(filingLogKey).(*filingLog); ok {
		fl.ticker = ticker
		fl.section = section
	}
}

// LogFilingSnapshot records the snapshot that served a query, including
// whether it was a stale fallback.
func LogFilingSnapshot(ctx context.Context, contentHash string, stale bool) {
	if fl, ok := ctx.Value(filingLogKey).(*filingLog); ok {
		fl.contentHash = contentHash
		fl.stale = stale
	}
}

type accessLogEntry struct {
	Timestamp   string `json:"ts"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Status      int    `json:"status"`
	Bytes       int    `json:"bytes"`
	DurationMS  int64  `json:"duration_ms"`
	RequestID   string `json:"request_id,omitempty"`
	Ticker      string `json:"ticker,omitempty"`
	Section     string `json:"section,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Stale       bool   `json:"stale,omitempty"`
	RemoteAddr  string `json:"remote_addr,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// AccessLog emits one structured JSON line per request, carrying the
// document key and served snapshot when the handler reported them.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w}
		fl := &filingLog{}
		ctx := context.WithValue(r.Context(), filingLogKey, fl)

		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}

		entry := accessLogEntry{
			Timestamp:   start.UTC().Format(time.RFC3339Nano),
			Method:      r.Method,
			Path:        r.URL.Path,
			Status:      status,
			Bytes:       rec.bytes,
			DurationMS:  time.Since(start).Milliseconds(),
			RequestID:   GetRequestID(ctx),
			Ticker:      fl.ticker,
			Section:     fl.section,
			ContentHash: fl.contentHash,
			Stale:       fl.stale,
			RemoteAddr:  clientIP(r),
			UserAgent:   r.UserAgent(),
		}

		payload, err := json.Marshal(entry)
		if err != nil {
			log.Printf("access_log_marshal_error: %v", err)
			return
		}
		log.Println(string(payload))
	})
}

// clientIP prefers proxy-forwarded addresses over the socket peer.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
