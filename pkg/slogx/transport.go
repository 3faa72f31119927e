package slogx

import (
	"log/slog"
	"net/http"
	"time"
)

// Transport is an http.RoundTripper that logs each outgoing request. It logs
// through the logger carried by the request context when there is one, so
// fields such as req_id follow the request.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Logger: logger}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	logger := t.Logger
	if l, ok := r.Context().Value(ctxKey{}).(*slog.Logger); ok {
		logger = l
	}
	if logger == nil {
		logger = slog.Default()
	}

	resp, err := t.Base.RoundTrip(r)

	attrs := []any{
		"method", r.Method,
		"url", r.URL.Redacted(),
		"duration_ms", time.Since(start).Milliseconds(),
	}

	if err != nil {
		logger.Debug("http_request_failed", append(attrs, "error", err)...)
		return nil, err
	}

	logger.Debug("http_request", append(attrs, "status", resp.StatusCode)...)
	return resp, nil
}
