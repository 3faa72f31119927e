package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"syscall"

	"golang.org/x/net/publicsuffix"

	"github.com/aussiebroadwan/livecenter/pkg/apierr"
	"github.com/aussiebroadwan/livecenter/pkg/slogx"
)

// CSRFCookieName is the cookie the backend sets with its CSRF token.
const CSRFCookieName = "csrftoken"

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 10 << 20

// ErrBodyTooLarge reports a response body longer than MaxBodyBytes. The
// response is discarded rather than returned cut short.
var ErrBodyTooLarge = errors.New("apiclient: response body too large")

// Request is one fully-resolved HTTP exchange handed to a Transport.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Transport performs a single HTTP exchange. It returns a Response for every
// exchange that produced a status, whatever the status, and a *TransportError
// when none was obtained. A body over the size limit is reported as
// ErrBodyTooLarge.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// CSRFSource looks up the CSRF token to send to u.
type CSRFSource interface {
	CSRFToken(u *url.URL) string
}

// TransportError is a failure that produced no HTTP status.
type TransportError struct {
	Reason apierr.Reason
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Reason, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ============================================================================
// HTTP transport
// ============================================================================

// HTTPTransport runs requests through an *http.Client. The client should not
// set its own Timeout: attempts are timed by the Dispatcher.
type HTTPTransport struct {
	Client       *http.Client
	MaxBodyBytes int64
}

var (
	_ Transport  = (*HTTPTransport)(nil)
	_ CSRFSource = (*HTTPTransport)(nil)
)

// NewHTTPTransport returns a transport with a public-suffix aware cookie jar
// and request logging.
func NewHTTPTransport(logger *slog.Logger) (*HTTPTransport, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &HTTPTransport{
		Client: &http.Client{
			Jar:       jar,
			Transport: slogx.NewTransport(nil, logger),
		},
		MaxBodyBytes: DefaultMaxBodyBytes,
	}, nil
}

func (t *HTTPTransport) Do(ctx context.Context, r *Request) (*Response, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, &TransportError{Reason: ClassifyError(err), Err: err}
	}
	defer resp.Body.Close()

	limit := t.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &TransportError{Reason: ClassifyError(err), Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: status %d, more than %d bytes", ErrBodyTooLarge, resp.StatusCode, limit)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// CSRFToken returns the unescaped csrftoken cookie the jar holds for u.
func (t *HTTPTransport) CSRFToken(u *url.URL) string {
	if t.Client == nil || t.Client.Jar == nil {
		return ""
	}

	for _, c := range t.Client.Jar.Cookies(u) {
		if c.Name != CSRFCookieName {
			continue
		}
		v, err := url.QueryUnescape(c.Value)
		if err != nil {
			return c.Value
		}
		return v
	}

	return ""
}

// ClassifyError maps a transport error onto a structured reason.
func ClassifyError(err error) apierr.Reason {
	if err == nil {
		return apierr.ReasonNone
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Reason
	}

	if errors.Is(err, context.Canceled) {
		return apierr.ReasonCanceled
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "proxyconnect" {
		return apierr.ReasonProxy
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierr.ReasonTimeout
	}

	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return apierr.ReasonConnection
	}

	return apierr.ReasonUnknown
}
