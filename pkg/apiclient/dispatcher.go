package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/livecenter/pkg/apierr"
	"github.com/aussiebroadwan/livecenter/pkg/idx"
	"github.com/aussiebroadwan/livecenter/pkg/jwtx"
	"github.com/aussiebroadwan/livecenter/pkg/slogx"
)

// Defaults applied by New when Options leaves them zero.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultReadRetries = 3
	DefaultBackoff     = time.Second
)

// Header names set by the dispatcher.
const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderCSRF          = "X-CSRFToken"
	HeaderRequestID     = "X-Request-ID"
)

// maxDetailBytes bounds the server text kept on classified errors.
const maxDetailBytes = 512

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// errAttemptTimeout marks an attempt settled by its timer.
var errAttemptTimeout = errors.New("apiclient: attempt timed out")

// Descriptor describes one logical request.
type Descriptor struct {
	// URL is absolute (http:// or https://) or a path joined to the base URL.
	URL    string
	Method string
	Query  url.Values

	// Body is sent as JSON. []byte and json.RawMessage are sent verbatim.
	Body   any
	Header http.Header

	// Auth marks an endpoint that needs the session. A well-formed session
	// token is attached whether or not Auth is set; with Auth and no usable
	// token the request is sent without credentials and logged, and the
	// backend's 401 starts reauthentication.
	Auth bool

	// RetryBudget is how many more attempts may follow a transport failure.
	RetryBudget int

	// Timeout bounds each attempt. Zero uses the dispatcher default.
	Timeout time.Duration
}

// Response is a successful (2xx) exchange, or the raw exchange handed back by
// a Transport.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Session is the part of the auth session manager the dispatcher needs.
type Session interface {
	Token(ctx context.Context) string
	ForceReauthenticate(ctx context.Context, target string) error
}

// RouteSource reports the route the user is on, stashed as the post-login
// target when a request comes back 401.
type RouteSource interface {
	CurrentRoute() string
}

// Options configures a Dispatcher. Transport is required.
type Options struct {
	BaseURL   string
	Transport Transport

	// Session may be nil for unauthenticated clients.
	Session Session
	Routes  RouteSource

	// CSRF defaults to Transport when it implements CSRFSource.
	CSRF CSRFSource

	DefaultTimeout time.Duration

	// ReadRetries is the budget Get uses. Zero means DefaultReadRetries,
	// negative disables read retries.
	ReadRetries int

	Backoff time.Duration

	// Jitter adds a random [0, Jitter) delay to each backoff.
	Jitter time.Duration

	// RetryLimiter, when set, is shared by every retry of every request.
	RetryLimiter *rate.Limiter

	Logger *slog.Logger
}

// Dispatcher issues requests to the backend. It holds no mutable state and is
// safe for concurrent use.
type Dispatcher struct {
	baseURL   string
	transport Transport
	session   Session
	routes    RouteSource
	csrf      CSRFSource

	timeout     time.Duration
	readRetries int
	backoff     time.Duration
	jitter      time.Duration
	limiter     *rate.Limiter

	logger *slog.Logger
}

// New creates a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Transport == nil {
		return nil, errors.New("apiclient: transport is required")
	}

	d := &Dispatcher{
		baseURL:     opts.BaseURL,
		transport:   opts.Transport,
		session:     opts.Session,
		routes:      opts.Routes,
		csrf:        opts.CSRF,
		timeout:     opts.DefaultTimeout,
		readRetries: opts.ReadRetries,
		backoff:     opts.Backoff,
		jitter:      opts.Jitter,
		limiter:     opts.RetryLimiter,
		logger:      opts.Logger,
	}

	if d.csrf == nil {
		if src, ok := opts.Transport.(CSRFSource); ok {
			d.csrf = src
		}
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	switch {
	case d.readRetries == 0:
		d.readRetries = DefaultReadRetries
	case d.readRetries < 0:
		d.readRetries = 0
	}
	if d.backoff <= 0 {
		d.backoff = DefaultBackoff
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	return d, nil
}

// ============================================================================
// Dispatch
// ============================================================================

// Dispatch sends desc and returns the 2xx response or an *apierr.Error. A
// descriptor that fails validation is rejected as a client error before the
// transport is touched.
func (d *Dispatcher) Dispatch(ctx context.Context, desc Descriptor) (*Response, error) {
	req, err := d.prepare(ctx, desc)
	if err != nil {
		return nil, err
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}

	reqID := req.Header.Get(HeaderRequestID)
	logger := d.logger.With("req_id", reqID, "method", req.Method, "url", req.URL)
	ctx = slogx.WithContext(ctx, logger)

	budget := desc.RetryBudget
	for attempt := 1; ; attempt++ {
		resp, err := d.attempt(ctx, req, timeout)

		switch {
		case err == nil:
			return d.settle(ctx, resp)
		case errors.Is(err, errAttemptTimeout):
			logger.Warn("request timed out", "attempt", attempt, "timeout", timeout)
			return nil, apierr.Timeout()
		case errors.Is(err, ErrBodyTooLarge):
			logger.Warn("response rejected", "attempt", attempt, "error", err)
			return nil, apierr.Wrap(apierr.KindClientError, apierr.MsgBodyTooLarge, err)
		}

		// Caller gave up: never retry.
		if ctx.Err() != nil {
			return nil, abandoned(ctx)
		}

		failure := apierr.FromTransport(ClassifyError(err), err)
		if !failure.Retryable() || budget <= 0 {
			logger.Warn("request failed", "attempt", attempt, "reason", failure.Reason, "error", err)
			return nil, failure
		}

		budget--
		logger.Debug("retrying request", "attempt", attempt, "reason", failure.Reason, "remaining", budget)

		if err := d.wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, abandoned(ctx)
			}
			// The limiter refuses waits that would outlive the deadline.
			logger.Warn("retry would outlive the request deadline", "error", err)
			return nil, apierr.Timeout()
		}
	}
}

// prepare validates desc and builds the request shared by every attempt.
func (d *Dispatcher) prepare(ctx context.Context, desc Descriptor) (*Request, error) {
	method := strings.ToUpper(desc.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !validMethods[method] {
		return nil, apierr.New(apierr.KindClientError, fmt.Sprintf("invalid request: unsupported method %q", desc.Method))
	}
	if desc.RetryBudget < 0 {
		return nil, apierr.New(apierr.KindClientError, "invalid request: negative retry budget")
	}

	target, err := d.resolve(desc.URL, desc.Query)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindClientError, "invalid request: bad URL", err)
	}

	body, err := encodeBody(desc.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindClientError, "invalid request: body is not JSON encodable", err)
	}

	header := http.Header{}
	header.Set(HeaderContentType, "application/json")
	for k, vs := range desc.Header {
		header.Del(k)
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	if desc.Auth || d.session != nil {
		token := ""
		if d.session != nil {
			token = d.session.Token(ctx)
		}

		switch {
		case jwtx.IsWellFormed(token):
			header.Set(HeaderAuthorization, "Bearer "+token)
		case desc.Auth:
			d.logger.Debug("authenticated request sent without a session token", "url", target.String())
		}
	}

	if d.csrf != nil {
		if csrf := d.csrf.CSRFToken(target); csrf != "" {
			header.Set(HeaderCSRF, csrf)
		}
	}

	header.Set(HeaderRequestID, idx.New().String())

	return &Request{Method: method, URL: target.String(), Header: header, Body: body}, nil
}

type result struct {
	resp *Response
	err  error
}

// attempt runs one exchange raced against timeout. Whichever settles first
// wins; a result arriving after the timer is dropped.
func (d *Dispatcher) attempt(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, 1)
	go func() {
		resp, err := d.transport.Do(actx, req)
		results <- result{resp: resp, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-results:
		if r.err == nil && r.resp == nil {
			return nil, &TransportError{Reason: apierr.ReasonUnknown, Err: errors.New("transport returned no response")}
		}
		return r.resp, r.err
	case <-timer.C:
		return nil, errAttemptTimeout
	case <-ctx.Done():
		return nil, &TransportError{Reason: apierr.ReasonCanceled, Err: ctx.Err()}
	}
}

// settle classifies a response that carries a status.
func (d *Dispatcher) settle(ctx context.Context, resp *Response) (*Response, error) {
	if resp.Status >= 200 && resp.Status < 300 {
		return resp, nil
	}

	logger := slogx.FromContext(ctx)
	failure := apierr.FromStatus(resp.Status, detail(resp.Body))

	if resp.Status == http.StatusUnauthorized {
		route := ""
		if d.routes != nil {
			route = d.routes.CurrentRoute()
		}

		logger.Info("session rejected by backend", "route", route)

		if d.session != nil {
			if err := d.session.ForceReauthenticate(ctx, route); err != nil {
				logger.Error("failed to start reauthentication", "error", err)
			}
		}
		return nil, failure
	}

	logger.Debug("request rejected", "status", resp.Status, "kind", failure.Kind)
	return nil, failure
}

// wait sleeps for the backoff plus jitter, then takes a token from the shared
// retry limiter.
func (d *Dispatcher) wait(ctx context.Context) error {
	delay := d.backoff
	if d.jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(d.jitter)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	return nil
}

// ============================================================================
// Helpers
// ============================================================================

// abandoned classifies a request whose caller context ended: a passed
// deadline is a timeout, anything else a cancellation.
func abandoned(ctx context.Context) *apierr.Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apierr.Timeout()
	}
	return apierr.FromTransport(apierr.ReasonCanceled, ctx.Err())
}

// resolve returns path verbatim when absolute, otherwise joined to the base
// URL with exactly one slash between them.
func (d *Dispatcher) resolve(path string, query url.Values) (*url.URL, error) {
	raw := path
	if !isAbsolute(path) {
		raw = strings.TrimRight(d.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u, nil
}

func isAbsolute(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

func detail(body []byte) string {
	if len(body) > maxDetailBytes {
		body = body[:maxDetailBytes]
	}
	return strings.TrimSpace(string(body))
}
