package apiclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/aussiebroadwan/livecenter/pkg/apiclient"
	"github.com/aussiebroadwan/livecenter/pkg/apierr"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	testBaseURL = "https://api.example.com/api/v1"
	testRoute   = "/pages/room/detail"
	// Shape-valid token; the dispatcher never decodes it.
	testToken = "eyJhbGciOiJIUzI1NiJ9.eyJ1c2VyX2lkIjoxfQ.sig"
)

type fakeTransport struct {
	mu     sync.Mutex
	calls  []*apiclient.Request
	handle func(ctx context.Context, n int, req *apiclient.Request) (*apiclient.Response, error)
}

func (f *fakeTransport) Do(ctx context.Context, req *apiclient.Request) (*apiclient.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()

	return f.handle(ctx, n, req)
}

func (f *fakeTransport) Calls() []*apiclient.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*apiclient.Request(nil), f.calls...)
}

func respond(status int, body string) func(context.Context, int, *apiclient.Request) (*apiclient.Response, error) {
	return func(context.Context, int, *apiclient.Request) (*apiclient.Response, error) {
		return &apiclient.Response{Status: status, Header: http.Header{}, Body: []byte(body)}, nil
	}
}

var errRefused = &apiclient.TransportError{Reason: apierr.ReasonConnection, Err: syscall.ECONNREFUSED}

type fakeSession struct {
	mu      sync.Mutex
	token   string
	targets []string
}

func (s *fakeSession) Token(context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *fakeSession) ForceReauthenticate(_ context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.targets = append(s.targets, target)
	return nil
}

func (s *fakeSession) Targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.targets...)
}

type staticRoute string

func (r staticRoute) CurrentRoute() string { return string(r) }

type staticCSRF string

func (c staticCSRF) CSRFToken(*url.URL) string { return string(c) }

func newDispatcher(t *testing.T, tr apiclient.Transport, mutate func(*apiclient.Options)) *apiclient.Dispatcher {
	t.Helper()

	opts := apiclient.Options{
		BaseURL:   testBaseURL,
		Transport: tr,
		Routes:    staticRoute(testRoute),
		Backoff:   time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}

	d, err := apiclient.New(opts)
	require.NoError(t, err)
	return d
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := apiclient.New(apiclient.Options{})
	require.Error(t, err)
}

func TestURLResolution(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		path  string
		query url.Values
		want  string
	}{
		{"relative with slash", testBaseURL, "/rooms", nil, testBaseURL + "/rooms"},
		{"relative without slash", testBaseURL, "rooms", nil, testBaseURL + "/rooms"},
		{"base with trailing slashes", testBaseURL + "//", "//rooms", nil, testBaseURL + "/rooms"},
		{"absolute http", testBaseURL, "http://other.example.com/x", nil, "http://other.example.com/x"},
		{"absolute https", testBaseURL, "https://other.example.com/y?a=1", nil, "https://other.example.com/y?a=1"},
		{"query", testBaseURL, "/rooms", url.Values{"page": {"2"}}, testBaseURL + "/rooms?page=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{handle: respond(http.StatusOK, "")}
			d := newDispatcher(t, tr, func(o *apiclient.Options) { o.BaseURL = tt.base })

			_, err := d.Dispatch(context.Background(), apiclient.Descriptor{URL: tt.path, Method: http.MethodGet, Query: tt.query})
			require.NoError(t, err)
			require.Len(t, tr.Calls(), 1)
			require.Equal(t, tt.want, tr.Calls()[0].URL)
		})
	}
}

func TestHeaders(t *testing.T) {
	ctx := context.Background()

	t.Run("token csrf and request id", func(t *testing.T) {
		tr := &fakeTransport{handle: respond(http.StatusOK, "")}
		d := newDispatcher(t, tr, func(o *apiclient.Options) {
			o.Session = &fakeSession{token: testToken}
			o.CSRF = staticCSRF("csrf-value")
		})

		_, err := d.Dispatch(ctx, apiclient.Descriptor{
			URL:    "/rooms",
			Method: http.MethodPost,
			Header: http.Header{"X-Client": {"cli"}},
		})
		require.NoError(t, err)

		h := tr.Calls()[0].Header
		require.Equal(t, "application/json", h.Get(apiclient.HeaderContentType))
		require.Equal(t, "Bearer "+testToken, h.Get(apiclient.HeaderAuthorization))
		require.Equal(t, "csrf-value", h.Get(apiclient.HeaderCSRF))
		require.Equal(t, "cli", h.Get("X-Client"))
		require.Len(t, h.Get(apiclient.HeaderRequestID), 26)
	})

	t.Run("malformed token is not attached", func(t *testing.T) {
		for _, token := range []string{"", "abc", "a.b", "a.b.c.d"} {
			tr := &fakeTransport{handle: respond(http.StatusOK, "")}
			d := newDispatcher(t, tr, func(o *apiclient.Options) { o.Session = &fakeSession{token: token} })

			_, err := d.Get(ctx, "/rooms", nil)
			require.NoError(t, err)
			require.Empty(t, tr.Calls()[0].Header.Get(apiclient.HeaderAuthorization), token)
		}
	})

	t.Run("auth flag without a session token", func(t *testing.T) {
		for name, session := range map[string]apiclient.Session{
			"no session":    nil,
			"empty session": &fakeSession{},
		} {
			tr := &fakeTransport{handle: respond(http.StatusOK, "")}
			d := newDispatcher(t, tr, func(o *apiclient.Options) { o.Session = session })

			_, err := d.Dispatch(ctx, apiclient.Descriptor{URL: "/rooms", Method: http.MethodGet, Auth: true})
			require.NoError(t, err, name)
			require.Len(t, tr.Calls(), 1, name)
			require.Empty(t, tr.Calls()[0].Header.Get(apiclient.HeaderAuthorization), name)
		}
	})

	t.Run("token attached without auth flag", func(t *testing.T) {
		tr := &fakeTransport{handle: respond(http.StatusOK, "")}
		d := newDispatcher(t, tr, func(o *apiclient.Options) { o.Session = &fakeSession{token: testToken} })

		_, err := d.Dispatch(ctx, apiclient.Descriptor{URL: "/public/rooms", Method: http.MethodGet})
		require.NoError(t, err)
		require.Equal(t, "Bearer "+testToken, tr.Calls()[0].Header.Get(apiclient.HeaderAuthorization))
	})

	t.Run("descriptor may override content type", func(t *testing.T) {
		tr := &fakeTransport{handle: respond(http.StatusOK, "")}
		d := newDispatcher(t, tr, nil)

		_, err := d.Dispatch(ctx, apiclient.Descriptor{
			URL:    "/upload",
			Method: http.MethodPut,
			Header: http.Header{"Content-Type": {"text/plain"}},
			Body:   []byte("raw"),
		})
		require.NoError(t, err)
		require.Equal(t, "text/plain", tr.Calls()[0].Header.Get(apiclient.HeaderContentType))
		require.Equal(t, []byte("raw"), tr.Calls()[0].Body)
	})

	t.Run("json body", func(t *testing.T) {
		tr := &fakeTransport{handle: respond(http.StatusCreated, "")}
		d := newDispatcher(t, tr, nil)

		_, err := d.Post(ctx, "/rooms", map[string]string{"name": "main hall"})
		require.NoError(t, err)
		require.JSONEq(t, `{"name":"main hall"}`, string(tr.Calls()[0].Body))
	})
}

func TestRoomsRetriedUntilSuccess(t *testing.T) {
	tr := &fakeTransport{handle: func(_ context.Context, n int, _ *apiclient.Request) (*apiclient.Response, error) {
		if n <= 2 {
			return nil, errRefused
		}
		return &apiclient.Response{Status: http.StatusOK, Body: []byte(`[{"id":1}]`)}, nil
	}}
	d := newDispatcher(t, tr, nil)

	resp, err := d.Dispatch(context.Background(), apiclient.Descriptor{URL: "/rooms", Method: http.MethodGet, RetryBudget: 3})
	require.NoError(t, err)
	require.Equal(t, `[{"id":1}]`, string(resp.Body))

	calls := tr.Calls()
	require.Len(t, calls, 3)

	// One logical request, one id.
	id := calls[0].Header.Get(apiclient.HeaderRequestID)
	for _, c := range calls {
		require.Equal(t, id, c.Header.Get(apiclient.HeaderRequestID))
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	tr := &fakeTransport{handle: func(context.Context, int, *apiclient.Request) (*apiclient.Response, error) {
		return nil, errRefused
	}}
	d := newDispatcher(t, tr, nil)

	_, err := d.Get(context.Background(), "/rooms", nil)
	require.ErrorIs(t, err, apierr.ErrNetworkFailure)

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.ReasonConnection, apiErr.Reason)
	require.Equal(t, apierr.MsgNetworkConnection, apiErr.Message)
	require.Len(t, tr.Calls(), apiclient.DefaultReadRetries+1)
}

func TestReadRetriesConfig(t *testing.T) {
	failing := func(context.Context, int, *apiclient.Request) (*apiclient.Response, error) { return nil, errRefused }

	tr := &fakeTransport{handle: failing}
	d := newDispatcher(t, tr, func(o *apiclient.Options) { o.ReadRetries = -1 })
	_, err := d.Get(context.Background(), "/rooms", nil)
	require.Error(t, err)
	require.Len(t, tr.Calls(), 1)

	tr = &fakeTransport{handle: failing}
	d = newDispatcher(t, tr, func(o *apiclient.Options) { o.ReadRetries = 1 })
	_, err = d.Get(context.Background(), "/rooms", nil)
	require.Error(t, err)
	require.Len(t, tr.Calls(), 2)
}

func TestWritesAreNotRetried(t *testing.T) {
	ctx := context.Background()

	verbs := map[string]func(d *apiclient.Dispatcher) error{
		"POST": func(d *apiclient.Dispatcher) error { _, err := d.Post(ctx, "/rooms", nil); return err },
		"PUT": func(d *apiclient.Dispatcher) error {
			_, err := d.Put(ctx, "/rooms/1", map[string]int{"capacity": 10})
			return err
		},
		"PATCH":  func(d *apiclient.Dispatcher) error { _, err := d.Patch(ctx, "/rooms/1", nil); return err },
		"DELETE": func(d *apiclient.Dispatcher) error { _, err := d.Delete(ctx, "/rooms/1"); return err },
	}

	for verb, call := range verbs {
		t.Run(verb, func(t *testing.T) {
			tr := &fakeTransport{handle: func(context.Context, int, *apiclient.Request) (*apiclient.Response, error) {
				return nil, errRefused
			}}
			d := newDispatcher(t, tr, nil)

			err := call(d)
			require.ErrorIs(t, err, apierr.ErrNetworkFailure)
			require.Len(t, tr.Calls(), 1)
			require.Equal(t, verb, tr.Calls()[0].Method)
		})
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status  int
		kind    apierr.Kind
		message string
	}{
		{http.StatusForbidden, apierr.KindForbidden, apierr.MsgForbidden},
		{http.StatusNotFound, apierr.KindNotFound, apierr.MsgNotFound},
		{http.StatusConflict, apierr.KindClientError, "request error: 409"},
		{http.StatusUnprocessableEntity, apierr.KindClientError, "request error: 422"},
		{http.StatusInternalServerError, apierr.KindServerError, "server error: 500"},
		{http.StatusServiceUnavailable, apierr.KindServerError, "server error: 503"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			tr := &fakeTransport{handle: respond(tt.status, `{"detail":"nope"}`)}
			session := &fakeSession{token: testToken}
			d := newDispatcher(t, tr, func(o *apiclient.Options) { o.Session = session })

			_, err := d.Get(context.Background(), "/rooms", nil)

			var apiErr *apierr.Error
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tt.kind, apiErr.Kind)
			require.Equal(t, tt.message, apiErr.Message)
			require.Equal(t, tt.status, apiErr.Status)
			require.Equal(t, `{"detail":"nope"}`, apiErr.Detail)

			// Statuses are never retried and never touch the session.
			require.Len(t, tr.Calls(), 1)
			require.Empty(t, session.Targets())
		})
	}
}

func TestUnauthorizedForcesReauthentication(t *testing.T) {
	tr := &fakeTransport{handle: respond(http.StatusUnauthorized, "")}
	session := &fakeSession{token: testToken}
	d := newDispatcher(t, tr, func(o *apiclient.Options) { o.Session = session })

	_, err := d.Get(context.Background(), "/rooms", nil)
	require.ErrorIs(t, err, apierr.ErrUnauthorized)
	require.Equal(t, apierr.MsgUnauthorized, err.(*apierr.Error).Message)
	require.Equal(t, []string{testRoute}, session.Targets())
	require.Len(t, tr.Calls(), 1)
}

func TestTimeout(t *testing.T) {
	t.Run("late result is discarded", func(t *testing.T) {
		late := make(chan struct{})
		tr := &fakeTransport{handle: func(context.Context, int, *apiclient.Request) (*apiclient.Response, error) {
			defer close(late)
			time.Sleep(50 * time.Millisecond)
			return &apiclient.Response{Status: http.StatusUnauthorized}, nil
		}}
		session := &fakeSession{token: testToken}
		d := newDispatcher(t, tr, func(o *apiclient.Options) { o.Session = session })

		_, err := d.Dispatch(context.Background(), apiclient.Descriptor{
			URL:         "/rooms",
			Method:      http.MethodGet,
			RetryBudget: 3,
			Timeout:     5 * time.Millisecond,
		})
		require.ErrorIs(t, err, apierr.ErrTimeout)
		require.Equal(t, apierr.MsgTimeout, err.(*apierr.Error).Message)

		<-late
		time.Sleep(10 * time.Millisecond)

		require.Len(t, tr.Calls(), 1)
		require.Empty(t, session.Targets())
	})

	t.Run("attempt context is canceled", func(t *testing.T) {
		canceled := make(chan error, 1)
		tr := &fakeTransport{handle: func(ctx context.Context, _ int, _ *apiclient.Request) (*apiclient.Response, error) {
			<-ctx.Done()
			canceled <- ctx.Err()
			return nil, ctx.Err()
		}}
		d := newDispatcher(t, tr, func(o *apiclient.Options) { o.DefaultTimeout = 5 * time.Millisecond })

		_, err := d.Get(context.Background(), "/rooms", nil)
		require.ErrorIs(t, err, apierr.ErrTimeout)

		select {
		case err := <-canceled:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("attempt context was not canceled")
		}
	})
}

func TestCallerCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &fakeTransport{handle: func(context.Context, int, *apiclient.Request) (*apiclient.Response, error) {
		cancel()
		return nil, errRefused
	}}
	d := newDispatcher(t, tr, nil)

	_, err := d.Get(ctx, "/rooms", nil)

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.KindNetworkFailure, apiErr.Kind)
	require.Equal(t, apierr.ReasonCanceled, apiErr.Reason)
	require.False(t, apiErr.Retryable())
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, tr.Calls(), 1)
}

func TestCallerDeadlineIsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	tr := &fakeTransport{handle: func(ctx context.Context, _ int, _ *apiclient.Request) (*apiclient.Response, error) {
		<-ctx.Done()
		return nil, &apiclient.TransportError{Reason: apierr.ReasonTimeout, Err: ctx.Err()}
	}}
	d := newDispatcher(t, tr, nil)

	_, err := d.Get(ctx, "/rooms", nil)

	require.ErrorIs(t, err, apierr.ErrTimeout)
	require.Equal(t, apierr.MsgTimeout, err.(*apierr.Error).Message)
	require.Len(t, tr.Calls(), 1)
}

func TestCanceledTransportIsNotRetried(t *testing.T) {
	tr := &fakeTransport{handle: func(context.Context, int, *apiclient.Request) (*apiclient.Response, error) {
		return nil, &apiclient.TransportError{Reason: apierr.ReasonCanceled, Err: errors.New("aborted")}
	}}
	d := newDispatcher(t, tr, nil)

	_, err := d.Get(context.Background(), "/rooms", nil)
	require.ErrorIs(t, err, apierr.ErrNetworkFailure)
	require.Len(t, tr.Calls(), 1)
}

func TestInvalidDescriptor(t *testing.T) {
	tests := []struct {
		name string
		desc apiclient.Descriptor
	}{
		{"unknown method", apiclient.Descriptor{URL: "/rooms", Method: "FETCH"}},
		{"negative budget", apiclient.Descriptor{URL: "/rooms", Method: http.MethodGet, RetryBudget: -1}},
		{"unencodable body", apiclient.Descriptor{URL: "/rooms", Method: http.MethodPost, Body: make(chan int)}},
		{"bad url", apiclient.Descriptor{URL: "http://[::1", Method: http.MethodGet}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{handle: respond(http.StatusOK, "")}
			d := newDispatcher(t, tr, nil)

			_, err := d.Dispatch(context.Background(), tt.desc)
			require.ErrorIs(t, err, apierr.ErrClientError)
			require.Empty(t, tr.Calls())
		})
	}
}

func TestDo(t *testing.T) {
	type room struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	ctx := context.Background()
	desc := apiclient.Descriptor{URL: "/rooms", Method: http.MethodGet}

	t.Run("decodes", func(t *testing.T) {
		d := newDispatcher(t, &fakeTransport{handle: respond(http.StatusOK, `[{"id":1,"name":"hall"}]`)}, nil)
		rooms, err := apiclient.Do[[]room](ctx, d, desc)
		require.NoError(t, err)
		require.Equal(t, []room{{ID: 1, Name: "hall"}}, rooms)
	})

	t.Run("empty body", func(t *testing.T) {
		d := newDispatcher(t, &fakeTransport{handle: respond(http.StatusNoContent, "")}, nil)
		r, err := apiclient.Do[*room](ctx, d, desc)
		require.NoError(t, err)
		require.Nil(t, r)
	})

	t.Run("bad json is not classified", func(t *testing.T) {
		d := newDispatcher(t, &fakeTransport{handle: respond(http.StatusOK, `{`)}, nil)
		_, err := apiclient.Do[room](ctx, d, desc)
		require.Error(t, err)
		require.Equal(t, apierr.Kind(""), apierr.KindOf(err))
	})

	t.Run("propagates classified error", func(t *testing.T) {
		d := newDispatcher(t, &fakeTransport{handle: respond(http.StatusNotFound, "")}, nil)
		_, err := apiclient.Do[room](ctx, d, desc)
		require.ErrorIs(t, err, apierr.ErrNotFound)
	})
}

func TestRetryLimiter(t *testing.T) {
	require.Nil(t, apiclient.NewRetryLimiter(apiclient.RetryLimit{}))

	l := apiclient.NewRetryLimiter(apiclient.RetryLimit{RetriesPerWindow: 10, Window: time.Second})
	require.NotNil(t, l)
	require.Equal(t, 10, l.Burst())
	require.InDelta(t, 10.0, float64(l.Limit()), 0.001)

	t.Run("shared limiter throttles retries", func(t *testing.T) {
		tr := &fakeTransport{handle: func(context.Context, int, *apiclient.Request) (*apiclient.Response, error) {
			return nil, errRefused
		}}
		d := newDispatcher(t, tr, func(o *apiclient.Options) {
			o.RetryLimiter = rate.NewLimiter(rate.Every(time.Hour), 1)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := d.Get(ctx, "/rooms", nil)

		// The second retry would wait an hour, past the caller's deadline.
		require.ErrorIs(t, err, apierr.ErrTimeout)
		require.Less(t, time.Since(start), 150*time.Millisecond)

		// First retry spends the only token.
		require.Len(t, tr.Calls(), 2)
	})
}
