// Package apiclient is the single entry point for calls to the livecenter
// REST backend.
//
// A Dispatcher turns a Descriptor into an HTTP exchange: it resolves the URL
// against the configured base, attaches the JSON content type, the bearer
// token read from the session, the CSRF cookie and a request id, races each
// attempt against a timer, and classifies every failure into an *apierr.Error.
//
// Only transport failures (no HTTP status) are retried, with a fixed backoff
// and per-request budget. Reads default to three retries, writes to none.
// A 401 invalidates the session through Session.ForceReauthenticate before the
// error is returned; concurrent 401s collapse into one reauthentication.
//
//	d, _ := apiclient.New(apiclient.Options{
//		BaseURL:   "https://api.example.com/api/v1",
//		Transport: transport,
//		Session:   manager,
//		Routes:    navigator,
//	})
//
//	rooms, err := apiclient.Do[[]Room](ctx, d, apiclient.Descriptor{
//		URL:         "/rooms",
//		Method:      http.MethodGet,
//		RetryBudget: 3,
//	})
//	if errors.Is(err, apierr.ErrUnauthorized) {
//		// session already cleared, login under way
//	}
package apiclient
