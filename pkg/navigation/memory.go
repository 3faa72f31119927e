package navigation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Memory is a Navigator that keeps the route stack in memory. It is used by
// the CLI and by tests; History and Redirects are inspectable.
type Memory struct {
	mu        sync.Mutex
	route     string
	entryURL  string
	history   []string
	redirects []string
}

var (
	_ Navigator      = (*Memory)(nil)
	_ CallbackSource = (*Memory)(nil)
)

// NewMemory starts at route. entryURL is the URL the process was opened with
// and may carry a callback token.
func NewMemory(route, entryURL string) *Memory {
	return &Memory{route: route, entryURL: entryURL}
}

func (m *Memory) CurrentRoute() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.route
}

func (m *Memory) Navigate(_ context.Context, route string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.route = route
	m.history = append(m.history, route)
	return nil
}

func (m *Memory) Redirect(_ context.Context, rawURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.redirects = append(m.redirects, rawURL)
	return nil
}

// CallbackToken returns the token on the entry URL, or "".
func (m *Memory) CallbackToken() string {
	m.mu.Lock()
	entry := m.entryURL
	m.mu.Unlock()

	if entry == "" {
		return ""
	}

	token, err := ParseCallbackToken(entry)
	if err != nil {
		return ""
	}
	return token
}

// SetEntryURL replaces the entry URL, as when a callback lands.
func (m *Memory) SetEntryURL(rawURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entryURL = rawURL
}

// History returns a copy of the in-app navigations so far.
func (m *Memory) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

// Redirects returns a copy of the external redirects so far.
func (m *Memory) Redirects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.redirects...)
}

// Terminal is a Memory navigator for interactive use: external redirects are
// printed so the operator can open them in a browser.
type Terminal struct {
	*Memory

	Out    io.Writer
	Logger *slog.Logger
}

// NewTerminal returns a Terminal writing redirect instructions to out.
func NewTerminal(out io.Writer, logger *slog.Logger, route, entryURL string) *Terminal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Terminal{Memory: NewMemory(route, entryURL), Out: out, Logger: logger}
}

func (t *Terminal) Navigate(ctx context.Context, route string) error {
	t.Logger.Debug("navigate", "route", route)
	return t.Memory.Navigate(ctx, route)
}

func (t *Terminal) Redirect(ctx context.Context, rawURL string) error {
	if err := t.Memory.Redirect(ctx, rawURL); err != nil {
		return err
	}

	t.Logger.Info("redirecting to external page", "url", rawURL)
	_, err := fmt.Fprintf(t.Out, "Open this URL to continue: %s\n", rawURL)
	return err
}
