package authsession_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/livecenter/pkg/authsession"
	"github.com/aussiebroadwan/livecenter/pkg/jwtx"
	"github.com/aussiebroadwan/livecenter/pkg/navigation"
	"github.com/aussiebroadwan/livecenter/pkg/storage"
	"github.com/stretchr/testify/require"
)

const (
	testUserID   = "5080c21a-104b-4fe0-8f50-a3168e55c132"
	testLoginURL = "http://localhost:5173/pages/auth/login"
)

var testEpoch = time.Unix(1_735_616_000, 0)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: testEpoch} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mint signs a token issued at iat that lives for ttl.
func mint(t *testing.T, iat time.Time, ttl time.Duration) string {
	t.Helper()

	signer, err := jwtx.NewSignerHS256([]byte("test-secret"))
	require.NoError(t, err)

	token, err := signer.Sign(jwtx.NewAccessClaims(jwtx.AccessClaimsParams{
		UserID:   testUserID,
		Username: "alice",
		Email:    "alice@example.com",
		Role:     "ADMIN",
		TTL:      ttl,
	}, iat))
	require.NoError(t, err)
	return token
}

type fixture struct {
	manager *authsession.Manager
	primary *storage.Memory
	nav     *navigation.Memory
	clock   *clock
}

func newFixture(t *testing.T, mutate func(*authsession.Options)) *fixture {
	t.Helper()

	f := &fixture{
		primary: storage.NewMemory(),
		nav:     navigation.NewMemory("/pages/room/new/RoomList", ""),
		clock:   newClock(),
	}

	opts := authsession.Options{
		Primary:   f.primary,
		Callback:  f.nav,
		Navigator: f.nav,
		LoginURL:  testLoginURL,
		Now:       f.clock.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}

	m, err := authsession.NewManager(opts)
	require.NoError(t, err)
	f.manager = m
	return f
}

func (f *fixture) stored(t *testing.T, key string) string {
	t.Helper()
	v, err := storage.Lookup(context.Background(), f.primary, key)
	require.NoError(t, err)
	return v
}

// brokenStore fails every operation.
type brokenStore struct{}

var errBroken = errors.New("storage unavailable")

func (brokenStore) Get(context.Context, string) (string, error) { return "", errBroken }
func (brokenStore) Set(context.Context, string, string) error   { return errBroken }
func (brokenStore) Remove(context.Context, string) error        { return errBroken }
func (brokenStore) Close() error                                { return nil }

// slowStore holds every write open for delay after it lands.
type slowStore struct {
	storage.Store
	delay time.Duration
}

func (s *slowStore) Set(ctx context.Context, key, value string) error {
	err := s.Store.Set(ctx, key, value)
	time.Sleep(s.delay)
	return err
}
