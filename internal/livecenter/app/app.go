package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/livecenter/pkg/apiclient"
	"github.com/aussiebroadwan/livecenter/pkg/authsession"
	"github.com/aussiebroadwan/livecenter/pkg/cryptox"
	"github.com/aussiebroadwan/livecenter/pkg/jwtx"
	"github.com/aussiebroadwan/livecenter/pkg/navigation"
	"github.com/aussiebroadwan/livecenter/pkg/slogx"
	"github.com/aussiebroadwan/livecenter/pkg/storage"
	boltstore "github.com/aussiebroadwan/livecenter/pkg/storage/drivers/bbolt"
	redisstore "github.com/aussiebroadwan/livecenter/pkg/storage/drivers/redis"
	"github.com/aussiebroadwan/livecenter/pkg/storage/drivers/sqlite"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the session manager, the request dispatcher and their
// storage and navigation adapters together.
type Application struct {
	cfg    Config
	logger *slog.Logger
	out    io.Writer

	primary   storage.Store
	alternate storage.Store

	Navigator *navigation.Terminal
	Session   *authsession.Manager
	Client    *apiclient.Dispatcher
	Media     *apiclient.MediaCache

	watcher *authsession.Watcher
}

// New builds the application and restores the session. Terminal output
// (login URLs) goes to out.
func New(ctx context.Context, cfg Config, out io.Writer) (*Application, error) {
	app := &Application{
		cfg: cfg,
		out: out,
		logger: slogx.New(slogx.Config{
			Service: "livecenter",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initStorage(ctx); err != nil {
		return nil, err
	}

	if err := app.initSession(); err != nil {
		_ = app.Close()
		return nil, err
	}

	if err := app.initClient(); err != nil {
		_ = app.Close()
		return nil, err
	}

	if err := app.Session.Initialize(ctx); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	return app, nil
}

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger { return app.logger }

// Run keeps the session watched until a shutdown signal arrives or ctx ends.
func (app *Application) Run(ctx context.Context) error {
	app.startWatcher()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	app.logger.Info("livecenter session watcher running", "interval", app.cfg.ExpiryCheckInterval, "version", BuildVersion)

	select {
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
	case <-ctx.Done():
	}

	return app.Close()
}

// Close stops the watcher and closes the stores.
func (app *Application) Close() error {
	if app.watcher != nil {
		app.watcher.Stop()
		app.watcher = nil
	}

	var errs []error
	if app.alternate != nil {
		errs = append(errs, app.alternate.Close())
		app.alternate = nil
	}
	if app.primary != nil {
		errs = append(errs, app.primary.Close())
		app.primary = nil
	}

	if err := errors.Join(errs...); err != nil {
		app.logger.Error("error closing storage", "error", err)
		return err
	}
	return nil
}

func (app *Application) startWatcher() {
	if app.watcher != nil {
		return
	}
	app.watcher = authsession.NewWatcher(app.Session, app.logger, app.cfg.ExpiryCheckInterval)
	app.watcher.Start()
}

// initStorage opens the primary store and, when configured, the alternate.
func (app *Application) initStorage(ctx context.Context) error {
	primary, err := app.openStore(ctx, app.cfg.StorageDriver, app.cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to open primary storage: %w", err)
	}
	app.primary = primary

	if app.cfg.AltStorageDriver == "" {
		return nil
	}

	alternate, err := app.openStore(ctx, app.cfg.AltStorageDriver, app.cfg.AltStoragePath)
	if err != nil {
		// The alternate source is best effort.
		app.logger.Warn("alternate storage unavailable", "driver", app.cfg.AltStorageDriver, "error", err)
		return nil
	}
	app.alternate = alternate

	return nil
}

func (app *Application) openStore(ctx context.Context, driver, path string) (storage.Store, error) {
	switch driver {
	case DriverSQLite:
		dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
		s, err := sqlite.Open(dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("sqlite storage unreachable: %w", err)
		}
		app.logger.Debug("sqlite storage opened", "path", path)
		return s, nil
	case DriverBolt:
		s, err := boltstore.NewStoreFromFile(path, nil)
		if err != nil {
			return nil, err
		}
		app.logger.Debug("bbolt storage opened", "path", path)
		return s, nil
	case DriverRedis:
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		s, err := redisstore.Dial(dctx, app.cfg.RedisAddr, app.cfg.RedisPrefix, app.cfg.RedisTTL)
		if err != nil {
			return nil, err
		}
		app.logger.Debug("redis storage connected", "addr", app.cfg.RedisAddr)
		return s, nil
	case DriverMemory:
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// initSession builds the navigator, the reauthenticator and the manager.
func (app *Application) initSession() error {
	startRoute := app.cfg.StartRoute
	if startRoute == "" {
		startRoute = app.cfg.DefaultLanding
	}
	app.Navigator = navigation.NewTerminal(app.out, app.logger, startRoute, app.cfg.EntryURL)

	reauth, err := app.reauthenticator()
	if err != nil {
		return err
	}

	m, err := authsession.NewManager(authsession.Options{
		Primary:         app.primary,
		Alternate:       app.alternate,
		Callback:        app.Navigator,
		Navigator:       app.Navigator,
		Reauthenticator: reauth,
		DefaultLanding:  app.cfg.DefaultLanding,
		LoginRoute:      app.cfg.LoginRoute,
		LoginURL:        app.cfg.LoginURL,
		Logger:          app.logger,
		OnStateChange: func(from, to authsession.State) {
			app.logger.Debug("session state changed", "from", from, "to", to)
			// Media fetched for one session is not served to the next.
			if to == authsession.StateUnauthenticated && app.Media != nil {
				app.Media.Purge()
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	app.Session = m

	return nil
}

func (app *Application) reauthenticator() (authsession.Reauthenticator, error) {
	switch app.cfg.AuthMode {
	case AuthModeRedirect:
		return &authsession.LoginRedirect{Navigator: app.Navigator, LoginURL: app.cfg.LoginURL}, nil
	case AuthModeDev:
		secret := app.cfg.DevSecret
		if secret == "" {
			generated, err := cryptox.GenerateToken(cryptox.TokenSize256)
			if err != nil {
				return nil, err
			}
			secret = generated
			app.logger.Warn("no LIVE_DEV_SECRET set, dev tokens will not verify against a backend")
		}

		signer, err := jwtx.NewSignerHS256([]byte(secret))
		if err != nil {
			return nil, err
		}

		app.logger.Warn("dev auth mode enabled, tokens are minted locally", "user_id", app.cfg.DevUserID, "role", app.cfg.DevRole)
		return &authsession.DevMint{
			Signer: signer,
			Params: jwtx.AccessClaimsParams{
				UserID: app.cfg.DevUserID,
				Role:   app.cfg.DevRole,
				TTL:    jwtx.DefaultDevTokenTTL,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", app.cfg.AuthMode)
	}
}

// initClient builds the HTTP transport and dispatcher.
func (app *Application) initClient() error {
	transport, err := apiclient.NewHTTPTransport(app.logger)
	if err != nil {
		return err
	}

	readRetries := app.cfg.ReadRetries
	if readRetries == 0 {
		readRetries = -1
	}

	limiter := apiclient.NewRetryLimiter(apiclient.RetryLimit{
		RetriesPerWindow: app.cfg.RetryRate,
		Window:           time.Minute,
		Burst:            app.cfg.RetryBurst,
	})

	client, err := apiclient.New(apiclient.Options{
		BaseURL:        app.cfg.BaseAPIURL,
		Transport:      transport,
		Session:        app.Session,
		Routes:         app.Navigator,
		DefaultTimeout: app.cfg.APITimeout,
		ReadRetries:    readRetries,
		Backoff:        app.cfg.RetryBackoff,
		Jitter:         app.cfg.RetryJitter,
		RetryLimiter:   limiter,
		Logger:         app.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}
	app.Client = client
	app.Media = apiclient.NewMediaCache(client)

	return nil
}
