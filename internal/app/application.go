package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Guillaume29200/esport-cms/internal/config"
	"github.com/Guillaume29200/esport-cms/internal/events"
	"github.com/Guillaume29200/esport-cms/internal/frontcontroller"
	"github.com/Guillaume29200/esport-cms/internal/httputil"
	"github.com/Guillaume29200/esport-cms/internal/kernel"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/metrics"
	"github.com/Guillaume29200/esport-cms/internal/middleware"
	"github.com/Guillaume29200/esport-cms/internal/module"
	"github.com/Guillaume29200/esport-cms/internal/schema"
	"github.com/Guillaume29200/esport-cms/internal/session"
	"github.com/Guillaume29200/esport-cms/internal/storage"
	"github.com/Guillaume29200/esport-cms/internal/storage/postgres"
	"github.com/Guillaume29200/esport-cms/internal/token"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg *config.Config
	log *logging.Logger

	db    *sqlx.DB
	redis *redis.Client

	metrics    *metrics.Metrics
	journal    *events.RingBuffer
	controller *frontcontroller.Controller
	kernel     *kernel.Kernel
	limiter    *middleware.RateLimiter
	server     *http.Server
}

// New builds the application over catalog. Nothing is booted yet.
func New(cfg *config.Config, catalog *module.Catalog, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.New("cms", cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{
		cfg:        cfg,
		log:        log,
		metrics:    metrics.New(),
		journal:    events.NewRingBuffer(500),
		controller: frontcontroller.New(log),
	}

	var (
		store    storage.ModuleStore = storage.NewMemory()
		migrator schema.Migrator     = schema.Nop{}
	)
	if !cfg.Memory() {
		db, err := openDatabase(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		store = postgres.New(db)
		migrator = schema.NewPostgres(db.DB, log)
	} else {
		log.Warn("no database configured; modules and content live in memory")
	}

	sessions, err := a.openSessions()
	if err != nil {
		a.Close()
		return nil, err
	}

	secret, err := jwtSecret(cfg.Auth.JWTSecret)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn("CMS_JWT_SECRET not set; using a random secret, tokens will not survive a restart")
	}
	tokens, err := token.NewIssuer(secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("configure tokens: %w", err)
	}

	a.kernel, err = kernel.New(kernel.Options{
		Catalog:        catalog,
		Store:          store,
		Migrator:       migrator,
		CoreMigrations: postgres.Migrations(),
		Shared: module.Shared{
			DB:       a.db,
			Sessions: sessions,
			Tokens:   tokens,
		},
		Settings:    cfg.Modules.Settings,
		AutoInstall: cfg.Modules.AutoInstall,
		Logger:      log,
		Events:      a.journal,
		Metrics:     a.metrics,
		Controller:  a.controller,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	a.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

// Kernel exposes the module manager, used by the CLI.
func (a *Application) Kernel() *kernel.Kernel { return a.kernel }

// Events exposes the lifecycle journal.
func (a *Application) Events() events.Journal { return a.journal }

// Handler returns the root HTTP handler.
func (a *Application) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(
		middleware.Recover(a.log),
		middleware.NewTracingMiddleware(a.log).Handler,
		middleware.MetricsMiddleware("cms", a.metrics),
		middleware.NewCORSMiddleware(a.cfg.CORS.AllowedOrigins).Handler,
	)
	if a.cfg.RateLimit.RequestsPerSecond > 0 {
		r.Use(a.limiter.Handler)
	}

	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
	r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(a.controller)
	return r
}

func (a *Application) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status": "ok",
		"kernel": a.kernel.State(),
	}
	if err := a.kernel.Health(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["error"] = err.Error()
	}
	if a.db != nil {
		if err := a.db.PingContext(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unavailable"
			body["database"] = err.Error()
		}
	}
	httputil.WriteJSON(w, status, body)
}

// Run boots the kernel and serves HTTP until ctx is cancelled, then shuts
// down gracefully.
func (a *Application) Run(ctx context.Context) error {
	if err := a.kernel.Boot(ctx); err != nil {
		return fmt.Errorf("boot modules: %w", err)
	}
	a.limiter.StartCleanup(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.Server.Addr).Info("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops the HTTP server, the modules and the backends.
func (a *Application) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := a.server.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("shutdown http server: %w", err)
	}
	if err := a.kernel.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	a.Close()
	return firstErr
}

// Close releases the database and redis connections.
func (a *Application) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
		a.redis = nil
	}
}

func (a *Application) openSessions() (session.Store, error) {
	if a.cfg.Redis.Addr == "" {
		return session.NewMemoryStore(time.Minute), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", a.cfg.Redis.Addr, err)
	}
	a.redis = client
	return session.NewRedisStore(client), nil
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// jwtSecret decodes the configured signing secret. "base64:" and "hex:"
// prefixes select an encoding; anything else is used verbatim. An empty
// value yields a random secret.
func jwtSecret(value string) ([]byte, error) {
	var (
		secret []byte
		err    error
	)
	switch {
	case value == "":
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		return secret, nil
	case strings.HasPrefix(value, "base64:"):
		secret, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "base64:"))
	case strings.HasPrefix(value, "hex:"):
		secret, err = hex.DecodeString(strings.TrimPrefix(value, "hex:"))
	default:
		secret = []byte(value)
	}
	if err != nil {
		return nil, fmt.Errorf("decode jwt secret: %w", err)
	}
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	return secret, nil
}
