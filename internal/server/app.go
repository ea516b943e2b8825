// Package server assembles the auth service: it opens the credential store,
// runs migrations, builds the session services, and serves the HTTP API and
// the internal gRPC listener until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/Anthony-Michael/replyrocket-auth/internal/cryptox"
	"github.com/Anthony-Michael/replyrocket-auth/internal/logging"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/auth"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/config"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/httpapi"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/metrics"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/ratelimit"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/repositories/repomanager"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/services"
	"github.com/Anthony-Michael/replyrocket-auth/internal/telemetry"
	"github.com/Anthony-Michael/replyrocket-auth/internal/timex"

	gs "github.com/Anthony-Michael/replyrocket-auth/internal/server/grpc"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	redis   *redis.Client
	handler *httpapi.Handler
	http    *http.Server
	grpc    *gs.GRPCServer
	tracer  telemetry.ShutdownFunc
}

// NewApp connects to the database, applies migrations, and wires every
// component. Close releases what NewApp opened.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogLevel, c.LogFormat, os.Stdout).With("service", c.ServiceName)
	app := &App{config: c, logger: logger}

	tracer, err := telemetry.InitTracer(ctx, c.ServiceName, string(c.Environment), c.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("tracer init error: %w", err)
	}
	app.tracer = tracer

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN, repomanager.PoolOptions{
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: c.DBConnMaxLifetime,
	})
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		app.Close(ctx)
		return nil, err
	}

	core := NewCore(c, db, rm, timex.SystemClock{}, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if c.Environment == config.EnvProduction || c.Environment == config.EnvStaging {
		gin.SetMode(gin.ReleaseMode)
	}

	app.handler = httpapi.NewHandler(httpapi.Deps{
		Sessions: core.Sessions,
		Guard:    core.Guard,
		Cookies:  httpapi.NewCookieTransport(c.Environment, c.AccessTokenValidityDuration, c.RefreshTokenValidityDuration),
		Limiter:  app.newLimiter(),
		Metrics:  metrics.New(reg),
		DB:       db,
		Clock:    core.Clock,
		Logger:   logger,
	})

	app.http = &http.Server{
		Addr:              c.EndpointAddrHTTP,
		Handler:           httpapi.NewRouter(app.handler, c.ServiceName, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	app.grpc = gs.NewGRPCServer(c.EndpointAddrGRPC, core.Guard, logger)

	return app, nil
}

// Core is the credential subsystem without its transports. authctl builds
// one too.
type Core struct {
	Clock    timex.Clock
	Codec    *auth.Codec
	Ledger   *services.Ledger
	Sessions *services.SessionService
	Guard    *services.Guard
}

func NewCore(c *config.Config, db *sql.DB, rm repomanager.RepositoryManager, clock timex.Clock, logger logging.Logger) *Core {
	codec := auth.NewCodec([]byte(c.SecretKey), c.Issuer, clock)
	ledger := services.NewLedger(rm, clock, logger)

	return &Core{
		Clock:  clock,
		Codec:  codec,
		Ledger: ledger,
		Sessions: services.NewSessionService(services.SessionDeps{
			DB:                  db,
			Repos:               rm,
			Ledger:              ledger,
			Codec:               codec,
			Issuer:              auth.NewIssuer(codec, clock, c.AccessTokenValidityDuration, c.RefreshTokenValidityDuration),
			Hasher:              cryptox.NewHasher(c.Argon2),
			Clock:               clock,
			Logger:              logger,
			RevokeFamilyOnReuse: c.RevokeFamilyOnReuse,
		}),
		Guard: services.NewGuard(db, rm, codec, logger),
	}
}

// newLimiter picks the login limiter: Redis when an address is configured,
// otherwise a per-process window.
func (app *App) newLimiter() ratelimit.Limiter {
	c := app.config
	switch {
	case c.LoginRateLimit == 0:
		return ratelimit.Unlimited{}
	case c.RedisAddr != "":
		app.redis = redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		return ratelimit.NewRedis(app.redis, c.LoginRateLimit, c.LoginRateWindow, c.RedisPrefix)
	default:
		return ratelimit.NewMemory(c.LoginRateLimit, c.LoginRateWindow)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	app.logger.Info(ctx, "Starting HTTP server", "address", app.http.Addr)
	if err := app.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "http server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpc.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server failed", "error", err)
		cancelFunc()
	}
}

// Run serves until a signal arrives or a listener fails, then drains both
// servers and closes the store.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "environment", string(app.config.Environment))

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	<-ctx.Done()
	app.handler.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	app.logger.Info(shutdownCtx, "Stopping HTTP server...")
	if err := app.http.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "http shutdown", "error", err)
	}

	wg.Wait()
	app.Close(shutdownCtx)
}

// Close releases the store, the Redis client, and the tracer.
func (app *App) Close(ctx context.Context) {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "db close", "error", err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error(ctx, "redis close", "error", err)
		}
	}
	if app.tracer != nil {
		if err := app.tracer(ctx); err != nil {
			app.logger.Error(ctx, "tracer shutdown", "error", err)
		}
	}
}
