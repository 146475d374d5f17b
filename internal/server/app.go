// Package server wires and runs the users service: PostgreSQL storage and
// migrations, the token authority, the HTTP API and the gRPC health endpoint.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/ginx"
	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/dmitrijs2005/chatauth/internal/peer"
	"github.com/dmitrijs2005/chatauth/internal/principal"
	"github.com/dmitrijs2005/chatauth/internal/server/auth"
	"github.com/dmitrijs2005/chatauth/internal/server/config"
	"github.com/dmitrijs2005/chatauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chatauth/internal/server/rest"
	"github.com/dmitrijs2005/chatauth/internal/server/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/chatauth/internal/server/grpc"
)

const dbConnectTimeout = 10 * time.Second

// serviceKeyAlg signs and verifies peer service credentials.
const serviceKeyAlg = "HS256"

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	userService *services.UserService
	resolver    *principal.Resolver
}

// NewApp connects to the database, applies migrations and builds the
// services. The caller must Close the returned App.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if c.Env == logging.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := repomanager.OpenDB(ctx, c.DatabaseDSN, dbConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := build(ctx, c, logger, db)
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return app, nil
}

func build(ctx context.Context, c *config.Config, logger logging.Logger, db *sql.DB) (*App, error) {
	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	key, err := auth.LoadKey(c.JWTAlg, c.JWTSecret, c.JWTPrivateKeyFile, c.JWTPublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("jwt key error: %w", err)
	}

	us, err := services.NewUserService(db, m, auth.NewAuthority(key, c.AccessTokenTTL), c, logger)
	if err != nil {
		return nil, err
	}

	resolver, err := newResolver(c, us, logger)
	if err != nil {
		return nil, err
	}

	return &App{config: c, logger: logger, db: db, userService: us, resolver: resolver}, nil
}

// newResolver accepts user credentials verified locally and, when
// configured, peer service credentials confirmed against the nonce service.
func newResolver(c *config.Config, us *services.UserService, logger logging.Logger) (*principal.Resolver, error) {
	if !c.ServiceCredentialsEnabled() {
		return principal.NewResolver(us, nil, nil, logger), nil
	}

	key, err := auth.NewHMACKey(serviceKeyAlg, []byte(c.ServiceJWTSecret))
	if err != nil {
		return nil, fmt.Errorf("service key error: %w", err)
	}
	nonces := peer.NewNonceClient(peer.Options{
		BaseURL: c.NonceServiceURL,
		Timeout: c.PeerTimeout,
		Logger:  logger,
	})
	return principal.NewResolver(us, auth.NewServiceVerifier(key, c.ServiceTokenMaxTTL), nonces, logger), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves HTTP and gRPC until a signal arrives, ctx is cancelled or one
// of the servers fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	router, err := ginx.NewRouter(app.logger)
	if err != nil {
		return err
	}
	limiter := ginx.NewRateLimiter(app.config.AuthRateLimit, app.config.AuthRateBurst)
	rest.NewHandler(app.userService, app.logger).Routes(router, app.resolver, limiter)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ginx.Serve(ctx, app.config.HTTPAddr, router, app.logger, app.config.ShutdownTimeout)
	})
	g.Go(func() error {
		return gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.resolver, app.userService).Run(ctx)
	})

	err = g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}

// Close releases the database pool.
func (app *App) Close() error {
	return app.db.Close()
}
