package nonceserver

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/chatauth/internal/ginx"
	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/dmitrijs2005/chatauth/internal/nonce"
	"github.com/dmitrijs2005/chatauth/internal/nonceserver/config"
	"github.com/gin-gonic/gin"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	store     nonce.Store
	authority *nonce.Authority
}

// NewApp opens the configured store. The caller must Close the App.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if c.Env == logging.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "nonce store ready", "store", c.Store, "ttl", c.NonceTTL)

	return &App{
		config:    c,
		logger:    logger,
		store:     store,
		authority: nonce.NewAuthority(store, c.NonceBytes, c.NonceTTL, logger),
	}, nil
}

func openStore(ctx context.Context, c *config.Config) (nonce.Store, error) {
	if c.Store != config.StoreRedis {
		return nonce.NewMemoryStore(), nil
	}
	rs, err := nonce.NewRedisStore(ctx, nonce.RedisOptions{
		Addr:        c.RedisAddr,
		Password:    c.RedisPassword,
		DB:          c.RedisDB,
		DialTimeout: c.RedisDialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// Handler returns the HTTP API of the service.
func (app *App) Handler() (*gin.Engine, error) {
	r, err := ginx.NewRouter(app.logger)
	if err != nil {
		return nil, err
	}
	NewHandler(app.authority, app.logger).Routes(r)
	return r, nil
}

// Run serves until a signal arrives or ctx is cancelled.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	h, err := app.Handler()
	if err != nil {
		return err
	}
	app.logger.Info(ctx, "Starting nonce service...")
	return ginx.Serve(ctx, app.config.HTTPAddr, h, app.logger, app.config.ShutdownTimeout)
}

func (app *App) Close() error {
	return app.store.Close()
}
