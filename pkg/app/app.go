// Package app bootstraps an application under test: configuration, logging,
// database, fixture factories and the services bound in its container.
package app

import (
	"context"
	"fmt"
	"net/http"

	graphql "github.com/hasura/go-graphql-client"
	"gorm.io/gorm"

	"github.com/drallgood/apptest/internal/config"
	"github.com/drallgood/apptest/internal/database"
	"github.com/drallgood/apptest/internal/logger"
	"github.com/drallgood/apptest/pkg/container"
	"github.com/drallgood/apptest/pkg/exceptions"
	"github.com/drallgood/apptest/pkg/factory"
	"github.com/drallgood/apptest/pkg/server"
)

// App is a bootstrapped application
type App struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *gorm.DB
	ownsDB    bool
	container *container.Container
	factories *factory.Registry
	server    *server.Server
}

type options struct {
	configFile string
	cfg        *config.Config
	log        *logger.Logger
	db         *gorm.DB
	models     []any
}

// Option configures New
type Option func(*options)

// WithConfigFile loads configuration from path instead of APPTEST_CONFIG
func WithConfigFile(path string) Option {
	return func(o *options) { o.configFile = path }
}

// WithConfig uses cfg as is, skipping file and environment loading
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger uses log instead of the global logger
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithDB uses an existing connection. The caller keeps ownership of it.
func WithDB(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithModels migrates each model and defines a factory for it with no
// defaults. Factories can be redefined later through Factories().
func WithModels(models ...any) Option {
	return func(o *options) { o.models = append(o.models, models...) }
}

// New bootstraps an application
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		loaded, err := config.Load(o.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	log := o.log
	if log == nil {
		logger.Setup(logger.Config{
			Level:  cfg.Logging.Level,
			Format: logger.ParseLogFormat(cfg.Logging.Format),
		})
		log = logger.Get()
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		db:        o.db,
		container: container.New(),
	}

	if a.db == nil {
		db, err := database.Connect(&cfg.Database, log)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.ownsDB = true
	}
	if err := database.Health(ctx, a.db); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.factories = factory.NewRegistry(a.db).WithLogger(log)
	if len(o.models) > 0 {
		if err := a.db.AutoMigrate(o.models...); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to migrate models: %w", err)
		}
		for _, model := range o.models {
			if err := a.factories.RegisterModel(model, nil); err != nil {
				_ = a.Close()
				return nil, err
			}
		}
	}

	a.server = server.New(cfg.Server.Addr, a.container).WithLogger(log)
	a.bind()

	log.Debug("Application bootstrapped", map[string]interface{}{
		"database": string(cfg.Database.Type),
		"models":   len(o.models),
	})
	return a, nil
}

// bind registers the services every application exposes
func (a *App) bind() {
	c := a.container
	container.ProvideInstance(c, a.cfg)
	container.ProvideInstance(c, a.log)
	container.ProvideInstance(c, a.db)
	container.ProvideInstance(c, a.factories)
	container.ProvideInstance(c, a.server)
	container.ProvideInstance[exceptions.Handler](c, exceptions.NewDefaultHandler(a.log, a.cfg.App.Debug))

	container.Provide(c, func(*container.Container) (*http.Client, error) {
		return &http.Client{Timeout: a.cfg.HTTP.Timeout}, nil
	})
	container.Provide(c, func(c *container.Container) (*graphql.Client, error) {
		httpClient, err := container.Resolve[*http.Client](c)
		if err != nil {
			return nil, err
		}
		return graphql.NewClient(a.cfg.HTTP.GraphQLURL, httpClient), nil
	})
}

// Config returns the effective configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// Logger returns the application logger
func (a *App) Logger() *logger.Logger {
	return a.log
}

// Container returns the service container
func (a *App) Container() *container.Container {
	return a.container
}

// Server returns the HTTP server
func (a *App) Server() *server.Server {
	return a.server
}

// DB returns the database connection
func (a *App) DB() *gorm.DB {
	return a.db
}

// Factories returns the fixture factory registry
func (a *App) Factories() *factory.Registry {
	return a.factories
}

// HTTPClient resolves the outbound HTTP client from the container
func (a *App) HTTPClient() (*http.Client, error) {
	return container.Resolve[*http.Client](a.container)
}

// GraphQLClient resolves the GraphQL client from the container
func (a *App) GraphQLClient() (*graphql.Client, error) {
	return container.Resolve[*graphql.Client](a.container)
}

// Close releases the database connection if New opened it
func (a *App) Close() error {
	if !a.ownsDB || a.db == nil {
		return nil
	}
	a.ownsDB = false
	return database.Close(a.db)
}
