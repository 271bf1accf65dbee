package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shandysiswandi/courier/internal/delivery/outbound/provider"
	"github.com/shandysiswandi/courier/internal/pkg/clock"
	"github.com/shandysiswandi/courier/internal/pkg/config"
	"github.com/shandysiswandi/courier/internal/pkg/goroutine"
	"github.com/shandysiswandi/courier/internal/pkg/idempotency"
	"github.com/shandysiswandi/courier/internal/pkg/instrument"
	"github.com/shandysiswandi/courier/internal/pkg/queue"
	"github.com/shandysiswandi/courier/internal/pkg/render"
	"github.com/shandysiswandi/courier/internal/pkg/storage"
	"github.com/shandysiswandi/courier/internal/pkg/uid"
	"github.com/shandysiswandi/courier/internal/pkg/validator"
)

// App wires dependencies and manages service lifecycle.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	// configuration
	config config.Config
	ins    instrument.Instrumentation

	// libraries
	goroutine *goroutine.Manager
	validator validator.Validator
	clock     clock.Clocker
	uid       uid.NumberID
	uuid      uid.StringID

	// resources
	dbConn    *pgxpool.Pool
	cacheConn *redis.Client
	idemp     idempotency.Idempotency
	queue     queue.Gateway
	storage   storage.Storage
	providers *provider.Registry
	renderer  render.Renderer

	//
	closers []struct {
		name string
		fn   func(context.Context) error
	}
}

// New initializes the application with default wiring and returns an App instance.
func New() *App {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		ctx:    ctx,
		cancel: cancel,
	}

	app.initConfig()
	app.initInstrument()
	app.initLibraries()
	app.initDatabase()
	app.initCache()
	app.initQueue()
	app.initStorage()
	app.initProviders()
	app.initRenderer()
	app.initModules()
	app.initClosers()

	return app
}
