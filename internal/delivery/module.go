package delivery

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shandysiswandi/courier/internal/delivery/attachment"
	"github.com/shandysiswandi/courier/internal/delivery/inbound"
	"github.com/shandysiswandi/courier/internal/delivery/outbound/db"
	"github.com/shandysiswandi/courier/internal/delivery/outbound/provider"
	"github.com/shandysiswandi/courier/internal/delivery/usecase"
	"github.com/shandysiswandi/courier/internal/pkg/clock"
	"github.com/shandysiswandi/courier/internal/pkg/config"
	"github.com/shandysiswandi/courier/internal/pkg/goroutine"
	"github.com/shandysiswandi/courier/internal/pkg/idempotency"
	"github.com/shandysiswandi/courier/internal/pkg/instrument"
	"github.com/shandysiswandi/courier/internal/pkg/mimecodec"
	"github.com/shandysiswandi/courier/internal/pkg/queue"
	"github.com/shandysiswandi/courier/internal/pkg/render"
	"github.com/shandysiswandi/courier/internal/pkg/storage"
	"github.com/shandysiswandi/courier/internal/pkg/uid"
	"github.com/shandysiswandi/courier/internal/pkg/validator"
)

type Dependency struct {
	Ctx         context.Context
	DBConn      *pgxpool.Pool
	Queue       queue.Gateway
	Providers   *provider.Registry
	Storage     storage.Storage
	Renderer    render.Renderer
	Idempotency idempotency.Idempotency
	Config      config.Config
	Instrument  instrument.Instrumentation
	UID         uid.NumberID
	UUID        uid.StringID
	Clock       clock.Clocker
	Goroutine   *goroutine.Manager
	Validator   validator.Validator
}

func New(dep Dependency) error {
	dbDelivery := db.NewDB(dep.DBConn, dep.Instrument)

	fetcherOpts := []attachment.FetcherOption{}
	if maxFetch := dep.Config.GetInt64("modules.delivery.attachment.max_fetch_bytes"); maxFetch > 0 {
		fetcherOpts = append(fetcherOpts, attachment.WithMaxFetchSize(maxFetch))
	}
	fetcher := attachment.NewFetcher(fetcherOpts...)

	store := attachment.NewStore(
		dep.Storage,
		dep.Config.GetString("modules.delivery.attachment.bucket"),
		dep.Clock,
	)

	codecOpts := []mimecodec.Option{mimecodec.WithClock(dep.Clock)}
	if maxDecoded := dep.Config.GetInt64("modules.delivery.mime.max_decoded_bytes"); maxDecoded > 0 {
		codecOpts = append(codecOpts, mimecodec.WithMaxDecodedSize(maxDecoded))
	}

	workerID := dep.Config.GetString("app.instance_id")
	if workerID == "" {
		workerID = dep.UUID.Generate()
	}

	uc := usecase.NewDelivery(usecase.Dependency{
		RepoDB:     dbDelivery,
		Gateway:    dep.Queue,
		Providers:  dep.Providers,
		Renderer:   dep.Renderer,
		Fetcher:    fetcher,
		Store:      store,
		Codec:      mimecodec.New(codecOpts...),
		Dedup:      dep.Idempotency,
		Config:     dep.Config,
		UID:        dep.UID,
		UUID:       dep.UUID,
		Clock:      dep.Clock,
		Validator:  dep.Validator,
		Instrument: dep.Instrument,
		WorkerID:   workerID,
	})

	if dep.Ctx != nil {
		inbound.RegisterWorkers(dep.Ctx, dep.Config, dep.Goroutine, uc)
	}

	return nil
}
