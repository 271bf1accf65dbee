package app

import (
	"log/slog"
	"os"

	"github.com/shandysiswandi/courier/internal/delivery"
)

func (a *App) initModules() {
	if a.config.GetBool("modules.delivery.enabled") {
		if err := delivery.New(delivery.Dependency{
			Ctx:         a.ctx,
			DBConn:      a.dbConn,
			Queue:       a.queue,
			Providers:   a.providers,
			Storage:     a.storage,
			Renderer:    a.renderer,
			Idempotency: a.idemp,
			Config:      a.config,
			Instrument:  a.ins,
			UID:         a.uid,
			UUID:        a.uuid,
			Clock:       a.clock,
			Goroutine:   a.goroutine,
			Validator:   a.validator,
		}); err != nil {
			slog.Error("failed to init module delivery", "error", err)
			os.Exit(1)
		}
	}
}
