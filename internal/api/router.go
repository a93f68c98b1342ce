// Package api serves the gateway's control endpoints under /_gateway and
// hands every other path to the cache coordinator.
package api

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/offlinegate/internal/common"
	"github.com/dmitrijs2005/offlinegate/internal/logging"
	"github.com/dmitrijs2005/offlinegate/internal/queue"
	"github.com/dmitrijs2005/offlinegate/internal/store"
	"github.com/dmitrijs2005/offlinegate/internal/syncer"
	"github.com/dmitrijs2005/offlinegate/internal/worker"
	"github.com/go-chi/chi/v5"
)

// Coordinator is what the control API needs from the cache coordinator.
type Coordinator interface {
	http.Handler
	Status() worker.Status
	Handle(ctx context.Context, m worker.Message) (any, error)
}

// Queue is the offline queue as seen by the control API.
type Queue interface {
	List(ctx context.Context) ([]queue.Action, error)
	Remove(ctx context.Context, id int64) error
	Clear(ctx context.Context) error
}

// Syncer runs drains and reports connectivity.
type Syncer interface {
	Request(ctx context.Context) (queue.DrainResult, error)
	Mode() syncer.Mode
}

// Deps wires the handler.
type Deps struct {
	Coordinator Coordinator
	Queue       Queue
	Syncer      Syncer
	Store       store.Store
	// Stream serves the notification websocket; nil disables the route.
	Stream http.Handler
	Logger logging.Logger
}

// Handler implements the control endpoints.
type Handler struct {
	coord  Coordinator
	queue  Queue
	syncer Syncer
	store  store.Store
	stream http.Handler
	logger logging.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		coord:  d.Coordinator,
		queue:  d.Queue,
		syncer: d.Syncer,
		store:  d.Store,
		stream: d.Stream,
		logger: logger.With("module", "api"),
	}
}

// NewRouter mounts the control routes and sends everything else to the
// coordinator.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(h.logger))

	r.Route(common.ControlPrefix, func(r chi.Router) {
		r.Use(loggingMiddleware(h.logger))

		r.Get("/healthz", h.healthz)
		r.Get("/status", h.status)
		r.Post("/messages", h.postMessage)
		r.Post("/sync", h.sync)

		r.Get("/offline-actions", h.listActions)
		r.Delete("/offline-actions", h.clearActions)
		r.Delete("/offline-actions/{id}", h.removeAction)

		r.Get("/store/{collection}", h.listCollection)
		r.Get("/store/{collection}/{key}", h.getRecord)

		if h.stream != nil {
			r.Get("/notifications/stream", h.stream.ServeHTTP)
		}
	})

	r.Handle("/*", h.coord)
	return r
}
