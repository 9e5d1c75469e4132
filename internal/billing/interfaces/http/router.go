package http

import (
	"github.com/gorilla/mux"

	"turpe-billing/internal/observability/metrics"
)

// NewRouter mounts the ingest routes behind ingestAuth and the billing
// routes behind apiAuth. Nil middlewares are skipped.
func NewRouter(billingHandler *Handler, ingestHandler *IngestHandler, apiAuth, ingestAuth mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()
	router.Use(metrics.HTTPMiddleware)

	if ingestHandler != nil {
		ingest := router.NewRoute().Subrouter()
		if ingestAuth != nil {
			ingest.Use(ingestAuth)
		}
		ingestHandler.Register(ingest)
	}
	if billingHandler != nil {
		api := router.NewRoute().Subrouter()
		if apiAuth != nil {
			api.Use(apiAuth)
		}
		billingHandler.Register(api)
	}
	return router
}
