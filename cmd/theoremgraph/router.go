package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/brunobiangulo/theoremgraph"
)

// newRouter builds the HTTP API around engine.
func newRouter(engine theoremgraph.Engine, sc theoremgraph.ServerConfig) http.Handler {
	h := newHandler(engine, sc.UploadDir, sc.IngestRoots)
	collector := engine.Metrics()

	r := chi.NewRouter()

	// Middleware chain: recovery -> request id -> cors -> metrics -> logging -> routes
	r.Use(recoveryMiddleware)
	r.Use(chimiddleware.RequestID)
	if len(sc.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   sc.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(collector.Middleware)
	r.Use(logMiddleware)

	r.Get("/health", h.handleHealth)
	if collector != nil {
		r.Handle("/metrics", collector.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", h.handleQuery)
		r.Post("/ingest", h.handleIngest)
		r.Get("/stats", h.handleStats)

		r.Get("/theorems/search", h.handleSearch)
		r.Get("/theorems/{name}", h.handleTheorem)
		r.Get("/theorems/{name}/prerequisites", h.handlePrerequisites)
		r.Get("/subjects/{subject}/theorems", h.handleBySubject)
		r.Get("/domains/{domain}/theorems", h.handleByDomain)
	})
	return r
}
