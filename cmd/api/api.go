package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/farxc/bpc-insight/internal/logger"
	"github.com/farxc/bpc-insight/internal/metrics"
	"github.com/farxc/bpc-insight/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const version = "0.1.0"

type application struct {
	config config
	store  *store.Storage
	logger *logger.Logger
}

type config struct {
	addr         string
	storeBackend string
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.requestLogger)

	// Set a timeout value on the request context (ctx), that will signal
	// through ctx.Done() that the request has timed out and further
	// processing should be stopped.
	r.Use(middleware.Timeout(60 * time.Second))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", app.healthCheckHandler)
		r.Route("/aggregates", func(r chi.Router) {
			r.Get("/", app.handleGetAggregates)
			r.Get("/filters", app.handleGetFilterOptions)
		})
		r.Get("/checkpoint", app.handleGetCheckpoint)
		r.Route("/ingestion", func(r chi.Router) {
			r.Get("/history", app.handleGetIngestionHistory)
		})
	})

	return r
}

// requestLogger logs every request and counts it by route pattern.
func (app *application) requestLogger(next http.Handler) http.Handler {
	const component = "API"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		app.logger.Info(component, "%s %s status=%d bytes=%d duration=%s requestID=%s",
			r.Method, r.URL.RequestURI(), status, ww.BytesWritten(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

func (app *application) run(mux http.Handler) error {
	const component = "API"

	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 120,
		ReadTimeout:  time.Second * 40,
		IdleTimeout:  time.Minute,
	}

	app.logger.Info(component, "Server started on %s", app.config.addr)
	return srv.ListenAndServe()
}
