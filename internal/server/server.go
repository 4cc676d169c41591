// Package server implements the modelgate HTTP server and route multiplexer.
package server

import (
	"context"
	"net/http"

	"github.com/verichain-protocol/modelgate/internal/chunkstore"
	"github.com/verichain-protocol/modelgate/internal/config"
	"github.com/verichain-protocol/modelgate/internal/materialize"
	"github.com/verichain-protocol/modelgate/internal/metadata"
	"github.com/verichain-protocol/modelgate/internal/status"
	"github.com/verichain-protocol/modelgate/internal/upload"
	"github.com/verichain-protocol/modelgate/internal/verify"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the modelgate HTTP server. It exposes the chunked upload,
// verification, and materialization operations over a chi router.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	meta       metadata.SessionStore
	store      chunkstore.Store
	uploads    *upload.Coordinator
	verifier   *verify.Verifier
	machine    *materialize.Machine
	reporter   *status.Reporter
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
	Ready  bool   `json:"ready" doc:"True when the artifact is materialized and ready for inference"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// Deps bundles the injected collaborators for the server.
type Deps struct {
	Meta     metadata.SessionStore
	Store    chunkstore.Store
	Uploads  *upload.Coordinator
	Verifier *verify.Verifier
	Machine  *materialize.Machine
	Reporter *status.Reporter
}

// New creates a new Server with the given configuration and wires up all
// model delivery routes on the chi router with Huma API.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("ModelGate API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:      cfg,
		router:   router,
		api:      api,
		meta:     deps.Meta,
		store:    deps.Store,
		uploads:  deps.Uploads,
		verifier: deps.Verifier,
		machine:  deps.Machine,
		reporter: deps.Reporter,
	}

	s.registerRoutes()
	return s, nil
}

// ListenAndServe starts the HTTP server on the given address.
// Middleware chain: metricsMiddleware -> commonHeaders -> router.
func (s *Server) ListenAndServe(addr string) error {
	var handler http.Handler = s.router
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the fully wrapped HTTP handler. Used by tests that serve
// the API without binding a socket.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// registerRoutes configures all routes on the chi router. Huma routes
// (/health, /docs, /openapi.json) and /metrics are registered first, then
// the explicit model delivery routes.
func (s *Server) registerRoutes() {
	// Register /health via Huma for auto-OpenAPI documentation. Ready means
	// the artifact finished materializing and both stores answer.
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns liveness and whether the model artifact is ready for inference.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: s.healthBody(ctx)}, nil
	})

	// Register HEAD /health separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	// Register /metrics via promhttp.Handler().
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/v1/model", func(r chi.Router) {
		r.Put("/metadata", s.handleUploadMetadata)
		r.Put("/chunks/{index}", s.handleUploadChunk)
		r.Get("/upload-status", s.handleUploadStatus)
		r.Post("/initialization", s.handleStartInitialization)
		r.Post("/initialization/continue", s.handleContinueInitialization)
		r.Get("/initialization", s.handleInitializationStatus)
		r.Post("/verification", s.handleVerify)
		r.Get("/status", s.handlePipelineStatus)
	})
}

// healthBody assembles liveness plus readiness. Store failures degrade
// status but never error the endpoint.
func (s *Server) healthBody(ctx context.Context) HealthBody {
	body := HealthBody{Status: "ok"}

	if err := s.meta.Ping(ctx); err != nil {
		body.Status = "degraded"
		return body
	}
	if err := s.store.HealthCheck(ctx); err != nil {
		body.Status = "degraded"
		return body
	}

	state, err := s.machine.Status(ctx)
	if err == nil && state.Phase == metadata.PhaseCompleted {
		body.Ready = true
	}
	return body
}
