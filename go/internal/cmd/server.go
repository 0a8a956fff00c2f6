package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/draftroom/go/internal/draft/pick"
)

func setupServer(services *Services) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Grpc-Status", "Grpc-Message", "X-Error-Code"},
	})
	r.Use(c.Handler)

	// Register services
	registerServices(r, services)

	// Add health check and metrics endpoints
	setupHealthCheck(r, services)

	// Setup HTTP/2 server so Connect clients can use h2c
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", getEnv("PORT", "8080")),
		Handler:           h2c.NewHandler(r, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func registerServices(r chi.Router, services *Services) {
	// Connect procedures authenticate from request headers themselves.
	pickServicePath, pickServiceHandler := pick.NewRPCHandler(services.PickApp, services.Authn)
	r.Mount(pickServicePath, pickServiceHandler)

	// WebSocket viewers pass their token as a query parameter.
	services.WebSocket.RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(services.Authn.Middleware)
		services.Picks.RegisterRoutes(r)
		services.Drafts.RegisterRoutes(r)
	})
}

func setupHealthCheck(r chi.Router, services *Services) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", services.Metrics.Handler())
}
