/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterConfig binds feature toggles that live behind external
// collaborators (spec.md §1 compression/rate-limit middleware) without
// this package implementing their bodies.
type RouterConfig struct {
	EnableCompression bool
	EnableRateLimit   bool
	CORSAllowedOrigins []string
}

// NewRouter builds the chi router for the /api/v1 surface plus
// health/ready/metrics, wiring RequireBearerToken on every route except
// auth and the health/ops endpoints.
func NewRouter(h *Handler, verifier TokenVerifier, cfg RouterConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(RequestLogger(logger))

	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Compression and rate-limiting are external collaborators
	// (spec.md §1); EnableCompression/EnableRateLimit are carried in
	// RouterConfig but not read here, and no compression or rate-limit
	// middleware is installed.

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/auth/login", h.Login)

		api.Group(func(protected chi.Router) {
			protected.Use(RequireBearerToken(verifier))

			protected.Post("/logs", h.SubmitLog)
			protected.Post("/logs/bulk", h.SubmitBulk)
			protected.Get("/logs/search", h.Search)
			protected.Get("/logs/summary/{agent_id}", h.Summary)
			protected.Get("/logs/{agent_id}/{step_id}", h.QueryStep)
			protected.Put("/logs/{agent_id}/{step_id}", h.UpdateReview)
			protected.Get("/logs/{agent_id}", h.QueryByAgent)
		})
	})

	return r
}
