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
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/internal/authtoken"
	"github.com/jordigilh/auditlog/pkg/shared/logging"
)

type claimsKey struct{}

// ClaimsFromContext returns the authenticated caller's claims, if the
// request passed through RequireBearerToken.
func ClaimsFromContext(ctx context.Context) (*authtoken.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*authtoken.Claims)
	return c, ok
}

// RequireBearerToken rejects any request without a valid "Authorization:
// Bearer <token>" header, verified through the injected TokenVerifier.
// All non-auth, non-health routes require this (spec.md §6).
func RequireBearerToken(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				WriteProblem(w, NewAuthProblem(http.StatusUnauthorized, "missing bearer token"))
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				WriteProblem(w, NewAuthProblem(http.StatusUnauthorized, "invalid or expired token"))
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger logs one structured line per request: method, path,
// status, and duration, following the teacher's HTTPFields convention.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			requestsTotal.WithLabelValues(r.URL.Path, statusClass(sw.status)).Inc()
			logger.Info("http request",
				logging.HTTPFields(r.Method, r.URL.Path, sw.status).Duration(time.Since(start)).ToZap()...)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
