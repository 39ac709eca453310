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

// Command auditlogd wires the Store, Event Bus, Audit Service, Log
// Worker, Notifier, and HTTP API into one process, the way the
// teacher's cmd/<service> binaries wire their own components together.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/internal/audit"
	"github.com/jordigilh/auditlog/internal/authtoken"
	"github.com/jordigilh/auditlog/internal/bus"
	"github.com/jordigilh/auditlog/internal/config"
	"github.com/jordigilh/auditlog/internal/httpapi"
	"github.com/jordigilh/auditlog/internal/notifier"
	"github.com/jordigilh/auditlog/internal/notifier/adapter"
	"github.com/jordigilh/auditlog/internal/store"
	"github.com/jordigilh/auditlog/internal/store/migrations"
	"github.com/jordigilh/auditlog/internal/worker"
	"github.com/jordigilh/auditlog/pkg/shared/logging"
)

// maxRecentKeys bounds the Worker's idempotency set. The DedupSet is an
// LRU over event IDs, not a time window, so it is sized independently
// of the configured dedup TTL.
const maxRecentKeys = 50000

// egressSubjects is the stream's full subject list: ingress, outcome,
// and DLQ mirrors, plus the audit window-finalization broadcast.
func egressSubjects() []string {
	base := []string{
		bus.SubjectLogsCreate, bus.SubjectLogsBulk, bus.SubjectLogsUpdate,
		bus.SubjectLogsCreated, bus.SubjectLogsBulkCreated, bus.SubjectLogsUpdated,
		bus.SubjectAuditWindowFinalized,
	}
	out := make([]string, 0, len(base)*2)
	for _, s := range base {
		out = append(out, s, bus.DLQSubject(s))
	}
	return out
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "auditlogd:", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := sql.Open("pgx", cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer sqlDB.Close()
	if err := migrations.Up(sqlDB); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	db := sqlx.NewDb(sqlDB, "pgx")
	repo := store.NewPostgresRepository(db, logger)

	natsBus, err := bus.NewNATSBus(cfg.BusURL, bus.Config{
		StreamName: "AUDITLOG",
		Subjects:   egressSubjects(),
	}, logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer natsBus.Close()

	auditSvc := audit.NewService(cfg.MerkleWindowSize, logger)
	w := worker.New(repo, auditSvc, natsBus, maxRecentKeys, logger)
	if err := w.Run(ctx, natsBus, cfg.MaxDeliver); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	hub := notifier.NewHub(cfg.RoomMemberCap, logger)
	var fanout adapter.Adapter
	if cfg.AdapterURL != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.AdapterURL})
		fanout = adapter.NewRedisAdapter(client, logger)
	} else {
		fanout = adapter.NewLocalAdapter()
	}
	defer fanout.Close()
	n := notifier.New(hub, fanout, logger)
	if err := n.Run(ctx, natsBus, cfg.MaxDeliver); err != nil {
		return fmt.Errorf("start notifier: %w", err)
	}

	issuer := authtoken.NewIssuer(cfg.TokenSecret, cfg.TokenExpiry)
	creds := authtoken.StaticCredentials{
		"admin": {Password: cfg.TokenSecret, Roles: []string{"auditor", "admin"}},
	}
	handler := httpapi.NewHandler(repo, natsBus, issuer, creds, cfg.TokenExpiry, logger)
	router := httpapi.NewRouter(handler, issuer, httpapi.RouterConfig{
		EnableCompression: cfg.EnableCompression,
		EnableRateLimit:   cfg.EnableRateLimit,
	}, logger)

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	notifierMux := http.NewServeMux()
	notifierMux.HandleFunc("/ws", notifier.ServeWS(hub, logger))
	wsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.NotifierPort),
		Handler:           notifierMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http api listening", logging.NewFields().Component("cmd").Custom("addr", apiServer.Addr).ToZap()...)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Info("notifier ws listening", logging.NewFields().Component("cmd").Custom("addr", wsServer.Addr).ToZap()...)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("notifier server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = wsServer.Shutdown(shutdownCtx)
	return nil
}
