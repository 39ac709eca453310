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

// Command auditloadtest drives POST /api/v1/logs against a running
// auditlogd instance at a configurable rate, logging in once and
// reusing the issued bearer token for every submitted log.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/pkg/shared/logging"
)

type options struct {
	baseURL    string
	username   string
	password   string
	rate       float64
	duration   time.Duration
	agentCount int
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.baseURL, "url", "http://localhost:8080", "auditlogd base URL")
	flag.StringVar(&o.username, "username", "admin", "login username")
	flag.StringVar(&o.password, "password", "", "login password")
	flag.Float64Var(&o.rate, "rate", 10, "logs submitted per second")
	flag.DurationVar(&o.duration, "duration", time.Minute, "how long to run")
	flag.IntVar(&o.agentCount, "agents", 5, "distinct synthetic agent IDs to rotate through")
	flag.Parse()
	return o
}

type loginResponse struct {
	Token string `json:"token"`
}

func login(ctx context.Context, client *http.Client, o options) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": o.username, "password": o.password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: status %d", resp.StatusCode)
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return lr.Token, nil
}

func syntheticLog(seq int64, agentCount int) map[string]interface{} {
	agentID := fmt.Sprintf("loadtest-agent-%d", seq%int64(agentCount))
	return map[string]interface{}{
		"agentId":   agentID,
		"stepId":    seq,
		"inputData": map[string]interface{}{"prompt": "synthetic load-test input"},
		"output":    map[string]interface{}{"result": "synthetic load-test output"},
		"reasoning": "generated by auditloadtest to exercise ingestion under load",
	}
}

func submit(ctx context.Context, client *http.Client, o options, token string, seq int64) error {
	body, _ := json.Marshal(syntheticLog(seq, o.agentCount))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/v1/logs", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	o := parseFlags()
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "auditloadtest:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 10 * time.Second}
	token, err := login(ctx, client, o)
	if err != nil {
		logger.Fatal("login failed", zap.Error(err))
	}

	interval := time.Duration(float64(time.Second) / o.rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.After(o.duration)
	var sent, failed int64

	logger.Info("load test starting", logging.NewFields().Component("auditloadtest").
		Custom("rate", o.rate).Custom("duration", o.duration.String()).ToZap()...)

	for {
		select {
		case <-ctx.Done():
			report(logger, &sent, &failed)
			return
		case <-deadline:
			report(logger, &sent, &failed)
			return
		case <-ticker.C:
			seq := atomic.AddInt64(&sent, 1)
			if err := submit(ctx, client, o, token, seq); err != nil {
				atomic.AddInt64(&failed, 1)
				logger.Warn("submit failed", zap.Error(err), zap.Int64("seq", seq))
			}
		}
	}
}

func report(logger *zap.Logger, sent, failed *int64) {
	logger.Info("load test finished", logging.NewFields().Component("auditloadtest").
		Custom("sent", atomic.LoadInt64(sent)).Custom("failed", atomic.LoadInt64(failed)).ToZap()...)
}
