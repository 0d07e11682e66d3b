// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cwtch-go/core/internal/logger"
	"github.com/cwtch-go/core/internal/metrics"
)

// Server is the health-check HTTP server: /health, /health/live,
// /health/ready, and /health/snapshot (the in-process metrics.Collector
// dump, distinct from the Prometheus /metrics endpoint metrics.StartServer
// exposes separately).
type Server struct {
	checker *Checker
	addr    string
	server  *http.Server
}

// NewServer creates a health server bound to addr (e.g. ":8090").
func NewServer(checker *Checker, addr string) *Server {
	return &Server{checker: checker, addr: addr}
}

// Start registers the handlers and begins serving in the background. It
// returns nil without waiting for the address to bind; a bind or serve
// failure is logged, not returned. Call Stop to shut down.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.HandleFunc("/health/snapshot", s.handleSnapshot)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting health check server", logger.String("addr", s.addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorMsg("health check server exited", logger.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.checker.CheckAll()

	switch status.Status {
	case StatusUnhealthy:
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := s.checker.IsReady()

	response := map[string]any{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := metrics.GlobalCollector().Snapshot()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"uptime": snap.Uptime.String(),
		"handshakes": map[string]int64{
			"started":   snap.HandshakesStarted,
			"succeeded": snap.HandshakesSucceeded,
			"failed":    snap.HandshakesFailed,
		},
		"frames": map[string]int64{
			"sealed":            snap.FramesSealed,
			"opened":            snap.FramesOpened,
			"tamper_detections": snap.TamperDetections,
		},
		"nonce_exhaustions":    snap.NonceExhaustions,
		"avg_handshake_micros": snap.AvgHandshakeMicros,
		"avg_seal_micros":      snap.AvgSealMicros,
	})
}

// StartHealthServer is a convenience constructor+Start in one call.
func StartHealthServer(addr string, checker *Checker) (*Server, error) {
	server := NewServer(checker, addr)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start health server: %w", err)
	}
	return server, nil
}
