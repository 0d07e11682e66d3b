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

// Package health exposes liveness/readiness/status HTTP endpoints for the
// cwtchcore daemon: whether the process is up, whether it is ready to
// accept peer connections, and a lightweight JSON snapshot of the
// in-process crypto/handshake counters in internal/metrics.
package health

import "time"

// Status is the overall health verdict returned by Checker.CheckAll.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// HealthStatus is the complete health status of the daemon.
type HealthStatus struct {
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Overlay   *OverlayHealth `json:"overlay,omitempty"`
	System    *SystemHealth  `json:"system,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

// OverlayHealth reports whether the overlay listener is published and
// reachable.
type OverlayHealth struct {
	Status    Status  `json:"status"`
	Connected bool    `json:"connected"`
	Onion     string  `json:"onion,omitempty"`
	Progress  float64 `json:"progress"`
}

// SystemHealth reports process-level resource usage.
type SystemHealth struct {
	Status        Status  `json:"status"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	GoRoutines    int     `json:"goroutines"`
}
