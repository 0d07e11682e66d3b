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

import "time"

// OverlaySource reports the overlay listener's current publication state.
// *overlay.OverlayService satisfies this without an import cycle (overlay
// does not depend on health).
type OverlaySource interface {
	Connected() bool
	OnionAddress() string
	Progress() float64
}

// Checker performs health checks against a running daemon. Ready reports
// whether the privacy guard has been unlocked; Overlay is nil until the
// daemon has one to report on (e.g. before Start).
type Checker struct {
	Ready   func() bool
	Overlay OverlaySource
}

// NewChecker builds a Checker. ready reports whether the privacy guard is
// unlocked; overlay may be nil if the daemon has not started its listener
// yet.
func NewChecker(ready func() bool, overlay OverlaySource) *Checker {
	return &Checker{Ready: ready, Overlay: overlay}
}

// CheckAll runs every health check and aggregates their verdicts.
func (c *Checker) CheckAll() *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Status:    StatusHealthy,
		Errors:    make([]string, 0),
	}

	if c.Overlay != nil {
		status.Overlay = c.checkOverlay()
		if status.Overlay.Status != StatusHealthy {
			status.Status = status.Overlay.Status
			status.Errors = append(status.Errors, "overlay: not connected")
		}
	}

	status.System = CheckSystem()
	if status.System.Status != StatusHealthy {
		if status.Status == StatusHealthy || status.System.Status == StatusUnhealthy {
			status.Status = status.System.Status
		}
		status.Errors = append(status.Errors, "system: resource pressure")
	}

	return status
}

func (c *Checker) checkOverlay() *OverlayHealth {
	connected := c.Overlay.Connected()
	h := &OverlayHealth{
		Connected: connected,
		Onion:     c.Overlay.OnionAddress(),
		Progress:  c.Overlay.Progress(),
		Status:    StatusUnhealthy,
	}
	if connected {
		h.Status = StatusHealthy
	} else if h.Progress > 0 {
		h.Status = StatusDegraded
	}
	return h
}

// IsReady reports whether the daemon is ready to accept peer connections:
// the privacy guard is unlocked and, once started, the overlay is
// connected.
func (c *Checker) IsReady() bool {
	if c.Ready != nil && !c.Ready() {
		return false
	}
	if c.Overlay == nil {
		return true
	}
	return c.Overlay.Connected()
}
