/*
SPDX-FileCopyrightText: Copyright (c) 2026 Together Coding. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics provides Prometheus metrics for the realtime dispatcher.
// Labels stay low-cardinality: event names only, never session or user ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connections tracks currently open WebSocket sessions.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ide_ws_connections",
		Help: "Current number of open WebSocket sessions.",
	})

	// EventsTotal counts inbound protocol events by event name.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ide_ws_events_total",
		Help: "Total number of inbound events, by event name.",
	}, []string{"event"})

	// EventErrorsTotal counts handler failures by event name and error kind.
	EventErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ide_ws_event_errors_total",
		Help: "Total number of handler errors, by event name and error kind.",
	}, []string{"event", "kind"})

	// EmitsTotal counts outbound fan-out messages by event name.
	EmitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ide_ws_emits_total",
		Help: "Total number of emitted messages, by event name.",
	}, []string{"event"})

	// EventDuration observes handler latency by event name.
	EventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ide_ws_event_duration_seconds",
		Help:    "Handler execution time, by event name.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	// RoomMembers tracks local room memberships by room type.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ide_ws_room_members",
		Help: "Current number of local room memberships, by room type.",
	}, []string{"type"})
)
