// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics is forgectl's Prometheus surface: a CounterVec of terminal
// build results labelled by status and engine.Kind, a histogram of
// per-target wall time, a cache-fetch counter and a queue-depth gauge, registered
// on a private registry so embedding forgectl in another process never
// collides with that process's own default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	buildResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "engine",
			Name:      "build_results_total",
			Help:      "Total terminal build results by status and kind.",
		},
		[]string{"status", "kind"},
	)
	buildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forge",
			Subsystem: "engine",
			Name:      "build_duration_seconds",
			Help:      "Wall time runProtocol spent per target, from first demand to terminal result.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	cacheFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "artifactcache",
			Name:      "fetches_total",
			Help:      "Total artifact cache fetches by outcome.",
		},
		[]string{"status"},
	)
	schedulerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forge",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Number of goroutines currently waiting for pool admission.",
		},
	)
)

// Registry is the private registry every forge* metric lives on.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(buildResultsTotal, buildDuration, cacheFetchesTotal, schedulerQueueDepth)
}

// RecordBuildResult increments the terminal-result counter and observes the
// target's total wall time.
func RecordBuildResult(status, kind string, seconds float64) {
	buildResultsTotal.WithLabelValues(status, kind).Inc()
	buildDuration.WithLabelValues(status).Observe(seconds)
}

// RecordCacheFetch increments the cache-fetch outcome counter.
func RecordCacheFetch(status string) {
	cacheFetchesTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth reports the scheduler's current waiter count.
func SetQueueDepth(n int) {
	schedulerQueueDepth.Set(float64(n))
}

// Handler returns the http.Handler forgectl's "serve" subcommand mounts at
// /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
