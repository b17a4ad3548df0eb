// Copyright 2016 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics wires the process-wide Prometheus registry: the
// collectors a component constructs for itself (writeengine.Metrics) are
// registered here once, at process startup, rather than through the
// global default registry. The commitment-level RootLockWait and
// AnchorCommits collectors are created and registered by this package;
// commitment.Manager does not record into them, and storage/nodestore
// exposes no collectors. This is the same pattern trillian's storage/quota packages use package-level
// vars for, adapted to an explicit registry so cmd/verifidb-server
// controls exactly what gets exposed.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process's Prometheus registry. Root-lock wait time and
// anchor commit counts are registered directly here; per-component
// collectors (writeengine.Metrics.Registry(), etc.) are merged in via
// MustRegisterAll.
type Registry struct {
	reg *prometheus.Registry

	RootLockWait  prometheus.Histogram
	AnchorCommits *prometheus.CounterVec
}

// New constructs a fresh registry with verifidb's own top-level
// collectors pre-registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		RootLockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "verifidb",
			Subsystem: "commitment",
			Name:      "root_lock_wait_seconds",
			Help:      "Time a writer spent waiting to acquire the root lock, including any commit-in-progress spin-wait.",
			Buckets:   prometheus.DefBuckets,
		}),
		AnchorCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verifidb",
			Subsystem: "commitment",
			Name:      "anchor_commits_total",
			Help:      "Anchor write_root calls, labeled by outcome.",
		}, []string{"outcome"}),
	}
	r.reg.MustRegister(r.RootLockWait, r.AnchorCommits)
	return r
}

// MustRegisterAll registers every collector a component exposes via a
// Registry() []prometheus.Collector method, panicking on a duplicate
// registration (a programmer error, not a runtime condition).
func (r *Registry) MustRegisterAll(collectors ...prometheus.Collector) {
	r.reg.MustRegister(collectors...)
}

// Handler returns the http.Handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
