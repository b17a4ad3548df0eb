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

package writeengine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the write engine's Prometheus collectors. A fresh set is
// registered per Engine rather than using prometheus' global default
// registry's MustRegister panics-on-duplicate behavior, so tests can
// build multiple Engines without colliding.
type Metrics struct {
	batchLatency  *prometheus.HistogramVec
	batchSize     *prometheus.HistogramVec
	proofFailures prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		batchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "verifidb",
			Subsystem: "writeengine",
			Name:      "batch_latency_seconds",
			Help:      "Latency of a CreateBatch/UpsertBatch call, including the root lock wait.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "table"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "verifidb",
			Subsystem: "writeengine",
			Name:      "batch_size",
			Help:      "Number of records in a single write batch.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"op", "table"}),
		proofFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "verifidb",
			Subsystem: "writeengine",
			Name:      "proof_failures_total",
			Help:      "Number of write batches rejected by the proof verifier.",
		}),
	}
}

// Registry returns every collector this Metrics owns, for the caller to
// register with a *prometheus.Registry (see metrics.NewRegistry).
func (m *Metrics) Registry() []prometheus.Collector {
	return []prometheus.Collector{m.batchLatency, m.batchSize, m.proofFailures}
}

func (m *Metrics) observeBatch(op, table string, size int, d time.Duration) {
	m.batchLatency.WithLabelValues(op, table).Observe(d.Seconds())
	m.batchSize.WithLabelValues(op, table).Observe(float64(size))
}
