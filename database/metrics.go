// Copyright 2025 Blink Labs Software
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

package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/membership"
)

type storeMetrics struct {
	opDuration *prometheus.HistogramVec
	opErrors   *prometheus.CounterVec
	records    *prometheus.GaugeVec
	malformed  prometheus.Gauge
}

// newStoreMetrics registers the store metrics with the given registry. A nil
// registry gives unregistered collectors so callers never need nil checks.
func newStoreMetrics(registry prometheus.Registerer) *storeMetrics {
	factory := promauto.With(registry)
	return &storeMetrics{
		opDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenure_store_operation_duration_seconds",
				Help:    "Duration of membership store operations",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"op"},
		),
		opErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenure_store_operation_errors_total",
				Help: "Total number of failed membership store operations",
			},
			[]string{"op"},
		),
		records: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tenure_store_records",
				Help: "Tracked membership records by policy state as of the last listing",
			},
			[]string{"state"},
		),
		malformed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenure_store_malformed_records",
				Help: "Malformed membership records skipped by the last listing",
			},
		),
	}
}

func (m *storeMetrics) recordSnapshot(snap *types.Snapshot) {
	counts := map[membership.State]int{
		membership.StateUndecided: 0,
		membership.StatePermanent: 0,
		membership.StateTimed:     0,
	}
	for _, rec := range snap.Records {
		counts[rec.State]++
	}
	for state, count := range counts {
		m.records.WithLabelValues(string(state)).Set(float64(count))
	}
	m.malformed.Set(float64(len(snap.Malformed)))
}
