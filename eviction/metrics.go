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

package eviction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type schedulerMetrics struct {
	sweeps         prometheus.Counter
	sweepsRejected prometheus.Counter
	sweepDuration  prometheus.Histogram
	evictions      *prometheus.CounterVec
	failures       *prometheus.CounterVec
	malformed      prometheus.Counter
	lastSweep      prometheus.Gauge
}

func (s *Scheduler) initMetrics() {
	promautoFactory := promauto.With(s.config.PromRegistry)
	s.metrics = &schedulerMetrics{}
	s.metrics.sweeps = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "tenure_eviction_sweeps_total",
		Help: "number of completed eviction sweeps",
	})
	s.metrics.sweepsRejected = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "tenure_eviction_sweeps_rejected_total",
		Help: "sweep requests rejected because a sweep was already running",
	})
	s.metrics.sweepDuration = promautoFactory.NewHistogram(prometheus.HistogramOpts{
		Name:    "tenure_eviction_sweep_duration_seconds",
		Help:    "duration of eviction sweeps",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
	s.metrics.evictions = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenure_eviction_evictions_total",
			Help: "members removed from the group by reason",
		},
		[]string{"reason"},
	)
	s.metrics.failures = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenure_eviction_failures_total",
			Help: "failed member removals by reason",
		},
		[]string{"reason"},
	)
	s.metrics.malformed = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "tenure_eviction_malformed_records_total",
		Help: "malformed records skipped by sweeps",
	})
	s.metrics.lastSweep = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "tenure_eviction_last_sweep_timestamp_seconds",
		Help: "unix time of the last completed sweep",
	})
}
