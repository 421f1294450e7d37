// Copyright (C) 2015 The Gravitee team (http://gravitee.io)
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

// Package metrics holds the prometheus collectors of a gateway node.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "gateway"

	// OutcomeApplied counts events applied to a registry.
	OutcomeApplied = "applied"
	// OutcomeSkipped counts events dropped by a mapper.
	OutcomeSkipped = "skipped"
	// OutcomeFailed counts events whose apply failed after retries.
	OutcomeFailed = "failed"
)

var (
	syncEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_total",
			Help:      "Count of synchronized events per entity type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	syncFetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "fetch_errors_total",
			Help:      "Count of failed event log fetches per entity type.",
		},
		[]string{"type"},
	)

	syncPassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Synchronization pass duration distribution in seconds per entity type.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	endpointAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "available",
			Help:      "Availability (1 or 0) of the endpoints per API, endpoint group and endpoint.",
		},
		[]string{"api", "group", "endpoint"},
	)

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Count of handled requests per API and response status.",
		},
		[]string{"api", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request handling duration distribution in seconds per API.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"api"},
	)

	drainRequestedAt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "drain",
			Name:      "requested_timestamp_seconds",
			Help:      "Time a connection drain was requested, 0 if never.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information of the gateway node, always 1.",
		},
		[]string{"version", "revision"},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register(registerer prometheus.Registerer) {
	registerMetrics.Do(func() {
		registerer.MustRegister(
			syncEvents,
			syncFetchErrors,
			syncPassDuration,
			endpointAvailable,
			requests,
			requestDuration,
			drainRequestedAt,
			buildInfo,
		)
	})
}

// RecordSyncEvent records the outcome of a synchronized event.
func RecordSyncEvent(entityType, outcome string) {
	syncEvents.WithLabelValues(entityType, outcome).Inc()
}

// RecordFetchError records a failed event log fetch.
func RecordFetchError(entityType string) {
	syncFetchErrors.WithLabelValues(entityType).Inc()
}

// RecordSyncPass records the duration of a synchronization pass.
func RecordSyncPass(entityType string, duration time.Duration) {
	syncPassDuration.WithLabelValues(entityType).Observe(duration.Seconds())
}

// RecordEndpointAvailability records the availability of an endpoint.
func RecordEndpointAvailability(api, group, endpoint string, available bool) {
	value := 0.0
	if available {
		value = 1
	}
	endpointAvailable.WithLabelValues(api, group, endpoint).Set(value)
}

// DeleteEndpoints drops the availability series of an API.
func DeleteEndpoints(api string) {
	endpointAvailable.DeletePartialMatch(prometheus.Labels{"api": api})
}

// RecordRequest records a handled request.
func RecordRequest(api string, status int, duration time.Duration) {
	requests.WithLabelValues(api, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(api).Observe(duration.Seconds())
}

// RecordDrain records the drain timestamp, in unix milliseconds.
func RecordDrain(drainRequestedAtMillis int64) {
	drainRequestedAt.Set(float64(drainRequestedAtMillis) / 1000)
}

// RecordBuildInfo records the build information of the running node.
func RecordBuildInfo(version, revision string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, revision).Set(1)
}
