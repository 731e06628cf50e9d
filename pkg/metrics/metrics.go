/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics registers the prometheus collectors shared across
// components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "anvil"

var (
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "coordinator",
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of dispatch_next calls, by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	SubmitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "coordinator",
		Name:      "submit_duration_seconds",
		Help:      "Duration of submit_label calls, by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "coordinator",
		Name:      "assignments_total",
		Help:      "Assignment transitions applied, by resulting status.",
	}, []string{"status"})

	StaleWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "coordinator",
		Name:      "stale_writes_total",
		Help:      "Optimistic lock conflicts observed on assignment writes.",
	})

	ReclaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "reclaimer",
		Name:      "reclaimed_total",
		Help:      "Assignments reclaimed by the timeout sweeper, by disposition.",
	}, []string{"disposition"})

	ExportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "export",
		Name:      "rows_total",
		Help:      "Rows emitted by the export engine, by format.",
	}, []string{"format"})

	ExportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "export",
		Name:      "duration_seconds",
		Help:      "Duration of export runs, by format and outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"format", "outcome"})

	AgreementComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "agreement",
		Name:      "computations_total",
		Help:      "Agreement computations, by metric kind.",
	}, []string{"metric"})

	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Sample provider fetches, by adapter and outcome.",
	}, []string{"adapter", "outcome"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "provider",
		Name:      "breaker_open",
		Help:      "Whether the remote provider breaker is open (1) or closed (0).",
	}, []string{"provider"})
)
