// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package clustervisor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector exports supervisor events through its own
// registry, which the admin interface serves on /metrics.
type PrometheusMetricsCollector struct {
	spawns   prometheus.Counter
	failures prometheus.Counter
	exits    *prometheus.CounterVec
	kills    prometheus.Counter
	unstable prometheus.Gauge
	live     prometheus.Gauge
	target   prometheus.Gauge
	restarts *prometheus.CounterVec

	registry *prometheus.Registry
}

func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "clustervisor"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.spawns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_spawns_total",
		Help:      "Total number of workers launched",
	})
	pmc.failures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_launch_failures_total",
		Help:      "Total number of worker launches that failed",
	})
	pmc.exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_exits_total",
			Help:      "Total number of worker exits",
		},
		[]string{"graceful"},
	)
	pmc.kills = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_kills_total",
		Help:      "Total number of workers forcibly terminated",
	})
	pmc.unstable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "unstable_restarts",
		Help:      "Workers that died too young in the current unstable window",
	})
	pmc.live = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers",
		Help:      "Number of live workers",
	})
	pmc.target = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers_target",
		Help:      "Desired number of workers",
	})
	pmc.restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Rolling restarts by outcome",
		},
		[]string{"outcome"},
	)

	pmc.registry.MustRegister(
		pmc.spawns,
		pmc.failures,
		pmc.exits,
		pmc.kills,
		pmc.unstable,
		pmc.live,
		pmc.target,
		pmc.restarts,
	)
	return pmc
}

func (pmc *PrometheusMetricsCollector) WorkerSpawned() {
	pmc.spawns.Inc()
}

func (pmc *PrometheusMetricsCollector) LaunchFailed() {
	pmc.failures.Inc()
}

func (pmc *PrometheusMetricsCollector) WorkerExited(graceful bool) {
	pmc.exits.WithLabelValues(strconv.FormatBool(graceful)).Inc()
}

func (pmc *PrometheusMetricsCollector) WorkerKilled() {
	pmc.kills.Inc()
}

func (pmc *PrometheusMetricsCollector) UnstableRestarts(n int) {
	pmc.unstable.Set(float64(n))
}

func (pmc *PrometheusMetricsCollector) FleetSize(live, target int) {
	pmc.live.Set(float64(live))
	pmc.target.Set(float64(target))
}

func (pmc *PrometheusMetricsCollector) RestartFinished(outcome string) {
	pmc.restarts.WithLabelValues(outcome).Inc()
}

// Registry returns the registry, for use with promhttp.HandlerFor.
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}
