// Copyright 2025 The wirecall Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wirecall/wirecall/common"
)

var (
	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "git_hash", "build_time"},
	)

	callsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "calls_total",
			Help:      "Started calls total",
		},
	)

	callFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "call_failures_total",
			Help:      "Failed calls total",
		},
		[]string{"kind"},
	)

	dialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "dials_total",
			Help:      "Connection dial attempts total",
		},
		[]string{"result"},
	)

	connectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "connections_active",
			Help:      "Live transport connections",
		},
		[]string{"proto"},
	)

	poolIdleConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "pool_idle_connections",
			Help:      "Idle connections currently held by the pool",
		},
	)

	poolEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "pool_evicted_total",
			Help:      "Connections evicted by the pool sweeps total",
		},
	)

	streamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "h2_streams_active",
			Help:      "Active HTTP/2 streams",
		},
	)

	pingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "pings_total",
			Help:      "Liveness pings total",
		},
		[]string{"proto"},
	)

	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "retries_total",
			Help:      "Call retries on new routes total",
		},
	)

	followupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "followups_total",
			Help:      "Call followups total",
		},
		[]string{"reason"},
	)
)

func init() {
	info := common.GetBuildInfo()
	buildInfo.WithLabelValues(info.Version, info.GitHash, info.Time).Set(1)
}

func IncCall() {
	callsTotal.Inc()
}

func IncCallFailure(kind string) {
	callFailuresTotal.WithLabelValues(kind).Inc()
}

func IncDial(success bool) {
	if success {
		dialsTotal.WithLabelValues("success").Inc()
		return
	}
	dialsTotal.WithLabelValues("failure").Inc()
}

func IncConnections(proto string) {
	connectionsActive.WithLabelValues(proto).Inc()
}

func DecConnections(proto string) {
	connectionsActive.WithLabelValues(proto).Dec()
}

func SetPoolIdle(n int) {
	poolIdleConnections.Set(float64(n))
}

func IncPoolEvicted() {
	poolEvictedTotal.Inc()
}

func IncStreams() {
	streamsActive.Inc()
}

func DecStreams() {
	streamsActive.Dec()
}

func IncPing(proto string) {
	pingsTotal.WithLabelValues(proto).Inc()
}

func IncRetry() {
	retriesTotal.Inc()
}

func IncFollowup(reason string) {
	followupsTotal.WithLabelValues(reason).Inc()
}
