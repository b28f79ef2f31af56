// Copyright 2025 Tom Barlow
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

package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provenance_trace_writes_total",
			Help: "Total trace sink writes by sink and result",
		},
		[]string{"sink", "result"},
	)

	writeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provenance_trace_write_duration_seconds",
			Help:    "Duration of trace sink writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)
)

func recordWrite(sink string, duration float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	writesTotal.WithLabelValues(sink, result).Inc()
	writeDuration.WithLabelValues(sink).Observe(duration)
}
