/*
Copyright 2025 Jordi Gil.

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

package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ambient /metrics counters. The exporter/dashboard consuming these is
// the out-of-scope external collaborator (spec.md §1); these are the
// bare instrumentation points that collaborator scrapes.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auditlog",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests, by route and status class.",
	}, []string{"route", "status_class"})

	logsAcceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auditlog",
		Subsystem: "ingest",
		Name:      "logs_accepted_total",
		Help:      "Total logs accepted for asynchronous processing, by subject.",
	}, []string{"subject"})
)

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
